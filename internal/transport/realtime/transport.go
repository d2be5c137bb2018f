package realtime

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"midimesh/internal/logging"
	"midimesh/internal/wire"
)

// Handler receives a decoded real-time packet from the socket, along
// with the address it arrived from.
type Handler func(pkt wire.Packet, from *net.UDPAddr)

// Transport is the best-effort datagram path of spec.md §4.7: a ring
// buffer decouples the producer (router dispatch) from a dedicated
// consumer goroutine that drains batches onto a UDP socket, shaped by
// a token-bucket limiter so one noisy connection cannot starve the
// others sharing the process.
type Transport struct {
	conn     *net.UDPConn
	ring     *RingBuffer
	limiter  *rate.Limiter
	selfHash uint32
	handler  Handler

	udpSendFailures atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New binds a UDP socket on addr ("host:port" or ":0" for ephemeral)
// and prepares the send-side ring buffer. handler is invoked from the
// receive loop's goroutine for every well-formed inbound packet.
func New(addr string, selfHash uint32, ratePerSec float64, handler Handler) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	burst := int(ratePerSec)
	if burst < MaxBatch {
		burst = MaxBatch
	}
	t := &Transport{
		conn:     conn,
		ring:     NewRingBuffer(),
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		selfHash: selfHash,
		handler:  handler,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	return t, nil
}

// LocalAddr returns the bound UDP address, for advertising via discovery.
func (t *Transport) LocalAddr() *net.UDPAddr { return t.conn.LocalAddr().(*net.UDPAddr) }

// Start launches the consumer and receive loops. It returns
// immediately; both loops run until ctx is cancelled or Close is called.
func (t *Transport) Start(ctx context.Context) {
	go t.consumeLoop(ctx)
	go t.receiveLoop(ctx)
}

// Enqueue hands a real-time slot to the send-side ring buffer. It
// never blocks; under sustained overload the ring drops the oldest
// queued slot rather than this one.
func (t *Transport) Enqueue(slot RingSlot) {
	t.ring.Write(slot)
}

// Stats exposes the ring occupancy invariant for diagnostics/metrics.
func (t *Transport) Stats() (written, read, dropped, occupancy uint64) {
	return t.ring.Stats()
}

func (t *Transport) consumeLoop(ctx context.Context) {
	log := logging.Component("realtime-transport")
	if err := boostPriority(); err != nil {
		log.Debug("priority boost unavailable", "err", err)
	}
	defer close(t.doneCh)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			batch := t.ring.ReadBatch(MaxBatch)
			for _, slot := range batch {
				if !t.limiter.Allow() {
					continue
				}
				t.sendSlot(slot)
			}
		}
	}
}

func (t *Transport) sendSlot(slot RingSlot) {
	log := logging.Component("realtime-transport")
	payload := append([]byte{slot.Status}, slot.Data[:slot.DataLen]...)
	pkt := wire.Packet{
		Header: wire.Header{
			Magic:       wire.Magic,
			Version:     wire.Version,
			Flags:       0,
			SrcNodeHash: t.selfHash,
			DeviceID:    slot.DeviceID,
			TimestampUs: slot.TimestampUs,
		},
		Payload: payload,
	}
	data := pkt.Encode()
	if _, err := t.conn.Write(data); err != nil {
		t.udpSendFailures.Add(1)
		log.Debug("udp send failed", "err", err)
	}
}

// SendTo transmits a raw encoded packet to a specific peer address,
// used for unicast delivery once a peer's data endpoint is known.
func (t *Transport) SendTo(pkt wire.Packet, to *net.UDPAddr) {
	log := logging.Component("realtime-transport")
	if _, err := t.conn.WriteToUDP(pkt.Encode(), to); err != nil {
		t.udpSendFailures.Add(1)
		log.Debug("udp sendto failed", "err", err, "peer", to)
	}
}

func (t *Transport) receiveLoop(ctx context.Context) {
	log := logging.Component("realtime-transport")
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			log.Debug("dropping malformed datagram", "err", err, "from", from)
			continue
		}
		if t.handler != nil {
			t.handler(pkt, from)
		}
	}
}

// Close stops both loops and releases the socket.
func (t *Transport) Close() error {
	close(t.stopCh)
	err := t.conn.Close()
	<-t.doneCh
	return err
}
