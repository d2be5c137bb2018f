package reliable

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"midimesh/internal/logging"
)

// MessageHandler receives one fully reassembled non-real-time MIDI
// message.
type MessageHandler func(payload []byte)

// Transport drives fragmentation, ACK/retry, and reassembly over a
// single persistent net.Conn, grounded on spec.md §4.8.
type Transport struct {
	conn    net.Conn
	sender  *Sender
	reassem *Reassembler
	handler MessageHandler

	writeMu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New wraps conn (already connected to the peer's reliable-transport
// listener). maxAttempts/retryDelay mirror config.Options' RetryAttempts
// and RetryDelay.
func New(conn net.Conn, maxAttempts int, retryDelay time.Duration, handler MessageHandler) *Transport {
	t := &Transport{
		conn:    conn,
		reassem: NewReassembler(),
		handler: handler,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	t.sender = NewSender(maxAttempts, retryDelay, t.writeFrame)
	return t
}

// Start launches the read loop and the retry ticker. Both stop when
// Close is called.
func (t *Transport) Start() {
	go t.readLoop()
	go t.retryLoop()
}

// SendMessage fragments and reliably delivers payload, returning a
// channel that yields nil once acked or an AckTimeout error after the
// configured retry budget is exhausted.
func (t *Transport) SendMessage(payload []byte) <-chan error {
	return t.sender.Send(payload)
}

// PendingCount reports unacked in-flight messages, for diagnostics.
func (t *Transport) PendingCount() int { return t.sender.Pending() }

func (t *Transport) writeFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := t.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(frame)
	return err
}

func (t *Transport) readLoop() {
	log := logging.Component("reliable-transport")
	defer close(t.doneCh)

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(t.conn, lenBuf[:]); err != nil {
			if err != io.EOF {
				log.Debug("reliable read loop ended", "err", err)
			}
			return
		}
		frameLen := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(t.conn, frame); err != nil {
			log.Debug("reliable frame read failed", "err", err)
			return
		}

		h, payload, err := DecodeFrame(frame)
		if err != nil {
			log.Warn("malformed reliable frame", "err", err)
			continue
		}

		if h.IsAck() {
			t.sender.HandleAck(h.MessageID)
			continue
		}

		complete, ok, err := t.reassem.Feed(h, payload)
		if err != nil {
			log.Warn("reassembly failed", "err", err)
			continue
		}
		if ok {
			if err := t.writeFrame(ackFrame(h.MessageID)); err != nil {
				log.Debug("ack write failed", "err", err)
			}
			if t.handler != nil {
				t.handler(complete)
			}
		}
	}
}

func (t *Transport) retryLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	sweep := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	defer sweep.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.sender.Tick(now)
		case <-sweep.C:
			t.reassem.Sweep()
		}
	}
}

// Close stops the loops and closes the underlying connection.
func (t *Transport) Close() error {
	close(t.stopCh)
	err := t.conn.Close()
	<-t.doneCh
	return err
}
