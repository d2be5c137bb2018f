package connection

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"midimesh/internal/errs"
	"midimesh/internal/handshake"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
	"midimesh/internal/midi"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/transport/reliable"
	"midimesh/internal/wire"
)

// Snapshot is the point-in-time view returned by a state query, the
// only way outside goroutines observe a connection's composite state
// (spec.md §9: never cache fields read across a suspension point).
type Snapshot struct {
	PeerUUID    uuid.UUID
	PeerName    string
	PeerHash    uint32
	State       State
	Devices     []midi.DeviceInfo
	PendingAcks int
	ConnectedAt time.Time
}

// RealtimeSink is the process-wide real-time transport a connection
// sends datagrams through. Exactly one exists per daemon; connections
// never own a UDP socket themselves.
type RealtimeSink interface {
	SendTo(pkt wire.Packet, to *net.UDPAddr)
}

// Config bundles everything a Connection needs at construction time,
// before a handshake has even started; the reliable stream itself is
// supplied later via Attach.
type Config struct {
	Self     uuid.UUID
	SelfHash uint32
	SelfName string

	PeerUUID uuid.UUID
	PeerHash uint32
	PeerName string
	PeerUDP  *net.UDPAddr
	Devices  []midi.DeviceInfo

	RT RealtimeSink

	RetryAttempts     int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration

	OnClosed func(uuid.UUID)

	// OnRealtime and OnMessage hand inbound payloads up to the router
	// for rule evaluation. Both are invoked from the connection's own
	// worker goroutine, preserving the single-thread-of-origin-per-event
	// guarantee external callbacks rely on.
	OnRealtime func(peer uuid.UUID, pkt wire.Packet)
	OnMessage  func(peer uuid.UUID, payload []byte)
}

// Connection is the SEDA worker for one peer. Every field below state
// and lastHeartbeatRecv is owned exclusively by run's goroutine; only
// those two are read without going through the command channel, via
// sync/atomic, because the heartbeat monitor and the pool's hot path
// need them without round-tripping through the worker.
type Connection struct {
	self     uuid.UUID
	selfHash uint32
	selfName string

	peerUUID uuid.UUID
	peerHash uint32
	peerName string
	peerUDP  *net.UDPAddr

	rt       RealtimeSink
	reliable *reliable.Transport

	retryAttempts     int
	retryDelay        time.Duration
	heartbeatInterval time.Duration

	onClosed   func(uuid.UUID)
	onRealtime func(uuid.UUID, wire.Packet)
	onMessage  func(uuid.UUID, []byte)

	cmdCh  chan command
	doneCh chan struct{}

	state             atomic.Int32
	lastHeartbeatRecv atomic.Int64 // unix nanos
	connectedAt       time.Time

	devices []midi.DeviceInfo
	seq     uint16
}

// New constructs a Connection in StateNew. Call Start to launch its
// worker goroutine.
func New(cfg Config) *Connection {
	c := &Connection{
		self:              cfg.Self,
		selfHash:          cfg.SelfHash,
		selfName:          cfg.SelfName,
		peerUUID:          cfg.PeerUUID,
		peerHash:          cfg.PeerHash,
		peerName:          cfg.PeerName,
		peerUDP:           cfg.PeerUDP,
		rt:                cfg.RT,
		retryAttempts:     cfg.RetryAttempts,
		retryDelay:        cfg.RetryDelay,
		heartbeatInterval: cfg.HeartbeatInterval,
		onClosed:          cfg.OnClosed,
		onRealtime:        cfg.OnRealtime,
		onMessage:         cfg.OnMessage,
		devices:           cfg.Devices,
		cmdCh:             make(chan command, 256),
		doneCh:            make(chan struct{}),
	}
	c.lastHeartbeatRecv.Store(time.Now().UnixNano())
	return c
}

// Start launches the worker loop in StateNew. The mesh manager drives
// discovery and the handshake itself (it owns the retry loop against a
// peer that may never answer) and calls Attach once a reliable stream
// to the peer exists.
func (c *Connection) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Connection) run(ctx context.Context) {
	log := logging.Conn(c.peerUUID.String())
	defer close(c.doneCh)
	defer log.Debug("connection worker exiting")

	for {
		select {
		case <-ctx.Done():
			c.shutdown(log)
			return
		case cmd := <-c.cmdCh:
			if c.handle(log, cmd) {
				return
			}
		}
	}
}

// handle applies one command and returns true if the worker should exit.
func (c *Connection) handle(log *slog.Logger, cmd command) bool {
	switch v := cmd.(type) {
	case cmdAttachReliable:
		c.onAttachReliable(log, v)
	case cmdHandshakeFailed:
		log.Warn("handshake failed", "err", v.err)
		c.transition(log, StateDisconnecting)
		c.shutdown(log)
		return true
	case cmdDeliverRealtime:
		c.onDeliverRealtime(log, v)
	case cmdSendRealtime:
		c.onSendRealtime(log, v)
	case cmdDeliverReliable:
		c.onDeliverReliable(log, v)
	case cmdSendReliable:
		c.onSendReliable(v)
	case cmdSendHeartbeat:
		c.onSendHeartbeat(log)
	case cmdHeartbeatAck:
		c.lastHeartbeatRecv.Store(time.Now().UnixNano())
	case cmdMarkTimedOut:
		log.Warn("connection timed out, closing")
		c.transition(log, StateDisconnecting)
		c.shutdown(log)
		return true
	case cmdShutdown:
		c.shutdown(log)
		return true
	case cmdQuerySnapshot:
		v.reply <- c.snapshot()
	}
	return false
}

func (c *Connection) transition(log *slog.Logger, to State) {
	from := c.State()
	if err := advance(from, to); err != nil {
		log.Warn("rejected state transition", "from", from, "to", to, "err", err)
		return
	}
	c.state.Store(int32(to))
	log.Debug("state transition", "from", from, "to", to)
}

func (c *Connection) onAttachReliable(log *slog.Logger, v cmdAttachReliable) {
	c.reliable = reliable.New(v.conn, c.retryAttempts, c.retryDelay, c.onReliableMessage)
	c.reliable.Start()
	c.devices = v.result.Devices
	c.connectedAt = time.Now()
	c.transition(log, StateHandshaking)
	c.transition(log, StateConnected)
}

// onDeliverRealtime is called for every datagram attributed to this
// peer. Any datagram proves the peer is alive, so the heartbeat clock
// always advances here; the payload itself is handed to onRealtime
// (the router) for rule evaluation and destination dispatch.
func (c *Connection) onDeliverRealtime(log *slog.Logger, v cmdDeliverRealtime) {
	log.Debug("realtime datagram received", "device", v.pkt.Header.DeviceID)
	c.lastHeartbeatRecv.Store(time.Now().UnixNano())
	if c.onRealtime != nil {
		c.onRealtime(c.peerUUID, v.pkt)
	}
}

// onDeliverReliable hands a reassembled, non-heartbeat reliable payload
// up to the router. This runs on the worker goroutine, never on the
// reliable transport's own read-loop goroutine (see onReliableMessage).
func (c *Connection) onDeliverReliable(log *slog.Logger, v cmdDeliverReliable) {
	log.Debug("reliable message received", "len", len(v.payload))
	if c.onMessage != nil {
		c.onMessage(c.peerUUID, v.payload)
	}
}

func (c *Connection) onSendRealtime(log *slog.Logger, v cmdSendRealtime) {
	if c.State() != StateConnected {
		log.Debug("dropping realtime send, not connected")
		return
	}
	if c.peerUDP == nil || c.rt == nil {
		return
	}
	payload := append([]byte{v.slot.Status}, v.slot.Data[:v.slot.DataLen]...)
	c.seq++
	pkt := wire.Packet{
		Header: wire.Header{
			Magic:       wire.Magic,
			Version:     wire.Version,
			SrcNodeHash: c.selfHash,
			DstNodeHash: c.peerHash,
			Sequence:    c.seq,
			TimestampUs: v.slot.TimestampUs,
			DeviceID:    v.slot.DeviceID,
		},
		Payload: payload,
	}
	c.rt.SendTo(pkt, c.peerUDP)
}

func (c *Connection) onSendReliable(v cmdSendReliable) {
	if c.reliable == nil || c.State() != StateConnected {
		v.resultCh <- errs.NotConnected("peer %s has no reliable transport", c.peerUUID)
		return
	}
	go func() {
		v.resultCh <- <-c.reliable.SendMessage(v.payload)
	}()
}

func (c *Connection) onSendHeartbeat(log *slog.Logger) {
	if c.reliable == nil || c.State() != StateConnected {
		return
	}
	log.Debug("sending heartbeat")
	c.reliable.SendMessage([]byte{0xFE})
}

// onReliableMessage is the reliable.Transport's MessageHandler, invoked
// from its own read-loop goroutine; it re-enters the worker through the
// command channel rather than touching connection state directly.
func (c *Connection) onReliableMessage(payload []byte) {
	if len(payload) == 1 && payload[0] == 0xFE {
		select {
		case c.cmdCh <- cmdHeartbeatAck{}:
		case <-c.doneCh:
		}
		return
	}
	select {
	case c.cmdCh <- cmdDeliverReliable{payload: payload}:
	case <-c.doneCh:
	}
}

func (c *Connection) shutdown(log *slog.Logger) {
	if c.State() == StateClosed {
		return
	}
	c.transition(log, StateClosed)
	if c.reliable != nil {
		_ = c.reliable.Close()
	}
	if c.onClosed != nil {
		c.onClosed(c.peerUUID)
	}
	log.Debug("connection closed")
}

func (c *Connection) snapshot() Snapshot {
	pending := 0
	if c.reliable != nil {
		pending = c.reliable.PendingCount()
	}
	return Snapshot{
		PeerUUID:    c.peerUUID,
		PeerName:    c.peerName,
		PeerHash:    c.peerHash,
		State:       c.State(),
		Devices:     append([]midi.DeviceInfo(nil), c.devices...),
		PendingAcks: pending,
		ConnectedAt: c.connectedAt,
	}
}

// --- external API, all non-blocking or bounded, safe to call from any
// goroutine (the pool, the router, the heartbeat monitor, the control
// surface).

func (c *Connection) UUID() uuid.UUID { return c.peerUUID }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) LastHeartbeatRecv() time.Time {
	return time.Unix(0, c.lastHeartbeatRecv.Load())
}

func (c *Connection) SendHeartbeat() error {
	return c.post(cmdSendHeartbeat{})
}

func (c *Connection) MarkTimedOut() {
	_ = c.post(cmdMarkTimedOut{})
}

func (c *Connection) DeliverRealtime(pkt wire.Packet) {
	_ = c.post(cmdDeliverRealtime{pkt: pkt})
}

func (c *Connection) SendRealtime(slot realtime.RingSlot) {
	_ = c.post(cmdSendRealtime{slot: slot})
}

// Attach wires a freshly established reliable stream and the device
// list the handshake returned, moving the connection to Connected.
func (c *Connection) Attach(conn net.Conn, result handshake.Result) {
	_ = c.post(cmdAttachReliable{conn: conn, result: result})
}

// FailHandshake reports that the handshake or reliable dial did not
// succeed, moving the connection to Closed.
func (c *Connection) FailHandshake(err error) {
	_ = c.post(cmdHandshakeFailed{err: err})
}

// SendReliable delivers payload with the ACK/retry guarantee, blocking
// until the worker reports the outcome of the send or ctx is done.
func (c *Connection) SendReliable(ctx context.Context, payload []byte) error {
	resultCh := make(chan error, 1)
	if err := c.post(cmdSendReliable{payload: payload, resultCh: resultCh}); err != nil {
		return err
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot performs a bounded round trip into the worker for a
// composite, consistent view of connection state.
func (c *Connection) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.post(cmdQuerySnapshot{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-time.After(time.Second):
		return Snapshot{}, errs.HandshakeTimeout("snapshot query timed out")
	}
}

func (c *Connection) Shutdown() {
	_ = c.post(cmdShutdown{})
	<-c.doneCh
}

func (c *Connection) post(cmd command) error {
	select {
	case c.cmdCh <- cmd:
		return nil
	case <-c.doneCh:
		return errs.NotConnected("connection %s already closed", c.peerUUID)
	}
}

var _ meshnet.PooledConnection = (*Connection)(nil)

