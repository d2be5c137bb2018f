// Package mesh wires discovery, the handshake protocol, and the
// per-peer connection workers together into full-mesh formation, per
// spec.md §4.5. It is the one package allowed to import both meshnet
// and connection, keeping those two free of an import cycle.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"midimesh/internal/config"
	"midimesh/internal/connection"
	"midimesh/internal/discovery"
	"midimesh/internal/errs"
	"midimesh/internal/handshake"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
	"midimesh/internal/router"
	"midimesh/internal/wire"
)

// Manager owns mesh formation: it reacts to discovery events by
// running the handshake and, on success, promoting a peer into a live
// Connection held in the shared pool.
type Manager struct {
	Self            uuid.UUID
	SelfHash        uint32
	SelfName        string
	SelfUDPEndpoint string

	Opts config.Options

	Registry  *meshnet.UUIDRegistry
	Pool      *meshnet.Pool
	Discovery discovery.Provider
	RT        connection.RealtimeSink
	Devices   handshake.DeviceProvider
	Router    *router.Router

	HTTPClient *http.Client

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
	// seenUDP caches a peer's UDP/reliable endpoint from the moment it
	// initiates a handshake against our responder, so the inbound
	// reliable-stream accept path (which otherwise never learns a
	// real-time destination) can still send datagrams back to it.
	seenUDP map[uuid.UUID]string
}

func New(opts config.Options, self uuid.UUID, selfHash uint32, selfName, selfUDPEndpoint string,
	registry *meshnet.UUIDRegistry, pool *meshnet.Pool, disc discovery.Provider,
	rt connection.RealtimeSink, devices handshake.DeviceProvider, rtr *router.Router) *Manager {
	return &Manager{
		Self:            self,
		SelfHash:        selfHash,
		SelfName:        selfName,
		SelfUDPEndpoint: selfUDPEndpoint,
		Opts:            opts,
		Registry:        registry,
		Pool:            pool,
		Discovery:       disc,
		RT:              rt,
		Devices:         devices,
		Router:          rtr,
		HTTPClient:      &http.Client{Timeout: opts.InquiryTimeout()},
		inFlight:        make(map[uuid.UUID]bool),
		seenUDP:         make(map[uuid.UUID]string),
	}
}

// RecordPeerSeen is wired as the handshake Server's OnPeerSeen hook.
func (m *Manager) RecordPeerSeen(peerUUID uuid.UUID, _, udpEndpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seenUDP[peerUUID] = udpEndpoint
}

// Run blocks, consuming discovery events until ctx is cancelled. Each
// peer's connection attempt runs in its own goroutine supervised by an
// errgroup; a single bad peer's handshake failure never aborts the
// whole mesh's formation.
func (m *Manager) Run(ctx context.Context) error {
	log := logging.Component("mesh-manager")
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case ev, ok := <-m.Discovery.Events():
				if !ok {
					return nil
				}
				m.handleEvent(egCtx, eg, log, ev)
			}
		}
	})

	return eg.Wait()
}

func (m *Manager) handleEvent(ctx context.Context, eg *errgroup.Group, log *slog.Logger, ev discovery.Event) {
	switch ev.Kind {
	case discovery.EventPeerDiscovered:
		if !m.Opts.AutoConnect {
			return
		}
		node := ev.Node
		eg.Go(func() error {
			m.connectToPeer(ctx, log, node)
			return nil
		})
	case discovery.EventPeerRemoved:
		id, err := uuid.Parse(ev.UUID)
		if err != nil {
			return
		}
		if c, ok := m.Pool.Get(id); ok {
			c.Shutdown()
			m.Pool.Remove(id)
			m.Registry.Unregister(id)
		}
	}
}

func (m *Manager) connectToPeer(ctx context.Context, log *slog.Logger, node meshnet.NodeInfo) {
	if node.UUID == m.Self {
		return
	}
	if !m.claim(node.UUID) {
		return
	}
	defer m.release(node.UUID)

	if _, ok := m.Pool.Get(node.UUID); ok {
		return
	}

	result, err := m.handshakeWithRetry(ctx, node)
	if err != nil {
		log.Warn("handshake exhausted retries", "peer", node.UUID, "err", err)
		return
	}

	host, udpPort, err := net.SplitHostPort(result.RemoteUDPEndpoint)
	if err != nil {
		log.Warn("peer returned malformed udp endpoint", "peer", node.UUID, "err", err)
		return
	}
	// The reliable stream listens on the same port number as the UDP
	// datagram socket; TCP and UDP occupy independent port namespaces.
	reliableAddr := net.JoinHostPort(host, udpPort)

	dialCtx, cancel := context.WithTimeout(ctx, m.Opts.InquiryTimeout())
	tcpConn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", reliableAddr)
	cancel()
	if err != nil {
		log.Warn("reliable dial failed", "peer", node.UUID, "addr", reliableAddr, "err", err)
		return
	}
	if _, err := tcpConn.Write(m.Self[:]); err != nil {
		_ = tcpConn.Close()
		log.Warn("reliable stream identification failed", "peer", node.UUID, "err", err)
		return
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", result.RemoteUDPEndpoint)
	if err != nil {
		_ = tcpConn.Close()
		log.Warn("could not resolve peer udp endpoint", "peer", node.UUID, "err", err)
		return
	}

	peerHash := meshnet.HashUUID(node.UUID)
	conn := connection.New(connection.Config{
		Self:              m.Self,
		SelfHash:          m.SelfHash,
		SelfName:          m.SelfName,
		PeerUUID:          node.UUID,
		PeerHash:          peerHash,
		PeerName:          result.RemoteName,
		PeerUDP:           udpAddr,
		RT:                m.RT,
		RetryAttempts:     int(m.Opts.RetryAttempts),
		RetryDelay:        m.Opts.RetryDelay(),
		HeartbeatInterval: m.Opts.HeartbeatInterval(),
		OnClosed: func(id uuid.UUID) {
			m.Pool.Remove(id)
		},
		OnRealtime: m.dispatchInboundRealtime,
		OnMessage:  m.dispatchInboundReliable,
	})
	conn.Start(ctx)

	if ok := m.Pool.Insert(conn); !ok {
		conn.Shutdown()
		_ = tcpConn.Close()
		return
	}
	m.Registry.Register(node.UUID)
	conn.Attach(tcpConn, result)
	log.Debug("peer connected", "peer", node.UUID, "name", result.RemoteName)
}

func (m *Manager) handshakeWithRetry(ctx context.Context, node meshnet.NodeInfo) (handshake.Result, error) {
	base := fmt.Sprintf("http://%s:%d", node.IPAddress, node.ControlPort)
	req := handshake.SynRequest{
		NodeID:      m.Self.String(),
		NodeName:    m.SelfName,
		UDPEndpoint: m.SelfUDPEndpoint,
	}

	var lastErr error
	attempts := int(m.Opts.RetryAttempts)
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		hctx, cancel := context.WithTimeout(ctx, m.Opts.InquiryTimeout())
		result, err := handshake.Initiate(hctx, m.HTTPClient, base, node.UUID, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return handshake.Result{}, ctx.Err()
		case <-time.After(m.Opts.RetryDelay()):
		}
	}
	return handshake.Result{}, errs.HandshakeTimeout("peer %s: %v", node.UUID, lastErr)
}

func (m *Manager) claim(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[id] {
		return false
	}
	m.inFlight[id] = true
	return true
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// DispatchRealtime resolves an inbound datagram's source hash to a
// pooled connection and hands it the packet, or drops it if the
// source is unknown (an unconnected or already-departed peer). It is
// wired as the shared realtime.Transport's Handler. The connection
// itself forwards the packet on to dispatchInboundRealtime once it has
// recorded the liveness signal the datagram carries.
func (m *Manager) DispatchRealtime(pkt wire.Packet, _ *net.UDPAddr) {
	id, ok := m.Registry.Lookup(pkt.Header.SrcNodeHash)
	if !ok {
		return
	}
	pc, ok := m.Pool.Get(id)
	if !ok {
		return
	}
	if conn, ok := pc.(*connection.Connection); ok {
		conn.DeliverRealtime(pkt)
	}
}

// dispatchInboundRealtime and dispatchInboundReliable are the
// connection.Config.OnRealtime/OnMessage hooks: once a connection has
// attributed an inbound payload to its peer, the router takes over
// rule evaluation and destination dispatch.
func (m *Manager) dispatchInboundRealtime(peer uuid.UUID, pkt wire.Packet) {
	if m.Router == nil {
		return
	}
	m.Router.RouteRealtime(context.Background(), peer, pkt)
}

func (m *Manager) dispatchInboundReliable(peer uuid.UUID, payload []byte) {
	if m.Router == nil {
		return
	}
	m.Router.RouteReliable(context.Background(), peer, payload)
}

// ResolveControlAddr implements control/proxy.PeerResolver. It takes
// the peer's host from its data-plane endpoint and the port as one
// above this node's own configured ControlPort; the peer's advertised
// control port is not consulted. seenUDP is the only per-peer host
// address the manager already
// tracks, recorded the moment a peer's handshake is first observed.
func (m *Manager) ResolveControlAddr(id uuid.UUID) (string, bool) {
	m.mu.Lock()
	endpoint := m.seenUDP[id]
	m.mu.Unlock()
	if endpoint == "" {
		return "", false
	}
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(m.Opts.ControlPort+1)), true
}
