package mesh

import (
	"context"
	"io"
	"net"

	"github.com/google/uuid"

	"midimesh/internal/connection"
	"midimesh/internal/handshake"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
)

// ListenReliable accepts inbound reliable-stream connections on ln
// until ctx is cancelled. A peer that already completed the HTTP
// handshake against our responder dials this listener to establish
// the persistent non-real-time stream; the first 16 bytes it sends are
// its own UUID, letting the acceptor attribute the stream to a peer
// without a second handshake round trip.
func (m *Manager) ListenReliable(ctx context.Context, ln net.Listener) {
	log := logging.Component("mesh-inbound")
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			raw, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("reliable accept failed", "err", err)
				continue
			}
			go m.acceptReliable(ctx, log, raw)
		}
	}()
}

func (m *Manager) acceptReliable(ctx context.Context, log interface {
	Warn(string, ...any)
	Debug(string, ...any)
}, raw net.Conn) {
	var idBytes [16]byte
	if _, err := io.ReadFull(raw, idBytes[:]); err != nil {
		log.Warn("reliable stream identification read failed", "err", err)
		_ = raw.Close()
		return
	}
	peerID, err := uuid.FromBytes(idBytes[:])
	if err != nil {
		log.Warn("reliable stream sent malformed uuid", "err", err)
		_ = raw.Close()
		return
	}
	if peerID == m.Self {
		_ = raw.Close()
		return
	}
	if _, ok := m.Pool.Get(peerID); ok {
		// The outbound side of this pair already won the race.
		_ = raw.Close()
		return
	}

	peerHash := meshnet.HashUUID(peerID)

	m.mu.Lock()
	udpEndpoint := m.seenUDP[peerID]
	m.mu.Unlock()

	var peerUDP *net.UDPAddr
	if udpEndpoint != "" {
		if addr, err := net.ResolveUDPAddr("udp4", udpEndpoint); err == nil {
			peerUDP = addr
		}
	}

	conn := connection.New(connection.Config{
		Self:              m.Self,
		SelfHash:          m.SelfHash,
		SelfName:          m.SelfName,
		PeerUUID:          peerID,
		PeerHash:          peerHash,
		PeerUDP:           peerUDP,
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
		_ = raw.Close()
		return
	}
	m.Registry.Register(peerID)
	conn.Attach(raw, handshake.Result{RemoteUUID: peerID})
	log.Debug("accepted inbound reliable stream", "peer", peerID)
}
