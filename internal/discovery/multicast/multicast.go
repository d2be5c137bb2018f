// Package multicast implements the fallback discovery provider of
// spec.md §6: periodic JSON announcements over UDP multicast, used
// when mDNS is unavailable on a network.
package multicast

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"midimesh/internal/discovery"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
)

const (
	groupAddr        = "239.255.42.99"
	announceInterval = 5 * time.Second
	peerExpiry       = 15 * time.Second
)

// announcement is the JSON wire form of a multicast discovery beacon.
type announcement struct {
	UUID        string `json:"uuid"`
	HumanName   string `json:"human_name"`
	Hostname    string `json:"hostname"`
	ControlPort int    `json:"control_port"`
	DataPort    int    `json:"data_port"`
	Version     string `json:"version"`
	DeviceCount int    `json:"device_count"`
}

// Provider implements discovery.Provider over UDP multicast.
type Provider struct {
	port int
	self meshnet.NodeInfo

	conn *net.UDPConn
	addr *net.UDPAddr

	events chan discovery.Event

	mu      sync.Mutex
	lastSeen map[uuid.UUID]time.Time
}

// New creates a multicast provider bound to the given UDP port.
func New(port int) *Provider {
	return &Provider{
		port:     port,
		events:   make(chan discovery.Event, 32),
		lastSeen: make(map[uuid.UUID]time.Time),
	}
}

func (p *Provider) Advertise(ctx context.Context, self meshnet.NodeInfo) error {
	p.self = self

	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", groupAddr, p.port))
	if err != nil {
		return fmt.Errorf("resolve multicast addr: %w", err)
	}
	p.addr = addr

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("listen multicast: %w", err)
	}
	p.conn = conn

	go p.announceLoop(ctx)
	go p.receiveLoop(ctx)
	go p.expiryLoop(ctx)

	go func() {
		<-ctx.Done()
		conn.Close()
		close(p.events)
	}()

	return nil
}

func (p *Provider) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	send := func() {
		msg := announcement{
			UUID:        p.self.UUID.String(),
			HumanName:   p.self.HumanName,
			Hostname:    p.self.Hostname,
			ControlPort: p.self.ControlPort,
			DataPort:    p.self.DataPort,
			Version:     p.self.Version,
			DeviceCount: p.self.DeviceCount,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		conn, err := net.DialUDP("udp4", nil, p.addr)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(data)
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (p *Provider) receiveLoop(ctx context.Context) {
	log := logging.Component("discovery-multicast")
	buf := make([]byte, 4096)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		var msg announcement
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			log.Warn("malformed multicast announcement", "err", err)
			continue
		}

		id, err := uuid.Parse(msg.UUID)
		if err != nil {
			log.Warn("malformed multicast uuid", "err", err)
			continue
		}
		if id == p.self.UUID {
			continue
		}

		p.mu.Lock()
		p.lastSeen[id] = time.Now()
		p.mu.Unlock()

		node := meshnet.NodeInfo{
			UUID:        id,
			HumanName:   msg.HumanName,
			Hostname:    msg.Hostname,
			ControlPort: msg.ControlPort,
			DataPort:    msg.DataPort,
			Version:     msg.Version,
			DeviceCount: msg.DeviceCount,
		}

		select {
		case p.events <- discovery.Event{Kind: discovery.EventPeerDiscovered, Node: node}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Provider) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(peerExpiry / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var expired []uuid.UUID
			p.mu.Lock()
			for id, seen := range p.lastSeen {
				if now.Sub(seen) > peerExpiry {
					expired = append(expired, id)
					delete(p.lastSeen, id)
				}
			}
			p.mu.Unlock()
			for _, id := range expired {
				select {
				case p.events <- discovery.Event{Kind: discovery.EventPeerRemoved, UUID: id.String()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *Provider) Events() <-chan discovery.Event { return p.events }

func (p *Provider) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
