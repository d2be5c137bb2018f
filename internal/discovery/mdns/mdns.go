// Package mdns advertises and discovers midimesh peers over mDNS/DNS-SD
// using the service type _midi-network._tcp.local., per spec.md §6.
package mdns

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"midimesh/internal/discovery"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
)

const (
	serviceType = "_midi-network._tcp"
	domain      = "local."
)

// Provider implements discovery.Provider over mDNS.
type Provider struct {
	self meshnet.NodeInfo

	mu     sync.Mutex
	server *zeroconf.Server
	cancel context.CancelFunc

	events chan discovery.Event
}

func New() *Provider {
	return &Provider{events: make(chan discovery.Event, 32)}
}

func (p *Provider) Advertise(ctx context.Context, self meshnet.NodeInfo) error {
	p.self = self

	txt := []string{
		"uuid=" + self.UUID.String(),
		"http_port=" + strconv.Itoa(self.ControlPort),
		"udp_port=" + strconv.Itoa(self.DataPort),
		"hostname=" + self.Hostname,
		"version=" + self.Version,
		"devices=" + strconv.Itoa(self.DeviceCount),
	}

	server, err := zeroconf.Register(self.UUID.String(), serviceType, domain, self.ControlPort, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.server = server
	p.cancel = cancel
	p.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("mdns resolver: %w", err)
	}

	go p.consume(browseCtx, entries)

	if err := resolver.Browse(browseCtx, serviceType, domain, entries); err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("mdns browse: %w", err)
	}

	go func() {
		<-browseCtx.Done()
		close(p.events)
	}()

	return nil
}

func (p *Provider) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	log := logging.Component("discovery-mdns")
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			node, err := parseEntry(entry)
			if err != nil {
				log.Warn("malformed mdns record", "err", err, "instance", entry.Instance)
				continue
			}
			if node.UUID == p.self.UUID {
				continue // self-advertisement, silently ignored here; MeshManager also guards this
			}
			select {
			case p.events <- discovery.Event{Kind: discovery.EventPeerDiscovered, Node: node}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (meshnet.NodeInfo, error) {
	fields := map[string]string{}
	for _, t := range entry.Text {
		kv := strings.SplitN(t, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = kv[1]
	}

	id, err := uuid.Parse(fields["uuid"])
	if err != nil {
		return meshnet.NodeInfo{}, fmt.Errorf("parse uuid TXT record: %w", err)
	}

	ip := ""
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}

	httpPort, _ := strconv.Atoi(fields["http_port"])
	udpPort, _ := strconv.Atoi(fields["udp_port"])
	devices, _ := strconv.Atoi(fields["devices"])

	return meshnet.NodeInfo{
		UUID:        id,
		HumanName:   entry.Instance,
		Hostname:    fields["hostname"],
		IPAddress:   ip,
		ControlPort: httpPort,
		DataPort:    udpPort,
		Version:     fields["version"],
		DeviceCount: devices,
	}, nil
}

func (p *Provider) Events() <-chan discovery.Event { return p.events }

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.server != nil {
		p.server.Shutdown()
	}
	return nil
}
