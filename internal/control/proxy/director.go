package proxy

import (
	"context"
	"sync"

	"github.com/google/uuid"
	grpcproxy "github.com/siderolabs/grpc-proxy/proxy"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// PeerResolver maps a mesh peer's UUID to the host:port its control
// proxy listener is reachable on. The mesh manager is the natural
// implementation: it already tracks every peer's data-plane endpoint
// by UUID (see mesh.Manager.seenUDP), and a node's control proxy port
// is a config-fixed offset from that same host.
type PeerResolver interface {
	ResolveControlAddr(id uuid.UUID) (string, bool)
}

// Director routes an inbound proxy call to the local control.Server
// when no "peer" metadata is present, or dials the named peer's own
// proxy listener otherwise. Grounded on the teacher's
// internal/daemon/proxy.Director, simplified to One2One routing: a
// control query always targets exactly one node, never a fan-out
// across a machine group the way the teacher's "machines" multi-target
// metadata does.
type Director struct {
	local    *LocalBackend
	resolver PeerResolver

	mu      sync.Mutex
	remotes map[string]*RemoteBackend
}

func NewDirector(localSockPath string, resolver PeerResolver) *Director {
	return &Director{
		local:    NewLocalBackend(localSockPath),
		resolver: resolver,
		remotes:  make(map[string]*RemoteBackend),
	}
}

// Director implements grpcproxy.StreamDirector.
func (d *Director) Director(ctx context.Context, _ string) (grpcproxy.Mode, []grpcproxy.Backend, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return grpcproxy.One2One, []grpcproxy.Backend{d.local}, nil
	}
	peers := md[peerMetadataKey]
	if len(peers) == 0 {
		return grpcproxy.One2One, []grpcproxy.Backend{d.local}, nil
	}

	id, err := uuid.Parse(peers[0])
	if err != nil {
		return grpcproxy.One2One, nil, status.Errorf(codes.InvalidArgument, "malformed peer uuid: %v", err)
	}

	addr, ok := d.resolver.ResolveControlAddr(id)
	if !ok {
		return grpcproxy.One2One, nil, status.Errorf(codes.NotFound, "peer %s has no known control endpoint", id)
	}

	return grpcproxy.One2One, []grpcproxy.Backend{d.remoteBackend(addr)}, nil
}

func (d *Director) remoteBackend(addr string) *RemoteBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.remotes[addr]; ok {
		return b
	}
	b := NewRemoteBackend(addr)
	d.remotes[addr] = b
	return b
}

// Close tears down every cached backend connection.
func (d *Director) Close() {
	d.local.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.remotes {
		b.Close()
	}
}
