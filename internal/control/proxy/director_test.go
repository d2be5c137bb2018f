package proxy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	grpcproxy "github.com/siderolabs/grpc-proxy/proxy"
	"google.golang.org/grpc/metadata"
)

type fakeResolver struct {
	addrs map[uuid.UUID]string
}

func (f fakeResolver) ResolveControlAddr(id uuid.UUID) (string, bool) {
	addr, ok := f.addrs[id]
	return addr, ok
}

func TestDirectorNoMetadataRoutesLocal(t *testing.T) {
	d := NewDirector("/tmp/does-not-exist.sock", fakeResolver{})
	defer d.Close()

	mode, backends, err := d.Director(context.Background(), "/midimesh.control.v1.Control/GetStatus")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if mode != grpcproxy.One2One {
		t.Fatalf("mode = %v, want One2One", mode)
	}
	if len(backends) != 1 || backends[0] != d.local {
		t.Fatalf("backends = %v, want [local]", backends)
	}
}

func TestDirectorNoPeerKeyRoutesLocal(t *testing.T) {
	d := NewDirector("/tmp/does-not-exist.sock", fakeResolver{})
	defer d.Close()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{"other": []string{"x"}})
	_, backends, err := d.Director(ctx, "/midimesh.control.v1.Control/GetStatus")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if len(backends) != 1 || backends[0] != d.local {
		t.Fatalf("backends = %v, want [local]", backends)
	}
}

func TestDirectorKnownPeerRoutesRemote(t *testing.T) {
	peerID := uuid.New()
	resolver := fakeResolver{addrs: map[uuid.UUID]string{peerID: "10.0.0.5:7001"}}
	d := NewDirector("/tmp/does-not-exist.sock", resolver)
	defer d.Close()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{peerMetadataKey: []string{peerID.String()}})
	mode, backends, err := d.Director(ctx, "/midimesh.control.v1.Control/GetStatus")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if mode != grpcproxy.One2One {
		t.Fatalf("mode = %v, want One2One", mode)
	}
	if len(backends) != 1 {
		t.Fatalf("backends = %v, want exactly one", backends)
	}
	rb, ok := backends[0].(*RemoteBackend)
	if !ok || rb.target != "10.0.0.5:7001" {
		t.Fatalf("backends[0] = %+v, want RemoteBackend targeting 10.0.0.5:7001", backends[0])
	}
}

func TestDirectorUnknownPeerErrors(t *testing.T) {
	d := NewDirector("/tmp/does-not-exist.sock", fakeResolver{})
	defer d.Close()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{peerMetadataKey: []string{uuid.New().String()}})
	_, _, err := d.Director(ctx, "/midimesh.control.v1.Control/GetStatus")
	if err == nil {
		t.Fatal("Director returned nil error for an unresolvable peer")
	}
}

func TestDirectorMalformedPeerUUIDErrors(t *testing.T) {
	d := NewDirector("/tmp/does-not-exist.sock", fakeResolver{})
	defer d.Close()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{peerMetadataKey: []string{"not-a-uuid"}})
	_, _, err := d.Director(ctx, "/midimesh.control.v1.Control/GetStatus")
	if err == nil {
		t.Fatal("Director returned nil error for a malformed peer uuid")
	}
}

func TestDirectorCachesRemoteBackendPerAddress(t *testing.T) {
	peerID := uuid.New()
	resolver := fakeResolver{addrs: map[uuid.UUID]string{peerID: "10.0.0.5:7001"}}
	d := NewDirector("/tmp/does-not-exist.sock", resolver)
	defer d.Close()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{peerMetadataKey: []string{peerID.String()}})
	_, first, err := d.Director(ctx, "/m")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	_, second, err := d.Director(ctx, "/m")
	if err != nil {
		t.Fatalf("Director: %v", err)
	}
	if first[0] != second[0] {
		t.Fatal("Director allocated a new RemoteBackend for a repeated address instead of reusing the cached one")
	}
}
