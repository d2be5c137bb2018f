package proxy

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestLocalBackendGetConnectionCachesConn(t *testing.T) {
	b := NewLocalBackend("/tmp/midimesh-test.sock")
	defer b.Close()

	_, conn1, err := b.GetConnection(context.Background(), "/m")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	_, conn2, err := b.GetConnection(context.Background(), "/m")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if conn1 != conn2 {
		t.Fatal("GetConnection dialed twice instead of reusing the cached connection")
	}
}

func TestLocalBackendAppendInfoAndBuildErrorArePassThrough(t *testing.T) {
	b := NewLocalBackend("/tmp/midimesh-test.sock")
	resp := []byte("payload")
	out, err := b.AppendInfo(false, resp)
	if err != nil || string(out) != "payload" {
		t.Fatalf("AppendInfo = (%v, %v), want (payload, nil)", out, err)
	}

	wantErr := errors.New("boom")
	_, err = b.BuildError(false, wantErr)
	if err != wantErr {
		t.Fatalf("BuildError = %v, want %v", err, wantErr)
	}
}

func TestRemoteBackendStripsPeerMetadata(t *testing.T) {
	b := NewRemoteBackend("10.0.0.1:7001")
	defer b.Close()

	incoming := metadata.NewIncomingContext(context.Background(),
		metadata.MD{peerMetadataKey: []string{"some-uuid"}, "other": []string{"kept"}})

	outCtx, _, err := b.GetConnection(incoming, "/m")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	out, ok := metadata.FromOutgoingContext(outCtx)
	if !ok {
		t.Fatal("outgoing context carries no metadata")
	}
	if len(out[peerMetadataKey]) != 0 {
		t.Fatalf("outgoing metadata still carries %q: %v", peerMetadataKey, out)
	}
	if len(out["other"]) != 1 || out["other"][0] != "kept" {
		t.Fatalf("outgoing metadata dropped unrelated key: %v", out)
	}
}

func TestRemoteBackendString(t *testing.T) {
	b := NewRemoteBackend("10.0.0.1:7001")
	if b.String() != "remote:10.0.0.1:7001" {
		t.Fatalf("String() = %q", b.String())
	}
}
