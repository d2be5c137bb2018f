package mesh

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"midimesh/internal/meshnet"
)

func TestAcceptReliableRegistersPeerAndAttaches(t *testing.T) {
	m := newTestManager(t)
	peer := uuid.New()

	client, server := net.Pipe()
	defer client.Close()

	go func() {
		client.Write(peer[:])
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	m.acceptReliable(context.Background(), discardLogger(), server)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Pool.Get(peer); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, ok := m.Pool.Get(peer); !ok {
		t.Fatal("acceptReliable did not insert the peer into the pool")
	}
	if _, ok := m.Registry.Lookup(meshnet.HashUUID(peer)); !ok {
		t.Fatal("acceptReliable did not register the peer's hash")
	}
}

func TestAcceptReliableRejectsSelf(t *testing.T) {
	m := newTestManager(t)

	client, server := net.Pipe()
	defer client.Close()
	go client.Write(m.Self[:])

	m.acceptReliable(context.Background(), discardLogger(), server)

	if m.Pool.Len() != 0 {
		t.Fatal("acceptReliable accepted a stream claiming to be self")
	}
}

func TestAcceptReliableRejectsShortIdentification(t *testing.T) {
	m := newTestManager(t)

	client, server := net.Pipe()
	go func() {
		client.Write([]byte{1, 2, 3})
		client.Close()
	}()

	m.acceptReliable(context.Background(), discardLogger(), server)

	if m.Pool.Len() != 0 {
		t.Fatal("acceptReliable accepted a stream with a truncated identification")
	}
}

func TestAcceptReliableSkipsAlreadyPooledPeer(t *testing.T) {
	m := newTestManager(t)
	peer := uuid.New()
	m.Pool.Insert(&fakePooledConn{id: peer})

	client, server := net.Pipe()
	defer client.Close()
	go client.Write(peer[:])

	m.acceptReliable(context.Background(), discardLogger(), server)

	if m.Pool.Len() != 1 {
		t.Fatalf("Pool.Len() = %d, want 1 (unchanged)", m.Pool.Len())
	}
}
