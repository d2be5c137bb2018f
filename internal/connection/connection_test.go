package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"midimesh/internal/handshake"
	"midimesh/internal/midi"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/wire"
)

type fakeRealtimeSink struct {
	mu   sync.Mutex
	sent []wire.Packet
}

func (s *fakeRealtimeSink) SendTo(pkt wire.Packet, _ *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pkt)
}

func (s *fakeRealtimeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestConnection(t *testing.T, rt RealtimeSink, onMessage func(uuid.UUID, []byte)) (*Connection, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{
		Self:              uuid.New(),
		SelfHash:          1,
		SelfName:          "self",
		PeerUUID:          uuid.New(),
		PeerHash:          2,
		PeerName:          "peer",
		PeerUDP:           &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000},
		RT:                rt,
		RetryAttempts:     3,
		RetryDelay:        time.Hour,
		HeartbeatInterval: time.Minute,
		OnMessage:         onMessage,
	})
	c.Start(ctx)
	return c, cancel
}

func attach(t *testing.T, c *Connection) (client net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	c.Attach(server, handshake.Result{Devices: []midi.DeviceInfo{{DeviceID: 1, Name: "d1"}}})
	// Attach is asynchronous (posted to the worker); poll for the
	// resulting state transition rather than sleeping a fixed amount.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateConnected {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return client
}

func TestConnectionStartsInStateNew(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()
	if c.State() != StateNew {
		t.Fatalf("State() = %s, want new", c.State())
	}
}

func TestConnectionAttachMovesToConnected(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()
	attach(t, c)

	if c.State() != StateConnected {
		t.Fatalf("State() = %s, want connected", c.State())
	}
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Devices) != 1 || snap.Devices[0].DeviceID != 1 {
		t.Fatalf("Snapshot().Devices = %+v, want the one device from the handshake result", snap.Devices)
	}
}

func TestConnectionFailHandshakeClosesWorker(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()

	c.FailHandshake(context.DeadlineExceeded)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.State() != StateClosed {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %s, want closed", c.State())
	}
}

func TestConnectionSendRealtimeBeforeConnectedIsDropped(t *testing.T) {
	rt := &fakeRealtimeSink{}
	c, cancel := newTestConnection(t, rt, nil)
	defer cancel()

	c.SendRealtime(realtime.RingSlot{DeviceID: 1, Status: 0x90, DataLen: 2})
	// Give the worker a chance to process the command; with no Attach
	// the connection never leaves StateNew so nothing should be sent.
	time.Sleep(10 * time.Millisecond)
	if rt.count() != 0 {
		t.Fatalf("sent = %d realtime packets while not connected, want 0", rt.count())
	}
}

func TestConnectionSendRealtimeAfterConnected(t *testing.T) {
	rt := &fakeRealtimeSink{}
	c, cancel := newTestConnection(t, rt, nil)
	defer cancel()
	attach(t, c)

	c.SendRealtime(realtime.RingSlot{DeviceID: 1, Status: 0x90, DataLen: 2})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && rt.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	if rt.count() != 1 {
		t.Fatalf("sent = %d realtime packets, want 1", rt.count())
	}
}

func TestConnectionDeliverRealtimeUpdatesHeartbeat(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()

	before := c.LastHeartbeatRecv()
	time.Sleep(time.Millisecond)
	c.DeliverRealtime(wire.Packet{Header: wire.Header{Magic: wire.Magic, Version: wire.Version}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !c.LastHeartbeatRecv().After(before) {
		time.Sleep(time.Millisecond)
	}
	if !c.LastHeartbeatRecv().After(before) {
		t.Fatal("LastHeartbeatRecv did not advance after DeliverRealtime")
	}
}

func TestConnectionSendReliableWithoutAttachIsNotConnected(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()

	err := c.SendReliable(context.Background(), []byte("hi"))
	if err == nil {
		t.Fatal("SendReliable on an unattached connection returned nil error")
	}
}

func TestConnectionMarkTimedOutClosesWorker(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()
	attach(t, c)

	c.MarkTimedOut()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.State() != StateClosed {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %s, want closed", c.State())
	}
}

func TestConnectionShutdownIsIdempotent(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()
	attach(t, c)

	c.Shutdown()
	c.Shutdown() // must not block or panic on a second call

	if c.State() != StateClosed {
		t.Fatalf("State() = %s, want closed", c.State())
	}
}

func TestConnectionSnapshotAfterShutdown(t *testing.T) {
	c, cancel := newTestConnection(t, &fakeRealtimeSink{}, nil)
	defer cancel()
	c.Shutdown()

	_, err := c.Snapshot(context.Background())
	if err == nil {
		t.Fatal("Snapshot on a closed connection returned nil error, want NotConnected")
	}
}
