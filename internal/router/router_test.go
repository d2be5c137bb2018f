package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"midimesh/internal/meshnet"
	"midimesh/internal/midi"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/wire"
)

type fakeLocalSink struct {
	mu         sync.Mutex
	delivered  []uint16
	failDevice uint16
	shouldFail bool
}

func (f *fakeLocalSink) DeliverLocal(deviceID uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail && deviceID == f.failDevice {
		return errors.New("delivery failed")
	}
	f.delivered = append(f.delivered, deviceID)
	return nil
}

type fakeRemoteSink struct {
	id uuid.UUID

	mu           sync.Mutex
	realtimeSent []realtime.RingSlot
	reliableSent [][]byte
	reliableErr  error
}

func (f *fakeRemoteSink) UUID() uuid.UUID { return f.id }
func (f *fakeRemoteSink) Shutdown()       {}

func (f *fakeRemoteSink) SendRealtime(slot realtime.RingSlot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.realtimeSent = append(f.realtimeSent, slot)
}

func (f *fakeRemoteSink) SendReliable(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reliableErr != nil {
		return f.reliableErr
	}
	f.reliableSent = append(f.reliableSent, payload)
	return nil
}

func newTestRouter(t *testing.T, selfHash uint32, table *Table, pool *meshnet.Pool, local LocalSink) *Router {
	t.Helper()
	r, err := New(selfHash, table, pool, local, noop.NewMeterProvider().Meter(""))
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return r
}

func TestRouteLocalDeliversToLocalSink(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	local := &fakeLocalSink{}
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), local)

	r.RouteLocal(context.Background(), 1, []byte{0x90, 0x40, 0x7f})

	if len(local.delivered) != 1 || local.delivered[0] != 2 {
		t.Fatalf("delivered = %v, want [2]", local.delivered)
	}
	snap := tbl.Snapshot()[0]
	if snap.Statistics.MessagesRouted != 1 {
		t.Fatalf("MessagesRouted = %d, want 1", snap.Statistics.MessagesRouted)
	}
}

func TestRouteDisabledRuleNeverMatches(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         false,
	})
	local := &fakeLocalSink{}
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), local)

	r.RouteLocal(context.Background(), 1, []byte{0x90, 0x40, 0x7f})

	if len(local.delivered) != 0 {
		t.Fatalf("delivered = %v, want none (rule disabled)", local.delivered)
	}
}

func TestRouteLocalFailureIsRecordedAsDrop(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	local := &fakeLocalSink{shouldFail: true, failDevice: 2}
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), local)

	r.RouteLocal(context.Background(), 1, []byte{0x90, 0x40, 0x7f})

	snap := tbl.Snapshot()[0]
	if snap.Statistics.MessagesDropped != 1 {
		t.Fatalf("MessagesDropped = %d, want 1", snap.Statistics.MessagesDropped)
	}
}

func TestRouteNoConnectionIsDropped(t *testing.T) {
	destNode := uuid.New()
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{NodeUUID: destNode, DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), &fakeLocalSink{})

	r.RouteLocal(context.Background(), 1, []byte{0x90, 0x40, 0x7f})

	snap := tbl.Snapshot()[0]
	if snap.Statistics.MessagesDropped != 1 {
		t.Fatalf("MessagesDropped = %d, want 1 (no pooled connection)", snap.Statistics.MessagesDropped)
	}
}

func TestRouteRealtimeMessageSentViaSendRealtime(t *testing.T) {
	destNode := uuid.New()
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{NodeUUID: destNode, DeviceID: 9},
		Priority:        1,
		Enabled:         true,
	})
	pool := meshnet.NewPool()
	sink := &fakeRemoteSink{id: destNode}
	pool.Insert(sink)
	r := newTestRouter(t, 0x1, tbl, pool, &fakeLocalSink{})

	r.RouteLocal(context.Background(), 1, []byte{0x90, 0x40, 0x7f})

	if len(sink.realtimeSent) != 1 {
		t.Fatalf("realtimeSent = %v, want 1 entry", sink.realtimeSent)
	}
	if sink.realtimeSent[0].DeviceID != 9 {
		t.Fatalf("DeviceID = %d, want 9", sink.realtimeSent[0].DeviceID)
	}
}

func TestRouteNonRealtimeMessageSentViaSendReliable(t *testing.T) {
	destNode := uuid.New()
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{NodeUUID: destNode, DeviceID: 9},
		Priority:        1,
		Enabled:         true,
	})
	pool := meshnet.NewPool()
	sink := &fakeRemoteSink{id: destNode}
	pool.Insert(sink)
	r := newTestRouter(t, 0x1, tbl, pool, &fakeLocalSink{})

	// 0xF0 is a sysex start byte: non-real-time per midi.Classify.
	r.RouteLocal(context.Background(), 1, []byte{0xF0, 0x01, 0xF7})

	if len(sink.reliableSent) != 1 {
		t.Fatalf("reliableSent = %v, want 1 entry", sink.reliableSent)
	}
}

func TestRouteEmptyPayloadIsDropped(t *testing.T) {
	tbl := NewTable()
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), &fakeLocalSink{})
	// Must not panic on an empty payload.
	r.RouteLocal(context.Background(), 1, nil)
}

// TestRouteRealtimeDeliversToDeviceThatReceivedIt checks that the
// DeviceID carried in an inbound real-time packet's header names a
// device on this (the receiving) node, not a device belonging to the
// sending peer, matching the DeviceID the sender already resolved via
// its own outbound rule before transmitting.
func TestRouteRealtimeDeliversToDeviceThatReceivedIt(t *testing.T) {
	sender := uuid.New()
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 9},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	local := &fakeLocalSink{}
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), local)

	pkt := wire.Packet{
		Header:  wire.Header{Magic: wire.Magic, Version: wire.Version, DeviceID: 9},
		Payload: []byte{0x90, 0x40, 0x7f},
	}
	r.RouteRealtime(context.Background(), sender, pkt)

	if len(local.delivered) != 1 || local.delivered[0] != 2 {
		t.Fatalf("delivered = %v, want [2]", local.delivered)
	}
}

// TestRouteRealtimeUnknownDestinationDeviceIsDropped guards against
// the inverse mistake: a received DeviceID that matches nothing on
// this node (e.g. because it was still keyed to the sender) must not
// be delivered to any local device. No rule matches it, so no drop
// counter is incremented; the test checks delivery only.
func TestRouteRealtimeUnknownDestinationDeviceIsDropped(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 9},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	local := &fakeLocalSink{}
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), local)

	pkt := wire.Packet{
		Header:  wire.Header{Magic: wire.Magic, Version: wire.Version, DeviceID: 99},
		Payload: []byte{0x90, 0x40, 0x7f},
	}
	r.RouteRealtime(context.Background(), uuid.New(), pkt)

	if len(local.delivered) != 0 {
		t.Fatalf("delivered = %v, want none (no rule sourced from device 99)", local.delivered)
	}
}

// TestRouteReliableDeliversToLocalDeviceThenRelaysOnward covers the
// relay scenario of spec.md §8 scenario 2: a reliable payload arriving
// for a device that is itself the source of a further routing rule to
// a second remote peer must both deliver locally and continue onward
// with the forwarding context carried forward.
func TestRouteReliableDeliversToLocalDeviceThenRelaysOnward(t *testing.T) {
	sender := uuid.New()
	nextHop := uuid.New()
	tbl := NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "local",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 5},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        1,
		Enabled:         true,
	})
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "relay",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 5},
		DestDeviceKey:   midi.DeviceKey{NodeUUID: nextHop, DeviceID: 3},
		Priority:        1,
		Enabled:         true,
	})
	local := &fakeLocalSink{}
	pool := meshnet.NewPool()
	sink := &fakeRemoteSink{id: nextHop}
	pool.Insert(sink)
	r := newTestRouter(t, 0x1, tbl, pool, local)

	pkt := wire.Packet{
		Header:  wire.Header{Magic: wire.Magic, Version: wire.Version, Flags: wire.FlagReliable, DeviceID: 5},
		Payload: []byte{0xF0, 0x01, 0xF7},
	}
	r.RouteReliable(context.Background(), sender, pkt.Encode())

	if len(local.delivered) != 1 || local.delivered[0] != 2 {
		t.Fatalf("delivered = %v, want [2]", local.delivered)
	}
	if len(sink.reliableSent) != 1 {
		t.Fatalf("reliableSent = %v, want 1 entry (relayed onward)", sink.reliableSent)
	}
}

func TestRouteReliableUnparsablePayloadIsDropped(t *testing.T) {
	tbl := NewTable()
	r := newTestRouter(t, 0x1, tbl, meshnet.NewPool(), &fakeLocalSink{})
	r.RouteReliable(context.Background(), uuid.New(), []byte{0x01, 0x02})
}
