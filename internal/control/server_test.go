package control

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"midimesh/internal/diagnostics/clockskew"
	"midimesh/internal/meshnet"
	"midimesh/internal/midi"
	"midimesh/internal/router"
)

type fakeDeviceProvider struct {
	devices []midi.DeviceInfo
}

func (f fakeDeviceProvider) Devices() []midi.DeviceInfo { return f.devices }

type fakePooledConn struct{ id uuid.UUID }

func (f fakePooledConn) UUID() uuid.UUID { return f.id }
func (f fakePooledConn) Shutdown()       {}

func TestServerGetStatusWithoutClockSkew(t *testing.T) {
	self := uuid.New()
	s := New(self, "node-a", 0xabc, meshnet.NewPool(), router.NewTable(), fakeDeviceProvider{}, nil)

	resp, err := s.GetStatus(context.Background(), &GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if resp.NodeUUID != self.String() || resp.NodeName != "node-a" || resp.NodeHash != 0xabc {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ClockSkewPhase != "" {
		t.Fatalf("ClockSkewPhase = %q, want empty when ClockSkew is nil", resp.ClockSkewPhase)
	}
}

func TestServerGetStatusIncludesClockSkew(t *testing.T) {
	skew := clockskew.NewChecker(meshnet.RealClock{})
	s := New(uuid.New(), "node-a", 1, meshnet.NewPool(), router.NewTable(), fakeDeviceProvider{}, skew)

	resp, err := s.GetStatus(context.Background(), &GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if resp.ClockSkewPhase != clockskew.Unchecked.String() {
		t.Fatalf("ClockSkewPhase = %q, want %q", resp.ClockSkewPhase, clockskew.Unchecked.String())
	}
}

func TestServerListPeers(t *testing.T) {
	pool := meshnet.NewPool()
	peerID := uuid.New()
	pool.Insert(fakePooledConn{id: peerID})

	s := New(uuid.New(), "node-a", 1, pool, router.NewTable(), fakeDeviceProvider{}, nil)
	resp, err := s.ListPeers(context.Background(), &ListPeersRequest{})
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].UUID != peerID.String() || resp.Peers[0].State != "connected" {
		t.Fatalf("resp.Peers = %+v", resp.Peers)
	}
}

func TestServerListRoutes(t *testing.T) {
	tbl := router.NewTable()
	tbl.Upsert(midi.RoutingRule{
		RuleID:          "r1",
		SourceDeviceKey: midi.DeviceKey{DeviceID: 1},
		DestDeviceKey:   midi.DeviceKey{DeviceID: 2},
		Priority:        3,
		Enabled:         true,
	})

	s := New(uuid.New(), "node-a", 1, meshnet.NewPool(), tbl, fakeDeviceProvider{}, nil)
	resp, err := s.ListRoutes(context.Background(), &ListRoutesRequest{})
	if err != nil {
		t.Fatalf("ListRoutes: %v", err)
	}
	if len(resp.Routes) != 1 || resp.Routes[0].RuleID != "r1" || resp.Routes[0].Priority != 3 {
		t.Fatalf("resp.Routes = %+v", resp.Routes)
	}
}

func TestServerListDeviceTableAndGetRemoteDevicesAgree(t *testing.T) {
	devices := fakeDeviceProvider{devices: []midi.DeviceInfo{
		{DeviceID: 1, Name: "Keyboard", Direction: midi.DirectionInput},
		{DeviceID: 2, Name: "Synth", Direction: midi.DirectionOutput},
	}}
	s := New(uuid.New(), "node-a", 1, meshnet.NewPool(), router.NewTable(), devices, nil)

	local, err := s.ListDeviceTable(context.Background(), &ListDeviceTableRequest{})
	if err != nil {
		t.Fatalf("ListDeviceTable: %v", err)
	}
	remote, err := s.GetRemoteDevices(context.Background(), &GetRemoteDevicesRequest{})
	if err != nil {
		t.Fatalf("GetRemoteDevices: %v", err)
	}
	if len(local.Devices) != 2 || len(remote.Devices) != 2 {
		t.Fatalf("local=%+v remote=%+v, want 2 entries each", local.Devices, remote.Devices)
	}
	for i := range local.Devices {
		if local.Devices[i] != remote.Devices[i] {
			t.Fatalf("ListDeviceTable/GetRemoteDevices diverge at %d: %+v vs %+v", i, local.Devices[i], remote.Devices[i])
		}
	}
	if !local.Devices[0].Local {
		t.Fatal("a locally-owned device should report Local=true")
	}
}

func TestUnimplementedControlServerReturnsUnimplemented(t *testing.T) {
	var s UnimplementedControlServer
	if _, err := s.GetStatus(context.Background(), &GetStatusRequest{}); err == nil {
		t.Fatal("GetStatus on UnimplementedControlServer returned nil error")
	}
}
