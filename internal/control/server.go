package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"midimesh/internal/diagnostics/clockskew"
	"midimesh/internal/handshake"
	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
	"midimesh/internal/router"
)

// Server answers the read-only control RPCs against live mesh state.
// It never mutates anything; rule and device mutation is out of scope
// per spec.md's Non-goals for this surface (a future midimeshctl
// "apply" verb would need its own authenticated RPC, not added here).
type Server struct {
	UnimplementedControlServer

	Self     uuid.UUID
	SelfName string
	SelfHash uint32

	Pool      *meshnet.Pool
	Table     *router.Table
	Devices   handshake.DeviceProvider
	ClockSkew *clockskew.Checker

	startedAt time.Time
}

func New(self uuid.UUID, selfName string, selfHash uint32, pool *meshnet.Pool, table *router.Table, devices handshake.DeviceProvider, clockSkew *clockskew.Checker) *Server {
	return &Server{
		Self:      self,
		SelfName:  selfName,
		SelfHash:  selfHash,
		Pool:      pool,
		Table:     table,
		Devices:   devices,
		ClockSkew: clockSkew,
		startedAt: time.Now(),
	}
}

func (s *Server) GetStatus(_ context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	resp := &GetStatusResponse{
		NodeUUID:    s.Self.String(),
		NodeName:    s.SelfName,
		NodeHash:    s.SelfHash,
		PeerCount:   s.Pool.Len(),
		DeviceCount: len(s.localDevices()),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.ClockSkew != nil {
		cs := s.ClockSkew.Status()
		resp.ClockSkewPhase = cs.Phase.String()
		resp.ClockSkewOffset = cs.Offset.String()
	}
	return resp, nil
}

func (s *Server) ListPeers(_ context.Context, _ *ListPeersRequest) (*ListPeersResponse, error) {
	conns := s.Pool.Snapshot()
	peers := make([]PeerInfo, 0, len(conns))
	for _, c := range conns {
		peers = append(peers, PeerInfo{
			UUID: c.UUID().String(),
			Hash: meshnet.HashUUID(c.UUID()),
			// PooledConnection exposes no finer-grained lifecycle state
			// than "present in the pool", which is itself "connected":
			// a connection removes itself from the pool on close.
			State: "connected",
		})
	}
	return &ListPeersResponse{Peers: peers}, nil
}

func (s *Server) ListRoutes(_ context.Context, _ *ListRoutesRequest) (*ListRoutesResponse, error) {
	rules := s.Table.Snapshot()
	routes := make([]RouteInfo, 0, len(rules))
	for _, r := range rules {
		routes = append(routes, RouteInfo{
			RuleID:          r.RuleID,
			SourceNodeUUID:  r.SourceDeviceKey.NodeUUID.String(),
			SourceDeviceID:  r.SourceDeviceKey.DeviceID,
			DestNodeUUID:    r.DestDeviceKey.NodeUUID.String(),
			DestDeviceID:    r.DestDeviceKey.DeviceID,
			Priority:        r.Priority,
			Enabled:         r.Enabled,
			MessagesRouted:  r.Statistics.MessagesRouted,
			MessagesDropped: r.Statistics.MessagesDropped,
		})
	}
	return &ListRoutesResponse{Routes: routes}, nil
}

func (s *Server) ListDeviceTable(_ context.Context, _ *ListDeviceTableRequest) (*ListDeviceTableResponse, error) {
	return &ListDeviceTableResponse{Devices: s.localDevices()}, nil
}

// GetRemoteDevices answers the same query ListDeviceTable does, under
// a separate RPC name. control/proxy routes only on the "peer"
// metadata key, never on the method name, so either RPC is answered by
// whichever node the proxy sends it to.
func (s *Server) GetRemoteDevices(_ context.Context, _ *GetRemoteDevicesRequest) (*GetRemoteDevicesResponse, error) {
	return &GetRemoteDevicesResponse{Devices: s.localDevices()}, nil
}

func (s *Server) localDevices() []DeviceEntry {
	if s.Devices == nil {
		return nil
	}
	devices := s.Devices.Devices()
	out := make([]DeviceEntry, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceEntry{
			NodeUUID:  d.OwnerNode.String(),
			DeviceID:  d.DeviceID,
			Name:      d.Name,
			Direction: int(d.Direction),
			Local:     d.Local(),
		})
	}
	return out
}

// ListenAndServe starts the direct control server on a Unix domain
// socket, grounded on the teacher pack's api.Server.ListenAndServe.
// otelgrpc's server handler traces every call the way the handshake
// HTTP responder is traced elsewhere in the pack.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	log := logging.Component("control")
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterControlServer(srv, s)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Debug("control socket listening", "path", socketPath)
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	_ = os.Remove(socketPath)
	return nil
}
