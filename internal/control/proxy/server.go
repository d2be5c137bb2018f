package proxy

import (
	"context"
	"fmt"
	"net"
	"os"

	grpcproxy "github.com/siderolabs/grpc-proxy/proxy"
	"google.golang.org/grpc"

	"midimesh/internal/logging"
)

// Server runs the proxy listeners: a Unix socket for midimeshctl
// (the CLI never needs to know whether a query stays local or crosses
// the mesh) and a TCP listener peers dial into to reach this node's
// control socket from across the mesh. Grounded on the teacher's
// internal/daemon/server.Server.ListenAndServe dual-listener shape.
type Server struct {
	Director *Director
}

func New(director *Director) *Server {
	return &Server{Director: director}
}

// ListenAndServe serves the Unix-socket proxy endpoint until ctx is
// cancelled. tcpAddr is the address peers dial to reach this node's
// control proxy from across the mesh; an empty tcpAddr disables the
// inbound path (this node still forwards outbound for itself).
func (s *Server) ListenAndServe(ctx context.Context, sockPath, tcpAddr string) error {
	log := logging.Component("control-proxy")

	srv := grpc.NewServer(
		grpc.ForceServerCodecV2(grpcproxy.Codec()),
		grpc.UnknownServiceHandler(grpcproxy.TransparentHandler(s.Director.Director)),
	)

	_ = os.Remove(sockPath)
	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen proxy unix %s: %w", sockPath, err)
	}

	serveErr := make(chan error, 2)
	go func() { serveErr <- srv.Serve(unixLn) }()

	if tcpAddr != "" {
		tcpLn, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			log.Warn("control proxy tcp listen failed, inbound peer queries disabled", "addr", tcpAddr, "err", err)
		} else {
			log.Debug("control proxy tcp listener started", "addr", tcpAddr)
			go func() { serveErr <- srv.Serve(tcpLn) }()
		}
	}

	var retErr error
	select {
	case <-ctx.Done():
	case retErr = <-serveErr:
		log.Error("control proxy listener exited", "err", retErr)
	}

	srv.GracefulStop()
	s.Director.Close()
	_ = os.Remove(sockPath)
	return retErr
}
