// Command midimeshd is the zero-configuration MIDI mesh daemon: one
// process per node that discovers peers, forms the mesh, and routes
// MIDI messages between local and remote devices per spec.md.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"midimesh/internal/config"
	"midimesh/internal/control"
	controlproxy "midimesh/internal/control/proxy"
	"midimesh/internal/diagnostics/clockskew"
	"midimesh/internal/discovery/mdns"
	"midimesh/internal/handshake"
	"midimesh/internal/heartbeat"
	"midimesh/internal/identity"
	"midimesh/internal/logging"
	"midimesh/internal/mesh"
	"midimesh/internal/meshnet"
	"midimesh/internal/router"
	"midimesh/internal/rulestore"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/wire"
)

// realtimeRatePerSec bounds the token-bucket the realtime transport's
// send side is shaped by; spec.md gives no fixed number, so this picks
// a generous multiple of a single MIDI-over-USB link's 31.25kbaud
// ceiling, well above anything a mesh of physical controllers emits.
const realtimeRatePerSec = 20000

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := config.Defaults()
	var optionsFile string
	var debug bool

	cmd := &cobra.Command{
		Use:   "midimeshd",
		Short: "Zero-configuration network MIDI mesh daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(optionsFile)
			if err != nil {
				return err
			}
			loaded.NodeName = firstNonEmpty(opts.NodeName, loaded.NodeName)
			if cmd.Flags().Changed("data-dir") {
				loaded.DataDir = opts.DataDir
			}
			if cmd.Flags().Changed("socket") {
				loaded.ControlSocket = opts.ControlSocket
			}
			if cmd.Flags().Changed("control-port") || loaded.ControlPort == 0 {
				loaded.ControlPort = opts.ControlPort
			}
			if cmd.Flags().Changed("data-port") || loaded.DataPort == 0 {
				loaded.DataPort = opts.DataPort
			}
			opts = loaded
			level := opts.LogLevel
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&optionsFile, "config", "", "path to a YAML options file")
	cmd.Flags().StringVar(&opts.NodeName, "name", "", "human-readable node name (defaults to hostname)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", opts.DataDir, "directory for persisted identity and routing rules")
	cmd.Flags().StringVar(&opts.ControlSocket, "socket", opts.ControlSocket, "control surface unix socket path")
	cmd.Flags().IntVar(&opts.ControlPort, "control-port", 7000, "TCP port for the handshake HTTP responder and inbound control proxy")
	cmd.Flags().IntVar(&opts.DataPort, "data-port", 8000, "UDP/TCP port for real-time and reliable data transport")
	return cmd
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func run(ctx context.Context, opts config.Options) error {
	log := logging.Component("main")

	nodeName := opts.NodeName
	if nodeName == "" {
		if h, err := os.Hostname(); err == nil {
			nodeName = h
		} else {
			nodeName = "midimesh-node"
		}
	}

	ident, err := identity.Load(opts.DataDir, nodeName)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	selfHash := meshnet.HashUUID(ident.UUID)
	log.Info("node identity loaded", "uuid", ident.UUID, "name", ident.Name)

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	meter := meterProvider.Meter("midimesh")

	store, err := rulestore.Open(opts.DataDir)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer store.Close()

	rules, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load routing rules: %w", err)
	}
	table := router.NewTable()
	table.LoadSnapshot(rules)

	registry := meshnet.NewUUIDRegistry()
	pool := meshnet.NewPool()
	devices := newNoopDeviceIO()

	var mgr *mesh.Manager
	rt, err := realtime.New(fmt.Sprintf(":%d", opts.DataPort), selfHash, realtimeRatePerSec,
		func(pkt wire.Packet, from *net.UDPAddr) { mgr.DispatchRealtime(pkt, from) })
	if err != nil {
		return fmt.Errorf("start realtime transport: %w", err)
	}
	defer rt.Close()

	rtr, err := router.New(selfHash, table, pool, devices, meter)
	if err != nil {
		return fmt.Errorf("construct router: %w", err)
	}

	disc := mdns.New()

	mgr = mesh.New(opts, ident.UUID, selfHash, ident.Name, rt.LocalAddr().String(),
		registry, pool, disc, rt, devices, rtr)
	// mgr must exist before the receive loop can run, since the
	// handler closure above calls mgr.DispatchRealtime for every
	// inbound datagram.
	rt.Start(ctx)

	eg, egCtx := errgroup.WithContext(ctx)

	hsServer := &handshake.Server{
		Self:        ident.UUID,
		SelfName:    ident.Name,
		UDPEndpoint: rt.LocalAddr().String(),
		Devices:     devices,
		OnPeerSeen:  mgr.RecordPeerSeen,
	}
	muxRouter := mux.NewRouter()
	hsServer.Register(muxRouter)
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", opts.ControlPort), Handler: muxRouter}
	eg.Go(func() error {
		go func() {
			<-egCtx.Done()
			_ = httpSrv.Close()
		}()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("handshake http server: %w", err)
		}
		return nil
	})

	reliableLn, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.DataPort))
	if err != nil {
		return fmt.Errorf("listen reliable stream: %w", err)
	}
	mgr.ListenReliable(egCtx, reliableLn)

	eg.Go(func() error {
		if err := disc.Advertise(egCtx, meshnet.NodeInfo{
			UUID:        ident.UUID,
			HumanName:   ident.Name,
			ControlPort: opts.ControlPort,
			DataPort:    opts.DataPort,
			DeviceCount: len(devices.Devices()),
		}); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		return mgr.Run(egCtx)
	})

	mon := heartbeat.NewMonitor(pool, opts.HeartbeatInterval(), opts.HeartbeatTimeout())
	eg.Go(func() error { mon.Run(egCtx); return nil })

	skew := clockskew.NewChecker(meshnet.RealClock{})
	eg.Go(func() error { skew.Run(egCtx); return nil })

	ctrl := control.New(ident.UUID, ident.Name, selfHash, pool, table, devices, skew)
	eg.Go(func() error { return ctrl.ListenAndServe(egCtx, opts.ControlSocket) })

	director := controlproxy.NewDirector(opts.ControlSocket, mgr)
	proxySrv := controlproxy.New(director)
	proxySockPath := opts.ControlSocket + ".proxy"
	proxyTCPAddr := fmt.Sprintf(":%d", opts.ControlPort+1)
	eg.Go(func() error { return proxySrv.ListenAndServe(egCtx, proxySockPath, proxyTCPAddr) })

	defer disc.Close()

	log.Info("midimesh daemon started",
		"control_port", opts.ControlPort, "data_port", opts.DataPort, "socket", opts.ControlSocket)

	return eg.Wait()
}
