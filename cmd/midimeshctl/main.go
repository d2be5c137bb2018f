// Command midimeshctl is the read-only inspection client for a running
// midimeshd node, grounded on the teacher pack's cmd/ployz node
// commands: a cobra root command with one subcommand per control RPC.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"midimesh/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	defaults := config.Defaults()
	var sockPath string

	cmd := &cobra.Command{
		Use:           "midimeshctl",
		Short:         "Inspect a running midimeshd node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&sockPath, "socket", defaults.ControlSocket+".proxy", "control proxy unix socket path")

	cmd.AddCommand(
		statusCmd(&sockPath),
		peersCmd(&sockPath),
		routesCmd(&sockPath),
		devicesCmd(&sockPath),
	)
	return cmd
}
