package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"midimesh/cmd/midimeshctl/ui"
	"midimesh/internal/control"
)

func statusCmd(sockPath *string) *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node identity, peer count, and clock health",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*sockPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(withPeer(cmd.Context(), peer), 5*time.Second)
			defer cancel()

			client := control.NewControlClient(conn)
			resp, err := client.GetStatus(ctx, &control.GetStatusRequest{})
			if err != nil {
				return err
			}

			cmd.Println(ui.KeyValues(
				ui.KV("node", ui.Accent(resp.NodeName)),
				ui.KV("uuid", resp.NodeUUID),
				ui.KV("hash", hashHex(resp.NodeHash)),
				ui.KV("peers", itoa(resp.PeerCount)),
				ui.KV("devices", itoa(resp.DeviceCount)),
				ui.KV("uptime", resp.Uptime),
				ui.KV("clock skew phase", resp.ClockSkewPhase),
				ui.KV("clock skew offset", resp.ClockSkewOffset),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "query a remote peer by UUID instead of the local node")
	return cmd
}
