package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"midimesh/cmd/midimeshctl/ui"
	"midimesh/internal/control"
)

func peersCmd(sockPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List pooled mesh peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*sockPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			client := control.NewControlClient(conn)
			resp, err := client.ListPeers(ctx, &control.ListPeersRequest{})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(resp.Peers))
			for _, p := range resp.Peers {
				rows = append(rows, []string{p.UUID, hashHex(p.Hash), p.State})
			}
			cmd.Println(ui.Table([]string{"UUID", "HASH", "STATE"}, rows))
			return nil
		},
	}
	return cmd
}
