package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"midimesh/cmd/midimeshctl/ui"
	"midimesh/internal/control"
)

func routesCmd(sockPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the live routing table",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*sockPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			client := control.NewControlClient(conn)
			resp, err := client.ListRoutes(ctx, &control.ListRoutesRequest{})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(resp.Routes))
			for _, r := range resp.Routes {
				rows = append(rows, []string{
					r.RuleID,
					deviceKey(r.SourceNodeUUID, r.SourceDeviceID),
					deviceKey(r.DestNodeUUID, r.DestDeviceID),
					itoa(int(r.Priority)),
					ui.Bool(r.Enabled),
					itoa64(r.MessagesRouted),
					itoa64(r.MessagesDropped),
				})
			}
			cmd.Println(ui.Table(
				[]string{"RULE", "SOURCE", "DEST", "PRIO", "ENABLED", "ROUTED", "DROPPED"},
				rows,
			))
			return nil
		},
	}
	return cmd
}
