package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"midimesh/cmd/midimeshctl/ui"
	"midimesh/internal/control"
)

func devicesCmd(sockPath *string) *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List known MIDI devices, local or on a remote peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*sockPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(withPeer(cmd.Context(), peer), 5*time.Second)
			defer cancel()

			client := control.NewControlClient(conn)

			var devices []control.DeviceEntry
			if peer != "" {
				resp, err := client.GetRemoteDevices(ctx, &control.GetRemoteDevicesRequest{})
				if err != nil {
					return err
				}
				devices = resp.Devices
			} else {
				resp, err := client.ListDeviceTable(ctx, &control.ListDeviceTableRequest{})
				if err != nil {
					return err
				}
				devices = resp.Devices
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{
					shortUUID(d.NodeUUID),
					itoa(int(d.DeviceID)),
					d.Name,
					direction(d.Direction),
					ui.Bool(d.Local),
				})
			}
			cmd.Println(ui.Table([]string{"NODE", "DEVICE", "NAME", "DIRECTION", "LOCAL"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "query devices on a remote peer by UUID")
	return cmd
}

func direction(d int) string {
	switch d {
	case 0:
		return "in"
	case 1:
		return "out"
	default:
		return "unknown"
	}
}
