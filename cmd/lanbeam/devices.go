package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/peerapi"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices discovered on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		daemon := localDaemonURL(cfg.TransferPort)
		client := peerapi.New()

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return runDevicesWatch(cmd.Context(), client, daemon)
		}

		res, err := client.Devices(cmd.Context(), daemon)
		if err != nil {
			return fmt.Errorf("cannot reach the daemon at %s, is it running? %w", daemon, err)
		}

		fmt.Println(deviceTable(res).View())
		fmt.Println(grayStyle.Render(selfLine(res)))
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolP("watch", "w", false, "Keep the table on screen and refresh it")
}

var deviceColumns = []table.Column{
	{Title: "Name", Width: 18},
	{Title: "ID", Width: 14},
	{Title: "Address", Width: 21},
	{Title: "Platform", Width: 8},
	{Title: "RTT", Width: 7},
	{Title: "Last Seen", Width: 14},
}

func deviceTable(res *peerapi.DevicesResponse) table.Model {
	rows := make([]table.Row, 0, len(res.Devices))
	for _, d := range res.Devices {
		rows = append(rows, table.Row{
			d.Name,
			shortID(d.ID),
			d.Addr(),
			d.Platform,
			rttCell(d),
			humanize.Time(d.LastSeen),
		})
	}
	return newTable(deviceColumns, rows)
}

func rttCell(d peerapi.DeviceStatus) string {
	if !d.Reachable {
		return "-"
	}
	return fmt.Sprintf("%dms", d.AvgRttMs)
}

func selfLine(res *peerapi.DevicesResponse) string {
	return fmt.Sprintf("this device: %s (%s)", res.Self.Name, res.Self.Addr())
}
