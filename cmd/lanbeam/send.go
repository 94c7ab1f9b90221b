package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/transfer"
)

const progressPaintEvery = 150 * time.Millisecond

var sendCmd = &cobra.Command{
	Use:   "send <file|folder>...",
	Short: "Send files to another device on the network",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		to, _ := cmd.Flags().GetString("to")
		host, _ := cmd.Flags().GetString("host")

		client := peerapi.New()
		target, err := resolveTarget(cmd.Context(), client, cfg, to, host)
		if err != nil {
			return err
		}

		files, err := expandSendArgs(args)
		if err != nil {
			return err
		}

		return runSend(cmd.Context(), client, cfg, target, files)
	},
}

func init() {
	sendCmd.Flags().StringP("to", "t", "", "Target device name or id, resolved via the local daemon")
	sendCmd.Flags().String("host", "", "Target address ip[:port], bypassing discovery")
}

// resolveTarget turns --to / --host into a concrete device record. --host
// asks the peer directly; --to needs the local daemon's device table.
func resolveTarget(ctx context.Context, client *peerapi.Client, cfg *config.Config, to, host string) (device.Device, error) {
	switch {
	case host != "":
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, strconv.Itoa(cfg.TransferPort))
		}
		ip, portStr, err := net.SplitHostPort(host)
		if err != nil {
			return device.Device{}, fmt.Errorf("invalid --host %q: %w", host, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return device.Device{}, fmt.Errorf("invalid --host port %q", portStr)
		}

		d, err := client.DeviceInfo(ctx, "http://"+host)
		if err != nil {
			return device.Device{}, fmt.Errorf("no device answered at %s: %w", host, err)
		}
		// trust the address the user gave over what the peer announces
		d.IP = ip
		d.Port = port
		return d, nil

	case to != "":
		res, err := client.Devices(ctx, localDaemonURL(cfg.TransferPort))
		if err != nil {
			return device.Device{}, fmt.Errorf("cannot reach the daemon to resolve %q, is it running? %w", to, err)
		}
		for _, d := range res.Devices {
			if d.ID == to || strings.EqualFold(d.Name, to) {
				return d.Device, nil
			}
		}
		return device.Device{}, fmt.Errorf("no discovered device matches %q, try 'lanbeam devices'", to)

	default:
		return device.Device{}, errors.New("specify a target with --to <name|id> or --host <ip[:port]>")
	}
}

// expandSendArgs flattens files and folders into the list of files to send.
func expandSendArgs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		under, err := transfer.SendablePaths(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, under...)
	}
	return files, nil
}

// runSend pushes the files one at a time, in order, printing each outcome.
func runSend(ctx context.Context, client *peerapi.Client, cfg *config.Config, target device.Device, files []string) error {
	identity := device.NewIdentity(cfg)
	sender := transfer.NewSender(client, identity, cfg.MaxUploadRateKBps)
	self := identity.Snapshot()

	noun := "file"
	if len(files) > 1 {
		noun = "files"
	}
	fmt.Printf("sending %d %s to %s (%s)\n\n", len(files), noun, cyan(target.Name), target.Addr())

	painter := &progressPainter{
		interactive: isatty.IsTerminal(os.Stdout.Fd()),
	}

	var completed, rejected, failed int
	for _, path := range files {
		t, err := transfer.NewOutgoing(path, self, target)
		if err != nil {
			failed++
			fmt.Printf("%s\n  %s %v\n", path, red("failed:"), err)
			continue
		}

		fmt.Printf("%s (%s)\n", t.FileName, humanize.Bytes(uint64(t.FileSize)))
		start := time.Now()
		res := sender.Send(ctx, t, target, painter.update)
		painter.clear()

		switch res.Status {
		case transfer.StatusCompleted:
			completed++
			fmt.Printf("  %s in %s (%s/s)\n",
				green("done"),
				time.Since(start).Round(100*time.Millisecond),
				humanize.Bytes(uint64(res.SpeedBps)))
		case transfer.StatusRejected:
			rejected++
			fmt.Printf("  %s %s\n", red("rejected:"), res.Error)
		case transfer.StatusCancelled:
			fmt.Printf("  %s\n", red("cancelled"))
		default:
			failed++
			fmt.Printf("  %s %s\n", red("failed:"), res.Error)
		}

		if ctx.Err() != nil {
			break
		}
	}

	fmt.Printf("\n%d sent, %d rejected, %d failed\n", completed, rejected, failed)
	if bad := rejected + failed; bad > 0 {
		return fmt.Errorf("%d of %d transfers did not complete", bad, len(files))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// progressPainter rewrites a single progress line while a file streams.
// It stays quiet when stdout is not a terminal.
type progressPainter struct {
	interactive bool
	lastPaint   time.Time
	painted     bool
}

func (p *progressPainter) update(t transfer.Transfer) {
	if !p.interactive || t.Status != transfer.StatusTransferring {
		return
	}
	if time.Since(p.lastPaint) < progressPaintEvery {
		return
	}
	p.lastPaint = time.Now()
	p.painted = true

	eta := time.Duration(t.ETASeconds * float64(time.Second)).Round(time.Second)
	fmt.Printf("\r  %3.0f%%  %s/s  eta %s ",
		t.Progress*100, humanize.Bytes(uint64(t.SpeedBps)), eta)
}

func (p *progressPainter) clear() {
	if !p.painted {
		return
	}
	fmt.Printf("\r%s\r", strings.Repeat(" ", 48))
	p.painted = false
	p.lastPaint = time.Time{}
}
