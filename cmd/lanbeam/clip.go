package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
)

var clipCmd = &cobra.Command{
	Use:   "clip [text]",
	Short: "Push text to another device's clipboard",
	Long: `Push text to another device's clipboard.

With no arguments the local clipboard content is pushed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		text := strings.Join(args, " ")
		if text == "" {
			var err error
			text, err = clipboard.ReadAll()
			if err != nil {
				return fmt.Errorf("read local clipboard: %w", err)
			}
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("nothing to push, give some text or copy something first")
		}

		to, _ := cmd.Flags().GetString("to")
		host, _ := cmd.Flags().GetString("host")

		client := peerapi.New()
		target, err := resolveTarget(cmd.Context(), client, cfg, to, host)
		if err != nil {
			return err
		}

		identity := device.NewIdentity(cfg)
		payload := &peerapi.ClipboardPayload{
			Text:           text,
			Sender:         cfg.DeviceName,
			SenderDeviceID: identity.ID(),
			Type:           peerapi.ClipboardText,
			Timestamp:      time.Now().UTC(),
		}

		if _, err := client.PushClipboard(cmd.Context(), target.BaseURL(), payload); err != nil {
			return fmt.Errorf("push clipboard to %s: %w", target.Name, err)
		}

		fmt.Printf("%s chars pushed to %s\n", green(len(text)), cyan(target.Name))
		return nil
	},
}

func init() {
	clipCmd.Flags().StringP("to", "t", "", "Target device name or id, resolved via the local daemon")
	clipCmd.Flags().String("host", "", "Target address ip[:port], bypassing discovery")
}
