package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/groblegark/warden/internal/events"
	"github.com/groblegark/warden/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream engine alerts from the event bus",
	GroupID: "system",
	// Alerts come straight off NATS; no HTTP client needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("WARDEN_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL; pass --nats, set WARDEN_NATS_URL, or configure a remote")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe("warden.alert.>")
		if err != nil {
			return fmt.Errorf("subscribing to alerts: %w", err)
		}
		defer cancel()

		fmt.Fprintln(cmd.ErrOrStderr(), "watching for alerts (ctrl-c to stop)")
		for {
			select {
			case <-ctx.Done():
				return nil
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				printAlert(cmd, data)
			}
		}
	},
}

func printAlert(cmd *cobra.Command, data []byte) {
	if jsonOutput {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	var alert events.EngineAlert
	if err := json.Unmarshal(data, &alert); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}
	line := fmt.Sprintf("%s  guild %d  %s  %s",
		time.Now().Format("15:04:05"),
		alert.GuildID,
		ui.RenderAccent(alert.Kind),
		alert.Subject)
	if alert.Detail != "" {
		line += "  " + ui.RenderMuted(alert.Detail)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL for the alert stream")
}
