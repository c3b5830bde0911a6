package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/groblegark/warden/internal/server"
	"github.com/groblegark/warden/internal/ui"
	"github.com/spf13/cobra"
)

var gatekeeperCmd = &cobra.Command{
	Use:     "gatekeeper",
	Short:   "Manage the quarantine gatekeeper",
	GroupID: "defense",
}

var gatekeeperActivateCmd = &cobra.Command{
	Use:   "activate <guild-id>",
	Short: "Configure and start a quarantine session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		channelID, _ := cmd.Flags().GetInt64("channel")
		roleID, _ := cmd.Flags().GetInt64("role")
		message, _ := cmd.Flags().GetString("message")
		bypass, _ := cmd.Flags().GetString("bypass")
		rate, _ := cmd.Flags().GetString("rate")

		session, err := wardenClient.ActivateGatekeeper(context.Background(), guildID, &server.ActivateRequest{
			ChannelID: channelID,
			RoleID:    roleID,
			Message:   message,
			Bypass:    bypass,
			Rate:      rate,
		})
		if err != nil {
			return fmt.Errorf("activating gatekeeper: %w", err)
		}
		if jsonOutput {
			return printJSON(session)
		}
		fmt.Printf("gatekeeper active for guild %d (role %d, channel %d, bypass %s, rate %s)\n",
			session.GuildID, session.RoleID, session.ChannelID, session.Bypass, session.Rate)
		return nil
	},
}

var gatekeeperOffCmd = &cobra.Command{
	Use:   "off <guild-id>",
	Short: "Stop the session and release all quarantined members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		if err := wardenClient.DeactivateGatekeeper(context.Background(), guildID); err != nil {
			return fmt.Errorf("deactivating gatekeeper: %w", err)
		}
		fmt.Printf("gatekeeper off for guild %d; member releases queued\n", guildID)
		return nil
	},
}

var gatekeeperStatusCmd = &cobra.Command{
	Use:   "status <guild-id>",
	Short: "Show the session and quarantined member count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		status, err := wardenClient.GatekeeperStatus(context.Background(), guildID)
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}
		if jsonOutput {
			return printJSON(status)
		}
		if status.Session == nil {
			fmt.Printf("guild %d: no gatekeeper session\n", guildID)
			return nil
		}
		s := status.Session
		state := "configured (inactive)"
		if s.Active() {
			state = "active since " + s.StartedAt.Format(time.RFC3339)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "guild\t%d\n", s.GuildID)
		fmt.Fprintf(w, "state\t%s\n", ui.RenderAccent(state))
		fmt.Fprintf(w, "channel\t%d\n", s.ChannelID)
		fmt.Fprintf(w, "role\t%d\n", s.RoleID)
		fmt.Fprintf(w, "bypass\t%s\n", s.Bypass)
		fmt.Fprintf(w, "rate\t%s\n", s.Rate)
		fmt.Fprintf(w, "members\t%d\n", status.Members)
		return w.Flush()
	},
}

func init() {
	gatekeeperActivateCmd.Flags().Int64("channel", 0, "verification channel ID")
	gatekeeperActivateCmd.Flags().Int64("role", 0, "quarantine role ID")
	gatekeeperActivateCmd.Flags().String("message", "", "verification prompt shown to quarantined members")
	gatekeeperActivateCmd.Flags().String("bypass", "kick", "action for members who never verify (ban or kick)")
	gatekeeperActivateCmd.Flags().String("rate", "10/30s", "join-rate policy as N/DURATION")
	gatekeeperActivateCmd.MarkFlagRequired("channel")
	gatekeeperActivateCmd.MarkFlagRequired("role")
	gatekeeperActivateCmd.MarkFlagRequired("message")

	gatekeeperCmd.AddCommand(gatekeeperActivateCmd)
	gatekeeperCmd.AddCommand(gatekeeperOffCmd)
	gatekeeperCmd.AddCommand(gatekeeperStatusCmd)
}
