package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/groblegark/warden/internal/ui"
	"github.com/spf13/cobra"
)

var lockdownCmd = &cobra.Command{
	Use:     "lockdown",
	Short:   "Lock and unlock channels",
	GroupID: "defense",
}

var lockdownStartCmd = &cobra.Command{
	Use:   "start <guild-id> <channel-id>...",
	Short: "Lock one or more channels",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		channelIDs := make([]int64, 0, len(args)-1)
		for _, arg := range args[1:] {
			id, err := parseID(arg, "channel-id")
			if err != nil {
				return err
			}
			channelIDs = append(channelIDs, id)
		}

		var duration time.Duration
		if raw, _ := cmd.Flags().GetString("for"); raw != "" {
			duration, err = time.ParseDuration(raw)
			if err != nil || duration <= 0 {
				return fmt.Errorf("--for must be a positive duration, got %q", raw)
			}
		}
		actor, _ := cmd.Flags().GetString("actor")

		locked, err := wardenClient.Lock(context.Background(), guildID, channelIDs, duration, actor)
		if err != nil {
			return fmt.Errorf("locking channels: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]any{"locked": locked})
		}
		fmt.Printf("locked %d channel(s) in guild %d\n", len(locked), guildID)
		return nil
	},
}

var lockdownEndCmd = &cobra.Command{
	Use:   "end <guild-id> [channel-id]",
	Short: "Unlock a channel, or every locked channel with --all",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		if all {
			unlocked, err := wardenClient.UnlockAll(context.Background(), guildID)
			if err != nil {
				return fmt.Errorf("unlocking channels: %w", err)
			}
			fmt.Printf("unlock queued for %d channel(s) in guild %d\n", len(unlocked), guildID)
			return nil
		}
		if len(args) != 2 {
			return fmt.Errorf("channel-id required unless --all is set")
		}
		channelID, err := parseID(args[1], "channel-id")
		if err != nil {
			return err
		}
		if err := wardenClient.Unlock(context.Background(), guildID, channelID); err != nil {
			return fmt.Errorf("unlocking channel: %w", err)
		}
		fmt.Printf("unlock queued for channel %d\n", channelID)
		return nil
	},
}

var lockdownListCmd = &cobra.Command{
	Use:   "list <guild-id>",
	Short: "List lockdown entries for a guild",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		entries, err := wardenClient.ListLockdowns(context.Background(), guildID)
		if err != nil {
			return fmt.Errorf("listing lockdowns: %w", err)
		}
		if jsonOutput {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Printf("guild %d: no channels locked\n", guildID)
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tSTATE\tACTOR\tEXPIRES\tSINCE")
		for _, e := range entries {
			expires := "-"
			if e.ExpiresAt != nil {
				expires = e.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.ChannelID, ui.RenderState(string(e.State), e.ApplyFailed), e.Actor, expires,
				e.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	lockdownStartCmd.Flags().String("for", "", "auto-unlock after this duration (e.g. 30m)")
	lockdownStartCmd.Flags().String("actor", "", "who initiated the lockdown (recorded on the entry)")
	lockdownEndCmd.Flags().Bool("all", false, "unlock every locked channel in the guild")

	lockdownCmd.AddCommand(lockdownStartCmd)
	lockdownCmd.AddCommand(lockdownEndCmd)
	lockdownCmd.AddCommand(lockdownListCmd)
}
