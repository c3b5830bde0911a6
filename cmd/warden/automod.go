package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/groblegark/warden/internal/client"
	"github.com/groblegark/warden/internal/model"
	"github.com/groblegark/warden/internal/server"
	"github.com/spf13/cobra"
)

var automodCmd = &cobra.Command{
	Use:     "automod",
	Short:   "Show and edit per-guild automod policy",
	GroupID: "policy",
}

var automodShowCmd = &cobra.Command{
	Use:   "show <guild-id>",
	Short: "Show the guild's automod config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		cfg, err := wardenClient.GetAutomod(context.Background(), guildID)
		if err != nil {
			return fmt.Errorf("fetching automod config: %w", err)
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		printAutomod(cmd, cfg)
		return nil
	},
}

var automodSetCmd = &cobra.Command{
	Use:   "set <guild-id>",
	Short: "Update the guild's automod config",
	Long: `Update the guild's automod config. Starts from the current config;
only the flags you pass change. Known behavior flags: ` + strings.Join(model.FlagNames(), ", ") + `.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		ctx := context.Background()

		body, err := wardenClient.GetAutomod(ctx, guildID)
		if err != nil {
			var apiErr *client.APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
				return fmt.Errorf("fetching automod config: %w", err)
			}
			body = &server.AutomodConfigBody{}
		}

		if cmd.Flags().Changed("enable") {
			names, _ := cmd.Flags().GetStringSlice("enable")
			for _, name := range names {
				if !hasFlag(body.Flags, name) {
					body.Flags = append(body.Flags, name)
				}
			}
		}
		if cmd.Flags().Changed("disable") {
			names, _ := cmd.Flags().GetStringSlice("disable")
			kept := body.Flags[:0]
			for _, f := range body.Flags {
				if !contains(names, f) {
					kept = append(kept, f)
				}
			}
			body.Flags = kept
		}
		if cmd.Flags().Changed("mention-count") {
			body.MentionCount, _ = cmd.Flags().GetInt("mention-count")
		}
		if cmd.Flags().Changed("broadcast-channel") {
			body.BroadcastChannel, _ = cmd.Flags().GetInt64("broadcast-channel")
		}
		if cmd.Flags().Changed("safe") {
			body.SafeEntities, _ = cmd.Flags().GetInt64Slice("safe")
		}
		if cmd.Flags().Changed("quarantine-channel") {
			body.QuarantineChannel, _ = cmd.Flags().GetInt64("quarantine-channel")
		}
		if cmd.Flags().Changed("quarantine-role") {
			body.QuarantineRole, _ = cmd.Flags().GetInt64("quarantine-role")
		}
		if cmd.Flags().Changed("quarantine-message") {
			body.QuarantineMessage, _ = cmd.Flags().GetString("quarantine-message")
		}
		if cmd.Flags().Changed("bypass") {
			body.Bypass, _ = cmd.Flags().GetString("bypass")
		}
		if cmd.Flags().Changed("join-rate") {
			body.JoinRate, _ = cmd.Flags().GetString("join-rate")
		}
		if cmd.Flags().Changed("lockdown-channels") {
			body.LockdownChannels, _ = cmd.Flags().GetInt64Slice("lockdown-channels")
		}

		updated, err := wardenClient.SetAutomod(ctx, guildID, body)
		if err != nil {
			return fmt.Errorf("updating automod config: %w", err)
		}
		if jsonOutput {
			return printJSON(updated)
		}
		printAutomod(cmd, updated)
		return nil
	},
}

func printAutomod(cmd *cobra.Command, cfg *server.AutomodConfigBody) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	flags := "none"
	if len(cfg.Flags) > 0 {
		flags = strings.Join(cfg.Flags, ",")
	}
	fmt.Fprintf(w, "flags\t%s\n", flags)
	fmt.Fprintf(w, "mention count\t%d\n", cfg.MentionCount)
	if cfg.BroadcastChannel != 0 {
		fmt.Fprintf(w, "broadcast channel\t%d\n", cfg.BroadcastChannel)
	}
	if len(cfg.SafeEntities) > 0 {
		fmt.Fprintf(w, "safe entities\t%v\n", cfg.SafeEntities)
	}
	if cfg.QuarantineChannel != 0 || cfg.QuarantineRole != 0 {
		fmt.Fprintf(w, "quarantine channel\t%d\n", cfg.QuarantineChannel)
		fmt.Fprintf(w, "quarantine role\t%d\n", cfg.QuarantineRole)
		fmt.Fprintf(w, "quarantine message\t%s\n", cfg.QuarantineMessage)
		fmt.Fprintf(w, "bypass\t%s\n", cfg.Bypass)
	}
	if cfg.JoinRate != "" {
		fmt.Fprintf(w, "join rate\t%s\n", cfg.JoinRate)
	}
	if len(cfg.LockdownChannels) > 0 {
		fmt.Fprintf(w, "lockdown channels\t%v\n", cfg.LockdownChannels)
	}
	w.Flush()
}

func hasFlag(flags []string, name string) bool {
	return contains(flags, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func init() {
	automodSetCmd.Flags().StringSlice("enable", nil, "behavior flags to enable")
	automodSetCmd.Flags().StringSlice("disable", nil, "behavior flags to disable")
	automodSetCmd.Flags().Int("mention-count", 0, "mention-spam threshold per message")
	automodSetCmd.Flags().Int64("broadcast-channel", 0, "channel for operator broadcasts")
	automodSetCmd.Flags().Int64Slice("safe", nil, "entity IDs exempt from automod")
	automodSetCmd.Flags().Int64("quarantine-channel", 0, "raid response: verification channel")
	automodSetCmd.Flags().Int64("quarantine-role", 0, "raid response: quarantine role")
	automodSetCmd.Flags().String("quarantine-message", "", "raid response: verification prompt")
	automodSetCmd.Flags().String("bypass", "", "raid response: action for unverified members (ban or kick)")
	automodSetCmd.Flags().String("join-rate", "", "join-rate threshold as N/DURATION")
	automodSetCmd.Flags().Int64Slice("lockdown-channels", nil, "channels locked on raid activation")

	automodCmd.AddCommand(automodShowCmd)
	automodCmd.AddCommand(automodSetCmd)
}
