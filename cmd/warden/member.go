package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/groblegark/warden/internal/ui"
	"github.com/spf13/cobra"
)

var memberCmd = &cobra.Command{
	Use:     "member",
	Short:   "Inspect and verify quarantined members",
	GroupID: "defense",
}

var memberStateCmd = &cobra.Command{
	Use:   "state <guild-id> <member-id>",
	Short: "Show a member's quarantine state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		memberID, err := parseID(args[1], "member-id")
		if err != nil {
			return err
		}
		member, err := wardenClient.MemberState(context.Background(), guildID, memberID)
		if err != nil {
			return fmt.Errorf("fetching member state: %w", err)
		}
		if jsonOutput {
			return printJSON(member)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "member\t%d\n", member.MemberID)
		fmt.Fprintf(w, "state\t%s\n", ui.RenderState(string(member.State), member.ApplyFailed))
		if member.VerifyBy != nil {
			fmt.Fprintf(w, "verify by\t%s\n", member.VerifyBy.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "since\t%s\n", member.CreatedAt.Format(time.RFC3339))
		return w.Flush()
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list <guild-id>",
	Short: "List all quarantined members in a guild",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		members, err := wardenClient.ListMembers(context.Background(), guildID)
		if err != nil {
			return fmt.Errorf("listing members: %w", err)
		}
		if jsonOutput {
			return printJSON(members)
		}
		if len(members) == 0 {
			fmt.Printf("guild %d: no quarantined members\n", guildID)
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MEMBER\tSTATE\tVERIFY BY\tSINCE")
		for _, m := range members {
			verifyBy := "-"
			if m.VerifyBy != nil {
				verifyBy = m.VerifyBy.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				m.MemberID, ui.RenderState(string(m.State), m.ApplyFailed), verifyBy,
				m.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var memberVerifyCmd = &cobra.Command{
	Use:   "verify <guild-id> <member-id>",
	Short: "Mark a member verified and queue their release",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		memberID, err := parseID(args[1], "member-id")
		if err != nil {
			return err
		}
		if err := wardenClient.VerifyMember(context.Background(), guildID, memberID); err != nil {
			return fmt.Errorf("verifying member: %w", err)
		}
		fmt.Printf("member %d verified; release queued\n", memberID)
		return nil
	},
}

func init() {
	memberCmd.AddCommand(memberStateCmd)
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberVerifyCmd)
}
