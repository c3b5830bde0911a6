package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/groblegark/warden/internal/ui"
	"github.com/spf13/cobra"
)

var diagsCmd = &cobra.Command{
	Use:     "diags <guild-id>",
	Short:   "List recent engine diagnostics for a guild",
	GroupID: "policy",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guildID, err := parseID(args[0], "guild-id")
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		diags, err := wardenClient.ListDiagnostics(context.Background(), guildID, limit)
		if err != nil {
			return fmt.Errorf("listing diagnostics: %w", err)
		}
		if jsonOutput {
			return printJSON(diags)
		}
		if len(diags) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("no diagnostics recorded"))
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tKIND\tSUBJECT\tDETAIL")
		for _, d := range diags {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.CreatedAt.Format("2006-01-02 15:04:05"),
				ui.RenderAccent(string(d.Kind)),
				d.Subject,
				d.Detail)
		}
		return w.Flush()
	},
}

func init() {
	diagsCmd.Flags().Int("limit", 50, "maximum diagnostics to return")
}
