package main

import (
	"os"

	"github.com/groblegark/warden/internal/client"
	"github.com/groblegark/warden/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool

	wardenClient client.WardenClient
)

func defaultServerURL() string {
	if s := os.Getenv("WARDEN_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultAuthToken() string {
	if s := os.Getenv("WARDEN_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:   "warden <command>",
	Short: "Guild defense engine: raid detection, quarantine, lockdown",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		wardenClient = client.NewHTTPClient(serverURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if wardenClient != nil {
			wardenClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "warden server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultAuthToken(), "bearer token for the server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "defense", Title: "Defense:"},
		&cobra.Group{ID: "policy", Title: "Policy:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Defense
	rootCmd.AddCommand(gatekeeperCmd)
	rootCmd.AddCommand(lockdownCmd)
	rootCmd.AddCommand(memberCmd)

	// Policy
	rootCmd.AddCommand(automodCmd)
	rootCmd.AddCommand(diagsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
