// Package cmd provides the CLI commands for sudomode.
package cmd

import (
	"fmt"
	"os"

	"github.com/dagbolade/sudomode/pkg/sudomode"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "sudomode",
	Short: "sudomode - human approval gate for agent actions",
	Long: `sudomode sits between an agent and the actions it wants to take.

Every action is checked against an ordered rule set. Actions are allowed,
denied, or parked until a human approves or rejects them.

Quick start:
  1. Write a rule file: policies.yaml
  2. Run: sudomode serve
  3. From another shell: sudomode check stripe.charge charge --args '{"amount": 5000}'

Configuration:
  Settings are read from the file given with --config and from the
  environment with the SUDOMODE_ prefix.
  Example: SUDOMODE_SERVER_PORT=9000`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, environment and defaults only)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", sudomode.DefaultBaseURL, "governor address used by client commands")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SUDOMODE_API_KEY"), "bearer token sent by client commands")
}

func newClient() *sudomode.Client {
	return sudomode.NewClient(
		sudomode.WithBaseURL(serverURL),
		sudomode.WithAPIKey(apiKey),
	)
}
