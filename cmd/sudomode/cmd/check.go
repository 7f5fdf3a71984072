package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dagbolade/sudomode/pkg/sudomode"
	"github.com/spf13/cobra"
)

var (
	checkArgs    string
	checkWait    bool
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check <resource> <action>",
	Short: "Ask the governor whether an action may run",
	Long: `Ask the governor whether an action may run.

Without --wait the decision is printed as returned. With --wait a
REQUIRE_APPROVAL decision is followed by polling until a human resolves it.

Example:
  sudomode check stripe.charge charge --args '{"amount": 5000}' --wait`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var actionArgs map[string]any
		if checkArgs != "" {
			if err := json.Unmarshal([]byte(checkArgs), &actionArgs); err != nil {
				return fmt.Errorf("parse --args: %w", err)
			}
		}

		ctx := cmd.Context()
		if checkTimeout > 0 {
			var cancel func()
			ctx, cancel = contextWithTimeout(ctx, checkTimeout)
			defer cancel()
		}

		client := newClient()
		defer client.Close()

		if !checkWait {
			decision, err := client.Check(ctx, args[0], args[1], actionArgs)
			if err != nil {
				return err
			}
			return printJSON(cmd, decision)
		}

		err := client.Execute(ctx, args[0], args[1], actionArgs)
		switch {
		case err == nil:
			fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			return nil
		case errors.Is(err, sudomode.ErrDenied), errors.Is(err, sudomode.ErrRejected):
			fmt.Fprintln(cmd.OutOrStdout(), err)
			return err
		default:
			return fmt.Errorf("governor unavailable: %w", err)
		}
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkArgs, "args", "", "action arguments as a JSON object")
	checkCmd.Flags().BoolVar(&checkWait, "wait", false, "wait for a human decision when approval is required")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	rootCmd.AddCommand(checkCmd)
}
