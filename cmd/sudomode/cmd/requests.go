package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	requestsStatus string
	requestsJSON   bool
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List approval requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		requests, err := client.ListRequests(cmd.Context(), requestsStatus)
		if err != nil {
			return err
		}

		if requestsJSON {
			return printJSON(cmd, requests)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tRESOURCE\tACTION\tCREATED\tREASON")
		for _, r := range requests {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Resource, r.Action, humanize.Time(r.CreatedAt), r.Reason)
		}
		return w.Flush()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		req, err := client.Approve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "request %s approved\n", req.ID)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		defer client.Close()

		req, err := client.Reject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "request %s rejected\n", req.ID)
		return nil
	},
}

func init() {
	requestsCmd.Flags().StringVar(&requestsStatus, "status", "", "only show requests in this status (PENDING, APPROVED, REJECTED)")
	requestsCmd.Flags().BoolVar(&requestsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(requestsCmd, approveCmd, rejectCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
