package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tollgate/pkg/audit"
)

func newAuditCmd(configPath *string) *cobra.Command {
	var (
		orgID  string
		action string
		since  string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Search recorded budget changes and auto-reloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := audit.Query{OrganizationID: orgID, Action: action, Limit: limit}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.service(nil).AuditLog(ctx, q)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tORG\tACTION\tACTOR\tDETAILS")
			for _, e := range entries {
				actor := e.ActorID
				if actor == "" {
					actor = "-"
				}
				details, _ := json.Marshal(e.Details)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02T15:04:05"), e.OrganizationID, e.Action, actor, details)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "filter by organization")
	cmd.Flags().StringVar(&action, "action", "", "budget_updated or budget_reloaded")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
