package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tollgate/pkg/metering"
)

func newReportCmd(configPath *string) *cobra.Command {
	var (
		actor  string
		orgID  string
		period string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show an organization's usage and cost report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.service(nil).Report(ctx, actor, orgID, period)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, rep)
			}
			printReport(rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "member id (required)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVarP(&period, "period", "p", "30d", "7d, 30d, 90d or all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func printReport(r *metering.Report) {
	t := r.Totals
	fmt.Printf("%s (%s), period %s, data %s\n", r.Organization.Name, r.Organization.ID, r.Period, r.DataState)
	fmt.Printf("Queries %d (%d estimated)  Tokens %d in / %d out  Cost $%.4f  Projected $%.2f/mo  Users %d/%d\n",
		t.Queries, t.EstimatedQueries, t.InputTokens, t.OutputTokens, t.Cost, t.ProjectedMonthly, t.ActiveUsers, t.TotalUsers)
	if r.Approximate {
		fmt.Println("Totals are approximate: the scan reached meter.max_events.")
	}
	if b := r.Budget; b != nil {
		fmt.Printf("Budget $%.2f of $%.2f (%.1f%%, %s), remaining $%.2f\n", b.Spent, b.MonthlyLimit, b.PctUsed, b.Status, b.Remaining)
	}
	printRows("MODEL", r.ByModel)
	printRows("DAY", r.ByDay)
	printRows("MEMBER", r.ByActor)
}

func printRows(label string, rows []metering.UsageRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tQUERIES\tINPUT\tOUTPUT\tCOST\n", label)
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n", r.Key, r.Queries, r.InputTokens, r.OutputTokens, r.Cost)
	}
	_ = w.Flush()
}
