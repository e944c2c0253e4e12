package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOrgsCmd(configPath *string) *cobra.Command {
	var (
		period string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "Show usage across all organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.service(nil).Summary(ctx, period)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, sum)
			}
			if len(sum.Organizations) == 0 {
				fmt.Println("No organizations found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORG\tNAME\tQUERIES\tUSERS\tCOST")
			for _, o := range sum.Organizations {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\n", o.ID, o.Name, o.Queries, o.ActiveUsers, o.Cost)
			}
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t$%.4f\n", sum.Totals.Queries, sum.Totals.ActiveUsers, sum.Totals.Cost)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&period, "period", "p", "30d", "7d, 30d, 90d or all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
