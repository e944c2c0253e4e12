package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd(configPath *string) *cobra.Command {
	var (
		actor  string
		orgID  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models a member may use",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.service(nil).Models(ctx, actor, orgID)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, v)
			}

			fmt.Printf("Organization %s, tier %d (%s), default %s\n", v.OrganizationID, v.Tier, v.TierLabel, v.DefaultModel)
			if v.ModelLock != "" {
				fmt.Printf("Locked to %s\n", v.ModelLock)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tNAME\tPROVIDER\tCOST\tRATES\tACCESS")
			for _, m := range v.Allowed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\tallowed\n", m.ID, m.Name, m.Provider, m.CostTier, m.Rates)
			}
			for _, m := range v.Restricted {
				fmt.Fprintf(w, "%s\t%s\t\t%s\t\ttier %d+\n", m.ID, m.Name, m.CostTier, m.RequiredTier)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "member id (required)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
