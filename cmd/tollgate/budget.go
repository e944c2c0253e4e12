package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tollgate/pkg/models"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage organization budget policies",
	}

	var (
		actor           string
		orgID           string
		monthlyLimit    float64
		dailyUserLimit  int
		autoReload      bool
		reloadAmount    float64
		reloadThreshold float64
		modelLock       string
		ifVersion       int64
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update budget fields; unset flags are left unchanged",
		Example: `  tollgate budget set --actor olivia --org acme --monthly-limit 500 --model-lock claude-4-sonnet
  tollgate budget set --actor olivia --org acme --daily-user-limit 0   # clear the daily limit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch models.BudgetPatch
			if flags.Changed("monthly-limit") {
				patch.MonthlyLimit = &monthlyLimit
			}
			if flags.Changed("daily-user-limit") {
				patch.DailyUserLimit = &dailyUserLimit
			}
			if flags.Changed("auto-reload") {
				patch.AutoReload = &autoReload
			}
			if flags.Changed("reload-amount") {
				patch.ReloadAmount = &reloadAmount
			}
			if flags.Changed("reload-threshold") {
				patch.ReloadThreshold = &reloadThreshold
			}
			if flags.Changed("model-lock") {
				patch.ModelLock = &modelLock
			}
			var expected *int64
			if flags.Changed("if-version") {
				expected = &ifVersion
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service(nil).UpdateBudget(ctx, actor, orgID, patch, expected)
			if err != nil {
				return err
			}
			if !res.Changed {
				fmt.Fprintf(os.Stderr, "no change; settings version %d\n", res.Version)
			}
			return printJSON(os.Stdout, res)
		},
	}
	f := setCmd.Flags()
	f.StringVar(&actor, "actor", "", "owner performing the change (required)")
	f.StringVar(&orgID, "org", "", "organization id")
	f.Float64Var(&monthlyLimit, "monthly-limit", 0, "monthly spend limit in USD")
	f.IntVar(&dailyUserLimit, "daily-user-limit", 0, "queries per member per day, 0 clears")
	f.BoolVar(&autoReload, "auto-reload", false, "raise the limit automatically at the threshold")
	f.Float64Var(&reloadAmount, "reload-amount", 0, "amount added per reload in USD")
	f.Float64Var(&reloadThreshold, "reload-threshold", 0, "percent used that triggers a reload (0 means 100)")
	f.StringVar(&modelLock, "model-lock", "", "restrict the organization to one model, empty clears")
	f.Int64Var(&ifVersion, "if-version", 0, "fail unless settings are at this version")
	_ = setCmd.MarkFlagRequired("actor")

	cmd.AddCommand(setCmd)
	return cmd
}
