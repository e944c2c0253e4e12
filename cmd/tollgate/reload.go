package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newReloadCmd(configPath *string) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Apply an organization's auto-reload policy if it is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service(nil).Reload(ctx, orgID)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
