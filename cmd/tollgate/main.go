package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "tollgate",
		Short:         "Tollgate: tiered model access and usage-cost metering",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tollgate.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newModelsCmd(&configPath),
		newReportCmd(&configPath),
		newOrgsCmd(&configPath),
		newBudgetCmd(&configPath),
		newReloadCmd(&configPath),
		newMCPCmd(&configPath),
		newSeedCmd(&configPath),
		newAuditCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
