package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "greencache",
		Short:         "Greencache: semantic response cache with energy and carbon accounting",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "greencache.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newCompareCmd(),
		newCacheCmd(),
		newStatsCmd(),
		newExportCmd(),
		newHistoryCmd(),
		newModelsCmd(),
		newMCPCmd(),
		newBudgetCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
