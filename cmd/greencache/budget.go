package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show carbon budgets and usage",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show carbon budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openReports(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.enforcer == nil {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			statuses, err := a.enforcer.Status(context.Background())
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPERIOD\tMAX G\tUSED G\tREMAINING G")
			for _, s := range statuses {
				model := s.Policy.Model
				if model == "" {
					model = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\n",
					model, s.Policy.Period, s.Policy.MaxCarbonG, s.UsedG, s.RemainingG)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(statusCmd)
	return cmd
}
