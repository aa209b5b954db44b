package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greencache-ai/greencache/pkg/models"
)

func newHistoryCmd() *cobra.Command {
	var (
		last   int
		search string
		exact  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show and search prompt history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openReports(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.history == nil {
				fmt.Println("Prompt history is disabled.")
				return nil
			}

			ctx := context.Background()
			var entries []models.HistoryEntry
			switch {
			case exact != "":
				entries, err = a.history.FindExact(ctx, exact)
			case search != "":
				entries, err = a.history.Search(ctx, search, last)
			default:
				entries, err = a.history.Last(ctx, last)
			}
			if err != nil {
				return err
			}
			fmt.Print(formatHistoryEntries(entries))
			return nil
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete history entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openReports(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if a.history == nil {
				fmt.Println("Prompt history is disabled.")
				return nil
			}

			n, err := a.history.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d entries older than %d days.\n", n, a.cfg.History.RetentionDays)
			return nil
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&search, "search", "", "only prompts containing this text")
	cmd.Flags().StringVar(&exact, "exact", "", "only prompts equal to this text")
	cmd.AddCommand(cleanupCmd)
	return cmd
}

func formatHistoryEntries(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No history entries found.\n"
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "#%d  %s  %s  %s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Outcome, e.Model)
		fmt.Fprintf(&b, "  Q: %s\n", truncate(strings.ReplaceAll(e.Prompt, "\n", " "), 120))
		if e.Response != "" {
			fmt.Fprintf(&b, "  A: %s\n", truncate(strings.ReplaceAll(e.Response, "\n", " "), 120))
		}
		if wh, ok := e.Metadata["energy_wh"]; ok {
			fmt.Fprintf(&b, "  energy: %s Wh, carbon: %s g\n", wh, e.Metadata["carbon_g"])
		}
		if msg := e.Metadata["error"]; msg != "" {
			fmt.Fprintf(&b, "  error: %s (%s)\n", msg, e.Metadata["reason"])
		}
	}
	return b.String()
}
