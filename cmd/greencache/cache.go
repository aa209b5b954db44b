package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/greencache-ai/greencache/pkg/cache/sqlite"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the cache snapshot",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if a.store == nil {
				fmt.Println("Cache snapshots are disabled; live stats are served at GET /v1/cache.")
				return nil
			}
			stats := a.cache.Stats()
			fmt.Printf("Entries:    %d / %d\nThreshold:  %.2f\nDimensions: %d\nBaseline:   %.4f Wh per miss\n",
				stats.Entries, stats.Capacity, a.cache.Threshold(), a.cache.Dim(), stats.BaselineWh)
			return nil
		},
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entries, most hit first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			entries := a.cache.Snapshot()
			if len(entries) == 0 {
				fmt.Println("No cache entries found.")
				return nil
			}
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].Hits != entries[j].Hits {
					return entries[i].Hits > entries[j].Hits
				}
				return entries[i].ID < entries[j].ID
			})
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHITS\tMODEL\tENERGY WH\tLAST ACCESS\tQUERY")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%d\t%s\t%.4f\t%s\t%s\n",
					e.ID, e.Hits, e.Model, e.EnergyWh, e.LastAccess.Format("2006-01-02T15:04:05"), truncate(e.Query, 60))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "max entries to list")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all entries from the cache snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := sqlite.New(cfg.SnapshotPath())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := context.Background()
			n, err := st.Count(ctx)
			if err != nil {
				return err
			}
			if err := st.Clear(ctx); err != nil {
				return err
			}
			fmt.Printf("Cleared %d cache entries.\n", n)
			return nil
		},
	}

	cmd.AddCommand(statsCmd, listCmd, clearCmd)
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
