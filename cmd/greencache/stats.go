package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/greencache-ai/greencache/pkg/server"
	"github.com/greencache-ai/greencache/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		days   int
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show energy and carbon by model and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.Newf("--days must be positive, got %d", days)
			}
			a, err := openReports(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()

			// Recent events view
			if recent > 0 {
				events, err := a.tracker.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Println("No events found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tOUTCOME\tMODEL\tENERGY WH\tCARBON G\tLATENCY MS\tCONFIDENCE\tQUERY")
				for _, e := range events {
					outcome := string(e.Outcome)
					if e.Error != "" {
						outcome = "failed:" + e.Reason
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%.4f\t%.1f\t%s\t%s\n",
						e.Timestamp.Format("2006-01-02T15:04:05"), outcome, e.Model,
						e.EnergyWh, e.CarbonG, e.LatencyMs, e.Confidence, truncate(e.Query, 40))
				}
				return w.Flush()
			}

			// Default: summary by model
			summaries, err := a.tracker.Summary(ctx, time.Now().UTC().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No query data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tOUTCOME\tQUERIES\tFAILED\tENERGY WH\tCARBON G\tAVG MS\tSAVED WH\tSAVED G")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.4f\t%.4f\t%.1f\t%.4f\t%.4f\n",
					s.Model, s.Outcome, s.Queries, s.Failures, s.EnergyWh, s.CarbonG, s.AvgLatencyMs, s.SavedWh, s.SavedCarbonG)
			}
			t := server.Totals(summaries)
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%.4f\t%.4f\t%.1f\t%.4f\t%.4f\n",
				t.Queries, t.Failures, t.EnergyWh, t.CarbonG, t.AvgLatencyMs, t.SavedWh, t.SavedCarbonG)
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "number of days to summarize")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent events instead of the summary")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		days   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export query events as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openReports(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "create export file")
				}
				defer func() { _ = f.Close() }()
				w = f
			}

			var since time.Time
			if days > 0 {
				since = time.Now().UTC().AddDate(0, 0, -days)
			}
			n, err := tracker.ExportCSV(context.Background(), a.tracker, w, since)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d events.\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "only export the last N days (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
