package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/greencache-ai/greencache/pkg/models"
)

func newAskCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question through the semantic cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ev := a.router.Handle(ctx, strings.Join(args, " "), model)
			if ev.Failed() {
				return errors.Newf("query failed (%s): %s", ev.Reason, ev.Error)
			}
			fmt.Println(ev.Answer)
			fmt.Fprintln(os.Stderr)
			printEvent(ev)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use on a cache miss")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "compare [question]",
		Short: "Run a question cached and uncached and report what the cache saved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cmp, err := a.router.Compare(ctx, strings.Join(args, " "), model)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tOUTCOME\tLATENCY MS\tENERGY WH\tCARBON G\tCONFIDENCE")
			for _, row := range []struct {
				name string
				ev   models.QueryEvent
			}{{"cached", cmp.Cached}, {"uncached", cmp.Uncached}} {
				fmt.Fprintf(w, "%s\t%s\t%.1f\t%.4f\t%.4f\t%s\n",
					row.name, row.ev.Outcome, row.ev.LatencyMs, row.ev.Energy.EnergyWh, row.ev.Energy.CarbonG, row.ev.Energy.Confidence)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			s := cmp.Savings
			fmt.Printf("\nSaved %.4f Wh (%.1f%%), %.1f ms, %.4f g CO2\n",
				s.EnergySavedWh, s.PercentSaved, s.TimeSavedMs, s.CarbonSavedG)
			fmt.Printf("Equivalent to %.4f tree-days, %.4f km driven, %.2f phone charges\n",
				s.Equivalents.TreeDays, s.Equivalents.CarKm, s.Equivalents.PhoneCharges)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use")
	return cmd
}

// printEvent writes the accounting for ev to stderr so stdout carries only the answer.
func printEvent(ev models.QueryEvent) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	outcome := string(ev.Outcome)
	if ev.Outcome == models.OutcomeHit {
		outcome = fmt.Sprintf("hit (entry %d, similarity %.3f)", ev.EntryID, ev.Similarity)
	}
	if ev.Shared {
		outcome += " (shared)"
	}
	fmt.Fprintf(w, "outcome:\t%s\n", outcome)
	fmt.Fprintf(w, "model:\t%s\n", ev.Model)
	fmt.Fprintf(w, "latency:\t%.1f ms\n", ev.LatencyMs)
	fmt.Fprintf(w, "energy:\t%.4f Wh (%s, %.1f W)\n", ev.Energy.EnergyWh, ev.Energy.Confidence, ev.Energy.Watts)
	fmt.Fprintf(w, "carbon:\t%.4f g CO2\n", ev.Energy.CarbonG)
	if ev.SavedWh > 0 {
		fmt.Fprintf(w, "saved:\t%.4f Wh, %.4f g CO2\n", ev.SavedWh, ev.SavedCarbonG)
	}
	_ = w.Flush()
}
