package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/greencache-ai/greencache/pkg/models"
)

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatEvent formats a single handled query.
func formatEvent(ev models.QueryEvent) string {
	var b strings.Builder
	if ev.Failed() {
		fmt.Fprintf(&b, "Query failed (%s): %s\n", ev.Reason, ev.Error)
	} else {
		b.WriteString(ev.Answer + "\n\n")
	}
	fmt.Fprintf(&b, "Outcome:    %s", ev.Outcome)
	if ev.Outcome == models.OutcomeHit {
		fmt.Fprintf(&b, " (entry %d, similarity %.3f)", ev.EntryID, ev.Similarity)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Model:      %s\n", ev.Model)
	fmt.Fprintf(&b, "Latency:    %.1f ms\n", ev.LatencyMs)
	fmt.Fprintf(&b, "Energy:     %.4f Wh (%s)\n", ev.Energy.EnergyWh, ev.Energy.Confidence)
	fmt.Fprintf(&b, "Carbon:     %.4f g CO2\n", ev.Energy.CarbonG)
	if ev.SavedWh > 0 {
		fmt.Fprintf(&b, "Saved:      %.4f Wh, %.4f g CO2\n", ev.SavedWh, ev.SavedCarbonG)
	}
	return b.String()
}

// formatComparison formats a cached vs uncached run.
func formatComparison(c models.Comparison) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-6s %12s %12s %12s\n", "Path", "Result", "Latency ms", "Energy Wh", "Carbon g")
	b.WriteString(strings.Repeat("-", 56) + "\n")
	for _, row := range []struct {
		name string
		ev   models.QueryEvent
	}{{"cached", c.Cached}, {"uncached", c.Uncached}} {
		fmt.Fprintf(&b, "%-10s %-6s %12.1f %12.4f %12.4f\n",
			row.name, row.ev.Outcome, row.ev.LatencyMs, row.ev.Energy.EnergyWh, row.ev.Energy.CarbonG)
	}
	s := c.Savings
	fmt.Fprintf(&b, "\nSaved %.4f Wh (%.1f%%), %.1f ms, %.4f g CO2\n",
		s.EnergySavedWh, s.PercentSaved, s.TimeSavedMs, s.CarbonSavedG)
	fmt.Fprintf(&b, "Equivalent to %.4f tree-days, %.4f km driven, %.2f phone charges\n",
		s.Equivalents.TreeDays, s.Equivalents.CarKm, s.Equivalents.PhoneCharges)
	return b.String()
}

// formatCacheStats formats cache stats and the most hit entries as text.
func formatCacheStats(stats models.CacheStats, entries []models.EntrySummary, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache Statistics\n"+
		"  Entries:   %d / %d\n"+
		"  Hits:      %d\n"+
		"  Misses:    %d\n"+
		"  Evictions: %d\n"+
		"  Hit Rate:  %.1f%%\n"+
		"  Baseline:  %.4f Wh per miss\n",
		stats.Entries, stats.Capacity, stats.Hits, stats.Misses, stats.Evictions,
		stats.HitRate()*100, stats.BaselineWh)

	if len(entries) == 0 || limit <= 0 {
		return b.String()
	}
	sorted := append([]models.EntrySummary(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Hits != sorted[j].Hits {
			return sorted[i].Hits > sorted[j].Hits
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	fmt.Fprintf(&b, "\n%6s %6s %-15s %10s  %s\n", "ID", "Hits", "Model", "Energy Wh", "Query")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, e := range sorted {
		fmt.Fprintf(&b, "%6d %6d %-15s %10.4f  %s\n", e.ID, e.Hits, truncate(e.Model, 15), e.EnergyWh, truncate(e.Query, 40))
	}
	return b.String()
}

// formatSummary formats energy summaries as a text table.
func formatSummary(rows []models.EnergySummary) string {
	if len(rows) == 0 {
		return "No query data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-7s %8s %8s %12s %12s %12s %12s\n",
		"Model", "Outcome", "Queries", "Failed", "Energy Wh", "Carbon g", "Avg ms", "Saved Wh")
	b.WriteString(strings.Repeat("-", 98) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %-7s %8d %8d %12.4f %12.4f %12.1f %12.4f\n",
			truncate(r.Model, 20), r.Outcome, r.Queries, r.Failures, r.EnergyWh, r.CarbonG, r.AvgLatencyMs, r.SavedWh)
	}
	return b.String()
}

// formatEvents formats recent events as a text table.
func formatEvents(events []models.EventRecord) string {
	if len(events) == 0 {
		return "No events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-7s %-15s %10s %10s %-11s  %s\n",
		"Time", "Outcome", "Model", "Energy Wh", "Latency ms", "Confidence", "Query")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, e := range events {
		outcome := string(e.Outcome)
		if e.Error != "" {
			outcome = "failed"
		}
		fmt.Fprintf(&b, "%-20s %-7s %-15s %10.4f %10.1f %-11s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), outcome, truncate(e.Model, 15),
			e.EnergyWh, e.LatencyMs, e.Confidence, truncate(e.Query, 40))
	}
	return b.String()
}

// formatHistory formats history entries.
func formatHistory(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No matching prompts found."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s via %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Outcome, e.Model)
		fmt.Fprintf(&b, "  Q: %s\n", truncate(e.Prompt, 200))
		if e.Response != "" {
			fmt.Fprintf(&b, "  A: %s\n", truncate(e.Response, 200))
		}
		if errMsg := e.Metadata["error"]; errMsg != "" {
			fmt.Fprintf(&b, "  error: %s\n", errMsg)
		}
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-8s %12s %12s %12s %6s\n",
		"Model", "Period", "Max g", "Used g", "Remaining g", "Usage%")
	b.WriteString(strings.Repeat("-", 75) + "\n")
	for _, s := range statuses {
		model := s.Policy.Model
		if model == "" {
			model = "*"
		}
		pct := float64(0)
		if s.Policy.MaxCarbonG > 0 {
			pct = s.UsedG / s.Policy.MaxCarbonG * 100
		}
		fmt.Fprintf(&b, "%-20s %-8s %12.2f %12.2f %12.2f %5.1f%%\n",
			truncate(model, 20), s.Policy.Period, s.Policy.MaxCarbonG, s.UsedG, s.RemainingG, pct)
	}
	return b.String()
}
