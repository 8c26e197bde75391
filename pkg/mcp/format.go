package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/stagegate/pkg/models"
)

// formatDecision formats a routing decision as text.
func formatDecision(d models.RoutingDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s\n", d.Decision)
	fmt.Fprintf(&b, "  Band:      %s (score %d)\n", d.Band, d.ComplexityScore)
	fmt.Fprintf(&b, "  Reason:    %s\n", d.Reason)
	fmt.Fprintf(&b, "  Tokens:    %s estimated, %s budget\n",
		humanize.Comma(d.EstimatedTokens), humanize.Comma(d.TokenBudget))
	if d.RecommendedPattern != "" {
		fmt.Fprintf(&b, "  Pattern:   %s\n", d.RecommendedPattern)
	}
	if d.ApprovalRate != nil {
		fmt.Fprintf(&b, "  Approval:  %.2f\n", *d.ApprovalRate)
	}
	fmt.Fprintf(&b, "  ID:        %s\n", d.ID)
	return b.String()
}

// formatApprovalRates formats approval rates in band order.
func formatApprovalRates(bands []models.Band, rates map[models.Band]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %8s\n", "Band", "Rate")
	b.WriteString(strings.Repeat("-", 23) + "\n")
	for _, band := range bands {
		fmt.Fprintf(&b, "%-14s %8.2f\n", band, rates[band])
	}
	return b.String()
}

// formatEvents formats metrics events as a text table.
func formatEvents(events []models.Event) string {
	if len(events) == 0 {
		return "No decisions found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-14s %-13s %6s %10s  %s\n",
		"Time", "Band", "Decision", "Score", "Tokens", "Reason")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-14s %-13s %6d %10s  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Band, e.Decision, e.ComplexityScore,
			humanize.Comma(e.EstimatedTokens), e.Reason)
	}
	return b.String()
}

// formatBudgetStatus formats budget statuses as a text table.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-8s %12s %12s %12s %6s\n",
		"Band", "Period", "Max Tokens", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 69) + "\n")
	for _, s := range statuses {
		band := string(s.Policy.Band)
		if band == "" {
			band = "*"
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-14s %-8s %12s %12s %12s %5.1f%%\n",
			band, s.Policy.Period,
			humanize.Comma(s.Policy.MaxTokens), humanize.Comma(s.Used), humanize.Comma(s.Remaining), pct)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Exact entries:     %d\n"+
		"  Semantic entries:  %d\n"+
		"  Total accesses:    %d\n"+
		"  Avg per entry:     %.2f\n"+
		"  Hits:              %d\n"+
		"  Misses:            %d\n"+
		"  Hit Rate:          %.1f%%\n",
		stats.ExactEntries, stats.SemanticEntries, stats.TotalAccessCount,
		stats.AvgAccessesPerEntry, stats.Hits, stats.Misses, hitRate)
}

// formatCleanup reports what a cleanup removed.
func formatCleanup(mode models.CleanupMode, res models.CleanupResult) string {
	return fmt.Sprintf("Cleanup (%s) removed %d entries: %d exact, %d semantic.\n",
		mode, res.Total(), res.Exact, res.Semantic)
}
