package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"linkcheck/internal/coordinator"
	"linkcheck/internal/models"
)

// renderStats prints pass statistics as a table, one row per status.
func renderStats(w io.Writer, stats *coordinator.Statistics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Status", "Links", "Share"})
	for _, st := range models.AllStatuses {
		t.AppendRow(table.Row{st.String(), stats.Count(st), fmt.Sprintf("%.1f%%", stats.Percent(st))})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"checked", stats.CountChecked(), ""})
	t.AppendRow(table.Row{"total", stats.Total, ""})
	t.AppendFooter(table.Row{
		fmt.Sprintf("pages %d", stats.PagesChecked),
		fmt.Sprintf("new broken %d, skipped %d, removed %d", stats.NewBroken, stats.Skipped, stats.Removed),
		stats.Duration().Round(time.Millisecond).String(),
	})
	t.Render()
}

// renderRules prints exclusion rules as a table.
func renderRules(w io.Writer, rules []models.ExclusionRule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No exclusion rules")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Match", "Link type", "Target", "Scope", "Reason"})
	for _, r := range rules {
		t.AppendRow(table.Row{r.ID, r.MatchType, r.LinkType, r.Target, r.ScopePageID, r.Reason})
	}
	t.Render()
}

// renderResult prints the outcome of a single re-check.
func renderResult(w io.Writer, url string, rec *models.ResponseRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendRow(table.Row{"URL", url})
	t.AppendRow(table.Row{"Status", rec.Status.String()})
	if msg := rec.Message(); msg != "" {
		t.AppendRow(table.Row{"Message", msg})
	}
	if rec.CannotCheckReason != "" {
		t.AppendRow(table.Row{"Reason", rec.CannotCheckReason})
	}
	for _, r := range rec.Redirects {
		t.AppendRow(table.Row{"Redirect", r.From + " -> " + r.To})
	}
	t.Render()
}
