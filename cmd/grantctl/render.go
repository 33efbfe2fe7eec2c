package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-aggregator/internal/db"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/models"
	"github.com/david/grant-aggregator/internal/search"
)

const titleWidth = 60

func renderGrants(w io.Writer, grants []models.Grant) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Status", "Title", "Organization", "Amount", "Closes", "Region", "Source"})
	for _, g := range grants {
		t.AppendRow(table.Row{
			lifecycleStyle(g.Status).Render(string(g.Status)),
			ingest.TruncateText(g.Title, titleWidth),
			ingest.TruncateText(g.Organization, 30),
			formatAmount(g.Amount, g.Currency),
			formatDate(g.ClosingDate),
			g.Region,
			g.SourceID,
		})
	}
	t.Render()
}

func renderResponses(w io.Writer, responses []search.SourceResponse) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Source", "Priority", "Records", "Latency", "Cached", "Error"})
	for _, r := range responses {
		errText := ""
		if r.Failed() {
			errText = ErrorStyle.Render(ingest.TruncateText(r.Error, 50))
		}
		t.AppendRow(table.Row{r.SourceID, r.Priority, r.Count, r.Latency.Round(time.Millisecond), r.Cached, errText})
	}
	t.Render()
}

func renderSources(w io.Writer, sources []ingest.SourceDescriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Name", "Region", "Priority", "Enabled", "Health", "Failures", "Last Error"})
	for _, s := range sources {
		t.AppendRow(table.Row{
			s.ID,
			ingest.TruncateText(s.Name, 40),
			s.Region,
			s.Priority,
			s.Enabled,
			healthStyle(s.Health.Status).Render(string(s.Health.Status)),
			s.Health.ConsecutiveFailures,
			ingest.TruncateText(s.Health.LastError, 40),
		})
	}
	t.Render()
}

func renderRuns(w io.Writer, runs []db.SearchRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Started At", "Query", "Sources", "Errors", "Results", "Dupes", "Quality", "Duration"})
	for _, r := range runs {
		query := r.Query
		if query == "" {
			query = DimStyle.Render("(all)")
		}
		errs := strconv.Itoa(len(r.SourcesWithErrors))
		if r.Failed {
			errs = ErrorStyle.Render(errs)
		}
		t.AppendRow(table.Row{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			ingest.TruncateText(query, 40),
			len(r.SourcesUsed),
			errs,
			r.TotalResults,
			r.DuplicatesRemoved,
			fmt.Sprintf("%.1f", r.QualityScore),
			(time.Duration(r.ElapsedMS) * time.Millisecond).String(),
		})
	}
	t.Render()
}

func summaryLine(res *search.Result) string {
	return HeaderStyle.Render(fmt.Sprintf(
		"%d results (page %d) from %d/%d sources, %d duplicates removed, quality %.1f, %s",
		res.TotalResults, res.Page, len(res.SourcesUsed)-len(res.SourcesWithErrors), res.TotalSources,
		res.DuplicatesRemoved, res.Statistics.QualityScore, res.Elapsed.Round(time.Millisecond),
	))
}

// formatAmount prints whole units with dot thousands separators ("1.500.000 EUR").
func formatAmount(amount float64, currency string) string {
	if amount <= 0 {
		return "-"
	}
	digits := strconv.FormatFloat(amount, 'f', 0, 64)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if currency != "" {
		b.WriteString(" " + currency)
	}
	return b.String()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}
