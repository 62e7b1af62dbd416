// Package report renders stored analytics snapshots as markdown, HTML and
// spreadsheets.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
	"github.com/TobiSchelling/interviewstats/internal/database"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Data is everything a report is built from.
type Data struct {
	Period      string
	Global      *analytics.GlobalAnalytics
	Interviews  []analytics.InterviewAnalytics
	Stale       bool
	AgeSeconds  float64
	GeneratedAt time.Time
}

// Markdown renders the report body.
func Markdown(d Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Interview analytics: %s\n\n", database.FormatPeriodDisplay(d.Period))
	if !d.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "_Generated %s_\n\n", d.GeneratedAt.UTC().Format(time.RFC3339))
	}
	if d.Stale {
		b.WriteString(stalenessNote(d))
	}

	b.WriteString(globalSection(d.Global))
	b.WriteString("\n")
	b.WriteString(interviewSection(d.Interviews))
	return b.String()
}

// HTML renders the markdown report to an HTML fragment.
func HTML(d Data) (string, error) {
	return RenderMarkdown(Markdown(d))
}

// RenderMarkdown converts markdown text to HTML.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func stalenessNote(d Data) string {
	if d.Global == nil {
		return "> **Stale:** no global snapshot has been published yet.\n\n"
	}
	return fmt.Sprintf("> **Stale:** recomputes are pending. Global snapshot is %s old (last updated %s).\n\n",
		formatAge(d.AgeSeconds), d.Global.LastUpdated.UTC().Format(time.RFC3339))
}

func globalSection(g *analytics.GlobalAnalytics) string {
	if g == nil {
		return "## Overall\n\nNo analytics available yet.\n"
	}
	var b strings.Builder
	b.WriteString("## Overall\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	row := func(name, value string) { fmt.Fprintf(&b, "| %s | %s |\n", name, value) }
	row("Interviews", fmt.Sprint(g.TotalInterviews))
	row("Questions", fmt.Sprint(g.TotalQuestions))
	row("Answered", fmt.Sprintf("%d (%s)", g.TotalAnswered, pct(g.GlobalAnsweredPercent)))
	row("Unanswered", fmt.Sprintf("%d (%s)", g.TotalUnanswered, pct(g.GlobalUnansweredPercent)))
	row("With reason", fmt.Sprint(g.TotalWithReason))
	row("Average accuracy", num(g.GlobalAverageAccuracy))
	row("Answered accuracy", num(g.GlobalAnsweredAccuracy))
	row("Confidence high / medium / low", fmt.Sprintf("%d / %d / %d",
		g.TotalHighConfidence, g.TotalMediumConfidence, g.TotalLowConfidence))
	if g.HasBest() {
		row("Best interview", fmt.Sprintf("#%d (%s)", g.BestInterviewID, num(g.BestInterviewScore)))
		row("Worst interview", fmt.Sprintf("#%d (%s)", g.WorstInterviewID, num(g.WorstInterviewScore)))
	} else {
		row("Best interview", "n/a")
		row("Worst interview", "n/a")
	}
	return b.String()
}

func interviewSection(items []analytics.InterviewAnalytics) string {
	var b strings.Builder
	b.WriteString("## Interviews\n\n")
	if len(items) == 0 {
		b.WriteString("No interviews match.\n")
		return b.String()
	}
	b.WriteString("| Interview | Questions | Answered | Avg accuracy | Answered accuracy | High | Medium | Low |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, a := range items {
		fmt.Fprintf(&b, "| #%d | %d | %s | %s | %s | %d | %d | %d |\n",
			a.InterviewID, a.TotalQuestions, pct(a.AnsweredPercentage),
			num(a.AverageAccuracy), num(a.AverageAnsweredAccuracy),
			a.HighConfidenceQuestions, a.MediumConfidenceQuestions, a.LowConfidenceQuestions)
	}
	return b.String()
}

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v) }

func num(v float64) string { return fmt.Sprintf("%.2f", v) }

func formatAge(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}
