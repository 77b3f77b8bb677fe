package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// maxListedFailures keeps reports of large broken files readable.
const maxListedFailures = 50

// ReportMarkdown summarizes a validation report as markdown.
func ReportMarkdown(meta domain.DatasetMeta, r domain.ValidationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dataset %s (revision %d)\n\n", meta.Name, meta.Revision)
	fmt.Fprintf(&b, "**%d** examples, **%d** valid, **%d** invalid.\n\n", r.Total, r.Valid, r.Invalid)

	if len(r.EmotionCounts) > 0 {
		b.WriteString("## Emotions\n\n| emotion | examples |\n|---|---|\n")
		for _, e := range domain.Emotions() {
			if n := r.EmotionCounts[e]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", e, n)
			}
		}
		b.WriteString("\n")
	}

	if len(r.Failures) > 0 {
		b.WriteString("## Failures\n\n| row | rule | reason |\n|---|---|---|\n")
		for i, f := range r.Failures {
			if i == maxListedFailures {
				fmt.Fprintf(&b, "\n_%d more not shown._\n", len(r.Failures)-i)
				break
			}
			fmt.Fprintf(&b, "| %d | %s | %s |\n", f.Index+1, f.Kind, escapeCell(f.Reason))
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

// HistoryMarkdown lists history entries, newest last.
func HistoryMarkdown(projectName string, entries []domain.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# History of %s\n\n", projectName)
	if len(entries) == 0 {
		b.WriteString("No finished jobs.\n")
		return b.String()
	}
	b.WriteString("| job | state | rev | dataset | duration | final loss | empathy | error |\n|---|---|---|---|---|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %d | %s@%d | %s | %s | %s | %s |\n",
			short(e.JobID), e.State, e.ConfigRevision, short(e.Dataset.ID), e.Dataset.Revision,
			e.Duration().Round(time.Millisecond), metric(e.FinalMetrics, "final_loss"), metric(e.Summary, "empathy_score"),
			escapeCell(e.Error))
	}
	return b.String()
}

func metric(m map[string]float64, key string) string {
	v, ok := m[key]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
