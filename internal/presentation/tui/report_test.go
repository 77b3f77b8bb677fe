package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestReportMarkdown(t *testing.T) {
	meta := domain.DatasetMeta{Name: "support", Revision: 2}
	r := domain.ValidationReport{
		Total: 3, Valid: 2, Invalid: 1,
		Failures:      []domain.ValidationFailure{{Index: 1, Kind: domain.FailureInvalidIntensity, Reason: "intensity 7 out of range [1,5]"}},
		EmotionCounts: map[domain.Emotion]int{domain.EmotionJoy: 1, domain.EmotionFear: 1},
	}

	md := ReportMarkdown(meta, r)
	assert.Contains(t, md, "# Dataset support (revision 2)")
	assert.Contains(t, md, "**3** examples, **2** valid, **1** invalid.")
	assert.Contains(t, md, "| 2 | invalid_intensity | intensity 7 out of range [1,5] |")
	assert.Less(t, strings.Index(md, "| joy |"), strings.Index(md, "| fear |"), "emotions follow display order")
}

func TestReportMarkdown_TruncatesFailures(t *testing.T) {
	r := domain.ValidationReport{Total: 60, Invalid: 60}
	for i := range 60 {
		r.Failures = append(r.Failures, domain.ValidationFailure{Index: i, Kind: domain.FailureMissingPrompt, Reason: "prompt is empty"})
	}
	md := ReportMarkdown(domain.DatasetMeta{Name: "x", Revision: 1}, r)
	assert.Equal(t, maxListedFailures, strings.Count(md, "missing_prompt"))
	assert.Contains(t, md, "10 more not shown")
}

func TestHistoryMarkdown(t *testing.T) {
	assert.Contains(t, HistoryMarkdown("bot", nil), "No finished jobs.")

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	md := HistoryMarkdown("bot", []domain.HistoryEntry{{
		JobID:          "0123456789abcdef",
		State:          domain.JobFailed,
		ConfigRevision: 3,
		Dataset:        domain.DatasetRef{ID: "fedcba9876543210", Revision: 1},
		StartedAt:      start,
		EndedAt:        start.Add(90 * time.Second),
		FinalMetrics:   map[string]float64{"final_loss": 1.25},
		Error:          "boom | bad",
	}})
	assert.Contains(t, md, "| 01234567 | failed | 3 | fedcba98@1 | 1m30s | 1.2500 | - | boom \\| bad |")
}

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	assert.False(t, p.Styled())
	assert.Equal(t, "running", p.State(domain.JobRunning))

	p.Markdown("# title")
	assert.Equal(t, "# title\n", buf.String())
}
