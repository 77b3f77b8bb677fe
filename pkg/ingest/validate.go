package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// DefaultMaxResponseLength is the response length limit, in characters, when none is configured.
const DefaultMaxResponseLength = 4096

// Validate derives a report from examples alone. It never mutates its input and
// produces the same report for the same examples.
func Validate(examples []domain.Example, maxResponseLength int) domain.ValidationReport {
	report, _ := validate(context.Background(), examples, maxResponseLength, 0, nil)
	return report
}

// validate checks examples in batches so long runs can report progress and stop early.
func validate(ctx context.Context, examples []domain.Example, maxResponseLength, batch int, report func(done int)) (domain.ValidationReport, error) {
	b := newReportBuilder(maxResponseLength)
	for i, ex := range examples {
		if batch > 0 && i > 0 && i%batch == 0 {
			if err := ctx.Err(); err != nil {
				return b.report(), err
			}
			if report != nil {
				report(i)
			}
		}
		b.add(ex)
	}
	if report != nil {
		report(len(examples))
	}
	return b.report(), nil
}

// reportBuilder accumulates a report one example at a time, so a report can be
// derived while streaming without holding the examples.
type reportBuilder struct {
	maxResponseLength int
	out               domain.ValidationReport
}

func newReportBuilder(maxResponseLength int) *reportBuilder {
	if maxResponseLength <= 0 {
		maxResponseLength = DefaultMaxResponseLength
	}
	b := &reportBuilder{
		maxResponseLength: maxResponseLength,
		out: domain.ValidationReport{
			Failures:      []domain.ValidationFailure{},
			EmotionCounts: make(map[domain.Emotion]int, len(domain.Emotions())),
		},
	}
	for _, e := range domain.Emotions() {
		b.out.EmotionCounts[e] = 0
	}
	return b
}

// add checks the next example; its index is the number of examples added before it.
func (b *reportBuilder) add(ex domain.Example) {
	i := b.out.Total
	b.out.Total++
	failures := checkExample(i, ex, b.maxResponseLength)
	if len(failures) == 0 {
		b.out.Valid++
		if ex.Emotion != "" {
			b.out.EmotionCounts[ex.Emotion]++
		}
		return
	}
	b.out.Invalid++
	b.out.Failures = append(b.out.Failures, failures...)
}

func (b *reportBuilder) report() domain.ValidationReport {
	return b.out
}

// checkExample applies every rule in a fixed order.
func checkExample(i int, ex domain.Example, maxResponseLength int) []domain.ValidationFailure {
	var out []domain.ValidationFailure
	fail := func(kind domain.FailureKind, format string, args ...any) {
		out = append(out, domain.ValidationFailure{Index: i, Kind: kind, Reason: fmt.Sprintf(format, args...)})
	}

	if ex.ParseError != "" {
		fail(domain.FailureMalformed, "malformed record: %s", ex.ParseError)
		return out
	}
	if strings.TrimSpace(ex.Prompt) == "" {
		fail(domain.FailureMissingPrompt, "prompt is empty")
	}
	if strings.TrimSpace(ex.Response) == "" {
		fail(domain.FailureMissingResponse, "response is empty")
	}
	if ex.Emotion != "" && !ex.Emotion.Valid() {
		fail(domain.FailureInvalidEmotion, "emotion %q is not one of %v", ex.Emotion, domain.Emotions())
	}
	if ex.Intensity != nil && !domain.ValidIntensity(*ex.Intensity) {
		fail(domain.FailureInvalidIntensity, "intensity %d out of range [%d,%d]", *ex.Intensity, domain.MinIntensity, domain.MaxIntensity)
	}
	if n := utf8.RuneCountInString(ex.Response); n > maxResponseLength {
		fail(domain.FailureResponseTooLong, "response has %d characters, limit is %d", n, maxResponseLength)
	}
	return out
}
