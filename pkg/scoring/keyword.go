// Package scoring rates generated responses for empathy.
package scoring

import (
	"context"
	"strings"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

// DefaultKeywords are the phrases counted by the default Keyword scorer.
var DefaultKeywords = []string{"understand", "feel", "support", "hear", "sorry"}

// Keyword scores a response by the fraction of keywords it mentions.
// Matching is a case-insensitive substring search, so "feeling" counts for "feel".
type Keyword struct {
	keywords []string
}

var _ ports.Scorer = (*Keyword)(nil)

// NewKeyword creates a scorer over keywords, or DefaultKeywords when none are given.
func NewKeyword(keywords ...string) *Keyword {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	k := &Keyword{keywords: make([]string, 0, len(keywords))}
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			k.keywords = append(k.keywords, kw)
		}
	}
	return k
}

func (k *Keyword) Score(ctx context.Context, sample domain.Sample) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(k.keywords) == 0 {
		return 0, nil
	}
	response := strings.ToLower(sample.Response)
	hits := 0
	for _, kw := range k.keywords {
		if strings.Contains(response, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(k.keywords)), nil
}

// Mean scores every sample and returns the average. It stops at the first error.
// An empty sample set scores 0.
func Mean(ctx context.Context, scorer ports.Scorer, samples []domain.Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range samples {
		v, err := scorer.Score(ctx, s)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(samples)), nil
}
