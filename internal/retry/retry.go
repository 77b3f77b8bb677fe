// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Multiplier grows the delay between tries; values below 1 mean 2.
	Multiplier float64
}

// DefaultPolicy is five attempts starting at 200ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Max <= 0 {
		p.Max = time.Minute
	}
	return p
}

// Delay returns the wait before try n+1, for n starting at 1.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Initial)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns an error retryable rejects, or attempts run out.
// It returns the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	p = p.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= p.Attempts || (retryable != nil && !retryable(err)) {
			return attempt, err
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
