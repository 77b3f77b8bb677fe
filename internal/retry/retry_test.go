package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/internal/retry"
	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	n, err := retry.Do(context.Background(), retry.Policy{Attempts: 5, Initial: time.Millisecond}, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDo_StopsAfterAttempts(t *testing.T) {
	n, err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Initial: time.Millisecond}, nil, func(context.Context) error {
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, n)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	n, err := retry.Do(context.Background(), retry.Policy{Attempts: 5, Initial: time.Millisecond},
		func(error) bool { return false },
		func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, n)
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := retry.Do(ctx, retry.Policy{Attempts: 5, Initial: time.Hour}, nil, func(context.Context) error {
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, n)
}

func TestPolicy_DelayIsCapped(t *testing.T) {
	p := retry.Policy{Attempts: 10, Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(8))
}
