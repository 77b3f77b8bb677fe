package redis_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/empathyfine/pkg/adapters/redis"
	"github.com/aretw0/empathyfine/pkg/domain"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSink(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *redis.CheckpointSink) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	sink := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = sink.Close() })
	return mr, sink
}

func TestCheckpointSink_SaveLoad(t *testing.T) {
	_, sink := newSink(t)
	ctx := context.Background()

	cp := domain.Checkpoint{
		JobID:     "job-1",
		ProjectID: "proj",
		State:     domain.JobRunning,
		LastPoint: domain.MetricPoint{Seq: 12, Epoch: 1, Step: 12, Loss: 1.9},
		SavedAt:   time.Now().UTC(),
	}
	require.NoError(t, sink.SaveCheckpoint(ctx, cp))

	got, err := sink.LoadCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.LastPoint.Seq)
	assert.InDelta(t, 1.9, got.LastPoint.Loss, 1e-9)

	jobs, err := sink.Jobs(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, jobs)

	require.NoError(t, sink.Delete(ctx, "proj", "job-1"))
	_, err = sink.LoadCheckpoint(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckpointSink_NonFiniteLoss(t *testing.T) {
	_, sink := newSink(t)
	ctx := context.Background()

	require.NoError(t, sink.SaveCheckpoint(ctx, domain.Checkpoint{
		JobID:     "job-nan",
		ProjectID: "proj",
		State:     domain.JobRunning,
		LastPoint: domain.MetricPoint{Seq: 4, Loss: math.NaN(), Values: domain.Metrics{"grad_norm": math.Inf(1)}},
	}))

	got, err := sink.LoadCheckpoint(ctx, "job-nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.LastPoint.Loss))
	assert.True(t, math.IsInf(got.LastPoint.Values["grad_norm"], 1))
}

func TestCheckpointSink_TTLExpiration(t *testing.T) {
	mr, sink := newSink(t, redis.WithTTL(time.Second), redis.WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, sink.SaveCheckpoint(ctx, domain.Checkpoint{JobID: "job-ttl", ProjectID: "proj"}))
	assert.True(t, mr.Exists("test:job:job-ttl"))

	mr.FastForward(2 * time.Second)

	_, err := sink.LoadCheckpoint(ctx, "job-ttl")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckpointSink_UnreachableIsInfrastructure(t *testing.T) {
	mr, sink := newSink(t)
	mr.Close()

	err := sink.SaveCheckpoint(context.Background(), domain.Checkpoint{JobID: "j", ProjectID: "p"})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}
