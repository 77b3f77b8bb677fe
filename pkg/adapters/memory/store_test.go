package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/adapters/memory"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunProjectStoreContract(t, store)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateProject(ctx, domain.Project{ID: "p", Name: "p", CreatedAt: now}, domain.Configuration{"epochs": 3}))

	p, err := store.GetProject(ctx, "p")
	require.NoError(t, err)
	p.Configuration.Configuration["epochs"] = 99

	again, err := store.GetProject(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Configuration.Configuration["epochs"])
}

func TestCheckpoints(t *testing.T) {
	sink := memory.NewCheckpoints()
	ctx := context.Background()

	_, err := sink.LoadCheckpoint(ctx, "job")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cp := domain.Checkpoint{JobID: "job", State: domain.JobRunning, LastPoint: domain.MetricPoint{Seq: 4}}
	require.NoError(t, sink.SaveCheckpoint(ctx, cp))
	got, err := sink.LoadCheckpoint(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.LastPoint.Seq)
}
