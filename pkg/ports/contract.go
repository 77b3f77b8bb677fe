package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunProjectStoreContract runs a suite of tests to verify that a ProjectStore implementation
// adheres to the defined interface contract.
func RunProjectStoreContract(t *testing.T, store ProjectStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	now := time.Now().UTC().Truncate(time.Millisecond)

	newProject := func(t *testing.T, name string) domain.Project {
		t.Helper()
		p := domain.Project{
			ID:            "p-" + name + "-" + suffix,
			Name:          name + "-" + suffix,
			BaseModel:     "gpt2",
			Framework:     domain.FrameworkHuggingFace,
			WorkspacePath: "/tmp/" + name,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, store.CreateProject(ctx, p, domain.Configuration{"epochs": 3}))
		return p
	}

	t.Run("Create and Get", func(t *testing.T) {
		p := newProject(t, "create")

		got, err := store.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
		assert.Equal(t, p.Framework, got.Framework)
		assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, 1, got.Configuration.Revision)
		assert.EqualValues(t, 3, got.Configuration.Configuration["epochs"])

		byName, err := store.FindProjectByName(ctx, p.Name)
		require.NoError(t, err)
		assert.Equal(t, p.ID, byName.ID)

		all, err := store.ListProjects(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, x := range all {
			ids = append(ids, x.ID)
		}
		assert.Contains(t, ids, p.ID)
	})

	t.Run("Duplicate Name", func(t *testing.T) {
		p := newProject(t, "dup")
		clash := p
		clash.ID = p.ID + "-other"
		err := store.CreateProject(ctx, clash, nil)
		assert.ErrorIs(t, err, domain.ErrDuplicateName)
	})

	t.Run("Missing Project", func(t *testing.T) {
		_, err := store.GetProject(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.FindProjectByName(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, store.DeleteProject(ctx, "missing-"+suffix), domain.ErrNotFound)
		_, err = store.AppendRevision(ctx, "missing-"+suffix, domain.Configuration{}, now)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		err = store.AppendHistory(ctx, domain.HistoryEntry{JobID: "j-" + suffix, ProjectID: "missing-" + suffix, State: domain.JobSucceeded, EndedAt: now})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Revisions Are Monotonic And Immutable", func(t *testing.T) {
		p := newProject(t, "revs")

		r2, err := store.AppendRevision(ctx, p.ID, domain.Configuration{"epochs": 5}, now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, r2.Revision)
		r3, err := store.AppendRevision(ctx, p.ID, domain.Configuration{"epochs": 7}, now.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 3, r3.Revision)

		revs, err := store.Revisions(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, revs, 3)
		for i, r := range revs {
			assert.Equal(t, i+1, r.Revision)
		}
		assert.EqualValues(t, 3, revs[0].Configuration["epochs"])
		assert.EqualValues(t, 5, revs[1].Configuration["epochs"])

		got, err := store.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Configuration.Revision)
	})

	t.Run("Datasets", func(t *testing.T) {
		p := newProject(t, "datasets")
		meta := domain.DatasetMeta{
			ID:           "ds-" + suffix,
			ProjectID:    p.ID,
			Name:         "train",
			SourcePath:   "train.jsonl",
			Format:       domain.FormatJSONL,
			Revision:     1,
			Digest:       "abc",
			ExampleCount: 3,
			ValidCount:   2,
			InvalidCount: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		require.NoError(t, store.SaveDataset(ctx, meta))

		got, err := store.GetDataset(ctx, meta.ID)
		require.NoError(t, err)
		assert.Equal(t, meta.Name, got.Name)
		assert.Equal(t, 2, got.ValidCount)

		meta.Revision = 2
		meta.Digest = "def"
		require.NoError(t, store.SaveDataset(ctx, meta))
		list, err := store.ListDatasets(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 2, list[0].Revision)

		require.NoError(t, store.PinDataset(ctx, meta.ID, 2))
		require.NoError(t, store.PinDataset(ctx, meta.ID, 1))
		got, err = store.GetDataset(ctx, meta.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.PinnedRevision, "pins never move backwards")

		orphan := meta
		orphan.ID = "orphan-" + suffix
		orphan.ProjectID = "missing-" + suffix
		assert.ErrorIs(t, store.SaveDataset(ctx, orphan), domain.ErrNotFound)
		_, err = store.GetDataset(ctx, orphan.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("History Append Is Idempotent", func(t *testing.T) {
		p := newProject(t, "history")
		first := domain.HistoryEntry{
			JobID: "job-a-" + suffix, ProjectID: p.ID, State: domain.JobSucceeded,
			ConfigRevision: 1, SubmittedAt: now, StartedAt: now, EndedAt: now.Add(time.Minute),
			MetricCount: 10, FinalMetrics: map[string]float64{"loss": 0.5},
		}
		second := domain.HistoryEntry{
			JobID: "job-b-" + suffix, ProjectID: p.ID, State: domain.JobCancelled,
			SubmittedAt: now, EndedAt: now.Add(30 * time.Second),
		}
		require.NoError(t, store.AppendHistory(ctx, first))
		require.NoError(t, store.AppendHistory(ctx, second))

		dup := first
		dup.State = domain.JobFailed
		require.NoError(t, store.AppendHistory(ctx, dup))

		hist, err := store.History(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, second.JobID, hist[0].JobID, "ordered by end time")
		assert.Equal(t, domain.JobSucceeded, hist[1].State, "duplicate append must not overwrite")
		assert.InDelta(t, 0.5, hist[1].FinalMetrics["loss"], 1e-9)
		assert.True(t, hist[0].StartedAt.IsZero())
	})

	t.Run("Delete Cascades", func(t *testing.T) {
		p := newProject(t, "cascade")
		dsID := "ds-cascade-" + suffix
		require.NoError(t, store.SaveDataset(ctx, domain.DatasetMeta{
			ID: dsID, ProjectID: p.ID, Name: "d", Format: domain.FormatCSV, Revision: 1, CreatedAt: now, UpdatedAt: now,
		}))
		entry := domain.HistoryEntry{JobID: "job-cascade-" + suffix, ProjectID: p.ID, State: domain.JobSucceeded, SubmittedAt: now, EndedAt: now}
		require.NoError(t, store.AppendHistory(ctx, entry))

		require.NoError(t, store.DeleteProject(ctx, p.ID))

		_, err := store.GetProject(ctx, p.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetDataset(ctx, dsID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.Revisions(ctx, p.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// The job id is free again only if the entry went with its project.
		other := newProject(t, "cascade-other")
		entry.ProjectID = other.ID
		require.NoError(t, store.AppendHistory(ctx, entry))
		hist, err := store.History(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})
}
