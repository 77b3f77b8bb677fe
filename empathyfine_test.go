package empathyfine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/empathyfine"
	"github.com/aretw0/empathyfine/pkg/adapters/simulated"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conversations = `{"prompt":"I lost my job today","response":"I'm so sorry, I understand how hard that is.","emotion":"sadness","intensity":4}
{"prompt":"I got the apartment!","response":"That's wonderful news, congratulations!","emotion":"joy","intensity":5}
{"prompt":"Nobody listens to me","response":"I hear you, and I'm here to support you.","emotion":"anger","intensity":3}
`

func newCore(t *testing.T, root string, opts ...empathyfine.Option) *empathyfine.Core {
	t.Helper()
	opts = append([]empathyfine.Option{
		empathyfine.WithTrainer(simulated.New(simulated.WithStepsPerEpoch(4))),
	}, opts...)
	core, err := empathyfine.New(root, opts...)
	require.NoError(t, err)
	return core
}

func importConversations(t *testing.T, core *empathyfine.Core, projectID string) *domain.Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(conversations), 0o644))
	ds, err := core.Datasets.ImportFile(context.Background(), projectID, path, domain.FormatJSONL)
	require.NoError(t, err)
	return ds
}

func TestCore_TrainEndToEnd(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := prometheus.NewRegistry()
	core := newCore(t, root, empathyfine.WithMetrics(reg))

	p, err := core.Projects.CreateProject(ctx, "support-bot", "gpt2", domain.FrameworkHuggingFace, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "support-bot"), p.WorkspacePath)

	ds := importConversations(t, core, p.ID)
	assert.Equal(t, 3, ds.Report.Valid)

	jobID, err := core.Train(ctx, p.ID, ds.ID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	job, err := core.Jobs.Wait(waitCtx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.State)
	assert.Len(t, job.Metrics, 12, "3 epochs of 4 steps")
	assert.True(t, job.Recorded)
	assert.Equal(t, 1, job.Config.Dataset.Revision)

	history, err := core.Projects.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, jobID, history[0].JobID)
	assert.Equal(t, 12, history[0].MetricCount)
	assert.Contains(t, history[0].Summary, "empathy_score")

	assert.Equal(t, 1.0, counterTotal(t, reg, "empathyfine_jobs_finished_total"))
	series, err := testutil.GatherAndCount(reg, "empathyfine_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Positive(t, series)

	t.Run("Pinned dataset forks on edit", func(t *testing.T) {
		loaded, err := core.Datasets.Load(ctx, ds.ID)
		require.NoError(t, err)
		require.NoError(t, core.Datasets.TagEmotion(loaded, 0, domain.EmotionFear, 2))
		require.NoError(t, core.Datasets.Save(ctx, loaded))
		assert.Equal(t, 2, loaded.Revision)

		assert.FileExists(t, job.Config.Dataset.Path, "the pinned payload survives")
	})

	require.NoError(t, core.Close(ctx))

	t.Run("Reopen keeps state", func(t *testing.T) {
		again := newCore(t, root)
		defer again.Close(ctx)

		reopened, err := again.Projects.OpenByName(ctx, "support-bot")
		require.NoError(t, err)
		assert.Equal(t, p.ID, reopened.ID)

		history, err := again.Projects.History(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestCore_TrainRejectsForeignDataset(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, t.TempDir())
	defer core.Close(ctx)

	a, err := core.Projects.CreateProject(ctx, "a", "gpt2", domain.FrameworkOpenAI, "")
	require.NoError(t, err)
	b, err := core.Projects.CreateProject(ctx, "b", "gpt2", domain.FrameworkOpenAI, "")
	require.NoError(t, err)
	ds := importConversations(t, core, a.ID)

	_, err = core.Train(ctx, b.ID, ds.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = core.Train(ctx, "missing", ds.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCore_TrainRejectsInvalidConfiguration(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, t.TempDir())
	defer core.Close(ctx)

	p, err := core.Projects.CreateProject(ctx, "bot", "gpt2", domain.FrameworkCustom, "")
	require.NoError(t, err)
	ds := importConversations(t, core, p.ID)

	_, err = core.Projects.UpdateConfiguration(ctx, p.ID, domain.Configuration{domain.KeyEpochs: 0})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	jobID, err := core.Train(ctx, p.ID, ds.ID)
	require.NoError(t, err, "the rejected revision was never stored")
	assert.NotEmpty(t, jobID)
}

func TestCore_RedactsSecrets(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, t.TempDir())
	defer core.Close(ctx)

	p, err := core.Projects.CreateProject(ctx, "bot", "gpt2", domain.FrameworkOpenAI, "")
	require.NoError(t, err)
	cfg := p.Configuration.Configuration.Merge(domain.Configuration{"openai_api_key": "sk-123"})
	_, err = core.Projects.UpdateConfiguration(ctx, p.ID, cfg)
	require.NoError(t, err)

	opened, err := core.Projects.OpenProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "***", opened.Configuration.Configuration["openai_api_key"])
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
