package simulated_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/empathyfine/pkg/adapters/simulated"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func config(epochs int) domain.TrainingConfiguration {
	cfg := domain.DefaultConfiguration()
	cfg[domain.KeyEpochs] = epochs
	return domain.TrainingConfiguration{ProjectID: "p1", BaseModel: "gpt2", Configuration: cfg}
}

func TestTrainer_LossCurve(t *testing.T) {
	t.Parallel()
	tr := simulated.New(simulated.WithStepsPerEpoch(4))

	var points []domain.MetricPoint
	res, err := tr.Run(context.Background(), "job-1", config(2), func(p domain.MetricPoint) {
		points = append(points, p)
	})
	require.NoError(t, err)
	require.Len(t, points, 8)

	assert.Equal(t, 1, points[0].Epoch)
	assert.InDelta(t, 2.5, points[0].Loss, 1e-9)
	assert.Equal(t, 2, points[7].Epoch)
	assert.Equal(t, 3, points[7].Step)
	assert.InDelta(t, 2.5-0.5-0.003, points[7].Loss, 1e-9)
	assert.InDelta(t, 5e-5, points[7].Values["learning_rate"], 1e-12)
	assert.InDelta(t, points[7].Loss, res.Metrics["final_loss"], 1e-9)
	assert.Equal(t, 8.0, res.Metrics["steps"])
	assert.Empty(t, res.Samples)
}

func TestTrainer_FailAt(t *testing.T) {
	t.Parallel()
	tr := simulated.New(simulated.WithStepsPerEpoch(100), simulated.WithFailAt(10))

	n := 0
	_, err := tr.Run(context.Background(), "job-1", config(1), func(domain.MetricPoint) { n++ })
	assert.ErrorIs(t, err, domain.ErrTrainer)
	assert.Equal(t, 9, n)
}

func TestTrainer_HonoursCancellation(t *testing.T) {
	t.Parallel()
	tr := simulated.New(simulated.WithStepDelay(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	n := 0
	_, err := tr.Run(ctx, "job-1", config(3), func(domain.MetricPoint) {
		if n++; n == 5 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, n)
}

func TestTrainer_InvalidConfiguration(t *testing.T) {
	t.Parallel()
	cfg := config(1)
	cfg.Configuration[domain.KeyEpochs] = "many"
	_, err := simulated.New().Run(context.Background(), "job-1", cfg, func(domain.MetricPoint) {})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestTrainer_SamplesAndArtifact(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	payload := filepath.Join(dir, "rev-000001.jsonl")
	four := 4
	var lines []byte
	for _, ex := range []domain.Example{
		{ParseError: "line 1: invalid JSON"},
		{Prompt: "I lost my job", Response: "r", Emotion: domain.EmotionSadness, Intensity: &four},
		{Prompt: "I won!", Response: "r", Emotion: domain.EmotionJoy},
		{Prompt: "Hi", Response: "r"},
	} {
		b, err := json.Marshal(ex)
		require.NoError(t, err)
		lines = append(append(lines, b...), '\n')
	}
	require.NoError(t, os.WriteFile(payload, lines, 0o644))

	cfg := config(1)
	cfg.WorkspacePath = dir
	cfg.Dataset = domain.DatasetRef{ID: "ds1", Revision: 1, Path: payload}
	tr := simulated.New(simulated.WithStepsPerEpoch(1), simulated.WithSampleCount(2), simulated.WithArtifact())

	res, err := tr.Run(context.Background(), "job-1", cfg, func(domain.MetricPoint) {})
	require.NoError(t, err)
	require.Len(t, res.Samples, 2)
	assert.Equal(t, "I lost my job", res.Samples[0].Prompt)
	assert.Equal(t, 4, res.Samples[0].Intensity)
	assert.Contains(t, res.Samples[0].Response, "feel")
	assert.Equal(t, domain.EmotionJoy, res.Samples[1].Emotion)

	assert.Equal(t, filepath.Join(dir, domain.DirModels, "job-1", "adapter.json"), res.Artifact)
	data, err := os.ReadFile(res.Artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dataset_id": "ds1"`)
}
