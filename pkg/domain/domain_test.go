package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmotion(t *testing.T) {
	e, err := domain.ParseEmotion("  Joy ")
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionJoy, e)

	_, err = domain.ParseEmotion("happy")
	assert.ErrorIs(t, err, domain.ErrInvalidEmotion)
	assert.Len(t, domain.Emotions(), 7)
}

func TestValidIntensity(t *testing.T) {
	assert.False(t, domain.ValidIntensity(0))
	assert.True(t, domain.ValidIntensity(1))
	assert.True(t, domain.ValidIntensity(5))
	assert.False(t, domain.ValidIntensity(6))
}

func TestParseFramework(t *testing.T) {
	for in, want := range map[string]domain.Framework{
		"HuggingFace":  domain.FrameworkHuggingFace,
		"hugging face": domain.FrameworkHuggingFace,
		"OpenAI":       domain.FrameworkOpenAI,
		"custom":       domain.FrameworkCustom,
	} {
		got, err := domain.ParseFramework(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := domain.ParseFramework("tensorflow")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFormatFromPath(t *testing.T) {
	f, err := domain.FormatFromPath("data/train.JSONL")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatJSONL, f)

	f, err = domain.FormatFromPath("train.csv")
	require.NoError(t, err)
	assert.Equal(t, domain.FormatCSV, f)

	_, err = domain.FormatFromPath("train.parquet")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestConfiguration_Hyperparameters(t *testing.T) {
	h, err := domain.DefaultConfiguration().Hyperparameters()
	require.NoError(t, err)
	assert.Equal(t, 3, h.Epochs)
	assert.Equal(t, 8, h.LoRARank)
	assert.InDelta(t, 5e-5, h.LearningRate, 1e-12)
	assert.True(t, h.EmotionBalance)
	require.NoError(t, h.Validate())
	assert.Empty(t, h.Warnings())

	// Values as they come back from JSON or a CLI flag.
	cfg := domain.Configuration{"epochs": "5", "lora_rank": float64(64), "learning_rate": "0.01"}
	h, err = cfg.Hyperparameters()
	require.NoError(t, err)
	assert.Equal(t, 5, h.Epochs)
	assert.Equal(t, 64, h.LoRARank)
	assert.Equal(t, 4, h.BatchSize, "missing keys fall back to defaults")
	assert.Len(t, h.Warnings(), 2)
}

func TestHyperparameters_Validate(t *testing.T) {
	h, err := domain.Configuration{"epochs": 0}.Hyperparameters()
	require.NoError(t, err)
	assert.ErrorIs(t, h.Validate(), domain.ErrInvalidConfiguration)

	h, err = domain.Configuration{"empathy_weight": 1.5}.Hyperparameters()
	require.NoError(t, err)
	assert.ErrorIs(t, h.Validate(), domain.ErrInvalidConfiguration)

	_, err = domain.Configuration{"epochs": "many"}.Hyperparameters()
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestError_KindAndIs(t *testing.T) {
	err := fmt.Errorf("open project: %w", domain.NotFound("project", "p1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrDuplicateName)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Contains(t, err.Error(), `project "p1"`)

	infra := domain.Infrastructure("append history", errors.New("disk full"))
	assert.True(t, domain.IsRetryable(infra))
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, domain.KindConcurrencyLimit, domain.KindOf(domain.ErrConcurrencyLimit))
	assert.Equal(t, domain.Kind(""), domain.KindOf(errors.New("plain")))
}

func TestJob_CloneIsIndependent(t *testing.T) {
	j := domain.Job{
		Config:  domain.TrainingConfiguration{Configuration: domain.Configuration{"epochs": 1}},
		Path:    []domain.JobState{domain.JobPending},
		Metrics: []domain.MetricPoint{{Seq: 1}},
		Result:  &domain.Result{Metrics: map[string]float64{"loss": 1}},
	}
	c := j.Clone()
	c.Config.Configuration["epochs"] = 2
	c.Path[0] = domain.JobRunning
	c.Metrics[0].Seq = 9
	c.Result.Metrics["loss"] = 2

	assert.Equal(t, 1, j.Config.Configuration["epochs"])
	assert.Equal(t, domain.JobPending, j.Path[0])
	assert.Equal(t, uint64(1), j.Metrics[0].Seq)
	assert.Equal(t, 1.0, j.Result.Metrics["loss"])
}
