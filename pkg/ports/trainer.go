package ports

import (
	"context"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// ProgressFunc receives metric points in the order the trainer produced them.
// Seq and JobID are assigned by the orchestrator.
type ProgressFunc func(domain.MetricPoint)

// Trainer runs one training job to completion.
// It must return promptly with ctx.Err() once ctx is cancelled; trainers that do not
// are cancelled forcibly after the orchestrator's grace period.
type Trainer interface {
	Run(ctx context.Context, jobID string, cfg domain.TrainingConfiguration, progress ProgressFunc) (domain.Result, error)
}

// TrainerFunc adapts a function to Trainer.
type TrainerFunc func(ctx context.Context, jobID string, cfg domain.TrainingConfiguration, progress ProgressFunc) (domain.Result, error)

func (f TrainerFunc) Run(ctx context.Context, jobID string, cfg domain.TrainingConfiguration, progress ProgressFunc) (domain.Result, error) {
	return f(ctx, jobID, cfg, progress)
}

// Scorer rates how empathetic a generated response is, in [0, 1].
type Scorer interface {
	Score(ctx context.Context, sample domain.Sample) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, sample domain.Sample) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, sample domain.Sample) (float64, error) {
	return f(ctx, sample)
}

// CheckpointSink stores progress snapshots. It is never the source of truth.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
	// LoadCheckpoint returns domain.ErrNotFound when no snapshot exists.
	LoadCheckpoint(ctx context.Context, jobID string) (domain.Checkpoint, error)
}
