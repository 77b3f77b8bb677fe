// Package simulated provides a deterministic in-process trainer for demos and tests.
package simulated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

const (
	DefaultStepsPerEpoch = 100
	DefaultSampleCount   = 3
)

// Trainer emits a synthetic loss curve instead of training a model.
type Trainer struct {
	stepsPerEpoch int
	stepDelay     time.Duration
	failAt        int
	sampleCount   int
	writeArtifact bool
	logger        *slog.Logger
	now           func() time.Time
}

var _ ports.Trainer = (*Trainer)(nil)

// Option configures the Trainer.
type Option func(*Trainer)

// WithStepsPerEpoch sets how many metric points each epoch produces.
func WithStepsPerEpoch(n int) Option {
	return func(t *Trainer) {
		t.stepsPerEpoch = n
	}
}

// WithStepDelay sleeps between steps.
func WithStepDelay(d time.Duration) Option {
	return func(t *Trainer) {
		t.stepDelay = d
	}
}

// WithFailAt makes the run fail when it reaches the given step (1-based, counted
// across epochs). Steps before it are reported normally.
func WithFailAt(step int) Option {
	return func(t *Trainer) {
		t.failAt = step
	}
}

// WithSampleCount limits how many dataset prompts get a generated response.
func WithSampleCount(n int) Option {
	return func(t *Trainer) {
		t.sampleCount = n
	}
}

// WithArtifact writes a small adapter manifest under the project's models directory.
func WithArtifact() Option {
	return func(t *Trainer) {
		t.writeArtifact = true
	}
}

// WithLogger configures a logger for the Trainer.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// New creates a simulated Trainer.
func New(opts ...Option) *Trainer {
	t := &Trainer{
		stepsPerEpoch: DefaultStepsPerEpoch,
		sampleCount:   DefaultSampleCount,
		logger:        logging.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.stepsPerEpoch <= 0 {
		t.stepsPerEpoch = DefaultStepsPerEpoch
	}
	return t
}

// Loss is the synthetic loss at a 0-based epoch and step.
func Loss(epoch, step int) float64 {
	return 2.5 - 0.5*float64(epoch) - 0.001*float64(step)
}

func (t *Trainer) Run(ctx context.Context, jobID string, cfg domain.TrainingConfiguration, progress ports.ProgressFunc) (domain.Result, error) {
	h, err := cfg.Configuration.Hyperparameters()
	if err != nil {
		return domain.Result{}, err
	}
	t.logger.Debug("Simulated training started", "job_id", jobID, "epochs", h.Epochs, "steps_per_epoch", t.stepsPerEpoch)

	var last domain.MetricPoint
	n := 0
	for epoch := range h.Epochs {
		for step := range t.stepsPerEpoch {
			if err := t.wait(ctx); err != nil {
				return domain.Result{}, err
			}
			n++
			if t.failAt > 0 && n == t.failAt {
				return domain.Result{}, domain.Errorf(domain.KindTrainer, "simulated failure at step %d", n)
			}
			last = domain.MetricPoint{
				Timestamp: t.now().UTC(),
				Epoch:     epoch + 1,
				Step:      step,
				Loss:      Loss(epoch, step),
				Values: map[string]float64{
					"accuracy":      0.6 + 0.1*float64(epoch) + 0.001*float64(step),
					"learning_rate": h.LearningRate,
					"empathy_score": 0.5 + 0.15*float64(epoch),
				},
			}
			progress(last)
		}
	}

	res := domain.Result{
		Metrics: map[string]float64{
			"final_loss": last.Loss,
			"steps":      float64(n),
		},
		Samples: t.samples(cfg.Dataset.Path),
	}
	if acc, ok := last.Values["accuracy"]; ok {
		res.Metrics["final_accuracy"] = acc
	}
	if t.writeArtifact && cfg.WorkspacePath != "" {
		path, err := writeManifest(cfg, jobID, h, res.Metrics)
		if err != nil {
			return domain.Result{}, err
		}
		res.Artifact = path
	}
	return res, nil
}

func (t *Trainer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil || t.stepDelay <= 0 {
		return err
	}
	timer := time.NewTimer(t.stepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var replies = map[domain.Emotion]string{
	domain.EmotionSadness: "I can sense that you're going through a difficult time. It's completely natural to feel this way.",
	domain.EmotionAnger:   "I understand you're feeling frustrated right now. Those feelings are valid, and I'm here to listen.",
	domain.EmotionJoy:     "It's wonderful to hear such positivity! What's been bringing you this happiness?",
	domain.EmotionFear:    "That sounds frightening. I hear you, and you don't have to face it alone.",
}

const defaultReply = "Thank you for sharing that with me. I'm here to listen and support you."

// samples answers the first prompts of the pinned dataset. Missing or unreadable
// payloads yield no samples.
func (t *Trainer) samples(path string) []domain.Sample {
	if path == "" || t.sampleCount <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		t.logger.Debug("No dataset payload for samples", "path", path, "err", err)
		return nil
	}
	defer f.Close()

	var out []domain.Sample
	dec := json.NewDecoder(f)
	for len(out) < t.sampleCount {
		var ex domain.Example
		if err := dec.Decode(&ex); err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("Stopped reading samples", "path", path, "err", err)
			}
			break
		}
		if ex.ParseError != "" || ex.Prompt == "" {
			continue
		}
		reply, ok := replies[ex.Emotion]
		if !ok {
			reply = defaultReply
		}
		out = append(out, domain.Sample{
			Prompt:    ex.Prompt,
			Response:  reply,
			Emotion:   ex.Emotion,
			Intensity: ex.IntensityValue(),
		})
	}
	return out
}

type manifest struct {
	JobID           string                 `json:"job_id"`
	BaseModel       string                 `json:"base_model"`
	Framework       domain.Framework       `json:"framework"`
	ConfigRevision  int                    `json:"config_revision"`
	DatasetID       string                 `json:"dataset_id"`
	DatasetRevision int                    `json:"dataset_revision"`
	Hyperparameters domain.Hyperparameters `json:"hyperparameters"`
	Metrics         domain.Metrics         `json:"metrics"`
}

func writeManifest(cfg domain.TrainingConfiguration, jobID string, h domain.Hyperparameters, metrics domain.Metrics) (string, error) {
	dir := filepath.Join(cfg.WorkspacePath, domain.DirModels, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.Infrastructure("create model directory", err)
	}
	data, err := json.MarshalIndent(manifest{
		JobID:           jobID,
		BaseModel:       cfg.BaseModel,
		Framework:       cfg.Framework,
		ConfigRevision:  cfg.ConfigRevision,
		DatasetID:       cfg.Dataset.ID,
		DatasetRevision: cfg.Dataset.Revision,
		Hyperparameters: h,
		Metrics:         metrics,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, "adapter.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", domain.Infrastructure("write manifest", err)
	}
	return path, nil
}
