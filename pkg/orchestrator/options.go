package orchestrator

import (
	"log/slog"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

// Plan bounds how many jobs may run and wait.
type Plan struct {
	// MaxRunning is the number of concurrency slots. Jobs beyond it queue in arrival order.
	MaxRunning int `mapstructure:"max_running" json:"max_running"`
	// MaxQueued is the hard ceiling on Pending jobs; Submit rejects beyond it.
	MaxQueued int `mapstructure:"max_queued" json:"max_queued"`
	// MaxPerProject limits live (Pending or Running) jobs per project. Zero means no limit.
	MaxPerProject int `mapstructure:"max_per_project" json:"max_per_project"`
}

// DefaultPlan runs one job at a time and queues up to eight.
func DefaultPlan() Plan {
	return Plan{MaxRunning: 1, MaxQueued: 8}
}

const (
	DefaultGracePeriod  = 10 * time.Second
	DefaultBusBuffer    = 64
	DefaultScoreTimeout = 30 * time.Second
)

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithPlan sets the concurrency plan.
func WithPlan(p Plan) Option {
	return func(o *Orchestrator) {
		o.plan = p
	}
}

// WithGracePeriod sets how long a cancelled trainer may take to stop before the job
// is forced to Cancelled.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.grace = d
	}
}

// WithBusBuffer sets the per-subscriber metric buffer.
func WithBusBuffer(n int) Option {
	return func(o *Orchestrator) {
		o.busBuffer = n
	}
}

// WithHistoryRetry bounds the retries of a failed history append.
func WithHistoryRetry(attempts int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.retry.Attempts = attempts
		o.retry.Initial = backoff
	}
}

// WithCheckpoints snapshots progress to sink every n metric points.
func WithCheckpoints(sink ports.CheckpointSink, every int) Option {
	return func(o *Orchestrator) {
		o.checkpoints = sink
		o.checkpointEvery = every
	}
}

// WithScorer rates the trainer's samples once a job succeeds.
func WithScorer(s ports.Scorer, timeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.scorer = s
		if timeout > 0 {
			o.scoreTimeout = timeout
		}
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides how job IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}
