package empathyfine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/pkg/adapters/file"
	"github.com/aretw0/empathyfine/pkg/adapters/simulated"
	"github.com/aretw0/empathyfine/pkg/adapters/sqlite"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ingest"
	"github.com/aretw0/empathyfine/pkg/observability"
	"github.com/aretw0/empathyfine/pkg/orchestrator"
	"github.com/aretw0/empathyfine/pkg/persistence/middleware"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/aretw0/empathyfine/pkg/project"
	"github.com/aretw0/empathyfine/pkg/scoring"
	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseFile is the store created inside the workspace root.
const DatabaseFile = "empathyfine.db"

// Core wires the project store, the ingestion pipeline and the job orchestrator of one
// workspace.
type Core struct {
	Projects *project.Service
	Datasets *ingest.Pipeline
	Jobs     *orchestrator.Orchestrator

	root    string
	db      *sqlite.Store
	closers []io.Closer
	logger  *slog.Logger
}

type settings struct {
	logger      *slog.Logger
	trainer     ports.Trainer
	scorer      ports.Scorer
	hooks       []domain.LifecycleHooks
	registerer  prometheus.Registerer
	storeMws    []middleware.Middleware
	ingestOpts  []ingest.Option
	orchOpts    []orchestrator.Option
	closers     []io.Closer
	readRetries int
}

// Option configures the Core.
type Option func(*settings)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithTrainer replaces the simulated trainer.
func WithTrainer(t ports.Trainer) Option {
	return func(s *settings) {
		s.trainer = t
	}
}

// WithScorer replaces the keyword scorer. A nil scorer disables summary scoring.
func WithScorer(sc ports.Scorer) Option {
	return func(s *settings) {
		s.scorer = sc
	}
}

// WithLifecycleHooks adds hooks next to the built-in logging hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = append(s.hooks, hooks)
	}
}

// WithMetrics registers job and store metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithStoreMiddleware wraps the project store, outermost first.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(s *settings) {
		s.storeMws = append(s.storeMws, mws...)
	}
}

// WithIngestOptions passes options to the ingestion pipeline.
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(s *settings) {
		s.ingestOpts = append(s.ingestOpts, opts...)
	}
}

// WithOrchestratorOptions passes options to the job orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *settings) {
		s.orchOpts = append(s.orchOpts, opts...)
	}
}

// WithCloser registers a resource, such as a checkpoint sink, to close with the Core.
func WithCloser(c io.Closer) Option {
	return func(s *settings) {
		s.closers = append(s.closers, c)
	}
}

// New opens (creating if needed) the workspace at root.
func New(root string, opts ...Option) (*Core, error) {
	s := &settings{
		logger:      logging.NewNop(),
		scorer:      scoring.NewKeyword(),
		readRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trainer == nil {
		s.trainer = simulated.New(simulated.WithLogger(s.logger))
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidPath, root, err)
	}
	db, err := sqlite.Open(filepath.Join(root, DatabaseFile))
	if err != nil {
		return nil, err
	}

	hooks := []domain.LifecycleHooks{observability.LoggingHooks(s.logger)}
	mws := []middleware.Middleware{}
	if s.registerer != nil {
		metrics, err := observability.NewMetrics(s.registerer)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		hooks = append(hooks, metrics.Hooks())

		durations := middleware.NewStoreDurations()
		if err := s.registerer.Register(durations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("register store metrics: %w", err)
		}
		mws = append(mws, middleware.NewInstrumentMiddleware(durations))
	}
	hooks = append(hooks, s.hooks...)
	mws = append(mws, s.storeMws...)
	mws = append(mws,
		middleware.NewRetryMiddleware(s.readRetries, 50*time.Millisecond),
		middleware.NewRedactMiddleware(middleware.DefaultSecretPatterns),
	)
	store := middleware.Chain(db, mws...)
	payloads := file.NewExampleStore()

	projects := project.New(store,
		project.WithRoot(root),
		project.WithPayloads(payloads),
		project.WithLogger(s.logger),
	)
	datasets := ingest.New(store, payloads, append([]ingest.Option{ingest.WithLogger(s.logger)}, s.ingestOpts...)...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithLifecycleHooks(observability.MergeHooks(hooks...)),
	}
	if s.scorer != nil {
		orchOpts = append(orchOpts, orchestrator.WithScorer(s.scorer, orchestrator.DefaultScoreTimeout))
	}
	orchOpts = append(orchOpts, s.orchOpts...)

	return &Core{
		Projects: projects,
		Datasets: datasets,
		Jobs:     orchestrator.New(s.trainer, projects, orchOpts...),
		root:     root,
		db:       db,
		closers:  s.closers,
		logger:   s.logger,
	}, nil
}

// Root is the absolute workspace directory.
func (c *Core) Root() string { return c.root }

// Train snapshots the project's latest configuration and the dataset's current revision,
// pins that revision, and submits a job. It returns the job id.
func (c *Core) Train(ctx context.Context, projectID, datasetID string) (string, error) {
	p, err := c.Projects.OpenProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	meta, err := c.Datasets.List(ctx, p.ID)
	if err != nil {
		return "", err
	}
	owned := false
	for _, m := range meta {
		owned = owned || m.ID == datasetID
	}
	if !owned {
		return "", domain.NotFound("dataset", datasetID)
	}

	cfg := domain.TrainingConfiguration{
		ProjectID:      p.ID,
		ProjectName:    p.Name,
		BaseModel:      p.BaseModel,
		Framework:      p.Framework,
		WorkspacePath:  p.WorkspacePath,
		ConfigRevision: p.Configuration.Revision,
		Configuration:  p.Configuration.Configuration,
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	ref, err := c.Datasets.Pin(ctx, datasetID)
	if err != nil {
		return "", err
	}
	cfg.Dataset = ref

	id, err := c.Jobs.Submit(cfg)
	if err != nil {
		return "", err
	}
	c.logger.Info("Training submitted", "job_id", id, "project_id", p.ID, "dataset_id", ref.ID, "revision", ref.Revision)
	return id, nil
}

// Close stops the orchestrator, waiting for running jobs up to ctx, then closes the store.
func (c *Core) Close(ctx context.Context) error {
	errs := []error{c.Jobs.Close(ctx)}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	errs = append(errs, c.db.Close())
	return errors.Join(errs...)
}
