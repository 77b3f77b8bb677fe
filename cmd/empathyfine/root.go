package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/empathyfine"
	"github.com/aretw0/empathyfine/internal/config"
	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/internal/presentation/tui"
	"github.com/aretw0/empathyfine/pkg/adapters/memory"
	"github.com/aretw0/empathyfine/pkg/adapters/process"
	"github.com/aretw0/empathyfine/pkg/adapters/redis"
	"github.com/aretw0/empathyfine/pkg/adapters/simulated"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ingest"
	"github.com/aretw0/empathyfine/pkg/orchestrator"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "empathyfine",
	Short: "Fine-tune empathetic language models from the terminal",
	Long: `empathyfine manages fine-tuning projects in a workspace directory: project
configuration with an append-only revision log, emotion-tagged datasets, and training
jobs whose results are kept in each project's history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if kind := domain.KindOf(err); kind != "" {
			fmt.Fprintln(os.Stderr, "Kind:", kind)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "Workspace directory holding the project database")
	rootCmd.PersistentFlags().String("config", "", "Config file (default <workspace>/empathyfine.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
}

// session is what every command works with.
type session struct {
	core   *empathyfine.Core
	cfg    config.Config
	logger *slog.Logger
	out    *tui.Printer
}

func (s *session) Close() {
	if err := s.core.Close(context.Background()); err != nil {
		s.logger.Error("Closing workspace failed", "err", err)
	}
}

type sessionOption func(*[]empathyfine.Option)

func withRegisterer(reg prometheus.Registerer) sessionOption {
	return func(opts *[]empathyfine.Option) {
		*opts = append(*opts, empathyfine.WithMetrics(reg))
	}
}

func openSession(cmd *cobra.Command, extra ...sessionOption) (*session, error) {
	workspace, _ := cmd.Flags().GetString("workspace")
	cfgPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(workspace, cfgPath)
	if err != nil {
		return nil, err
	}
	if level == "" {
		level = cfg.Log.Level
	}
	logger := logging.New(logging.ParseLevel(level))
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger = logging.NewJSON(os.Stderr, logging.ParseLevel(level))
	}
	if cfg.File != "" {
		logger.Debug("Config loaded", "file", cfg.File)
	}

	trainer, err := newTrainer(cfg, logger)
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithPlan(orchestrator.Plan{
			MaxRunning:    cfg.Plan.MaxRunning,
			MaxQueued:     cfg.Plan.MaxQueued,
			MaxPerProject: cfg.Plan.MaxPerProject,
		}),
		orchestrator.WithGracePeriod(cfg.Jobs.GracePeriod),
		orchestrator.WithBusBuffer(cfg.Jobs.BusBuffer),
		orchestrator.WithHistoryRetry(cfg.History.Attempts, cfg.History.Backoff),
	}
	opts := []empathyfine.Option{
		empathyfine.WithLogger(logger),
		empathyfine.WithTrainer(trainer),
		empathyfine.WithIngestOptions(
			ingest.WithMaxResponseLength(cfg.Ingest.MaxResponseLength),
			ingest.WithMaxRecordSize(cfg.Ingest.MaxRecordSize),
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
		),
	}

	if sink := newCheckpointSink(cfg); sink != nil {
		orchOpts = append(orchOpts, orchestrator.WithCheckpoints(sink, cfg.Jobs.CheckpointEvery))
		if c, ok := sink.(interface{ Close() error }); ok {
			opts = append(opts, empathyfine.WithCloser(c))
		}
	}
	opts = append(opts, empathyfine.WithOrchestratorOptions(orchOpts...))
	for _, o := range extra {
		o(&opts)
	}

	core, err := empathyfine.New(workspace, opts...)
	if err != nil {
		return nil, err
	}
	return &session{core: core, cfg: cfg, logger: logger, out: tui.NewPrinter(cmd.OutOrStdout())}, nil
}

func newTrainer(cfg config.Config, logger *slog.Logger) (ports.Trainer, error) {
	if cfg.Trainer.Kind == config.TrainerProcess {
		trainers, err := process.LoadTrainers(cfg.Trainer.File)
		if err != nil {
			return nil, err
		}
		tc, ok := trainers[cfg.Trainer.Name]
		if !ok {
			return nil, domain.NotFound("trainer", cfg.Trainer.Name)
		}
		return process.New(tc,
			process.WithGracePeriod(cfg.Jobs.GracePeriod),
			process.WithMaxLineSize(cfg.Ingest.MaxRecordSize),
			process.WithLogger(logger),
		)
	}
	return simulated.New(
		simulated.WithStepsPerEpoch(cfg.Trainer.StepsPerEpoch),
		simulated.WithStepDelay(cfg.Trainer.StepDelay),
		simulated.WithArtifact(),
		simulated.WithLogger(logger),
	), nil
}

// newCheckpointSink prefers redis when configured. Without redis, checkpoints only
// live as long as the process.
func newCheckpointSink(cfg config.Config) ports.CheckpointSink {
	if cfg.Jobs.CheckpointEvery <= 0 {
		return nil
	}
	if cfg.Redis.Addr == "" {
		return memory.NewCheckpoints()
	}
	var opts []redis.Option
	if cfg.Redis.Prefix != "" {
		opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
	}
	if cfg.Redis.TTL > 0 {
		opts = append(opts, redis.WithTTL(cfg.Redis.TTL))
	}
	return redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
}

// resolveDataset accepts a dataset id or a dataset name within the project.
func resolveDataset(ctx context.Context, s *session, projectID, ref string) (domain.DatasetMeta, error) {
	metas, err := s.core.Datasets.List(ctx, projectID)
	if err != nil {
		return domain.DatasetMeta{}, err
	}
	var byName []domain.DatasetMeta
	for _, m := range metas {
		if m.ID == ref {
			return m, nil
		}
		if m.Name == ref {
			byName = append(byName, m)
		}
	}
	switch len(byName) {
	case 1:
		return byName[0], nil
	case 0:
		return domain.DatasetMeta{}, domain.NotFound("dataset", ref)
	}
	return domain.DatasetMeta{}, domain.Errorf(domain.KindValidation, "dataset name %q is ambiguous, use its id", ref)
}
