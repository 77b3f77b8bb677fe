// Package project implements the project store operations on top of a ports.ProjectStore.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/aretw0/empathyfine/internal/keylock"
	"github.com/aretw0/empathyfine/internal/logging"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/google/uuid"
)

// maxSuggestDistance bounds how different a name may be and still be suggested.
const maxSuggestDistance = 3

// Service owns project lifecycle, configuration history and training history.
type Service struct {
	store    ports.ProjectStore
	payloads ports.ExampleStore
	root     string
	locks    *keylock.Map
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithRoot sets the workspace root new project directories default to.
func WithRoot(root string) Option {
	return func(s *Service) {
		s.root = root
	}
}

// WithPayloads lets DeleteProject remove dataset payload files too.
func WithPayloads(payloads ports.ExampleStore) Option {
	return func(s *Service) {
		s.payloads = payloads
	}
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service over store.
func New(store ports.ProjectStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		root:   ".",
		locks:  keylock.New(),
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying project store.
func (s *Service) Store() ports.ProjectStore {
	return s.store
}

// CreateProject validates the inputs, lays out the workspace directory and stores the
// project with the default configuration as revision 1.
func (s *Service) CreateProject(ctx context.Context, name, baseModel string, framework domain.Framework, workspacePath string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidation, "project name is required")
	}
	if strings.ContainsAny(name, `/\`) {
		return domain.Project{}, domain.Errorf(domain.KindValidation, "project name %q must not contain path separators", name)
	}
	if strings.TrimSpace(baseModel) == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidation, "base model is required")
	}
	fw, err := domain.ParseFramework(string(framework))
	if err != nil {
		return domain.Project{}, err
	}

	path, err := s.prepareWorkspace(name, workspacePath)
	if err != nil {
		return domain.Project{}, err
	}

	now := s.now().UTC()
	p := domain.Project{
		ID:            uuid.NewString(),
		Name:          name,
		BaseModel:     strings.TrimSpace(baseModel),
		Framework:     fw,
		WorkspacePath: path,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	initial := domain.DefaultConfiguration()
	if err := s.store.CreateProject(ctx, p, initial); err != nil {
		return domain.Project{}, fmt.Errorf("create project %q: %w", name, err)
	}
	p.Configuration = domain.ConfigurationRevision{ProjectID: p.ID, Revision: 1, Configuration: initial, CreatedAt: now}

	s.logger.Info("Project created", "project_id", p.ID, "name", p.Name, "path", p.WorkspacePath)
	return p, nil
}

// prepareWorkspace resolves the project directory and proves it is writable.
func (s *Service) prepareWorkspace(name, workspacePath string) (string, error) {
	path := workspacePath
	if path == "" {
		path = filepath.Join(s.root, name)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", domain.NewError(domain.KindInvalidPath, workspacePath, err)
	}

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return "", domain.Errorf(domain.KindInvalidPath, "%s is not a directory", path)
	}
	for _, dir := range domain.WorkspaceDirs() {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return "", domain.NewError(domain.KindInvalidPath, path, err)
		}
	}
	probe, err := os.CreateTemp(path, ".write-probe-*")
	if err != nil {
		return "", domain.NewError(domain.KindInvalidPath, path+" is not writable", err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return path, nil
}

// OpenProject returns the project with its latest configuration.
func (s *Service) OpenProject(ctx context.Context, id string) (domain.Project, error) {
	return s.store.GetProject(ctx, id)
}

// OpenByName looks a project up by name. A miss suggests the closest existing name.
func (s *Service) OpenByName(ctx context.Context, name string) (domain.Project, error) {
	p, err := s.store.FindProjectByName(ctx, name)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}

	all, listErr := s.store.ListProjects(ctx)
	if listErr != nil {
		return p, err
	}
	best, bestDist := "", maxSuggestDistance+1
	for _, candidate := range all {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate.Name))
		if d < bestDist {
			best, bestDist = candidate.Name, d
		}
	}
	if best == "" {
		return p, err
	}
	return p, domain.Errorf(domain.KindNotFound, "project %q (did you mean %q?)", name, best)
}

// Resolve accepts either a project id or a project name.
func (s *Service) Resolve(ctx context.Context, ref string) (domain.Project, error) {
	p, err := s.store.GetProject(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}
	return s.OpenByName(ctx, ref)
}

// ListProjects returns every project sorted by name.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.store.ListProjects(ctx)
}

// UpdateConfiguration appends cfg, merged over the current revision, as a new revision.
// Earlier revisions are never modified.
func (s *Service) UpdateConfiguration(ctx context.Context, projectID string, cfg domain.Configuration) (domain.ConfigurationRevision, error) {
	var rev domain.ConfigurationRevision
	err := s.locks.WithLock(ctx, projectID, func(ctx context.Context) error {
		p, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		next := p.Configuration.Configuration.Merge(cfg)
		h, err := next.Hyperparameters()
		if err != nil {
			return err
		}
		if err := h.Validate(); err != nil {
			return err
		}
		for _, w := range h.Warnings() {
			s.logger.Warn("Configuration warning", "project_id", projectID, "warning", w)
		}
		rev, err = s.store.AppendRevision(ctx, projectID, next, s.now().UTC())
		return err
	})
	if err != nil {
		return rev, fmt.Errorf("update configuration: %w", err)
	}
	s.logger.Info("Configuration revised", "project_id", projectID, "revision", rev.Revision)
	return rev, nil
}

// Revisions lists every configuration revision in ascending order.
func (s *Service) Revisions(ctx context.Context, projectID string) ([]domain.ConfigurationRevision, error) {
	return s.store.Revisions(ctx, projectID)
}

// DeleteProject removes the project with its revisions, datasets and history.
// The workspace directory on disk is left in place; dataset payloads are removed.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	return s.locks.WithLock(ctx, projectID, func(ctx context.Context) error {
		p, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		datasets, err := s.store.ListDatasets(ctx, projectID)
		if err != nil {
			return err
		}
		if err := s.store.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		if s.payloads != nil {
			dir := filepath.Join(p.WorkspacePath, domain.DirDatasets)
			for _, ds := range datasets {
				if err := s.payloads.Remove(ctx, dir, ds.ID); err != nil {
					s.logger.Warn("Failed to remove dataset payloads", "project_id", projectID, "dataset_id", ds.ID, "err", err)
				}
			}
		}
		s.logger.Info("Project deleted", "project_id", projectID, "datasets", len(datasets))
		return nil
	})
}

// AppendHistory records a terminal job. Appending the same job twice is a no-op.
func (s *Service) AppendHistory(ctx context.Context, projectID string, entry domain.HistoryEntry) error {
	if entry.JobID == "" {
		return domain.Errorf(domain.KindValidation, "history entry has no job id")
	}
	if !entry.State.Terminal() {
		return domain.Errorf(domain.KindValidation, "history entry for job %s is %s, not terminal", entry.JobID, entry.State)
	}
	entry.ProjectID = projectID
	return s.locks.WithLock(ctx, projectID, func(ctx context.Context) error {
		return s.store.AppendHistory(ctx, entry)
	})
}

// History lists a project's terminal jobs ordered by end time.
func (s *Service) History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error) {
	return s.store.History(ctx, projectID)
}
