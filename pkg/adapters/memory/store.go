package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
)

type projectRecord struct {
	project   domain.Project
	revisions []domain.ConfigurationRevision
}

// Store implements ports.ProjectStore in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*projectRecord
	datasets map[string]domain.DatasetMeta
	history  map[string]domain.HistoryEntry
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		projects: make(map[string]*projectRecord),
		datasets: make(map[string]domain.DatasetMeta),
		history:  make(map[string]domain.HistoryEntry),
	}
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project, initial domain.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.projects {
		if rec.project.Name == p.Name {
			return domain.Errorf(domain.KindDuplicateName, "project %q already exists", p.Name)
		}
	}
	rev := domain.ConfigurationRevision{ProjectID: p.ID, Revision: 1, Configuration: initial.Clone(), CreatedAt: p.CreatedAt}
	s.projects[p.ID] = &projectRecord{project: p, revisions: []domain.ConfigurationRevision{rev}}
	return nil
}

// view returns a copy of the project carrying its latest revision. Caller holds s.mu.
func (rec *projectRecord) view() domain.Project {
	p := rec.project
	latest := rec.revisions[len(rec.revisions)-1]
	latest.Configuration = latest.Configuration.Clone()
	p.Configuration = latest
	return p
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.projects[id]
	if !ok {
		return domain.Project{}, domain.NotFound("project", id)
	}
	return rec.view(), nil
}

func (s *Store) FindProjectByName(ctx context.Context, name string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.projects {
		if rec.project.Name == name {
			return rec.view(), nil
		}
	}
	return domain.Project{}, domain.NotFound("project", name)
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Project, 0, len(s.projects))
	for _, rec := range s.projects {
		out = append(out, rec.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return domain.NotFound("project", id)
	}
	delete(s.projects, id)
	maps.DeleteFunc(s.datasets, func(_ string, m domain.DatasetMeta) bool { return m.ProjectID == id })
	maps.DeleteFunc(s.history, func(_ string, e domain.HistoryEntry) bool { return e.ProjectID == id })
	return nil
}

func (s *Store) AppendRevision(ctx context.Context, projectID string, cfg domain.Configuration, at time.Time) (domain.ConfigurationRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[projectID]
	if !ok {
		return domain.ConfigurationRevision{}, domain.NotFound("project", projectID)
	}
	rev := domain.ConfigurationRevision{
		ProjectID:     projectID,
		Revision:      rec.revisions[len(rec.revisions)-1].Revision + 1,
		Configuration: cfg.Clone(),
		CreatedAt:     at,
	}
	rec.revisions = append(rec.revisions, rev)
	rec.project.UpdatedAt = at
	rev.Configuration = rev.Configuration.Clone()
	return rev, nil
}

func (s *Store) Revisions(ctx context.Context, projectID string) ([]domain.ConfigurationRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.projects[projectID]
	if !ok {
		return nil, domain.NotFound("project", projectID)
	}
	out := slices.Clone(rec.revisions)
	for i := range out {
		out[i].Configuration = out[i].Configuration.Clone()
	}
	return out, nil
}

func (s *Store) SaveDataset(ctx context.Context, m domain.DatasetMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[m.ProjectID]; !ok {
		return domain.NotFound("project", m.ProjectID)
	}
	if prev, ok := s.datasets[m.ID]; ok {
		m.CreatedAt = prev.CreatedAt
		m.PinnedRevision = max(m.PinnedRevision, prev.PinnedRevision)
	}
	s.datasets[m.ID] = m
	return nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (domain.DatasetMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.datasets[id]
	if !ok {
		return m, domain.NotFound("dataset", id)
	}
	return m, nil
}

func (s *Store) ListDatasets(ctx context.Context, projectID string) ([]domain.DatasetMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, domain.NotFound("project", projectID)
	}
	var out []domain.DatasetMeta
	for _, m := range s.datasets {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (s *Store) PinDataset(ctx context.Context, id string, revision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.datasets[id]
	if !ok {
		return domain.NotFound("dataset", id)
	}
	m.PinnedRevision = max(m.PinnedRevision, revision)
	s.datasets[id] = m
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[e.ProjectID]; !ok {
		return domain.NotFound("project", e.ProjectID)
	}
	if _, dup := s.history[e.JobID]; dup {
		return nil
	}
	e.FinalMetrics = maps.Clone(e.FinalMetrics)
	e.Summary = maps.Clone(e.Summary)
	s.history[e.JobID] = e
	return nil
}

func (s *Store) History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, domain.NotFound("project", projectID)
	}
	var out []domain.HistoryEntry
	for _, e := range s.history {
		if e.ProjectID == projectID {
			e.FinalMetrics = maps.Clone(e.FinalMetrics)
			e.Summary = maps.Clone(e.Summary)
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.Before(out[j].EndedAt)
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}
