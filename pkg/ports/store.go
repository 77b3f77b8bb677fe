package ports

import (
	"context"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// ProjectStore persists the metadata of one workspace.
// Deleting a project removes every revision, dataset and history entry it owns.
type ProjectStore interface {
	// CreateProject inserts p together with revision 1 holding initial.
	// Returns domain.ErrDuplicateName if the name is taken.
	CreateProject(ctx context.Context, p domain.Project, initial domain.Configuration) error

	// GetProject returns the project with its latest configuration revision.
	// Returns domain.ErrNotFound if the project does not exist.
	GetProject(ctx context.Context, id string) (domain.Project, error)

	// FindProjectByName looks a project up by its unique name.
	FindProjectByName(ctx context.Context, name string) (domain.Project, error)

	ListProjects(ctx context.Context) ([]domain.Project, error)

	// DeleteProject removes the project and cascades to everything it owns.
	DeleteProject(ctx context.Context, id string) error

	// AppendRevision stores cfg as the next revision (max + 1) and returns it.
	AppendRevision(ctx context.Context, projectID string, cfg domain.Configuration, at time.Time) (domain.ConfigurationRevision, error)

	// Revisions lists every revision in ascending order.
	Revisions(ctx context.Context, projectID string) ([]domain.ConfigurationRevision, error)

	// SaveDataset inserts or replaces dataset metadata.
	SaveDataset(ctx context.Context, meta domain.DatasetMeta) error

	GetDataset(ctx context.Context, id string) (domain.DatasetMeta, error)

	ListDatasets(ctx context.Context, projectID string) ([]domain.DatasetMeta, error)

	// PinDataset records that revision is referenced by a job and must not be rewritten.
	// The pinned revision never decreases.
	PinDataset(ctx context.Context, id string, revision int) error

	// AppendHistory stores entry. A second append with the same JobID is a no-op.
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error

	// History lists a project's entries ordered by end time.
	History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error)
}

// HistoryAppender is the narrow dependency the orchestrator has on the project store.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, projectID string, entry domain.HistoryEntry) error
}

// HistoryAppenderFunc adapts a function to HistoryAppender.
type HistoryAppenderFunc func(ctx context.Context, projectID string, entry domain.HistoryEntry) error

func (f HistoryAppenderFunc) AppendHistory(ctx context.Context, projectID string, entry domain.HistoryEntry) error {
	return f(ctx, projectID, entry)
}
