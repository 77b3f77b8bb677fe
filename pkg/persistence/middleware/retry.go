package middleware

import (
	"context"
	"time"

	"github.com/aretw0/empathyfine/internal/retry"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

type retryStore struct {
	ports.ProjectStore
	policy retry.Policy
}

// NewRetryMiddleware retries reads that fail with a retryable error. Writes pass through
// unchanged: their callers decide whether a repeat is safe.
func NewRetryMiddleware(attempts int, backoff time.Duration) Middleware {
	policy := retry.DefaultPolicy()
	policy.Attempts = attempts
	policy.Initial = backoff
	return func(next ports.ProjectStore) ports.ProjectStore {
		return &retryStore{ProjectStore: next, policy: policy}
	}
}

func read[T any](ctx context.Context, p retry.Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	_, err := retry.Do(ctx, p, domain.IsRetryable, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func (m *retryStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return read(ctx, m.policy, func(ctx context.Context) (domain.Project, error) {
		return m.ProjectStore.GetProject(ctx, id)
	})
}

func (m *retryStore) FindProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return read(ctx, m.policy, func(ctx context.Context) (domain.Project, error) {
		return m.ProjectStore.FindProjectByName(ctx, name)
	})
}

func (m *retryStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return read(ctx, m.policy, m.ProjectStore.ListProjects)
}

func (m *retryStore) Revisions(ctx context.Context, projectID string) ([]domain.ConfigurationRevision, error) {
	return read(ctx, m.policy, func(ctx context.Context) ([]domain.ConfigurationRevision, error) {
		return m.ProjectStore.Revisions(ctx, projectID)
	})
}

func (m *retryStore) GetDataset(ctx context.Context, id string) (domain.DatasetMeta, error) {
	return read(ctx, m.policy, func(ctx context.Context) (domain.DatasetMeta, error) {
		return m.ProjectStore.GetDataset(ctx, id)
	})
}

func (m *retryStore) ListDatasets(ctx context.Context, projectID string) ([]domain.DatasetMeta, error) {
	return read(ctx, m.policy, func(ctx context.Context) ([]domain.DatasetMeta, error) {
		return m.ProjectStore.ListDatasets(ctx, projectID)
	})
}

func (m *retryStore) History(ctx context.Context, projectID string) ([]domain.HistoryEntry, error) {
	return read(ctx, m.policy, func(ctx context.Context) ([]domain.HistoryEntry, error) {
		return m.ProjectStore.History(ctx, projectID)
	})
}
