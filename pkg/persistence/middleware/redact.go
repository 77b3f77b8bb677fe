package middleware

import (
	"context"
	"regexp"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
)

// Masked replaces redacted configuration values.
const Masked = "***"

// DefaultSecretPatterns match configuration keys that commonly hold credentials.
var DefaultSecretPatterns = []string{`(?i)api[_-]?key`, `(?i)token`, `(?i)secret`, `(?i)password`}

type redactStore struct {
	ports.ProjectStore
	patterns []*regexp.Regexp
}

// NewRedactMiddleware masks configuration values whose keys match any pattern before
// they are persisted. Revisions are immutable, so a secret stored once would stay forever.
func NewRedactMiddleware(patterns []string) Middleware {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return func(next ports.ProjectStore) ports.ProjectStore {
		return &redactStore{ProjectStore: next, patterns: compiled}
	}
}

func (m *redactStore) CreateProject(ctx context.Context, p domain.Project, initial domain.Configuration) error {
	return m.ProjectStore.CreateProject(ctx, p, m.mask(initial))
}

func (m *redactStore) AppendRevision(ctx context.Context, projectID string, cfg domain.Configuration, at time.Time) (domain.ConfigurationRevision, error) {
	return m.ProjectStore.AppendRevision(ctx, projectID, m.mask(cfg), at)
}

func (m *redactStore) mask(cfg domain.Configuration) domain.Configuration {
	out := deepCopyMap(cfg)
	maskMap(out, m.patterns)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(sub)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			maskMap(sub, patterns)
			continue
		}
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Masked
				break
			}
		}
	}
}
