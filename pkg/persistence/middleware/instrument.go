package middleware

import (
	"context"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// NewStoreDurations creates the histogram Instrument observes into.
func NewStoreDurations() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "empathyfine",
		Name:      "store_operation_duration_seconds",
		Help:      "Duration of project store operations by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "outcome"})
}

type instrumentedStore struct {
	next      ports.ProjectStore
	durations *prometheus.HistogramVec
}

// NewInstrumentMiddleware times every store call. The outcome label is "ok" or the
// error kind.
func NewInstrumentMiddleware(durations *prometheus.HistogramVec) Middleware {
	return func(next ports.ProjectStore) ports.ProjectStore {
		return &instrumentedStore{next: next, durations: durations}
	}
}

func (m *instrumentedStore) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.durations.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *instrumentedStore) CreateProject(ctx context.Context, p domain.Project, initial domain.Configuration) (err error) {
	defer func(start time.Time) { m.observe("create_project", start, err) }(time.Now())
	return m.next.CreateProject(ctx, p, initial)
}

func (m *instrumentedStore) GetProject(ctx context.Context, id string) (_ domain.Project, err error) {
	defer func(start time.Time) { m.observe("get_project", start, err) }(time.Now())
	return m.next.GetProject(ctx, id)
}

func (m *instrumentedStore) FindProjectByName(ctx context.Context, name string) (_ domain.Project, err error) {
	defer func(start time.Time) { m.observe("find_project", start, err) }(time.Now())
	return m.next.FindProjectByName(ctx, name)
}

func (m *instrumentedStore) ListProjects(ctx context.Context) (_ []domain.Project, err error) {
	defer func(start time.Time) { m.observe("list_projects", start, err) }(time.Now())
	return m.next.ListProjects(ctx)
}

func (m *instrumentedStore) DeleteProject(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { m.observe("delete_project", start, err) }(time.Now())
	return m.next.DeleteProject(ctx, id)
}

func (m *instrumentedStore) AppendRevision(ctx context.Context, projectID string, cfg domain.Configuration, at time.Time) (_ domain.ConfigurationRevision, err error) {
	defer func(start time.Time) { m.observe("append_revision", start, err) }(time.Now())
	return m.next.AppendRevision(ctx, projectID, cfg, at)
}

func (m *instrumentedStore) Revisions(ctx context.Context, projectID string) (_ []domain.ConfigurationRevision, err error) {
	defer func(start time.Time) { m.observe("revisions", start, err) }(time.Now())
	return m.next.Revisions(ctx, projectID)
}

func (m *instrumentedStore) SaveDataset(ctx context.Context, meta domain.DatasetMeta) (err error) {
	defer func(start time.Time) { m.observe("save_dataset", start, err) }(time.Now())
	return m.next.SaveDataset(ctx, meta)
}

func (m *instrumentedStore) GetDataset(ctx context.Context, id string) (_ domain.DatasetMeta, err error) {
	defer func(start time.Time) { m.observe("get_dataset", start, err) }(time.Now())
	return m.next.GetDataset(ctx, id)
}

func (m *instrumentedStore) ListDatasets(ctx context.Context, projectID string) (_ []domain.DatasetMeta, err error) {
	defer func(start time.Time) { m.observe("list_datasets", start, err) }(time.Now())
	return m.next.ListDatasets(ctx, projectID)
}

func (m *instrumentedStore) PinDataset(ctx context.Context, id string, revision int) (err error) {
	defer func(start time.Time) { m.observe("pin_dataset", start, err) }(time.Now())
	return m.next.PinDataset(ctx, id, revision)
}

func (m *instrumentedStore) AppendHistory(ctx context.Context, entry domain.HistoryEntry) (err error) {
	defer func(start time.Time) { m.observe("append_history", start, err) }(time.Now())
	return m.next.AppendHistory(ctx, entry)
}

func (m *instrumentedStore) History(ctx context.Context, projectID string) (_ []domain.HistoryEntry, err error) {
	defer func(start time.Time) { m.observe("history", start, err) }(time.Now())
	return m.next.History(ctx, projectID)
}
