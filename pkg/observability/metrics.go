package observability

import (
	"context"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "empathyfine"

// Metrics holds the Prometheus collectors fed by orchestrator hooks.
type Metrics struct {
	live        *prometheus.GaugeVec
	finished    *prometheus.CounterVec
	points      prometheus.Counter
	dropped     prometheus.Counter
	loss        *prometheus.GaugeVec
	recorded    prometheus.Counter
	attempts    prometheus.Histogram
	duration    *prometheus.HistogramVec
	faults      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Jobs currently pending or running.",
		}, []string{"state"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "State transitions by target state.",
		}, []string{"to"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_points_total",
			Help:      "Metric points published by running jobs.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_points_dropped_total",
			Help:      "Metric points discarded for slow subscribers.",
		}),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_loss",
			Help:      "Latest reported loss per project.",
		}, []string{"project_id"}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_entries_total",
			Help:      "History entries appended.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_append_attempts",
			Help:      "Attempts needed to append a history entry.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time jobs spent running, by terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"state"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Infrastructure failures that exhausted their retries.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{
		m.live, m.finished, m.transitions, m.points, m.dropped,
		m.loss, m.recorded, m.attempts, m.duration, m.faults,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns callbacks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.transitions.WithLabelValues(string(e.To)).Inc()
			if e.From != "" {
				m.live.WithLabelValues(string(e.From)).Dec()
			}
			if e.To.Terminal() {
				m.finished.WithLabelValues(string(e.To)).Inc()
			} else {
				m.live.WithLabelValues(string(e.To)).Inc()
			}
		},
		OnMetric: func(_ context.Context, e *domain.MetricEvent) {
			m.points.Inc()
			m.dropped.Add(float64(e.Dropped))
			m.loss.WithLabelValues(e.ProjectID).Set(e.Point.Loss)
		},
		OnHistory: func(_ context.Context, e *domain.HistoryEvent) {
			m.recorded.Inc()
			m.attempts.Observe(float64(e.Attempts))
			if !e.Entry.StartedAt.IsZero() {
				m.duration.WithLabelValues(string(e.Entry.State)).Observe(e.Entry.Duration().Seconds())
			}
		},
		OnFault: func(_ context.Context, e *domain.FaultEvent) {
			m.faults.WithLabelValues(e.Op).Inc()
		},
	}
}
