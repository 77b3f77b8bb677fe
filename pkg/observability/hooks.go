package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/empathyfine/pkg/domain"
)

// MergeHooks returns hooks that call every non-nil callback of hs in order.
func MergeHooks(hs ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range hs {
		out.OnTransition = chain(out.OnTransition, h.OnTransition)
		out.OnMetric = chain(out.OnMetric, h.OnMetric)
		out.OnHistory = chain(out.OnHistory, h.OnHistory)
		out.OnFault = chain(out.OnFault, h.OnFault)
	}
	return out
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}

// LoggingHooks logs every lifecycle event. Metric points are logged at debug level.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			logger.InfoContext(ctx, "job_transition",
				"job_id", e.JobID,
				"project_id", e.ProjectID,
				"from", e.From,
				"to", e.To,
			)
		},
		OnMetric: func(ctx context.Context, e *domain.MetricEvent) {
			logger.DebugContext(ctx, "job_metric",
				"job_id", e.JobID,
				"seq", e.Point.Seq,
				"epoch", e.Point.Epoch,
				"step", e.Point.Step,
				"loss", e.Point.Loss,
				"dropped", e.Dropped,
			)
		},
		OnHistory: func(ctx context.Context, e *domain.HistoryEvent) {
			logger.InfoContext(ctx, "history_appended",
				"job_id", e.JobID,
				"project_id", e.ProjectID,
				"state", e.Entry.State,
				"duration", e.Entry.Duration(),
				"attempts", e.Attempts,
			)
		},
		OnFault: func(ctx context.Context, e *domain.FaultEvent) {
			logger.ErrorContext(ctx, "fault",
				"job_id", e.JobID,
				"op", e.Op,
				"err", e.Err,
			)
		},
	}
}
