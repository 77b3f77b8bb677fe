package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTransition EventType = "job_transition"
	EventMetric     EventType = "job_metric"
	EventHistory    EventType = "history_appended"
	EventFault      EventType = "fault"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
}

// TransitionEvent is emitted after a job changes state.
type TransitionEvent struct {
	EventBase
	From JobState `json:"from,omitempty"`
	To   JobState `json:"to"`
}

// MetricEvent is emitted for every published metric point.
type MetricEvent struct {
	EventBase
	Point MetricPoint `json:"point"`
	// Dropped is the number of points discarded for slow subscribers on this publish.
	Dropped int `json:"dropped,omitempty"`
}

// HistoryEvent is emitted once a terminal job's history entry was appended.
type HistoryEvent struct {
	EventBase
	Entry    HistoryEntry `json:"entry"`
	Attempts int          `json:"attempts"`
}

// FaultEvent reports an infrastructure failure that outlived its retries.
// It is distinct from a job ending Failed.
type FaultEvent struct {
	EventBase
	Op  string `json:"op"`
	Err error  `json:"-"`
}

// LifecycleHooks defines callbacks for orchestration observability.
// Hooks run outside internal locks and must not block for long.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
	OnMetric     func(context.Context, *MetricEvent)
	OnHistory    func(context.Context, *HistoryEvent)
	OnFault      func(context.Context, *FaultEvent)
}
