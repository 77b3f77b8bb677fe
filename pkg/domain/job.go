package domain

import (
	"maps"
	"slices"
	"time"
)

// TrainingConfiguration is the immutable snapshot a job runs against.
type TrainingConfiguration struct {
	ProjectID      string        `json:"project_id"`
	ProjectName    string        `json:"project_name,omitempty"`
	BaseModel      string        `json:"base_model"`
	Framework      Framework     `json:"framework"`
	WorkspacePath  string        `json:"workspace_path,omitempty"`
	ConfigRevision int           `json:"config_revision"`
	Configuration  Configuration `json:"configuration"`
	Dataset        DatasetRef    `json:"dataset"`
}

// Clone deep-copies the configuration map.
func (c TrainingConfiguration) Clone() TrainingConfiguration {
	c.Configuration = c.Configuration.Clone()
	return c
}

// Validate checks the fields every trainer relies on.
func (c TrainingConfiguration) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "training configuration has no project")
	}
	h, err := c.Configuration.Hyperparameters()
	if err != nil {
		return err
	}
	return h.Validate()
}

// MetricPoint is one progress sample. Seq is strictly increasing per job, starting at 1.
type MetricPoint struct {
	JobID     string    `json:"job_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Epoch     int       `json:"epoch"`
	Step      int       `json:"step"`
	Loss      float64   `json:"loss"`
	Values    Metrics   `json:"values,omitempty"`
}

// Sample is a generated response a trainer hands back for scoring.
type Sample struct {
	Prompt    string  `json:"prompt"`
	Response  string  `json:"response"`
	Emotion   Emotion `json:"emotion,omitempty"`
	Intensity int     `json:"intensity,omitempty"`
}

// Result is what a trainer returns on success.
type Result struct {
	Metrics  Metrics  `json:"metrics,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
	Samples  []Sample `json:"samples,omitempty"`
}

// JobError describes why a job ended Failed or was forcibly Cancelled.
type JobError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Job is a point-in-time view of one training run.
type Job struct {
	ID          string                `json:"id"`
	ProjectID   string                `json:"project_id"`
	Config      TrainingConfiguration `json:"config"`
	State       JobState              `json:"state"`
	Path        []JobState            `json:"path"`
	Metrics     []MetricPoint         `json:"metrics"`
	Result      *Result               `json:"result,omitempty"`
	Error       *JobError             `json:"error,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
	StartedAt   time.Time             `json:"started_at,omitzero"`
	EndedAt     time.Time             `json:"ended_at,omitzero"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Recorded is set once the history entry was durably appended.
	Recorded bool `json:"recorded,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	j.Config = j.Config.Clone()
	j.Path = slices.Clone(j.Path)
	j.Metrics = slices.Clone(j.Metrics)
	if j.Result != nil {
		r := *j.Result
		r.Metrics = maps.Clone(r.Metrics)
		r.Samples = slices.Clone(r.Samples)
		j.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	return j
}

// HistoryEntry is the immutable record of a terminal job.
type HistoryEntry struct {
	JobID          string     `json:"job_id"`
	ProjectID      string     `json:"project_id"`
	State          JobState   `json:"state"`
	ConfigRevision int        `json:"config_revision"`
	Dataset        DatasetRef `json:"dataset"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      time.Time  `json:"started_at,omitzero"`
	EndedAt        time.Time  `json:"ended_at"`
	MetricCount    int        `json:"metric_count"`
	FinalMetrics   Metrics    `json:"final_metrics,omitempty"`
	Summary        Metrics    `json:"summary,omitempty"`
	Artifact       string     `json:"artifact,omitempty"`
	ErrorKind      Kind       `json:"error_kind,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Duration is the wall time spent Running, zero for jobs cancelled while Pending.
func (h HistoryEntry) Duration() time.Duration {
	if h.StartedAt.IsZero() {
		return 0
	}
	return h.EndedAt.Sub(h.StartedAt)
}

// Checkpoint is a non-authoritative snapshot of a running job's progress.
type Checkpoint struct {
	JobID     string      `json:"job_id"`
	ProjectID string      `json:"project_id"`
	State     JobState    `json:"state"`
	LastPoint MetricPoint `json:"last_point"`
	SavedAt   time.Time   `json:"saved_at"`
}
