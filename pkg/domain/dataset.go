package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Format is an on-disk dataset encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat accepts "jsonl", "json" (as JSON Lines) and "csv".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "jsonl", "json", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", Errorf(KindUnsupportedFormat, "format %q", s)
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Example is one conversational training pair.
// Malformed source records are kept with ParseError set so indexes stay aligned with the file.
type Example struct {
	Prompt     string  `json:"prompt"`
	Response   string  `json:"response"`
	Emotion    Emotion `json:"emotion,omitempty"`
	Intensity  *int    `json:"intensity,omitempty"`
	ParseError string  `json:"parse_error,omitempty"`
}

// IntensityValue returns the intensity or 0 when absent.
func (e Example) IntensityValue() int {
	if e.Intensity == nil {
		return 0
	}
	return *e.Intensity
}

// Clone deep-copies the optional fields.
func (e Example) Clone() Example {
	if e.Intensity != nil {
		v := *e.Intensity
		e.Intensity = &v
	}
	return e
}

// Dataset is an ordered sequence of examples belonging to one project.
// Revision increases whenever the examples change after a job pinned the previous revision.
type Dataset struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id"`
	Name       string           `json:"name"`
	SourcePath string           `json:"source_path"`
	Format     Format           `json:"format"`
	Revision   int              `json:"revision"`
	Digest     string           `json:"digest"`
	Examples   []Example        `json:"examples"`
	Report     ValidationReport `json:"report"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	// PinnedRevision is the highest revision referenced by a submitted job.
	PinnedRevision int `json:"pinned_revision"`
}

// Meta returns the persisted metadata of ds.
func (ds *Dataset) Meta() DatasetMeta {
	return DatasetMeta{
		ID:             ds.ID,
		ProjectID:      ds.ProjectID,
		Name:           ds.Name,
		SourcePath:     ds.SourcePath,
		Format:         ds.Format,
		Revision:       ds.Revision,
		PinnedRevision: ds.PinnedRevision,
		Digest:         ds.Digest,
		ExampleCount:   ds.Report.Total,
		ValidCount:     ds.Report.Valid,
		InvalidCount:   ds.Report.Invalid,
		CreatedAt:      ds.CreatedAt,
		UpdatedAt:      ds.UpdatedAt,
	}
}

// Pinned reports whether the current revision is referenced by a job.
func (ds *Dataset) Pinned() bool {
	return ds.PinnedRevision >= ds.Revision
}

// DatasetMeta is what the project store keeps; examples live in an ExampleStore.
type DatasetMeta struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	SourcePath     string    `json:"source_path"`
	Format         Format    `json:"format"`
	Revision       int       `json:"revision"`
	PinnedRevision int       `json:"pinned_revision"`
	Digest         string    `json:"digest"`
	ExampleCount   int       `json:"example_count"`
	ValidCount     int       `json:"valid_count"`
	InvalidCount   int       `json:"invalid_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DatasetRef points at one immutable dataset revision.
type DatasetRef struct {
	ID       string `json:"id"`
	Revision int    `json:"revision"`
	Digest   string `json:"digest"`
	// Path is the payload file trainers read examples from.
	Path         string `json:"path,omitempty"`
	ExampleCount int    `json:"example_count"`
}

// FailureKind names the validation rule an example violated.
type FailureKind string

const (
	FailureMalformed        FailureKind = "malformed"
	FailureMissingPrompt    FailureKind = "missing_prompt"
	FailureMissingResponse  FailureKind = "missing_response"
	FailureInvalidEmotion   FailureKind = "invalid_emotion"
	FailureInvalidIntensity FailureKind = "invalid_intensity"
	FailureResponseTooLong  FailureKind = "response_too_long"
)

// ValidationFailure is one violated rule for the example at Index.
type ValidationFailure struct {
	Index  int         `json:"index"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// ValidationReport is fully derived from a dataset's examples.
type ValidationReport struct {
	Total    int                 `json:"total"`
	Valid    int                 `json:"valid"`
	Invalid  int                 `json:"invalid"`
	Failures []ValidationFailure `json:"failures"`
	// EmotionCounts counts tagged valid examples per label.
	EmotionCounts map[Emotion]int `json:"emotion_counts"`
}

// FailuresAt returns the failures recorded for one example.
func (r ValidationReport) FailuresAt(index int) []ValidationFailure {
	var out []ValidationFailure
	for _, f := range r.Failures {
		if f.Index == index {
			out = append(out, f)
		}
	}
	return out
}
