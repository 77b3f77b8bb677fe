package domain

import "strings"

// JobState is the lifecycle position of a training job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ParseJobState is the inverse of String for persisted values.
func ParseJobState(s string) (JobState, error) {
	st := JobState(strings.ToLower(s))
	switch st {
	case JobPending, JobRunning, JobSucceeded, JobFailed, JobCancelled:
		return st, nil
	}
	return "", Errorf(KindValidation, "unknown job state %q", s)
}

func (s JobState) String() string { return string(s) }
