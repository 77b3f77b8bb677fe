package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch without string matching.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindDuplicateName        Kind = "duplicate_name"
	KindInvalidPath          Kind = "invalid_path"
	KindConcurrencyLimit     Kind = "concurrency_limit_exceeded"
	KindAlreadyTerminal      Kind = "already_terminal"
	KindIndexOutOfRange      Kind = "index_out_of_range"
	KindInvalidEmotion       Kind = "invalid_emotion"
	KindInvalidIntensity     Kind = "invalid_intensity"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindUnsupportedFormat    Kind = "unsupported_format"
	KindUnreadableFile       Kind = "unreadable_file"
	KindIllegalTransition    Kind = "illegal_transition"
	KindTrainer              Kind = "trainer_error"
	KindInfrastructure       Kind = "infrastructure_error"
	KindClosed               Kind = "closed"
)

var (
	// ErrValidation is returned when an argument fails basic validation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a project, dataset or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a project name is already taken in the workspace.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrInvalidPath is returned when a workspace path cannot be created or written.
	ErrInvalidPath = errors.New("invalid path")
	// ErrConcurrencyLimit is returned when a submission exceeds the plan's quota.
	ErrConcurrencyLimit = errors.New("concurrency limit exceeded")
	// ErrAlreadyTerminal is returned when cancelling a job that already finished.
	ErrAlreadyTerminal = errors.New("job already terminal")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidEmotion  = errors.New("invalid emotion")
	// ErrInvalidIntensity is returned for intensities outside [MinIntensity, MaxIntensity].
	ErrInvalidIntensity     = errors.New("invalid intensity")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrUnreadableFile       = errors.New("unreadable file")
	// ErrIllegalTransition is returned when a job state change is not in the transition table.
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrTrainer           = errors.New("trainer error")
	// ErrInfrastructure wraps storage and I/O failures that may succeed on retry.
	ErrInfrastructure = errors.New("infrastructure error")
	// ErrClosed is returned by components that no longer accept work.
	ErrClosed = errors.New("closed")
)

var sentinels = map[Kind]error{
	KindValidation:           ErrValidation,
	KindNotFound:             ErrNotFound,
	KindDuplicateName:        ErrDuplicateName,
	KindInvalidPath:          ErrInvalidPath,
	KindConcurrencyLimit:     ErrConcurrencyLimit,
	KindAlreadyTerminal:      ErrAlreadyTerminal,
	KindIndexOutOfRange:      ErrIndexOutOfRange,
	KindInvalidEmotion:       ErrInvalidEmotion,
	KindInvalidIntensity:     ErrInvalidIntensity,
	KindInvalidConfiguration: ErrInvalidConfiguration,
	KindUnsupportedFormat:    ErrUnsupportedFormat,
	KindUnreadableFile:       ErrUnreadableFile,
	KindIllegalTransition:    ErrIllegalTransition,
	KindTrainer:              ErrTrainer,
	KindInfrastructure:       ErrInfrastructure,
	KindClosed:               ErrClosed,
}

// Error is the typed error returned across component boundaries.
// It matches the sentinel of its Kind with errors.Is.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Errorf builds an *Error with a formatted reason.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity, e.g. NotFound("project", id).
func NotFound(what, id string) *Error {
	return Errorf(KindNotFound, "%s %q", what, id)
}

// Infrastructure wraps a storage or I/O failure.
func Infrastructure(op string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Reason: op, Err: err}
}

// KindOf extracts the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return ""
}

// IsRetryable reports whether err may succeed if attempted again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindInfrastructure, KindConcurrencyLimit:
		return true
	}
	return false
}
