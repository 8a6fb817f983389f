package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a run failure for exit-code mapping and diagnostics.
type ErrorClass string

const (
	// ErrorClassPreflight indicates the run was rejected before any mutation.
	// Examples: exclusion group violations, policy denials, config errors.
	ErrorClassPreflight ErrorClass = "preflight"

	// ErrorClassSessionConflict indicates a session of the same name is
	// already active. The run performs no mutation.
	ErrorClassSessionConflict ErrorClass = "session-conflict"

	// ErrorClassResource indicates a resource lifecycle operation failed.
	ErrorClassResource ErrorClass = "resource"

	// ErrorClassHealthTimeout indicates a readiness gate never opened within
	// its timeout. Terminal: the run aborts without rollback.
	ErrorClassHealthTimeout ErrorClass = "health-timeout"

	// ErrorClassStage indicates a stage body failed for any other reason.
	ErrorClassStage ErrorClass = "stage"
)

// RunError represents a classified run failure with stage context.
type RunError struct {
	// Class is the error classification for exit-code mapping.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Stage is the stage that was executing when the error occurred.
	Stage string `json:"stage,omitempty"`

	// Resource is the resource key that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Stage != "" && e.Resource != "" {
		return fmt.Sprintf("[%s] %s (stage=%s, resource=%s): %s",
			e.Class, e.Message, e.Stage, e.Resource, e.unwrapMessage())
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s): %s",
			e.Class, e.Message, e.Stage, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// NewPreflightError creates an error for a rejection before any mutation.
func NewPreflightError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassPreflight,
		Message: message,
		Err:     err,
	}
}

// NewSessionConflictError creates an error for an already-active session.
func NewSessionConflictError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassSessionConflict,
		Message: message,
		Err:     err,
	}
}

// NewResourceError creates an error for a failed resource operation.
func NewResourceError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassResource,
		Message: message,
		Err:     err,
	}
}

// NewHealthTimeoutError creates an error for a readiness gate that never opened.
func NewHealthTimeoutError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassHealthTimeout,
		Message: message,
		Err:     err,
	}
}

// NewStageError creates an error for a stage body failure.
func NewStageError(message string, err error) *RunError {
	return &RunError{
		Class:   ErrorClassStage,
		Message: message,
		Err:     err,
	}
}

// WithStage adds stage context to an error.
func (e *RunError) WithStage(stage string) *RunError {
	e.Stage = stage
	return e
}

// WithResource adds resource context to an error.
func (e *RunError) WithResource(key string) *RunError {
	e.Resource = key
	return e
}

// IsPreflight returns true if the error is classified as a preflight rejection.
func IsPreflight(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPreflight
	}
	return false
}

// IsSessionConflict returns true if the error is a session conflict.
func IsSessionConflict(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSessionConflict
	}
	return false
}

// IsHealthTimeout returns true if the error is a health gate timeout.
func IsHealthTimeout(err error) bool {
	var e *RunError
	if errors.As(err, &e) {
		return e.Class == ErrorClassHealthTimeout
	}
	return false
}

// ExitCode maps an error to the process exit code. Preflight rejections and
// session conflicts never mutated the host and get distinct codes so callers
// can retry without a teardown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *RunError
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Class {
	case ErrorClassPreflight:
		return 2
	case ErrorClassSessionConflict:
		return 3
	case ErrorClassResource:
		return 4
	case ErrorClassHealthTimeout:
		return 5
	default:
		return 1
	}
}
