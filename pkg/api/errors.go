package api

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. No instance is created.
	ErrValidation = errors.New("validation failed")

	// ErrInstanceNotFound is returned for unknown instance IDs.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrUnknownWorkflow is returned when no workflow is registered under a name.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrUnknownActivity is returned when no activity is registered under a name.
	ErrUnknownActivity = errors.New("unknown activity")

	// ErrStorageUnavailable wraps history or index failures that may succeed on retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSequenceConflict is returned by a history log when the appended
	// sequence number is not exactly one past the last stored event.
	ErrSequenceConflict = errors.New("history sequence conflict")

	// ErrNonDeterministic is returned when workflow code issues a call that
	// disagrees with the recorded history.
	ErrNonDeterministic = errors.New("non-deterministic workflow")

	// ErrSuspended is returned from activity futures once an execution can no
	// longer make durable progress. The instance stays Running.
	ErrSuspended = errors.New("workflow execution suspended")
)

// ErrorKind classifies recorded failures.
type ErrorKind string

const (
	KindBusiness         ErrorKind = "Business"
	KindRetriesExhausted ErrorKind = "RetriesExhausted"
	KindNonDeterminism   ErrorKind = "NonDeterminism"
	KindPanic            ErrorKind = "Panic"
	KindWorkflow         ErrorKind = "WorkflowError"
)

// ActivityFailure is a business-level activity failure. The workflow
// observes it as an ordinary error and decides how to compensate.
type ActivityFailure struct {
	Activity string
	Kind     ErrorKind
	Message  string
}

func (e *ActivityFailure) Error() string {
	if e.Activity == "" {
		return fmt.Sprintf("activity failed (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("activity %s failed (%s): %s", e.Activity, e.Kind, e.Message)
}

// NewActivityFailure is used by activity implementations to report a
// non-retryable business failure.
func NewActivityFailure(format string, args ...any) error {
	return &ActivityFailure{Kind: KindBusiness, Message: fmt.Sprintf(format, args...)}
}

// AsActivityFailure returns the *ActivityFailure in err's chain, if any.
func AsActivityFailure(err error) (*ActivityFailure, bool) {
	var af *ActivityFailure
	if errors.As(err, &af) {
		return af, true
	}
	return nil, false
}

// ValidationError describes why caller input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// WorkflowError is recorded when workflow code returns an error of its own.
type WorkflowError struct {
	Kind    ErrorKind
	Message string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow failed (%s): %s", e.Kind, e.Message)
}

// BusinessFailure is returned by workflow code that ends an instance as
// Failed for business reasons while still reporting a result. The engine
// records it as InstanceFailed with kind Business and Result as payload.
type BusinessFailure struct {
	Result  any
	Message string
}

func (e *BusinessFailure) Error() string {
	return "business failure: " + e.Message
}

// FailWithResult ends a workflow as Failed with the given result.
func FailWithResult(result any, format string, args ...any) error {
	return &BusinessFailure{Result: result, Message: fmt.Sprintf(format, args...)}
}
