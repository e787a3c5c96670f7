package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// IsTerminal reports whether no further events can follow this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WorkflowInstance is the status index view of one orchestration instance.
// It is always derivable from the instance history (see Project).
type WorkflowInstance struct {
	ID       string
	Workflow string
	Status   Status

	// Input is the JSON-encoded input recorded in InstanceCreated.
	Input json.RawMessage

	// Result is set once the instance reaches StatusCompleted, and on
	// StatusFailed when the workflow failed with a BusinessFailure.
	Result json.RawMessage

	// Error and ErrorKind are set once the instance reaches StatusFailed.
	Error     string
	ErrorKind ErrorKind

	// LastSeq is the sequence number of the newest history event reflected
	// in this snapshot.
	LastSeq int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can hand snapshots out safely.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Input = cloneRaw(w.Input)
	cp.Result = cloneRaw(w.Result)
	return &cp
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	Workflow string
	Status   Status
}

// RetryPolicy controls how an activity is retried when it returns a fault.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry. BackoffMultiplier
// defaults to 2.0 and MaxBackoff caps the delay when > 0.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// WorkflowFunc is the body of an orchestration. It must be deterministic:
// all side effects go through WorkflowContext.ScheduleActivity.
type WorkflowFunc func(wctx WorkflowContext, input json.RawMessage) (any, error)

// WorkflowDefinition names a workflow function.
type WorkflowDefinition struct {
	Name string
	Fn   WorkflowFunc
}

// ActivityFunc performs one side-effecting call. Returning an
// *ActivityFailure reports a business failure that is recorded without
// retries; any other error is a fault and is retried per Retry.
type ActivityFunc func(ctx context.Context, request json.RawMessage) (any, error)

// ActivityDefinition names an activity function together with its retry policy.
type ActivityDefinition struct {
	Name  string
	Fn    ActivityFunc
	Retry *RetryPolicy
}

// WorkflowContext is handed to workflow code by the replay executor.
type WorkflowContext interface {
	// InstanceID is the ID of the running instance.
	InstanceID() string

	// WorkflowName is the registered name of the running workflow.
	WorkflowName() string

	// IsReplaying is true while the executor is resolving calls that are
	// already in the history.
	IsReplaying() bool

	// Logger returns a logger that discards everything while replaying so
	// each message is emitted once per logical execution.
	Logger() *zap.Logger

	// ScheduleActivity records or replays a call to the named activity.
	ScheduleActivity(name string, request any) Future
}

// Future is the handle to an activity outcome.
type Future interface {
	// Get decodes the activity result into out (which may be nil), or
	// returns the recorded *ActivityFailure.
	Get(out any) error
}

// ExecuteActivity schedules an activity and waits for its typed result.
func ExecuteActivity[Res any](wctx WorkflowContext, name string, request any) (Res, error) {
	var res Res
	err := wctx.ScheduleActivity(name, request).Get(&res)
	return res, err
}

// NewWorkflow adapts a typed workflow function to a WorkflowDefinition.
func NewWorkflow[In, Out any](name string, fn func(wctx WorkflowContext, input In) (Out, error)) WorkflowDefinition {
	return WorkflowDefinition{
		Name: name,
		Fn: func(wctx WorkflowContext, raw json.RawMessage) (any, error) {
			var in In
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("decode %s input: %w", name, err)
				}
			}
			return fn(wctx, in)
		},
	}
}

// NewActivity adapts a typed activity function to an ActivityDefinition.
func NewActivity[Req, Res any](name string, fn func(ctx context.Context, req Req) (Res, error)) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Fn: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var req Req
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &req); err != nil {
					return nil, &ActivityFailure{
						Activity: name,
						Kind:     KindBusiness,
						Message:  "decode request: " + err.Error(),
					}
				}
			}
			return fn(ctx, req)
		},
	}
}

// WithRetry returns a copy of the definition using the given retry policy.
func (d ActivityDefinition) WithRetry(p RetryPolicy) ActivityDefinition {
	d.Retry = &p
	return d
}
