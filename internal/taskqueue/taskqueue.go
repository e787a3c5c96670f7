package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeRunInstance asks a worker to replay an instance and drive it
	// forward.
	TaskTypeRunInstance TaskType = "run-instance"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	InstanceID string

	// Attempts counts earlier deliveries of the same work that ended
	// suspended.
	Attempts int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time
}

// NewRunInstanceTask returns a task that asks a worker to run instanceID.
func NewRunInstanceTask(instanceID string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       TaskTypeRunInstance,
		InstanceID: instanceID,
		EnqueuedAt: time.Now(),
	}
}

// Delay returns how long the task must still wait at now.
func (t Task) Delay(now time.Time) time.Duration {
	if t.NotBefore.IsZero() || !t.NotBefore.After(now) {
		return 0
	}
	return t.NotBefore.Sub(now)
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled. A task is not returned before
	// its NotBefore, and a waiting delayed task never holds back an eligible
	// one.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// notBefore returns the stored eligibility time of t in unix nanos.
func notBefore(t Task, now time.Time) int64 {
	if t.NotBefore.IsZero() {
		return now.UnixNano()
	}
	return t.NotBefore.UnixNano()
}

// pollTimer returns a stopped timer that idle polling loops can Reset.
func pollTimer() *time.Timer {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	return tmr
}

// waitPoll blocks for d or until ctx is done.
func waitPoll(ctx context.Context, tmr *time.Timer, d time.Duration) error {
	tmr.Reset(d)
	select {
	case <-ctx.Done():
		tmr.Stop()
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
