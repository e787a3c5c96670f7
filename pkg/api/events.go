package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies a history event.
type EventType string

const (
	EventInstanceCreated   EventType = "InstanceCreated"
	EventActivityScheduled EventType = "ActivityScheduled"
	EventActivityCompleted EventType = "ActivityCompleted"
	EventActivityFailed    EventType = "ActivityFailed"
	EventInstanceCompleted EventType = "InstanceCompleted"
	EventInstanceFailed    EventType = "InstanceFailed"
)

// IsTerminal reports whether the event ends an instance's history.
func (t EventType) IsTerminal() bool {
	return t == EventInstanceCompleted || t == EventInstanceFailed
}

// IsActivityOutcome reports whether the event resolves an activity call.
func (t EventType) IsActivityOutcome() bool {
	return t == EventActivityCompleted || t == EventActivityFailed
}

// HistoryEvent is one immutable record in an instance's append-only log.
//
// Seq is the log position: 1 for InstanceCreated, then strictly increasing
// without gaps. ActivityCall is the 0-based ordinal of the activity call in
// workflow code and correlates Scheduled with Completed/Failed.
type HistoryEvent struct {
	InstanceID   string          `json:"instanceId"`
	Seq          int64           `json:"seq"`
	Type         EventType       `json:"type"`
	At           time.Time       `json:"at"`
	Workflow     string          `json:"workflow,omitempty"`
	ActivityName string          `json:"activityName,omitempty"`
	ActivityCall int             `json:"activityCall"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorKind    ErrorKind       `json:"errorKind,omitempty"`
	Error        string          `json:"error,omitempty"`
}

var errEmptyHistory = errors.New("empty history")

// Project folds an ordered history into the instance state it implies.
// The status index is a cache of this projection.
func Project(events []HistoryEvent) (*WorkflowInstance, error) {
	if len(events) == 0 {
		return nil, errEmptyHistory
	}
	first := events[0]
	if first.Type != EventInstanceCreated || first.Seq != 1 {
		return nil, fmt.Errorf("history for %s must start with %s at seq 1, got %s at %d",
			first.InstanceID, EventInstanceCreated, first.Type, first.Seq)
	}

	inst := &WorkflowInstance{
		ID:        first.InstanceID,
		Workflow:  first.Workflow,
		Status:    StatusRunning,
		Input:     cloneRaw(first.Payload),
		CreatedAt: first.At,
		UpdatedAt: first.At,
		LastSeq:   first.Seq,
	}

	for i, ev := range events[1:] {
		if want := int64(i + 2); ev.Seq != want {
			return nil, fmt.Errorf("history for %s has gap: want seq %d, got %d", inst.ID, want, ev.Seq)
		}
		if inst.Status.IsTerminal() {
			return nil, fmt.Errorf("history for %s continues after terminal event at seq %d", inst.ID, inst.LastSeq)
		}
		switch ev.Type {
		case EventInstanceCompleted:
			inst.Status = StatusCompleted
			inst.Result = cloneRaw(ev.Payload)
		case EventInstanceFailed:
			inst.Status = StatusFailed
			inst.Result = cloneRaw(ev.Payload)
			inst.Error = ev.Error
			inst.ErrorKind = ev.ErrorKind
		}
		inst.LastSeq = ev.Seq
		inst.UpdatedAt = ev.At
	}
	return inst, nil
}
