package api

import (
	"context"
)

// Engine is the orchestration instance manager.
type Engine interface {
	// RegisterWorkflow registers a workflow definition by name.
	RegisterWorkflow(def WorkflowDefinition) error

	// RegisterActivity registers an activity definition by name.
	RegisterActivity(def ActivityDefinition) error

	// CreateInstance durably records a new instance with the given input,
	// schedules it for execution and returns its ID without waiting. An
	// error means no instance was recorded. Once InstanceCreated is durable
	// the ID is returned even if scheduling failed; such instances are
	// picked up by RescheduleStranded or RecoverInstances.
	CreateInstance(ctx context.Context, workflow string, input any) (string, error)

	// GetStatus returns the status index view of an instance.
	// Returns ErrInstanceNotFound for unknown IDs.
	GetStatus(ctx context.Context, id string) (*WorkflowInstance, error)

	// RunInstance replays the instance history and drives it forward until
	// it terminates or can no longer make durable progress.
	RunInstance(ctx context.Context, id string) (*WorkflowInstance, error)

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)

	// History returns the full ordered history of an instance.
	History(ctx context.Context, id string) ([]HistoryEvent, error)

	// RecoverInstances schedules every instance still marked Running so that
	// it resumes by replay. Intended to be called on process startup.
	//
	// It returns the number of instances it scheduled.
	RecoverInstances(ctx context.Context) (int, error)

	// RescheduleStranded retries scheduling for instances this engine
	// created but could not enqueue. It returns the number scheduled.
	RescheduleStranded(ctx context.Context) (int, error)
}

// InstanceRunner is the part of Engine that workers depend on.
type InstanceRunner interface {
	RunInstance(ctx context.Context, id string) (*WorkflowInstance, error)
}

// StatusReader is the read-only part of Engine used by the trigger gateway.
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (*WorkflowInstance, error)
	History(ctx context.Context, id string) ([]HistoryEvent, error)
}
