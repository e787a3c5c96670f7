package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/orderflow/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = api.ErrInstanceNotFound

	errMissingInstanceID = errors.New("instance id is required")
)

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Workflow string
	Status   api.Status
}

func (f InstanceFilter) matches(inst *api.WorkflowInstance) bool {
	if f.Workflow != "" && inst.Workflow != f.Workflow {
		return false
	}
	if f.Status != "" && inst.Status != f.Status {
		return false
	}
	return true
}

// InstanceStore is the status index: one row per instance, derived from the
// history log.
type InstanceStore interface {
	// SaveInstance creates or replaces the index entry for inst.ID. A write
	// whose LastSeq is older than the stored entry is ignored, so a slow
	// writer can never move an instance backwards.
	SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error

	// GetInstance returns ErrInstanceNotFound for unknown IDs.
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)

	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error)
}

// unavailable marks err as a retryable infrastructure failure.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, api.ErrStorageUnavailable, err)
}

func sequenceConflict(instanceID string, seq, last int64) error {
	return fmt.Errorf("%w: instance %s append seq %d after %d", api.ErrSequenceConflict, instanceID, seq, last)
}
