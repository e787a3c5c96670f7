package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/orderflow/pkg/api"
)

// HistoryLog is the durable, append-only record of every instance.
type HistoryLog interface {
	// Append durably stores ev. ev.Seq must be exactly one past the newest
	// stored event of ev.InstanceID (1 for the first event); otherwise
	// api.ErrSequenceConflict is returned and nothing is written.
	// Infrastructure failures wrap api.ErrStorageUnavailable.
	Append(ctx context.Context, ev api.HistoryEvent) error

	// Read returns all events of an instance ordered by Seq. An unknown
	// instance yields an empty slice.
	Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error)
}

func validateEvent(ev api.HistoryEvent) error {
	if ev.InstanceID == "" {
		return errMissingInstanceID
	}
	if ev.Seq < 1 {
		return fmt.Errorf("invalid seq %d for instance %s", ev.Seq, ev.InstanceID)
	}
	if ev.Type == "" {
		return errors.New("event type is required")
	}
	if ev.Seq == 1 && ev.Type != api.EventInstanceCreated {
		return fmt.Errorf("first event of %s must be %s, got %s", ev.InstanceID, api.EventInstanceCreated, ev.Type)
	}
	return nil
}
