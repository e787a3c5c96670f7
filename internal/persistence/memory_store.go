package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/orderflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// HistoryLog and InstanceStore backed by maps.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]api.HistoryEvent
	instances map[string]*api.WorkflowInstance
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:    make(map[string][]api.HistoryEvent),
		instances: make(map[string]*api.WorkflowInstance),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ HistoryLog = (*InMemoryStore)(nil)

var _ InstanceStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Append(ctx context.Context, ev api.HistoryEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.events[ev.InstanceID]
	last := int64(len(log))
	if ev.Seq != last+1 {
		return sequenceConflict(ev.InstanceID, ev.Seq, last)
	}

	rec := toEventRecord(ev)
	s.events[ev.InstanceID] = append(log, rec.event())
	return nil
}

func (s *InMemoryStore) Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.events[instanceID]
	out := make([]api.HistoryEvent, len(log))
	copy(out, log)
	return out, nil
}

func (s *InMemoryStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ID == "" {
		return errMissingInstanceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.instances[inst.ID]; ok && cur.LastSeq > inst.LastSeq {
		return nil
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowInstance

	for _, inst := range s.instances {
		if !filter.matches(inst) {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
