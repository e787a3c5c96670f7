package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/orderflow/pkg/api"
)

// registry maps names to definitions. Registration is one-shot per name.
type registry[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]T
}

func newRegistry[T any](kind string) *registry[T] {
	return &registry[T]{
		kind:   kind,
		byName: make(map[string]T),
	}
}

func (r *registry[T]) register(name string, def T) error {
	if name == "" {
		return fmt.Errorf("%s name is required", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.byName[name] = def
	return nil
}

func (r *registry[T]) get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	return def, ok
}

func newWorkflowRegistry() *registry[api.WorkflowDefinition] {
	return newRegistry[api.WorkflowDefinition]("workflow")
}

func newActivityRegistry() *registry[api.ActivityDefinition] {
	return newRegistry[api.ActivityDefinition]("activity")
}

func validateWorkflow(def api.WorkflowDefinition) error {
	if def.Fn == nil {
		return errors.New("workflow function is required")
	}
	return nil
}

func validateActivity(def api.ActivityDefinition) error {
	if def.Fn == nil {
		return errors.New("activity function is required")
	}
	if def.Retry != nil && def.Retry.MaxAttempts < 0 {
		return fmt.Errorf("activity %q: MaxAttempts must not be negative", def.Name)
	}
	return nil
}
