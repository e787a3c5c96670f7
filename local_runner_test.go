package orderflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
	"github.com/petrijr/orderflow/pkg/worker"
)

func newOrderRunner(t *testing.T, stock map[string]int) (*LocalRunner, *InMemoryInventory, *InMemoryNotifier) {
	t.Helper()
	runner := NewLocalRunner(nil, worker.WithRedeliveryBackoff(time.Millisecond, 5*time.Millisecond))
	svc, inv, _, note := NewInMemoryServices(stock)
	if err := RegisterOrderFulfillment(runner.Engine, svc, Retry(2).Immediate().Ptr()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return runner, inv, note
}

// TestLocalRunner_Async runs orders through the queue and worker.
func TestLocalRunner_Async(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runner, inv, note := newOrderRunner(t, map[string]int{"Widget": 3})
	if err := runner.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	id, err := runner.Submit(ctx, OrderPayload{Name: "Widget", Quantity: 2, TotalCost: 12.5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	inst, err := WaitForTerminal(ctx, runner.Engine, id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForTerminal failed: %v", err)
	}
	if inst.Status != StatusCompleted || string(inst.Result) != `{"processed":true}` {
		t.Fatalf("expected processed order, got %s %s", inst.Status, inst.Result)
	}
	if got := inv.Stock("Widget"); got != 1 {
		t.Fatalf("expected stock 1 after order, got %d", got)
	}
	if msgs := note.Messages(id); len(msgs) != 1 || msgs[0] != "Order "+id+" has completed!" {
		t.Fatalf("unexpected notifications: %v", msgs)
	}
}

func TestLocalRunner_StartAsyncUnknownWorkflow(t *testing.T) {
	runner, _, _ := newOrderRunner(t, nil)
	if _, err := runner.StartAsync(context.Background(), "Nope", nil); !errors.Is(err, api.ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
}

// An invalid order is rejected before anything is recorded.
func TestLocalRunner_SubmitRejectsInvalidOrder(t *testing.T) {
	ctx := context.Background()
	runner, _, _ := newOrderRunner(t, nil)

	_, err := runner.Submit(ctx, OrderPayload{Name: "Widget", Quantity: 0, TotalCost: 1})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	list, err := runner.Engine.ListInstances(ctx, InstanceListOptions{})
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(list) != 0 || runner.Queue.Len() != 0 {
		t.Fatalf("expected nothing recorded, got %d instances and %d tasks", len(list), runner.Queue.Len())
	}
}

// TestLocalRunner_StartWorkersTwice ensures that StartWorkers cannot be
// called twice without Stop in between.
func TestLocalRunner_StartWorkersTwice(t *testing.T) {
	runner := NewLocalRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer runner.Stop()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("first StartWorkers failed: %v", err)
	}
	if err := runner.StartWorkers(ctx, 1); err == nil {
		t.Fatalf("expected error from second StartWorkers call, got nil")
	}

	runner.Stop()
	runner.Stop()
	if err := runner.StartWorkers(ctx, 1); err != nil {
		t.Fatalf("StartWorkers after Stop failed: %v", err)
	}
}

func TestWaitForTerminal(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine(nil)
	svc, _, _, _ := NewInMemoryServices(map[string]int{"Widget": 1})
	if err := RegisterOrderFulfillment(eng, svc, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, err := SubmitOrder(ctx, eng, OrderPayload{Name: "Widget", Quantity: 1, TotalCost: 1})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if _, err := WaitForTerminal(ctx, eng, id, 0); err == nil {
		t.Fatalf("expected error for non-positive poll interval")
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := WaitForTerminal(short, eng, id, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while instance is not driven, got %v", err)
	}

	if _, err := WaitForTerminal(ctx, eng, "missing", time.Millisecond); !errors.Is(err, api.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}
