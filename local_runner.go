package orderflow

import (
	"context"
	"errors"
	"sync"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue and a
// Worker for development, tests and demos. Nothing it records survives the
// process.
//
// Typical usage:
//
//	runner := orderflow.NewLocalRunner(nil)
//	svc, _, _, _ := orderflow.NewInMemoryServices(map[string]int{"Widget": 10})
//	_ = orderflow.RegisterOrderFulfillment(runner.Engine, svc, nil)
//
//	_ = runner.StartWorkers(ctx, 2)
//	defer runner.Stop()
//	id, _ := runner.Submit(ctx, orderflow.OrderPayload{Name: "Widget", Quantity: 1, TotalCost: 5})
type LocalRunner struct {
	// Engine enqueues every created instance on Queue.
	Engine Engine

	Queue taskqueue.Queue

	// Worker runs instances from Queue on Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var errRunnerStarted = errors.New("orderflow: LocalRunner already started")

// NewLocalRunner constructs a LocalRunner. obs may be nil.
func NewLocalRunner(obs Observer, opts ...worker.Option) *LocalRunner {
	q := taskqueue.NewInMemoryQueue(1024)
	eng := engine.NewInMemoryEngine(q, obs)

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.New(eng, q, opts...),
	}
}

// StartWorkers runs the worker with the given concurrency until Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errRunnerStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Worker.Run(ctx, concurrency)
	}()
	return nil
}

// Stop cancels the workers started by StartWorkers and waits for them to
// exit. Instances interrupted mid-run stay Running and are requeued.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Submit validates order and schedules an order saga for it.
func (r *LocalRunner) Submit(ctx context.Context, order OrderPayload) (string, error) {
	return SubmitOrder(ctx, r.Engine, order)
}

// StartAsync schedules any registered workflow.
func (r *LocalRunner) StartAsync(ctx context.Context, workflow string, input any) (string, error) {
	return r.Engine.CreateInstance(ctx, workflow, input)
}
