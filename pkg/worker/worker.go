package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
)

const (
	defaultMaxRedeliveries = 10
	defaultRetryInitial    = 200 * time.Millisecond
	defaultRetryMax        = 30 * time.Second
	dequeueErrorDelay      = 100 * time.Millisecond
	requeueTimeout         = 5 * time.Second
)

// Worker pulls run-instance tasks from a Queue and drives the instances
// forward using an InstanceRunner.
type Worker struct {
	runner api.InstanceRunner
	queue  taskqueue.Queue
	logger *zap.Logger

	maxRedeliveries int
	retryInitial    time.Duration
	retryMax        time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithMaxRedeliveries bounds how many times a suspended run is put back on
// the queue. Instances that are still Running afterwards are picked up by
// the next RecoverInstances.
func WithMaxRedeliveries(n int) Option {
	return func(w *Worker) { w.maxRedeliveries = n }
}

// WithRedeliveryBackoff sets the delay schedule between redeliveries.
func WithRedeliveryBackoff(initial, max time.Duration) Option {
	return func(w *Worker) {
		w.retryInitial = initial
		w.retryMax = max
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a new Worker.
func New(runner api.InstanceRunner, queue taskqueue.Queue, opts ...Option) *Worker {
	w := &Worker{
		runner:          runner,
		queue:           queue,
		logger:          logger.Named("worker"),
		maxRedeliveries: defaultMaxRedeliveries,
		retryInitial:    defaultRetryInitial,
		retryMax:        defaultRetryMax,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnqueueRunInstance enqueues a task that runs the given instance.
// It does NOT run the instance itself; that is done by ProcessOne.
func (w *Worker) EnqueueRunInstance(ctx context.Context, instanceID string) error {
	return w.queue.Enqueue(ctx, taskqueue.NewRunInstanceTask(instanceID))
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was run (ctx cancelled or dequeue failed)
//   - processed == true: a task was run; err is the run outcome. A
//     suspended run has already been scheduled for redelivery.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeRunInstance:
		return true, w.runInstance(ctx, *task)
	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

func (w *Worker) runInstance(ctx context.Context, task taskqueue.Task) error {
	log := w.logger.With(zap.String("instance", task.InstanceID), zap.Int("attempts", task.Attempts))

	inst, err := w.runner.RunInstance(ctx, task.InstanceID)
	if err == nil {
		if inst != nil {
			log.Debug("instance finished", zap.String("status", string(inst.Status)))
		}
		return nil
	}

	var wfErr *api.WorkflowError
	switch {
	case errors.As(err, &wfErr):
		// Terminal failure already recorded in history.
		log.Info("instance failed", zap.String("kind", string(wfErr.Kind)), zap.String("error", wfErr.Message))
		return err
	case errors.Is(err, api.ErrInstanceNotFound), errors.Is(err, api.ErrUnknownWorkflow):
		log.Error("dropping run task", zap.Error(err))
		return err
	}

	if w.maxRedeliveries > 0 && task.Attempts >= w.maxRedeliveries {
		log.Error("giving up on instance until next recovery", zap.Error(err))
		return fmt.Errorf("instance %s not redelivered after %d attempts: %w", task.InstanceID, task.Attempts, err)
	}

	next := task
	next.Attempts++
	next.NotBefore = time.Now().Add(w.redeliveryDelay(task.Attempts))
	log.Warn("instance suspended, redelivering",
		zap.Time("not_before", next.NotBefore),
		zap.Error(err),
	)
	w.requeue(ctx, next)
	return err
}

// requeue puts task back even when ctx is already cancelled so that work
// is not lost on shutdown.
func (w *Worker) requeue(ctx context.Context, task taskqueue.Task) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	if err := w.queue.Enqueue(rctx, task); err != nil {
		w.logger.Error("requeue failed",
			zap.String("instance", task.InstanceID),
			zap.Error(err),
		)
	}
}

// redeliveryDelay returns the jittered exponential delay before the
// (attempt+1)th redelivery.
func (w *Worker) redeliveryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInitial
	b.MaxInterval = w.retryMax
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run processes tasks with the given number of concurrent slots until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		if !processed {
			w.logger.Warn("dequeue failed", zap.Int("slot", slot), zap.Error(err))
			if sleep(ctx, dequeueErrorDelay) != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
