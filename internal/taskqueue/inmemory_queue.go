package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a bounded, process-local Queue. Eligible tasks are
// served FIFO; tasks with a future NotBefore wait in a heap and join the
// FIFO once due, so they never hold back eligible work.
type InMemoryQueue struct {
	mu      sync.Mutex
	ready   []Task
	delayed delayHeap

	// slots holds one token per queued task and bounds the queue.
	slots chan struct{}
	// wake is signalled when a consumer may find new work.
	wake chan struct{}

	now func() time.Time
}

// NewInMemoryQueue creates a queue holding at most capacity tasks.
// A capacity <= 0 means 1024.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		slots: make(chan struct{}, capacity),
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

var _ Queue = (*InMemoryQueue)(nil)

// Enqueue blocks while the queue is full.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	if t.Delay(q.now()) > 0 {
		heap.Push(&q.delayed, t)
	} else {
		q.ready = append(q.ready, t)
	}
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue returns the oldest eligible task, waiting for one to be
// enqueued or for a delayed task to come due.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		t, wait, ok := q.take()
		if ok {
			<-q.slots
			return &t, nil
		}

		if err := q.wait(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// wait blocks until ctx is done, the queue is signalled, or d elapses
// when d > 0.
func (q *InMemoryQueue) wait(ctx context.Context, d time.Duration) error {
	var due <-chan time.Time
	if d > 0 {
		tmr := time.NewTimer(d)
		defer tmr.Stop()
		due = tmr.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.wake:
	case <-due:
	}
	return nil
}

// take pops the next eligible task. When none is eligible it returns how
// long until the earliest delayed task is due, or 0 if there is none.
func (q *InMemoryQueue) take() (Task, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for q.delayed.Len() > 0 && q.delayed[0].Delay(now) == 0 {
		q.ready = append(q.ready, heap.Pop(&q.delayed).(Task))
	}

	if len(q.ready) > 0 {
		t := q.ready[0]
		q.ready[0] = Task{}
		q.ready = q.ready[1:]
		if len(q.ready) > 0 {
			q.signal()
		}
		return t, 0, true
	}
	if q.delayed.Len() > 0 {
		return Task{}, q.delayed[0].Delay(now), false
	}
	return Task{}, 0, false
}

func (q *InMemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len counts eligible and delayed tasks.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + q.delayed.Len()
}

// delayHeap orders tasks by NotBefore.
type delayHeap []Task

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].NotBefore.Before(h[j].NotBefore) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(Task)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = Task{}
	*h = old[:n-1]
	return t
}
