// Package worker provides the background worker that drives orderflow
// instances forward.
//
// Workers consume run-instance tasks from a task queue and hand each one to
// an api.InstanceRunner (normally the engine). The runner replays the
// instance from its history, so delivering the same task twice is safe.
//
// # Redelivery
//
// A run that ends suspended (storage outage, cancellation, missing activity)
// is put back on the queue with Attempts incremented and NotBefore pushed
// out by a jittered exponential backoff. The queue holds the task until it
// is due, so a waiting redelivery never occupies a worker slot. After
// WithMaxRedeliveries attempts the task is dropped; the instance stays
// Running and is picked up again by RecoverInstances on the next process
// start.
//
// Terminal outcomes (a recorded *api.WorkflowError) and lookups that can
// never succeed (unknown instance or workflow) are not redelivered.
//
// # Usage
//
//	w := worker.New(eng, queue, worker.WithMaxRedeliveries(20))
//	go w.Run(ctx, 4)
package worker
