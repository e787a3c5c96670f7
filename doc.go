// Package orderflow coordinates order fulfillment as a durable saga on a
// deterministic-replay workflow engine.
//
// An order reserves inventory, takes payment, commits the reservation and
// notifies the customer. Each of those calls is an activity whose request
// and outcome are appended to the order's history before the workflow sees
// the result. A process that crashes part way through resumes the order by
// replaying that history: calls with a recorded outcome are answered from
// the log, and only the first unrecorded call runs live.
//
// # Engine
//
// The Engine records instances, runs them by replay and answers status
// queries. History and the status index can be kept in memory, SQLite,
// PostgreSQL, Redis or MongoDB:
//
//	eng := orderflow.NewInMemoryEngine(nil)
//	eng, err := orderflow.NewSQLiteEngine(db, nil)
//
// Workflow code must be deterministic. Issuing a different activity than
// the history records fails the instance with a NonDeterminism error.
//
// # Failures
//
// An activity that returns *ActivityFailure has failed for business
// reasons and the saga takes its compensation branch. Any other error is a
// fault and is retried under the activity's RetryPolicy; when retries run
// out the fault is recorded as a RetriesExhausted failure. When storage is
// unreachable the run is suspended with nothing recorded and the instance
// stays Running until it is run again.
//
// # Workers
//
// LocalRunner and NewSQLiteBundle pair an engine with a task queue and a
// worker pool. Creating an instance enqueues it; workers dequeue tasks,
// run the instance and redeliver suspended runs with backoff. Call
// Engine.RecoverInstances on startup to reschedule every order left
// Running by a previous process.
//
// The orderflow command (cmd/orderflow) serves the HTTP trigger gateway
// over the same pieces.
package orderflow
