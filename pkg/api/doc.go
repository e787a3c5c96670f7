// Package api contains the core building blocks of the orderflow
// orchestration engine: workflow and activity definitions, the history
// event model, the error taxonomy and the Observer hooks.
//
// # Workflows
//
// A workflow is a plain Go function that receives a WorkflowContext. It is
// re-executed from the beginning every time an instance is picked up, so it
// must be deterministic: the only way to touch the outside world is
// WorkflowContext.ScheduleActivity (or the typed ExecuteActivity helper).
// Wall-clock time, randomness and direct I/O must not influence control flow.
//
// # Activities
//
// An activity performs exactly one side-effecting call, such as reserving
// stock or charging a card. Activities receive the owning instance ID in
// their request and must treat it as an idempotency key, since a crash
// between the call and its durable record leads to one more invocation.
//
// An activity reports a business outcome ("card declined") by returning an
// *ActivityFailure. Any other error is a fault and is retried according to
// the activity's RetryPolicy before it is surfaced as an ActivityFailure of
// kind KindRetriesExhausted.
//
// # History
//
// Every decision is recorded as a HistoryEvent in an append-only log. Project
// folds a history into the WorkflowInstance it implies, which is what the
// status index stores.
//
// # Observability
//
// The Observer interface is used by engines and workers to report lifecycle
// events. LoggingObserver writes zap logs, BasicMetrics keeps counters, and
// NewCompositeObserver combines several observers.
package api
