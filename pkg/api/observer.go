package api

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnInstanceStart is called every time an execution of the instance
	// begins, including executions that resume by replay.
	OnInstanceStart(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceCompleted is called when an instance reaches StatusCompleted.
	OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnInstanceFailed is called when an instance reaches StatusFailed.
	OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)

	// OnInstanceSuspended is called when an execution stops early and leaves
	// the instance Running for a later retry.
	OnInstanceSuspended(ctx context.Context, inst *WorkflowInstance, err error)

	// OnActivityStart is called before a live activity invocation.
	OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string, call int)

	// OnActivityCompleted is called after a live activity invocation, for
	// both successes and failures (err != nil). attempts counts retries.
	OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, call int, attempts int, err error, duration time.Duration)

	// OnActivityReplayed is called when an activity call is resolved from
	// history without invoking the activity.
	OnActivityReplayed(ctx context.Context, inst *WorkflowInstance, activity string, call int)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance)                 {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance)             {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error)     {}
func (NoopObserver) OnInstanceSuspended(ctx context.Context, inst *WorkflowInstance, err error)  {}
func (NoopObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, a string, c int) {}
func (NoopObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, a string, c int, n int, err error, d time.Duration) {
}
func (NoopObserver) OnActivityReplayed(ctx context.Context, inst *WorkflowInstance, a string, c int) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnInstanceSuspended(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnInstanceSuspended(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string, call int) {
	for _, o := range c.observers {
		o.OnActivityStart(ctx, inst, activity, call)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, call int, attempts int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, inst, activity, call, attempts, err, d)
	}
}

func (c *CompositeObserver) OnActivityReplayed(ctx context.Context, inst *WorkflowInstance, activity string, call int) {
	for _, o := range c.observers {
		o.OnActivityReplayed(ctx, inst, activity, call)
	}
}

// LoggingObserver writes structured logs using zap.
type LoggingObserver struct {
	Logger *zap.Logger
}

// NewLoggingObserver creates an Observer that logs instance / activity
// lifecycle events. If logger is nil, zap.L() is used.
func NewLoggingObserver(logger *zap.Logger) Observer {
	if logger == nil {
		logger = zap.L()
	}
	return &LoggingObserver{Logger: logger}
}

func instanceFields(inst *WorkflowInstance) []zap.Field {
	return []zap.Field{
		zap.String("workflow", inst.Workflow),
		zap.String("instance_id", inst.ID),
	}
}

func (o *LoggingObserver) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.Info("instance_start", append(instanceFields(inst), zap.Int64("last_seq", inst.LastSeq))...)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.Info("instance_completed", instanceFields(inst)...)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.Error("instance_failed", append(instanceFields(inst), zap.Error(err))...)
}

func (o *LoggingObserver) OnInstanceSuspended(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.Warn("instance_suspended", append(instanceFields(inst), zap.Error(err))...)
}

func (o *LoggingObserver) OnActivityStart(ctx context.Context, inst *WorkflowInstance, activity string, call int) {
	o.Logger.Debug("activity_start", append(instanceFields(inst),
		zap.String("activity", activity),
		zap.Int("call", call),
	)...)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, call int, attempts int, err error, d time.Duration) {
	fields := append(instanceFields(inst),
		zap.String("activity", activity),
		zap.Int("call", call),
		zap.Int("attempts", attempts),
		zap.Duration("duration", d),
	)
	if err != nil {
		o.Logger.Warn("activity_completed", append(fields, zap.Error(err))...)
		return
	}
	o.Logger.Debug("activity_completed", fields...)
}

func (o *LoggingObserver) OnActivityReplayed(ctx context.Context, inst *WorkflowInstance, activity string, call int) {
	o.Logger.Debug("activity_replayed", append(instanceFields(inst),
		zap.String("activity", activity),
		zap.Int("call", call),
	)...)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	executionsStarted  atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	executionsSuspend  atomic.Int64
	activitiesExecuted atomic.Int64
	activitiesFailed   atomic.Int64
	activitiesReplayed atomic.Int64
	totalActivityNanos atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ExecutionsStarted   int64         `json:"executionsStarted"`
	InstancesCompleted  int64         `json:"instancesCompleted"`
	InstancesFailed     int64         `json:"instancesFailed"`
	ExecutionsSuspended int64         `json:"executionsSuspended"`
	ActivitiesExecuted  int64         `json:"activitiesExecuted"`
	ActivitiesFailed    int64         `json:"activitiesFailed"`
	ActivitiesReplayed  int64         `json:"activitiesReplayed"`
	AvgActivityDuration time.Duration `json:"avgActivityDurationNanos"`
}

func (m *BasicMetrics) OnInstanceStart(ctx context.Context, inst *WorkflowInstance) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnInstanceSuspended(ctx context.Context, inst *WorkflowInstance, err error) {
	m.executionsSuspend.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, inst *WorkflowInstance, activity string, call int, attempts int, err error, d time.Duration) {
	if err != nil {
		m.activitiesFailed.Add(1)
		return
	}
	m.activitiesExecuted.Add(1)
	m.totalActivityNanos.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnActivityReplayed(ctx context.Context, inst *WorkflowInstance, activity string, call int) {
	m.activitiesReplayed.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	executed := m.activitiesExecuted.Load()
	totalNs := m.totalActivityNanos.Load()

	var avg time.Duration
	if executed > 0 {
		avg = time.Duration(totalNs / executed)
	}

	return BasicMetricsSnapshot{
		ExecutionsStarted:   m.executionsStarted.Load(),
		InstancesCompleted:  m.instancesCompleted.Load(),
		InstancesFailed:     m.instancesFailed.Load(),
		ExecutionsSuspended: m.executionsSuspend.Load(),
		ActivitiesExecuted:  executed,
		ActivitiesFailed:    m.activitiesFailed.Load(),
		ActivitiesReplayed:  m.activitiesReplayed.Load(),
		AvgActivityDuration: avg,
	}
}
