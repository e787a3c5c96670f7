package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/pkg/api"
)

// recordedCall is what the history says about one activity call.
type recordedCall struct {
	scheduled api.HistoryEvent
	outcome   *api.HistoryEvent
}

// execution drives one instance through its workflow function once. It is
// the api.WorkflowContext handed to workflow code and is used by a single
// goroutine.
type execution struct {
	eng *engineImpl
	ctx context.Context
	def api.WorkflowDefinition

	inst    *api.WorkflowInstance
	history []api.HistoryEvent

	// calls holds the recorded activity calls indexed by ActivityCall.
	calls []recordedCall
	// replayed is the number of leading calls that have a recorded outcome.
	replayed int

	nextCall int
	logger   *zap.Logger

	suspendErr error
	nondet     error
}

func newExecution(ctx context.Context, eng *engineImpl, def api.WorkflowDefinition, history []api.HistoryEvent, inst *api.WorkflowInstance) (*execution, error) {
	e := &execution{
		eng:     eng,
		ctx:     ctx,
		def:     def,
		inst:    inst,
		history: history,
		logger: eng.logger.With(
			zap.String("instance", inst.ID),
			zap.String("workflow", inst.Workflow),
		),
	}

	for _, ev := range history {
		switch {
		case ev.Type == api.EventActivityScheduled:
			if ev.ActivityCall != len(e.calls) {
				return nil, fmt.Errorf("history for %s schedules call %d out of order at seq %d", inst.ID, ev.ActivityCall, ev.Seq)
			}
			e.calls = append(e.calls, recordedCall{scheduled: ev})
		case ev.Type.IsActivityOutcome():
			if ev.ActivityCall >= len(e.calls) || e.calls[ev.ActivityCall].outcome != nil {
				return nil, fmt.Errorf("history for %s has unmatched outcome for call %d at seq %d", inst.ID, ev.ActivityCall, ev.Seq)
			}
			outcome := ev
			e.calls[ev.ActivityCall].outcome = &outcome
		}
	}
	for e.replayed < len(e.calls) && e.calls[e.replayed].outcome != nil {
		e.replayed++
	}
	return e, nil
}

func (e *execution) InstanceID() string   { return e.inst.ID }
func (e *execution) WorkflowName() string { return e.inst.Workflow }

func (e *execution) IsReplaying() bool {
	return e.nextCall < e.replayed
}

func (e *execution) Logger() *zap.Logger {
	if e.IsReplaying() {
		return zap.NewNop()
	}
	return e.logger
}

func (e *execution) ScheduleActivity(name string, request any) api.Future {
	if e.suspendErr != nil {
		return &future{err: e.suspendedError()}
	}
	if e.nondet != nil {
		return &future{err: e.nondet}
	}

	call := e.nextCall
	e.nextCall++

	payload, err := persistence.EncodePayload(request)
	if err != nil {
		return &future{err: fmt.Errorf("encode request for activity %s: %w", name, err)}
	}

	if call < len(e.calls) {
		rec := e.calls[call]
		if rec.scheduled.ActivityName != name || !persistence.SamePayload(rec.scheduled.Payload, payload) {
			e.nondet = fmt.Errorf("%w: call %d recorded as %s(%s), workflow issued %s(%s)",
				api.ErrNonDeterministic, call,
				rec.scheduled.ActivityName, rec.scheduled.Payload, name, payload)
			return &future{err: e.nondet}
		}
		if rec.outcome != nil {
			e.eng.observer.OnActivityReplayed(e.ctx, e.inst, name, call)
			return resolve(*rec.outcome)
		}
		// Scheduled before a crash but never resolved: invoke again.
		return e.invoke(call, name, payload)
	}

	if err := e.append(api.HistoryEvent{
		Type:         api.EventActivityScheduled,
		ActivityName: name,
		ActivityCall: call,
		Payload:      payload,
	}); err != nil {
		return &future{err: e.suspend(err)}
	}
	return e.invoke(call, name, payload)
}

// invoke runs the activity with its retry policy and records the outcome.
func (e *execution) invoke(call int, name string, request json.RawMessage) api.Future {
	def, ok := e.eng.activities.get(name)
	if !ok {
		return &future{err: e.suspend(fmt.Errorf("%w: %s", api.ErrUnknownActivity, name))}
	}

	policy := e.eng.defaultRetry
	if def.Retry != nil {
		policy = *def.Retry
	}

	e.eng.observer.OnActivityStart(e.ctx, e.inst, name, call)
	start := time.Now()
	attempts := 0

	result, err := backoff.RetryWithData(func() (any, error) {
		attempts++
		res, err := callActivity(e.ctx, def, request)
		if err == nil {
			return res, nil
		}
		if _, ok := api.AsActivityFailure(err); ok || e.ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		e.logger.Debug("activity attempt failed",
			zap.String("activity", name),
			zap.Int("call", call),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return nil, err
	}, backoff.WithContext(activityBackOff(policy), e.ctx))

	e.eng.observer.OnActivityCompleted(e.ctx, e.inst, name, call, attempts, err, time.Since(start))

	if ctxErr := e.ctx.Err(); ctxErr != nil {
		return &future{err: e.suspend(ctxErr)}
	}

	outcome := api.HistoryEvent{ActivityName: name, ActivityCall: call}
	switch af, isFailure := api.AsActivityFailure(err); {
	case err == nil:
		payload, encErr := persistence.EncodePayload(result)
		if encErr != nil {
			outcome.Type = api.EventActivityFailed
			outcome.ErrorKind = api.KindBusiness
			outcome.Error = "encode result: " + encErr.Error()
			break
		}
		outcome.Type = api.EventActivityCompleted
		outcome.Payload = payload
	case isFailure:
		outcome.Type = api.EventActivityFailed
		outcome.ErrorKind = af.Kind
		if outcome.ErrorKind == "" {
			outcome.ErrorKind = api.KindBusiness
		}
		outcome.Error = af.Message
	default:
		outcome.Type = api.EventActivityFailed
		outcome.ErrorKind = api.KindRetriesExhausted
		outcome.Error = fmt.Sprintf("after %d attempts: %v", attempts, err)
	}

	if err := e.append(outcome); err != nil {
		return &future{err: e.suspend(err)}
	}
	return resolve(e.history[len(e.history)-1])
}

// callActivity invokes fn, turning a panic into an ordinary fault.
func callActivity(ctx context.Context, def api.ActivityDefinition, request json.RawMessage) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity %s panicked: %v", def.Name, r)
		}
	}()
	return def.Fn(ctx, request)
}

// append assigns the next sequence number and durably records ev.
func (e *execution) append(ev api.HistoryEvent) error {
	ev.InstanceID = e.inst.ID
	ev.Seq = int64(len(e.history)) + 1
	ev.At = e.eng.now()

	if err := e.eng.appendEvent(e.ctx, ev); err != nil {
		return err
	}
	e.history = append(e.history, ev)
	e.inst.LastSeq = ev.Seq
	e.inst.UpdatedAt = ev.At
	return nil
}

func (e *execution) suspend(err error) error {
	if e.suspendErr == nil {
		e.suspendErr = err
	}
	return e.suspendedError()
}

func (e *execution) suspendedError() error {
	return fmt.Errorf("%w: %w", api.ErrSuspended, e.suspendErr)
}

// runWorkflow calls the workflow function and converts a panic into a
// recorded failure.
func (e *execution) runWorkflow() (result any, wfErr error, panicked *api.WorkflowError) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			panicked = &api.WorkflowError{Kind: api.KindPanic, Message: fmt.Sprint(r)}
		}
	}()
	result, wfErr = e.def.Fn(e, e.inst.Input)
	return result, wfErr, nil
}

// finish decides the terminal event for a completed run of the workflow
// function, or returns nil when the instance must stay Running.
func (e *execution) finish(result any, wfErr error, panicked *api.WorkflowError) *api.HistoryEvent {
	if e.suspendErr != nil {
		return nil
	}

	fail := func(kind api.ErrorKind, msg string) *api.HistoryEvent {
		return &api.HistoryEvent{Type: api.EventInstanceFailed, ErrorKind: kind, Error: msg}
	}

	switch {
	case panicked != nil:
		return fail(panicked.Kind, panicked.Message)
	case e.nondet != nil:
		return fail(api.KindNonDeterminism, e.nondet.Error())
	case wfErr != nil:
		var bf *api.BusinessFailure
		if errors.As(wfErr, &bf) {
			if e.nextCall < len(e.calls) {
				return fail(api.KindNonDeterminism, fmt.Sprintf("%v: workflow returned after %d calls, history records %d",
					api.ErrNonDeterministic, e.nextCall, len(e.calls)))
			}
			ev := fail(api.KindBusiness, bf.Message)
			payload, err := persistence.EncodePayload(bf.Result)
			if err != nil {
				return fail(api.KindWorkflow, "encode result: "+err.Error())
			}
			ev.Payload = payload
			return ev
		}
		if errors.Is(wfErr, api.ErrNonDeterministic) {
			return fail(api.KindNonDeterminism, wfErr.Error())
		}
		return fail(api.KindWorkflow, wfErr.Error())
	case e.nextCall < len(e.calls):
		return fail(api.KindNonDeterminism, fmt.Sprintf("%v: workflow returned after %d calls, history records %d",
			api.ErrNonDeterministic, e.nextCall, len(e.calls)))
	}

	payload, err := persistence.EncodePayload(result)
	if err != nil {
		return fail(api.KindWorkflow, "encode result: "+err.Error())
	}
	return &api.HistoryEvent{Type: api.EventInstanceCompleted, Payload: payload}
}

// future is a resolved activity outcome.
type future struct {
	result json.RawMessage
	err    error
}

func resolve(ev api.HistoryEvent) *future {
	if ev.Type == api.EventActivityFailed {
		return &future{err: &api.ActivityFailure{
			Activity: ev.ActivityName,
			Kind:     ev.ErrorKind,
			Message:  ev.Error,
		}}
	}
	return &future{result: ev.Payload}
}

func (f *future) Get(out any) error {
	if f.err != nil {
		return f.err
	}
	if out == nil || len(f.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.result, out); err != nil {
		return fmt.Errorf("decode activity result: %w", err)
	}
	return nil
}
