package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/pkg/api"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(seq int64) time.Time {
	return t0.Add(time.Duration(seq-1) * time.Second)
}

func paymentDeclinedHistory() []api.HistoryEvent {
	const id = "order-1"
	ev := func(seq int64, typ api.EventType) api.HistoryEvent {
		return api.HistoryEvent{InstanceID: id, Seq: seq, Type: typ, At: at(seq)}
	}

	created := ev(1, api.EventInstanceCreated)
	created.Workflow = "OrderFulfillment"
	created.Payload = json.RawMessage(`{"name":"Widget","quantity":2,"totalCost":20}`)

	reserve := ev(2, api.EventActivityScheduled)
	reserve.ActivityName = "ReserveInventory"
	reserve.Payload = json.RawMessage(`{"requestId":"order-1","name":"Widget","quantity":2}`)

	reserved := ev(3, api.EventActivityCompleted)
	reserved.ActivityName = "ReserveInventory"
	reserved.Payload = json.RawMessage(`{"success":true}`)

	pay := ev(4, api.EventActivityScheduled)
	pay.ActivityName = "ProcessPayment"
	pay.ActivityCall = 1
	pay.Payload = json.RawMessage(`{"requestId":"order-1","name":"Widget","quantity":2,"totalCost":20}`)

	declined := ev(5, api.EventActivityFailed)
	declined.ActivityName = "ProcessPayment"
	declined.ActivityCall = 1
	declined.ErrorKind = api.KindBusiness
	declined.Error = "payment of 20.00 declined"

	notify := ev(6, api.EventActivityScheduled)
	notify.ActivityName = "NotifyCustomer"
	notify.ActivityCall = 2
	notify.Payload = json.RawMessage(`{"requestId":"order-1","message":"Order order-1 Failed! You are now getting a refund"}`)

	notified := ev(7, api.EventActivityCompleted)
	notified.ActivityName = "NotifyCustomer"
	notified.ActivityCall = 2
	notified.Payload = json.RawMessage(`{}`)

	done := ev(8, api.EventInstanceFailed)
	done.ErrorKind = api.KindBusiness
	done.Error = "payment failed"
	done.Payload = json.RawMessage(`{"processed":false}`)

	return []api.HistoryEvent{created, reserve, reserved, pay, declined, notify, notified, done}
}

func failedHistory() []api.HistoryEvent {
	const id = "order-2"
	return []api.HistoryEvent{
		{InstanceID: id, Seq: 1, Type: api.EventInstanceCreated, At: at(1), Workflow: "OrderFulfillment",
			Payload: json.RawMessage(`{"name":"Widget","quantity":1,"totalCost":5}`)},
		{InstanceID: id, Seq: 2, Type: api.EventActivityScheduled, At: at(2), ActivityName: "ReserveInventory",
			Payload: json.RawMessage(`{"requestId":"order-2","name":"Widget","quantity":1}`)},
		{InstanceID: id, Seq: 3, Type: api.EventInstanceFailed, At: at(3), ErrorKind: api.KindNonDeterminism,
			Error: "non-deterministic workflow: workflow returned after 0 calls, history records 1"},
	}
}

func TestRenderHistory_Golden(t *testing.T) {
	g := goldie.New(t)

	for name, events := range map[string][]api.HistoryEvent{
		"history_payment_declined": paymentDeclinedHistory(),
		"history_failed":           failedHistory(),
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderHistory(&buf, events, formatText))
			g.Assert(t, name, buf.Bytes())
		})
	}
}

func TestRenderStatus_Golden(t *testing.T) {
	g := goldie.New(t)

	tests := []struct {
		name string
		inst *api.WorkflowInstance
	}{
		{
			name: "status_completed",
			inst: &api.WorkflowInstance{
				ID: "order-1", Workflow: "OrderFulfillment", Status: api.StatusCompleted,
				Result: json.RawMessage(`{"processed":true}`), LastSeq: 12,
				CreatedAt: at(1), UpdatedAt: at(12),
			},
		},
		{
			name: "status_failed",
			inst: &api.WorkflowInstance{
				ID: "order-2", Workflow: "OrderFulfillment", Status: api.StatusFailed,
				ErrorKind: api.KindNonDeterminism,
				Error:     "non-deterministic workflow: workflow returned after 0 calls, history records 1",
				LastSeq:   3, CreatedAt: at(1), UpdatedAt: at(3),
			},
		},
		{
			name: "status_rejected",
			inst: &api.WorkflowInstance{
				ID: "order-4", Workflow: "OrderFulfillment", Status: api.StatusFailed,
				Result:    json.RawMessage(`{"processed":false}`),
				ErrorKind: api.KindBusiness, Error: "insufficient inventory for Widget",
				LastSeq:   6, CreatedAt: at(1), UpdatedAt: at(6),
			},
		},
		{
			name: "status_running",
			inst: &api.WorkflowInstance{
				ID: "order-3", Workflow: "OrderFulfillment", Status: api.StatusRunning,
				LastSeq: 1, CreatedAt: at(1), UpdatedAt: at(1),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderStatus(&buf, tt.inst, formatText))
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestRenderHistory_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderHistory(&buf, paymentDeclinedHistory(), formatJSON))

	var events []api.HistoryEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &events))
	require.Len(t, events, 8)
	assert.Equal(t, api.EventActivityFailed, events[4].Type)
	assert.Equal(t, api.KindBusiness, events[4].ErrorKind)
	assert.Equal(t, api.EventInstanceFailed, events[7].Type)
	assert.JSONEq(t, `{"processed":false}`, string(events[7].Payload))
}

func TestValidFormat(t *testing.T) {
	assert.True(t, validFormat("text"))
	assert.True(t, validFormat("json"))
	assert.False(t, validFormat("yaml"))
	assert.EqualError(t, errInvalidFormat("yaml"), `invalid format "yaml": must be one of [text json]`)
}
