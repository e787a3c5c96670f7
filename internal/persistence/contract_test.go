package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/pkg/api"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func createdEvent(id string) api.HistoryEvent {
	return api.HistoryEvent{
		InstanceID: id,
		Seq:        1,
		Type:       api.EventInstanceCreated,
		At:         testEpoch,
		Workflow:   "OrderFulfillment",
		Payload:    json.RawMessage(`{"orderId":"o-1"}`),
	}
}

func scheduledEvent(id string, seq int64, call int) api.HistoryEvent {
	return api.HistoryEvent{
		InstanceID:   id,
		Seq:          seq,
		Type:         api.EventActivityScheduled,
		At:           testEpoch.Add(time.Duration(seq) * time.Second),
		ActivityName: "ReserveInventory",
		ActivityCall: call,
		Payload:      json.RawMessage(`{"name":"widget","quantity":2}`),
	}
}

// testHistoryLogContract runs the behaviour every HistoryLog must share.
func testHistoryLogContract(t *testing.T, newLog func(t *testing.T) HistoryLog) {
	t.Run("AppendAndRead", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		require.NoError(t, log.Append(ctx, createdEvent("i-1")))
		require.NoError(t, log.Append(ctx, scheduledEvent("i-1", 2, 0)))
		require.NoError(t, log.Append(ctx, api.HistoryEvent{
			InstanceID:   "i-1",
			Seq:          3,
			Type:         api.EventActivityFailed,
			At:           testEpoch.Add(3 * time.Second),
			ActivityName: "ReserveInventory",
			ActivityCall: 0,
			ErrorKind:    api.KindRetriesExhausted,
			Error:        "inventory service down",
		}))

		events, err := log.Read(ctx, "i-1")
		require.NoError(t, err)
		require.Len(t, events, 3)

		assert.Equal(t, api.EventInstanceCreated, events[0].Type)
		assert.Equal(t, "OrderFulfillment", events[0].Workflow)
		assert.JSONEq(t, `{"orderId":"o-1"}`, string(events[0].Payload))
		assert.True(t, events[0].At.Equal(testEpoch), "unexpected time %v", events[0].At)

		assert.Equal(t, int64(2), events[1].Seq)
		assert.Equal(t, "ReserveInventory", events[1].ActivityName)
		assert.Equal(t, 0, events[1].ActivityCall)

		assert.Equal(t, api.EventActivityFailed, events[2].Type)
		assert.Equal(t, api.KindRetriesExhausted, events[2].ErrorKind)
		assert.Equal(t, "inventory service down", events[2].Error)
		assert.Empty(t, events[2].Payload)
	})

	t.Run("UnknownInstanceIsEmpty", func(t *testing.T) {
		log := newLog(t)

		events, err := log.Read(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("RejectsGapsAndDuplicates", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		require.NoError(t, log.Append(ctx, createdEvent("i-2")))

		err := log.Append(ctx, scheduledEvent("i-2", 3, 0))
		assert.ErrorIs(t, err, api.ErrSequenceConflict)

		err = log.Append(ctx, createdEvent("i-2"))
		assert.ErrorIs(t, err, api.ErrSequenceConflict)

		events, err := log.Read(ctx, "i-2")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("FirstEventMustBeCreated", func(t *testing.T) {
		log := newLog(t)

		err := log.Append(context.Background(), scheduledEvent("i-3", 1, 0))
		require.Error(t, err)
		assert.False(t, errors.Is(err, api.ErrStorageUnavailable))
	})

	t.Run("InstancesAreIndependent", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()

		require.NoError(t, log.Append(ctx, createdEvent("a")))
		require.NoError(t, log.Append(ctx, createdEvent("b")))
		require.NoError(t, log.Append(ctx, scheduledEvent("b", 2, 0)))

		a, err := log.Read(ctx, "a")
		require.NoError(t, err)
		b, err := log.Read(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, a, 1)
		assert.Len(t, b, 2)
	})

	t.Run("ConcurrentAppendsKeepOneWinnerPerSeq", func(t *testing.T) {
		log := newLog(t)
		ctx := context.Background()
		require.NoError(t, log.Append(ctx, createdEvent("race")))

		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(call int) {
				defer wg.Done()
				if err := log.Append(ctx, scheduledEvent("race", 2, call)); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		events, err := log.Read(ctx, "race")
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func sampleInstance(id, workflow string, status api.Status, lastSeq int64, created time.Time) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:        id,
		Workflow:  workflow,
		Status:    status,
		Input:     json.RawMessage(`{"orderId":"` + id + `"}`),
		LastSeq:   lastSeq,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// testInstanceStoreContract runs the behaviour every InstanceStore must share.
func testInstanceStoreContract(t *testing.T, newStore func(t *testing.T) InstanceStore) {
	t.Run("SaveAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := sampleInstance("wf-1", "OrderFulfillment", api.StatusRunning, 1, testEpoch)
		require.NoError(t, store.SaveInstance(ctx, inst))

		got, err := store.GetInstance(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "OrderFulfillment", got.Workflow)
		assert.Equal(t, api.StatusRunning, got.Status)
		assert.JSONEq(t, `{"orderId":"wf-1"}`, string(got.Input))
		assert.Empty(t, got.Result)
		assert.True(t, got.CreatedAt.Equal(testEpoch))
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetInstance(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("UpdateMovesForwardOnly", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := sampleInstance("wf-2", "OrderFulfillment", api.StatusRunning, 1, testEpoch)
		require.NoError(t, store.SaveInstance(ctx, inst))

		done := inst.Clone()
		done.Status = api.StatusCompleted
		done.Result = json.RawMessage(`{"processed":true}`)
		done.LastSeq = 9
		done.UpdatedAt = testEpoch.Add(time.Minute)
		require.NoError(t, store.SaveInstance(ctx, done))

		stale := inst.Clone()
		stale.LastSeq = 4
		require.NoError(t, store.SaveInstance(ctx, stale))

		got, err := store.GetInstance(ctx, "wf-2")
		require.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, got.Status)
		assert.Equal(t, int64(9), got.LastSeq)
		assert.JSONEq(t, `{"processed":true}`, string(got.Result))
	})

	t.Run("FailureFieldsRoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := sampleInstance("wf-3", "OrderFulfillment", api.StatusFailed, 5, testEpoch)
		inst.Error = "boom"
		inst.ErrorKind = api.KindPanic
		require.NoError(t, store.SaveInstance(ctx, inst))

		got, err := store.GetInstance(ctx, "wf-3")
		require.NoError(t, err)
		assert.Equal(t, "boom", got.Error)
		assert.Equal(t, api.KindPanic, got.ErrorKind)
	})

	t.Run("ListFilters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		instances := []*api.WorkflowInstance{
			sampleInstance("l-1", "wf-A", api.StatusRunning, 1, testEpoch),
			sampleInstance("l-2", "wf-A", api.StatusCompleted, 6, testEpoch.Add(time.Second)),
			sampleInstance("l-3", "wf-B", api.StatusCompleted, 6, testEpoch.Add(2*time.Second)),
		}
		for _, inst := range instances {
			require.NoError(t, store.SaveInstance(ctx, inst))
		}

		all, err := store.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "l-1", all[0].ID)
		assert.Equal(t, "l-3", all[2].ID)

		wfA, err := store.ListInstances(ctx, InstanceFilter{Workflow: "wf-A"})
		require.NoError(t, err)
		assert.Len(t, wfA, 2)

		completed, err := store.ListInstances(ctx, InstanceFilter{Status: api.StatusCompleted})
		require.NoError(t, err)
		assert.Len(t, completed, 2)

		completedA, err := store.ListInstances(ctx, InstanceFilter{Workflow: "wf-A", Status: api.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, completedA, 1)
		assert.Equal(t, "l-2", completedA[0].ID)
	})

	t.Run("ListFollowsStatusChanges", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := sampleInstance("s-1", "wf-A", api.StatusRunning, 1, testEpoch)
		require.NoError(t, store.SaveInstance(ctx, inst))

		failed := inst.Clone()
		failed.Status = api.StatusFailed
		failed.LastSeq = 3
		require.NoError(t, store.SaveInstance(ctx, failed))

		running, err := store.ListInstances(ctx, InstanceFilter{Status: api.StatusRunning})
		require.NoError(t, err)
		assert.Empty(t, running)

		failedList, err := store.ListInstances(ctx, InstanceFilter{Status: api.StatusFailed})
		require.NoError(t, err)
		assert.Len(t, failedList, 1)
	})

	t.Run("MissingID", func(t *testing.T) {
		store := newStore(t)

		err := store.SaveInstance(context.Background(), &api.WorkflowInstance{Workflow: "wf"})
		assert.Error(t, err)
	})
}
