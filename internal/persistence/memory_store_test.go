package persistence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/petrijr/orderflow/pkg/api"
)

func TestInMemoryStore_HistoryLog(t *testing.T) {
	testHistoryLogContract(t, func(t *testing.T) HistoryLog {
		return NewInMemoryStore()
	})
}

func TestInMemoryStore_InstanceStore(t *testing.T) {
	testInstanceStoreContract(t, func(t *testing.T) InstanceStore {
		return NewInMemoryStore()
	})
}

func TestInMemoryStore_AppendCopiesPayload(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	ev := createdEvent("copy")
	ev.Payload = json.RawMessage(`{"orderId":"x"}`)
	if err := store.Append(ctx, ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Mutating the caller's buffer must not leak into the log.
	ev.Payload[2] = 'X'

	events, err := store.Read(ctx, "copy")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(events[0].Payload) != `{"orderId":"x"}` {
		t.Fatalf("stored payload changed: %s", events[0].Payload)
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	inst := sampleInstance("c-1", "wf", api.StatusRunning, 1, testEpoch)
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}

	got, err := store.GetInstance(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	got.Status = api.StatusFailed

	again, _ := store.GetInstance(ctx, "c-1")
	if again.Status != api.StatusRunning {
		t.Fatalf("expected stored status RUNNING, got %s", again.Status)
	}
}

func TestInMemoryStore_AppendHonoursCancelledContext(t *testing.T) {
	store := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Append(ctx, createdEvent("cancelled")); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
