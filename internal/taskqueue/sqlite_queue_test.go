package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue(t *testing.T) {
	testQueueContract(t, func(t *testing.T) Queue {
		return newTestSQLiteQueue(t)
	})
}

func TestSQLiteQueue_RespectsNotBefore(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	later := runTask("later")
	later.NotBefore = time.Now().Add(150 * time.Millisecond)
	if err := q.Enqueue(ctx, later); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, runTask("now")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if first.ID != "now" {
		t.Fatalf("expected eligible task first, got %s", first.ID)
	}

	start := time.Now()
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if second.ID != "later" {
		t.Fatalf("expected delayed task, got %s", second.ID)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("delayed task delivered too early")
	}
}
