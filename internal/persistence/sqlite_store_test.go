package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteHistoryLog(t *testing.T) {
	testHistoryLogContract(t, func(t *testing.T) HistoryLog {
		log, err := NewSQLiteHistoryLog(newTestSQLiteDB(t))
		if err != nil {
			t.Fatalf("NewSQLiteHistoryLog failed: %v", err)
		}
		return log
	})
}

func TestSQLiteInstanceStore(t *testing.T) {
	testInstanceStoreContract(t, func(t *testing.T) InstanceStore {
		store, err := NewSQLiteInstanceStore(newTestSQLiteDB(t))
		if err != nil {
			t.Fatalf("NewSQLiteInstanceStore failed: %v", err)
		}
		return store
	})
}

func TestSQLiteHistoryLog_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/history.db"
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	log, err := NewSQLiteHistoryLog(db)
	if err != nil {
		t.Fatalf("NewSQLiteHistoryLog failed: %v", err)
	}
	if err := log.Append(ctx, createdEvent("durable")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(ctx, scheduledEvent("durable", 2, 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_ = db.Close()

	db2, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db2.Close()

	reopened, err := NewSQLiteHistoryLog(db2)
	if err != nil {
		t.Fatalf("NewSQLiteHistoryLog failed: %v", err)
	}
	events, err := reopened.Read(ctx, "durable")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after reopen, got %d", len(events))
	}
}

func TestSQLiteHistoryLog_ClosedDBIsUnavailable(t *testing.T) {
	db := newTestSQLiteDB(t)
	log, err := NewSQLiteHistoryLog(db)
	if err != nil {
		t.Fatalf("NewSQLiteHistoryLog failed: %v", err)
	}
	_ = db.Close()

	err = log.Append(context.Background(), createdEvent("closed"))
	if !isUnavailable(err) {
		t.Fatalf("expected storage unavailable error, got %v", err)
	}
}
