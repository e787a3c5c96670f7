package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent task queue implementation backed by SQLite.
// It is safe for concurrent use for our purposes, using simple FIFO semantics
// ordered by eligibility time and then by an auto-incrementing id.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			instance_id TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	now := time.Now()
	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, type, instance_id, attempts, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Type),
		t.InstanceID,
		t.Attempts,
		enqueuedAt.UnixNano(),
		notBefore(t, now),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := pollTimer()
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		// Nothing available: sleep a bit and retry.
		if err := waitPoll(ctx, tmr, q.pollInterval); err != nil {
			return nil, err
		}
	}
}

// claim deletes and returns the oldest eligible task, or nil when none is.
func (q *SQLiteQueue) claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id         int64
		task       Task
		typeStr    string
		enqueuedAt int64
		notBefore  int64
	)

	err = tx.QueryRowContext(ctx, `
		SELECT id, task_id, type, instance_id, attempts, enqueued_at, not_before
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, time.Now().UnixNano(),
	).Scan(&id, &task.ID, &typeStr, &task.InstanceID, &task.Attempts, &enqueuedAt, &notBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Delete the row we just claimed.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Type = TaskType(typeStr)
	task.EnqueuedAt = time.Unix(0, enqueuedAt)
	task.NotBefore = time.Unix(0, notBefore)
	return &task, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
