package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS queue_tasks (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    id          TEXT NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    not_before  BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Payloads are gob-encoded tasks. The queue is FIFO by not_before, then seq.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{db: db, pollInterval: 100 * time.Millisecond}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq        BIGSERIAL PRIMARY KEY,
			id         TEXT NOT NULL,
			payload    BYTEA NOT NULL,
			not_before BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Enqueue inserts a task into the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (id, payload, not_before)
		VALUES ($1, $2, $3)
	`, t.ID, data, notBefore(t, time.Now()))
	return err
}

// Dequeue blocks (with polling) until a task is available or ctx is cancelled.
//
// It uses SELECT ... FOR UPDATE SKIP LOCKED in a transaction to claim a
// single row, then DELETEs it in the same transaction, so concurrent
// consumers never receive the same task.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
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
		if err := waitPoll(ctx, tmr, q.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *PostgresQueue) claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		id      string
		payload []byte
	)

	// Lock a single oldest eligible row, if any.
	err = tx.QueryRowContext(ctx, `
		SELECT seq, id, payload
		FROM queue_tasks
		WHERE not_before <= $1
		ORDER BY not_before, seq
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, time.Now().UnixNano()).Scan(&seq, &id, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM queue_tasks
		WHERE seq = $1
	`, seq); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode task %q failed: %w", id, err)
	}
	return task, nil
}

// Len returns an approximate number of queued tasks.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks`).Scan(&n); err != nil {
		logger.Warn("postgres queue len failed", zap.Error(err))
		return 0
	}
	return n
}
