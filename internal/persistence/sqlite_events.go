package persistence

import (
	"context"
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/petrijr/orderflow/pkg/api"
)

// SQLiteHistoryLog stores instance histories in SQLite.
//
// It expects an *sql.DB opened with the "modernc.org/sqlite" driver.
type SQLiteHistoryLog struct {
	db *sql.DB
}

// Ensure SQLiteHistoryLog implements HistoryLog.
var _ HistoryLog = (*SQLiteHistoryLog)(nil)

// NewSQLiteHistoryLog initializes the required schema in the given database
// and returns a new SQLiteHistoryLog.
func NewSQLiteHistoryLog(db *sql.DB) (*SQLiteHistoryLog, error) {
	s := &SQLiteHistoryLog{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryLog) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			at INTEGER NOT NULL,
			workflow TEXT NOT NULL DEFAULT '',
			activity_name TEXT NOT NULL DEFAULT '',
			activity_call INTEGER NOT NULL DEFAULT 0,
			payload BLOB,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		);
	`)
	return err
}

func (s *SQLiteHistoryLog) Append(ctx context.Context, ev api.HistoryEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	rec := toEventRecord(ev)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("sqlite append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM history_events WHERE instance_id = ?`,
		rec.InstanceID,
	).Scan(&last); err != nil {
		return unavailable("sqlite append", err)
	}
	if rec.Seq != last+1 {
		return sequenceConflict(rec.InstanceID, rec.Seq, last)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InstanceID,
		rec.Seq,
		rec.Type,
		rec.At,
		rec.Workflow,
		rec.ActivityName,
		rec.ActivityCall,
		rec.Payload,
		rec.ErrorKind,
		rec.Error,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return sequenceConflict(rec.InstanceID, rec.Seq, last)
		}
		return unavailable("sqlite append", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("sqlite append", err)
	}
	return nil
}

func (s *SQLiteHistoryLog) Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM history_events
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
	if err != nil {
		return nil, unavailable("sqlite read", err)
	}
	defer rows.Close()

	out := []api.HistoryEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable("sqlite read", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite read", err)
	}
	return out, nil
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
