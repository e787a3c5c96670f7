package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/orderflow/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			result BLOB,
			error TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			last_seq INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);`,
	)
	return err
}

func (s *SQLiteInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ID == "" {
		return errMissingInstanceID
	}
	r := toInstanceRecord(inst)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			status = excluded.status,
			input = excluded.input,
			result = excluded.result,
			error = excluded.error,
			error_kind = excluded.error_kind,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at
		WHERE instances.last_seq <= excluded.last_seq`,
		r.ID,
		r.Workflow,
		r.Status,
		r.Input,
		r.Result,
		r.Error,
		r.ErrorKind,
		r.LastSeq,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return unavailable("sqlite save instance", err)
}

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = ?`,
		id,
	)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, unavailable("sqlite get instance", err)
	}
	return inst, nil
}

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("sqlite list instances", err)
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, unavailable("sqlite list instances", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite list instances", err)
	}

	return instances, nil
}
