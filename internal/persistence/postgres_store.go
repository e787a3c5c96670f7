package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/petrijr/orderflow/pkg/api"
)

const pgUniqueViolation = "23505"

// PostgresHistoryLog stores instance histories in PostgreSQL.
//
// It expects an *sql.DB that uses the pgx stdlib driver:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
type PostgresHistoryLog struct {
	db *sql.DB
}

// Ensure PostgresHistoryLog implements HistoryLog.
var _ HistoryLog = (*PostgresHistoryLog)(nil)

// NewPostgresHistoryLog initializes the required schema in the given
// database and returns a new PostgresHistoryLog.
func NewPostgresHistoryLog(db *sql.DB) (*PostgresHistoryLog, error) {
	s := &PostgresHistoryLog{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresHistoryLog) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_events (
			instance_id   TEXT NOT NULL,
			seq           BIGINT NOT NULL,
			type          TEXT NOT NULL,
			at            BIGINT NOT NULL,
			workflow      TEXT NOT NULL DEFAULT '',
			activity_name TEXT NOT NULL DEFAULT '',
			activity_call INTEGER NOT NULL DEFAULT 0,
			payload       BYTEA,
			error_kind    TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_id, seq)
		)
	`)
	return err
}

// Append inserts the event only if it directly follows the newest stored
// event. The primary key catches writers that race past that check.
func (s *PostgresHistoryLog) Append(ctx context.Context, ev api.HistoryEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	rec := toEventRecord(ev)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history_events (`+eventColumns+`)
		SELECT $1::TEXT, $2::BIGINT, $3::TEXT, $4::BIGINT, $5::TEXT, $6::TEXT, $7::INTEGER, $8::BYTEA, $9::TEXT, $10::TEXT
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM history_events WHERE instance_id = $1::TEXT) = $2::BIGINT - 1
	`,
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
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: instance %s seq %d already stored", api.ErrSequenceConflict, rec.InstanceID, rec.Seq)
		}
		return unavailable("postgres append", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("postgres append", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: instance %s append seq %d is not next", api.ErrSequenceConflict, rec.InstanceID, rec.Seq)
	}
	return nil
}

func (s *PostgresHistoryLog) Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM history_events
		WHERE instance_id = $1
		ORDER BY seq ASC
	`, instanceID)
	if err != nil {
		return nil, unavailable("postgres read", err)
	}
	defer rows.Close()

	out := []api.HistoryEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable("postgres read", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres read", err)
	}
	return out, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
type PostgresInstanceStore struct {
	db *sql.DB
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id         TEXT PRIMARY KEY,
			workflow   TEXT NOT NULL,
			status     TEXT NOT NULL,
			input      BYTEA,
			result     BYTEA,
			error      TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			last_seq   BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`)
	return err
}

func (s *PostgresInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ID == "" {
		return errMissingInstanceID
	}
	r := toInstanceRecord(inst)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			workflow   = EXCLUDED.workflow,
			status     = EXCLUDED.status,
			input      = EXCLUDED.input,
			result     = EXCLUDED.result,
			error      = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			last_seq   = EXCLUDED.last_seq,
			updated_at = EXCLUDED.updated_at
		WHERE instances.last_seq <= EXCLUDED.last_seq
	`,
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
	return unavailable("postgres save instance", err)
}

func (s *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = $1
	`, id)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, unavailable("postgres get instance", err)
	}
	return inst, nil
}

func (s *PostgresInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances`
	var (
		args    []any
		clauses []string
	)

	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		clauses = append(clauses, fmt.Sprintf("workflow = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("postgres list instances", err)
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, unavailable("postgres list instances", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres list instances", err)
	}
	return instances, nil
}
