package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/internal/testutil"
	"github.com/petrijr/orderflow/pkg/api"
)

func newMockHistoryLog(t *testing.T) (*PostgresHistoryLog, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS history_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	log, err := NewPostgresHistoryLog(db)
	require.NoError(t, err)
	return log, mock
}

func TestPostgresHistoryLog_Append(t *testing.T) {
	log, mock := newMockHistoryLog(t)

	mock.ExpectExec("INSERT INTO history_events").
		WithArgs("i-1", int64(1), "InstanceCreated", sqlmock.AnyArg(), "OrderFulfillment", "", int64(0), sqlmock.AnyArg(), "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, log.Append(context.Background(), createdEvent("i-1")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryLog_AppendNotNext(t *testing.T) {
	log, mock := newMockHistoryLog(t)

	mock.ExpectExec("INSERT INTO history_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := log.Append(context.Background(), scheduledEvent("i-1", 5, 0))
	assert.ErrorIs(t, err, api.ErrSequenceConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryLog_AppendUniqueViolation(t *testing.T) {
	log, mock := newMockHistoryLog(t)

	mock.ExpectExec("INSERT INTO history_events").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, Message: "duplicate key"})

	err := log.Append(context.Background(), scheduledEvent("i-1", 2, 0))
	assert.ErrorIs(t, err, api.ErrSequenceConflict)
	assert.False(t, isUnavailable(err))
}

func TestPostgresHistoryLog_AppendConnectionLost(t *testing.T) {
	log, mock := newMockHistoryLog(t)

	mock.ExpectExec("INSERT INTO history_events").
		WillReturnError(errors.New("connection reset by peer"))

	err := log.Append(context.Background(), scheduledEvent("i-1", 2, 0))
	assert.True(t, isUnavailable(err), "expected unavailable, got %v", err)
}

func TestPostgresHistoryLog_Read(t *testing.T) {
	log, mock := newMockHistoryLog(t)

	rows := sqlmock.NewRows([]string{
		"instance_id", "seq", "type", "at", "workflow", "activity_name", "activity_call", "payload", "error_kind", "error",
	}).
		AddRow("i-1", int64(1), "InstanceCreated", testEpoch.UnixNano(), "OrderFulfillment", "", int64(0), []byte(`{"orderId":"o-1"}`), "", "").
		AddRow("i-1", int64(2), "ActivityScheduled", testEpoch.UnixNano(), "", "ReserveInventory", int64(0), []byte(`{}`), "", "")

	mock.ExpectQuery("SELECT (.+) FROM history_events").
		WithArgs("i-1").
		WillReturnRows(rows)

	events, err := log.Read(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, api.EventActivityScheduled, events[1].Type)
	assert.Equal(t, "ReserveInventory", events[1].ActivityName)
	assert.True(t, events[0].At.Equal(testEpoch))
}

func TestPostgresInstanceStore_SaveUsesMonotonicUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS instances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresInstanceStore(db)
	require.NoError(t, err)

	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET (.+) WHERE instances.last_seq <= EXCLUDED.last_seq`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inst := sampleInstance("wf-1", "OrderFulfillment", api.StatusRunning, 1, testEpoch)
	require.NoError(t, store.SaveInstance(context.Background(), inst))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInstanceStore_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS instances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresInstanceStore(db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM instances").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetInstance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	db, err := sql.Open("pgx", testutil.GetPostgresEndpoint(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresHistoryLog_Integration(t *testing.T) {
	db := openTestPostgres(t)

	testHistoryLogContract(t, func(t *testing.T) HistoryLog {
		log, err := NewPostgresHistoryLog(db)
		require.NoError(t, err)
		_, err = db.Exec(`TRUNCATE history_events`)
		require.NoError(t, err)
		return log
	})
}

func TestPostgresInstanceStore_Integration(t *testing.T) {
	db := openTestPostgres(t)

	testInstanceStoreContract(t, func(t *testing.T) InstanceStore {
		store, err := NewPostgresInstanceStore(db)
		require.NoError(t, err)
		_, err = db.Exec(`TRUNCATE instances`)
		require.NoError(t, err)
		return store
	})
}
