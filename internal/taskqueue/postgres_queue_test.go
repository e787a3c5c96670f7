package taskqueue

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orderflow/internal/testutil"
)

func newMockPostgresQueue(t *testing.T) (*PostgresQueue, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS queue_tasks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	q, err := NewPostgresQueue(db)
	require.NoError(t, err)
	return q, mock
}

func TestPostgresQueue_ClaimSkipsLockedRows(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	payload, err := EncodeTask(runTask("7"))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, id, payload FROM queue_tasks (.+) FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "payload"}).AddRow(int64(42), "7", payload))
	mock.ExpectExec(`DELETE FROM queue_tasks`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "inst-7", task.InstanceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_EmptyThenCancelled(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, id, payload FROM queue_tasks`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	task, err := q.claim(context.Background())
	require.NoError(t, err)
	require.Nil(t, task)
	require.NoError(t, mock.ExpectationsWereMet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`INSERT INTO queue_tasks`).
		WithArgs("9", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, q.Enqueue(context.Background(), runTask("9")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	db, err := sql.Open("pgx", testutil.GetPostgresEndpoint(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	testQueueContract(t, func(t *testing.T) Queue {
		q, err := NewPostgresQueue(db)
		require.NoError(t, err)
		_, err = db.Exec(`TRUNCATE queue_tasks`)
		require.NoError(t, err)
		return q
	})
}
