package orderflow

import (
	"database/sql"

	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *worker.Worker

	queue taskqueue.Queue
}

// NewSQLiteBundle constructs an Engine, queue and Worker sharing one SQLite
// database. History, status index and pending tasks all live in db, so a
// restarted process that re-registers its workflows picks up where the
// previous one stopped.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:orderflow.db?_journal=WAL")
//	bundle, err := orderflow.NewSQLiteBundle(db, nil)
//	// register workflows on bundle.Engine, then:
//	_, _ = bundle.Engine.RecoverInstances(ctx)
//	go bundle.Worker.Run(ctx, 4)
func NewSQLiteBundle(db *sql.DB, obs Observer, opts ...worker.Option) (*WorkerBundle, error) {
	p, err := engine.SQLitePersistence(db)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Queue:       q,
		Observer:    obs,
	})

	return &WorkerBundle{
		Engine: eng,
		Worker: worker.New(eng, q, opts...),
		queue:  q,
	}, nil
}

// Pending reports how many tasks are waiting in the queue.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
