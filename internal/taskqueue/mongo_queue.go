package taskqueue

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
)

// MongoQueue implements Queue on top of MongoDB.
//
// Collection schema:
//
//	{
//	  payload:    []byte,    // gob-encoded Task
//	  not_before: int64,     // unix nanos
//	  created_at: time.Time,
//	}
type MongoQueue struct {
	coll         *mongo.Collection
	pollInterval time.Duration
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "orderflow", collName to "queue_tasks".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "orderflow"
	}
	if collName == "" {
		collName = "queue_tasks"
	}
	return &MongoQueue{
		coll:         client.Database(dbName).Collection(collName),
		pollInterval: 100 * time.Millisecond,
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoQueueDoc struct {
	Payload   []byte    `bson:"payload"`
	NotBefore int64     `bson:"not_before"`
	CreatedAt time.Time `bson:"created_at"`
}

// Enqueue inserts a document for the given Task.
func (q *MongoQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = q.coll.InsertOne(ctx, mongoQueueDoc{
		Payload:   data,
		NotBefore: notBefore(t, now),
		CreatedAt: now,
	})
	return err
}

// Dequeue blocks (via polling) until a task is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := pollTimer()
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{"not_before": bson.M{"$lte": time.Now().UnixNano()}},
			options.FindOneAndDelete().SetSort(bson.D{
				{Key: "not_before", Value: 1},
				{Key: "created_at", Value: 1},
			}),
		).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				if err := waitPoll(ctx, tmr, q.pollInterval); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		return DecodeTask(doc.Payload)
	}
}

// Len returns an approximate number of queued tasks.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		logger.Warn("mongo queue len failed", zap.Error(err))
		return 0
	}
	return int(n)
}
