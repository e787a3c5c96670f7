package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/orderflow/pkg/api"
)

const defaultMongoDatabase = "orderflow"

// MongoHistoryLog stores history events as documents, one per event, with a
// unique index on (instance_id, seq).
type MongoHistoryLog struct {
	coll *mongo.Collection
}

var _ HistoryLog = (*MongoHistoryLog)(nil)

// NewMongoHistoryLog creates a Mongo-backed history log and ensures its
// index exists. dbName defaults to "orderflow".
func NewMongoHistoryLog(ctx context.Context, client *mongo.Client, dbName string) (*MongoHistoryLog, error) {
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	coll := client.Database(dbName).Collection("history_events")

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "instance_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, unavailable("mongo history index", err)
	}
	return &MongoHistoryLog{coll: coll}, nil
}

func (s *MongoHistoryLog) Append(ctx context.Context, ev api.HistoryEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}

	last, err := s.lastSeq(ctx, ev.InstanceID)
	if err != nil {
		return err
	}
	if ev.Seq != last+1 {
		return sequenceConflict(ev.InstanceID, ev.Seq, last)
	}

	if _, err := s.coll.InsertOne(ctx, toEventRecord(ev)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: instance %s seq %d already stored", api.ErrSequenceConflict, ev.InstanceID, ev.Seq)
		}
		return unavailable("mongo append", err)
	}
	return nil
}

func (s *MongoHistoryLog) lastSeq(ctx context.Context, instanceID string) (int64, error) {
	var rec eventRecord
	err := s.coll.FindOne(ctx,
		bson.M{"instance_id": instanceID},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, unavailable("mongo append", err)
	}
	return rec.Seq, nil
}

func (s *MongoHistoryLog) Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"instance_id": instanceID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable("mongo read", err)
	}
	defer cur.Close(ctx)

	out := []api.HistoryEvent{}
	for cur.Next(ctx) {
		var rec eventRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec.event())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("mongo read", err)
	}
	return out, nil
}

// MongoInstanceStore is an InstanceStore backed by a Mongo collection keyed
// by instance ID.
type MongoInstanceStore struct {
	coll *mongo.Collection
}

var _ InstanceStore = (*MongoInstanceStore)(nil)

// NewMongoInstanceStore creates a Mongo-backed instance store.
// dbName defaults to "orderflow", collName defaults to "instances".
func NewMongoInstanceStore(client *mongo.Client, dbName, collName string) *MongoInstanceStore {
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	if collName == "" {
		collName = "instances"
	}

	return &MongoInstanceStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

func (s *MongoInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ID == "" {
		return errMissingInstanceID
	}
	r := toInstanceRecord(inst)

	update := bson.M{
		"$set": bson.M{
			"workflow":   r.Workflow,
			"status":     r.Status,
			"input":      r.Input,
			"result":     r.Result,
			"error":      r.Error,
			"error_kind": r.ErrorKind,
			"last_seq":   r.LastSeq,
			"updated_at": r.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": r.CreatedAt,
		},
	}
	filter := bson.M{"_id": r.ID, "last_seq": bson.M{"$lte": r.LastSeq}}

	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// The filter missed because a newer entry exists, and the upsert
		// collided with it on _id.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return unavailable("mongo save instance", err)
	}
	return nil
}

func (s *MongoInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var rec instanceRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInstanceNotFound
		}
		return nil, unavailable("mongo get instance", err)
	}
	return rec.instance(), nil
}

func (s *MongoInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	bfilter := bson.M{}
	if filter.Workflow != "" {
		bfilter["workflow"] = filter.Workflow
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	cur, err := s.coll.Find(ctx, bfilter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, unavailable("mongo list instances", err)
	}
	defer cur.Close(ctx)

	var results []*api.WorkflowInstance
	for cur.Next(ctx) {
		var rec instanceRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		results = append(results, rec.instance())
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("mongo list instances", err)
	}
	return results, nil
}
