package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/taskqueue"
)

// backends owns the connections opened for the configured storage and
// queue. A connection shared by both is opened once.
type backends struct {
	cfg config.Config

	sqlite   *sql.DB
	postgres *sql.DB
	redis    *redis.Client
	mongo    *mongo.Client

	closeOnce sync.Once
}

func newBackends(cfg config.Config) *backends {
	return &backends{cfg: cfg}
}

func (b *backends) sqliteDB() (*sql.DB, error) {
	if b.sqlite == nil {
		db, err := sql.Open("sqlite", b.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", b.cfg.SQLitePath, err)
		}
		// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		b.sqlite = db
	}
	return b.sqlite, nil
}

func (b *backends) postgresDB(ctx context.Context) (*sql.DB, error) {
	if b.postgres == nil {
		db, err := sql.Open("pgx", b.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		b.postgres = db
	}
	return b.postgres, nil
}

func (b *backends) redisClient(ctx context.Context) (*redis.Client, error) {
	if b.redis == nil {
		client := redis.NewClient(&redis.Options{Addr: b.cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", b.cfg.RedisAddr, err)
		}
		b.redis = client
	}
	return b.redis, nil
}

func (b *backends) mongoClient(ctx context.Context) (*mongo.Client, error) {
	if b.mongo == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(b.cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		b.mongo = client
	}
	return b.mongo, nil
}

// Persistence opens the history log and status index.
func (b *backends) Persistence(ctx context.Context) (persistence.Persistence, error) {
	switch b.cfg.Storage {
	case config.StorageMemory:
		mem := persistence.NewInMemoryStore()
		return persistence.Persistence{History: mem, Instances: mem}, nil
	case config.StorageSQLite:
		db, err := b.sqliteDB()
		if err != nil {
			return persistence.Persistence{}, err
		}
		return engine.SQLitePersistence(db)
	case config.StoragePostgres:
		db, err := b.postgresDB(ctx)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return engine.PostgresPersistence(db)
	case config.StorageRedis:
		client, err := b.redisClient(ctx)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return engine.RedisPersistence(client, b.cfg.RedisPrefix), nil
	case config.StorageMongo:
		client, err := b.mongoClient(ctx)
		if err != nil {
			return persistence.Persistence{}, err
		}
		return engine.MongoPersistence(ctx, client, b.cfg.MongoDatabase)
	default:
		return persistence.Persistence{}, fmt.Errorf("unknown storage %q", b.cfg.Storage)
	}
}

// Queue opens the task queue.
func (b *backends) Queue(ctx context.Context) (taskqueue.Queue, error) {
	switch b.cfg.Queue {
	case config.QueueMemory:
		return taskqueue.NewInMemoryQueue(1024), nil
	case config.QueueSQLite:
		db, err := b.sqliteDB()
		if err != nil {
			return nil, err
		}
		return taskqueue.NewSQLiteQueue(db)
	case config.QueuePostgres:
		db, err := b.postgresDB(ctx)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewPostgresQueue(db)
	case config.QueueRedis:
		client, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewRedisQueue(client, b.cfg.RedisPrefix), nil
	case config.QueueMongo:
		client, err := b.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewMongoQueue(client, b.cfg.MongoDatabase, ""), nil
	default:
		return nil, fmt.Errorf("unknown queue %q", b.cfg.Queue)
	}
}

// Close releases every opened connection.
func (b *backends) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		if b.sqlite != nil {
			errs = append(errs, b.sqlite.Close())
		}
		if b.postgres != nil {
			errs = append(errs, b.postgres.Close())
		}
		if b.redis != nil {
			errs = append(errs, b.redis.Close())
		}
		if b.mongo != nil {
			errs = append(errs, b.mongo.Disconnect(context.Background()))
		}
	})
	return errors.Join(errs...)
}
