package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/logger"
)

// RedisQueue implements the Queue interface using Redis.
//
// Keys:
//
//	<prefix>tasks    list of eligible tasks (LPUSH / BRPOP)
//	<prefix>delayed  sorted set of tasks scored by NotBefore in unix millis
//
// Values are gob-encoded Task structs. Delayed tasks move to the list once
// due; they become visible within one blockTimeout of their NotBefore.
type RedisQueue struct {
	client       *redis.Client
	key          string
	delayedKey   string
	blockTimeout time.Duration
}

// redisPromoteScript moves due tasks from the delayed set onto the list.
var redisPromoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, v in ipairs(due) do
	redis.call('ZREM', KEYS[1], v)
	redis.call('LPUSH', KEYS[2], v)
end
return #due
`)

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "orderflow:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "orderflow:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		delayedKey:   prefix + "delayed",
		blockTimeout: time.Second,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes an eligible task onto the list (LPUSH) and parks a task
// with a future NotBefore in the delayed set.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	if t.Delay(time.Now()) > 0 {
		return q.client.ZAdd(ctx, q.delayedKey, redis.Z{
			Score:  float64(ceilMillis(t.NotBefore)),
			Member: data,
		}).Err()
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// ceilMillis rounds up so a task is never promoted before NotBefore.
func ceilMillis(t time.Time) int64 {
	return (t.UnixNano() + int64(time.Millisecond) - 1) / int64(time.Millisecond)
}

// promote moves due delayed tasks onto the list.
func (q *RedisQueue) promote(ctx context.Context) error {
	now := time.Now().UnixMilli()
	return redisPromoteScript.Run(ctx, q.client, []string{q.delayedKey, q.key}, now).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
// BRPOP is issued with a bounded timeout so cancellation is noticed even
// on an idle list.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promote(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(res) != 2 {
			logger.Warn("redis queue: unexpected BRPOP reply", zap.Strings("reply", res))
			continue
		}
		return DecodeTask([]byte(res[1]))
	}
}

// Len returns the approximate number of eligible and delayed tasks.
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	var ready, delayed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		ready = p.LLen(ctx, q.key)
		delayed = p.ZCard(ctx, q.delayedKey)
		return nil
	})
	if err != nil {
		logger.Warn("redis queue len failed", zap.Error(err))
		return 0
	}
	return int(ready.Val() + delayed.Val())
}
