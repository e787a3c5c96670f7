package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/orderflow/pkg/api"
)

const defaultRedisPrefix = "orderflow:"

// Lua script for appending a history event only when it is the next in
// sequence. Returns 1 if appended, 0 on a sequence conflict.
var redisAppendScript = redis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
if n ~= tonumber(ARGV[1]) - 1 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// Lua script for storing an index entry unless a newer one exists.
// Returns 1 if written, 0 if the stored entry is newer.
var redisSaveInstanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_seq')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'last_seq', ARGV[1], 'data', ARGV[2])
return 1
`)

// RedisHistoryLog stores each instance history as a Redis list:
//
//	<prefix>hist:<id> => RPUSHed JSON events, index i holds seq i+1
type RedisHistoryLog struct {
	client *redis.Client
	prefix string
}

var _ HistoryLog = (*RedisHistoryLog)(nil)

// NewRedisHistoryLog creates a RedisHistoryLog.
// prefix is optional but recommended (e.g. "orderflow:").
func NewRedisHistoryLog(client *redis.Client, prefix string) *RedisHistoryLog {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisHistoryLog{client: client, prefix: prefix}
}

func (r *RedisHistoryLog) keyHistory(id string) string {
	return r.prefix + "hist:" + id
}

func (r *RedisHistoryLog) Append(ctx context.Context, ev api.HistoryEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	data, err := json.Marshal(toEventRecord(ev))
	if err != nil {
		return err
	}

	ok, err := redisAppendScript.Run(ctx, r.client, []string{r.keyHistory(ev.InstanceID)}, ev.Seq, data).Int()
	if err != nil {
		return unavailable("redis append", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: instance %s append seq %d is not next", api.ErrSequenceConflict, ev.InstanceID, ev.Seq)
	}
	return nil
}

func (r *RedisHistoryLog) Read(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	items, err := r.client.LRange(ctx, r.keyHistory(instanceID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("redis read", err)
	}

	out := make([]api.HistoryEvent, 0, len(items))
	for _, item := range items {
		var rec eventRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode history event of %s: %w", instanceID, err)
		}
		out = append(out, rec.event())
	}
	return out, nil
}

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>            => HASH {last_seq, data (JSON instanceRecord)}
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:wf:<workflow>    => SET of instance IDs for a given workflow
//	<prefix>idx:status:<status>  => SET of instance IDs for a given status
//
// ListInstances uses set operations for filtering and re-checks the
// payload, so a stale index entry never leaks into results.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

// NewRedisInstanceStore creates a RedisInstanceStore.
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisInstanceStore) keyInstance(id string) string {
	return r.prefix + "inst:" + id
}

func (r *RedisInstanceStore) keyAll() string {
	return r.prefix + "idx:all"
}

func (r *RedisInstanceStore) keyWorkflow(name string) string {
	return r.prefix + "idx:wf:" + name
}

func (r *RedisInstanceStore) keyStatus(status api.Status) string {
	return r.prefix + "idx:status:" + string(status)
}

var allStatuses = []api.Status{api.StatusRunning, api.StatusCompleted, api.StatusFailed}

func (r *RedisInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	if inst.ID == "" {
		return errMissingInstanceID
	}
	data, err := json.Marshal(toInstanceRecord(inst))
	if err != nil {
		return err
	}

	written, err := redisSaveInstanceScript.Run(ctx, r.client, []string{r.keyInstance(inst.ID)}, inst.LastSeq, data).Int()
	if err != nil {
		return unavailable("redis save instance", err)
	}
	if written != 1 {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), inst.ID)
	pipe.SAdd(ctx, r.keyWorkflow(inst.Workflow), inst.ID)
	for _, st := range allStatuses {
		if st != inst.Status {
			pipe.SRem(ctx, r.keyStatus(st), inst.ID)
		}
	}
	pipe.SAdd(ctx, r.keyStatus(inst.Status), inst.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("redis index instance", err)
	}
	return nil
}

func (r *RedisInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	data, err := r.client.HGet(ctx, r.keyInstance(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, unavailable("redis get instance", err)
	}
	return decodeRedisInstance(data)
}

func (r *RedisInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	var (
		ids []string
		err error
	)

	switch {
	case filter.Workflow != "" && filter.Status != "":
		ids, err = r.client.SInter(ctx,
			r.keyWorkflow(filter.Workflow),
			r.keyStatus(filter.Status),
		).Result()
	case filter.Workflow != "":
		ids, err = r.client.SMembers(ctx, r.keyWorkflow(filter.Workflow)).Result()
	case filter.Status != "":
		ids, err = r.client.SMembers(ctx, r.keyStatus(filter.Status)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("redis list instances", err)
	}
	if len(ids) == 0 {
		return []*api.WorkflowInstance{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, r.keyInstance(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("redis list instances", err)
	}

	instances := make([]*api.WorkflowInstance, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, unavailable("redis list instances", err)
		}
		inst, err := decodeRedisInstance(data)
		if err != nil {
			return nil, err
		}
		if filter.matches(inst) {
			instances = append(instances, inst)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].CreatedAt.Before(instances[j].CreatedAt)
		}
		return instances[i].ID < instances[j].ID
	})
	return instances, nil
}

func decodeRedisInstance(data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var rec instanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec.instance(), nil
}
