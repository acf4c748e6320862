package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis lists, sorted sets, and hashes.
//
// Durable layout:
//
//	queue:<type>          list of task IDs, FIFO (LPOP head, RPUSH tail)
//	queue:<type>:delayed  sorted set of task IDs scored by epoch seconds
//	queue:<type>:stats    hash of statistics counters
//	task:<id>             serialized task snapshot with TTL
//
// List pops and the Lua-scripted delayed promotion are atomic, which is the
// only mutual exclusion concurrent workers need.
type RedisStore struct {
	client redis.UniversalClient
}

// promoteScript atomically moves all delayed entries due at or before the
// given timestamp into the live queue, preserving score order.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = 1, #due do
	redis.call('RPUSH', KEYS[2], due[i])
end
if #due > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #due
`)

// NewRedisStore creates a Store backed by the given Redis client.
// Use integration/database/redis.Connect to build a verified client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrStoreNil
	}
	return &RedisStore{client: client}, nil
}

func queueKey(qt QueueType) string   { return "queue:" + string(qt) }
func delayedKey(qt QueueType) string { return "queue:" + string(qt) + ":delayed" }
func statsKey(qt QueueType) string   { return "queue:" + string(qt) + ":stats" }
func taskKey(id uuid.UUID) string    { return "task:" + id.String() }

// Push appends a task ID to a live queue. Front pushes jump the line.
func (rs *RedisStore) Push(ctx context.Context, qt QueueType, taskID uuid.UUID, front bool) error {
	var err error
	if front {
		err = rs.client.LPush(ctx, queueKey(qt), taskID.String()).Err()
	} else {
		err = rs.client.RPush(ctx, queueKey(qt), taskID.String()).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to push task %s to queue %s: %w", taskID, qt, err)
	}
	return nil
}

// Pop atomically removes and returns the head of a live queue.
func (rs *RedisStore) Pop(ctx context.Context, qt QueueType) (uuid.UUID, error) {
	val, err := rs.client.LPop(ctx, queueKey(qt)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, fmt.Errorf("failed to pop from queue %s: %w", qt, err)
	}

	taskID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed task ID %q in queue %s: %w", val, qt, err)
	}
	return taskID, nil
}

// Remove deletes a single occurrence of a task ID from a live queue.
func (rs *RedisStore) Remove(ctx context.Context, qt QueueType, taskID uuid.UUID) error {
	if err := rs.client.LRem(ctx, queueKey(qt), 1, taskID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove task %s from queue %s: %w", taskID, qt, err)
	}
	return nil
}

// PushDelayed schedules a task ID in the delayed sorted set.
func (rs *RedisStore) PushDelayed(ctx context.Context, qt QueueType, taskID uuid.UUID, at time.Time) error {
	member := redis.Z{
		Score:  float64(at.Unix()),
		Member: taskID.String(),
	}
	if err := rs.client.ZAdd(ctx, delayedKey(qt), member).Err(); err != nil {
		return fmt.Errorf("failed to delay task %s on queue %s: %w", taskID, qt, err)
	}
	return nil
}

// PromoteDue atomically moves all due delayed entries into the live queue.
func (rs *RedisStore) PromoteDue(ctx context.Context, qt QueueType, now time.Time) (int, error) {
	keys := []string{delayedKey(qt), queueKey(qt)}
	moved, err := promoteScript.Run(ctx, rs.client, keys, now.Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed tasks on queue %s: %w", qt, err)
	}
	return moved, nil
}

// Len returns the live queue length.
func (rs *RedisStore) Len(ctx context.Context, qt QueueType) (int64, error) {
	n, err := rs.client.LLen(ctx, queueKey(qt)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of queue %s: %w", qt, err)
	}
	return n, nil
}

// DelayedLen returns the delayed sorted set cardinality.
func (rs *RedisStore) DelayedLen(ctx context.Context, qt QueueType) (int64, error) {
	n, err := rs.client.ZCard(ctx, delayedKey(qt)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed length of queue %s: %w", qt, err)
	}
	return n, nil
}

// SaveTask stores a serialized task snapshot with a TTL.
func (rs *RedisStore) SaveTask(ctx context.Context, taskID uuid.UUID, data []byte, ttl time.Duration) error {
	if err := rs.client.Set(ctx, taskKey(taskID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot for task %s: %w", taskID, err)
	}
	return nil
}

// GetTask returns a serialized task snapshot.
func (rs *RedisStore) GetTask(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	data, err := rs.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot for task %s: %w", taskID, err)
	}
	return data, nil
}

// IncrStat atomically adjusts an integer statistics counter.
func (rs *RedisStore) IncrStat(ctx context.Context, qt QueueType, field string, delta int64) error {
	if err := rs.client.HIncrBy(ctx, statsKey(qt), field, delta).Err(); err != nil {
		return fmt.Errorf("failed to update stat %s for queue %s: %w", field, qt, err)
	}
	return nil
}

// IncrStatFloat atomically adjusts a float statistics counter.
func (rs *RedisStore) IncrStatFloat(ctx context.Context, qt QueueType, field string, delta float64) error {
	if err := rs.client.HIncrByFloat(ctx, statsKey(qt), field, delta).Err(); err != nil {
		return fmt.Errorf("failed to update stat %s for queue %s: %w", field, qt, err)
	}
	return nil
}

// GetStats returns all statistics counters recorded for a queue.
func (rs *RedisStore) GetStats(ctx context.Context, qt QueueType) (map[string]float64, error) {
	raw, err := rs.client.HGetAll(ctx, statsKey(qt)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for queue %s: %w", qt, err)
	}

	stats := make(map[string]float64, len(raw))
	for field, val := range raw {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed stat %s=%q for queue %s: %w", field, val, qt, err)
		}
		stats[field] = f
	}
	return stats, nil
}
