package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisPollTimeout = time.Second

// RedisQueue keeps ready tasks in a list and delayed tasks in a sorted set
// scored by due time in milliseconds.
type RedisQueue struct {
	client  redis.UniversalClient
	ready   string
	delayed string
	closed  atomic.Bool
	now     func() time.Time
}

// NewRedisQueue returns a queue stored under the key prefix name.
func NewRedisQueue(client redis.UniversalClient, name string) *RedisQueue {
	if name == "" {
		name = "policybroker:tasks"
	}
	return &RedisQueue{
		client:  client,
		ready:   name + ":ready",
		delayed: name + ":delayed",
		now:     time.Now,
	}
}

// Enqueue stores task in the ready list, or the delayed set when RunAt is in the future.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	raw, errMarshal := json.Marshal(task)
	if errMarshal != nil {
		return fmt.Errorf("tasks: encode task: %w", errMarshal)
	}
	if task.RunAt.After(q.now()) {
		return q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(task.RunAt.UnixMilli()), Member: raw}).Err()
	}
	return q.client.LPush(ctx, q.ready, raw).Err()
}

// Dequeue promotes due delayed tasks, then blocks briefly on the ready list.
func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if q.closed.Load() {
			return Task{}, ErrQueueClosed
		}
		if errCtx := ctx.Err(); errCtx != nil {
			return Task{}, errCtx
		}
		if errPromote := q.promoteDue(ctx); errPromote != nil && ctx.Err() == nil {
			log.WithError(errPromote).Warn("tasks: promote delayed tasks failed")
		}

		values, errPop := q.client.BRPop(ctx, redisPollTimeout, q.ready).Result()
		if errors.Is(errPop, redis.Nil) {
			continue
		}
		if errPop != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return Task{}, errCtx
			}
			return Task{}, fmt.Errorf("tasks: pop ready task: %w", errPop)
		}
		if len(values) != 2 {
			continue
		}
		var task Task
		if errUnmarshal := json.Unmarshal([]byte(values[1]), &task); errUnmarshal != nil {
			log.WithError(errUnmarshal).Warn("tasks: dropping undecodable task")
			continue
		}
		return task, nil
	}
}

// promoteDue moves delayed tasks whose time has come to the ready list.
// ZREM decides ownership so two consumers never promote the same member.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	due, errRange := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if errRange != nil {
		return errRange
	}
	for _, member := range due {
		removed, errRem := q.client.ZRem(ctx, q.delayed, member).Result()
		if errRem != nil {
			return errRem
		}
		if removed == 0 {
			continue
		}
		if errPush := q.client.LPush(ctx, q.ready, member).Err(); errPush != nil {
			return errPush
		}
	}
	return nil
}

// Close makes further calls fail. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
