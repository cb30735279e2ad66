package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

// claimScript moves the earliest due task into the processing set in one step.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
	return false
end
redis.call('ZREM', KEYS[1], items[1])
redis.call('ZADD', KEYS[2], ARGV[2], items[1])
return items[1]
`)

// RedisQueue keeps due tasks in a sorted set scored by due time. Claimed
// tasks sit in a processing set until acked; Recover returns the ones whose
// visibility window expired (a worker died mid-task) to the due set.
type RedisQueue struct {
	client     *redis.Client
	dueKey     string
	workingKey string
	visibility time.Duration
	now        func() time.Time
}

func NewRedisQueue(client *redis.Client, prefix string, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:     client,
		dueKey:     prefix + ":due",
		workingKey: prefix + ":processing",
		visibility: visibility,
		now:        time.Now,
	}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	due := q.now().Add(delay)
	return q.client.ZAdd(ctx, q.dueKey, &redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(data),
	}).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.dueKey, q.workingKey},
		score(now), score(now.Add(q.visibility)),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(res), &task); err != nil {
		q.client.ZRem(ctx, q.workingKey, res)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	task.raw = res
	return &task, nil
}

func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	if task.raw == "" {
		return nil
	}
	return q.client.ZRem(ctx, q.workingKey, task.raw).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.dueKey).Result()
	return int(n), err
}

// Recover requeues claimed tasks whose visibility window has passed.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	now := q.now()
	stale, err := q.client.ZRangeByScore(ctx, q.workingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: score(now),
	}).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, member := range stale {
		removed, err := q.client.ZRem(ctx, q.workingKey, member).Result()
		if err != nil {
			return recovered, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.ZAdd(ctx, q.dueKey, &redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: member,
		}).Err(); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
