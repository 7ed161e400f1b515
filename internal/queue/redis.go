package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultVisibility is how long a claimed job may stay unacknowledged before
// it is handed out again.
const DefaultVisibility = 5 * time.Minute

// maintainScript moves due jobs from the delayed set to the ready list and
// puts jobs whose lease expired back at the consuming end of the ready list.
// Claimed jobs that never got a lease (the claimer died between BLMOVE and
// ZADD) get one starting now.
//
// KEYS[1] delayed zset, KEYS[2] ready list, KEYS[3] processing list,
// KEYS[4] lease zset; ARGV[1] now (unix ms), ARGV[2] batch, ARGV[3] lease ms.
var maintainScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, batch)
for _, v in ipairs(due) do
  redis.call('ZREM', KEYS[1], v)
  redis.call('LPUSH', KEYS[2], v)
end
local claimed = redis.call('LRANGE', KEYS[3], 0, -1)
for _, v in ipairs(claimed) do
  if not redis.call('ZSCORE', KEYS[4], v) then
    redis.call('ZADD', KEYS[4], now + tonumber(ARGV[3]), v)
  end
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now, 'LIMIT', 0, batch)
for _, v in ipairs(expired) do
  redis.call('ZREM', KEYS[4], v)
  redis.call('LREM', KEYS[3], 1, v)
  redis.call('RPUSH', KEYS[2], v)
end
return {#due, #expired}
`)

// RedisQueue keeps ready jobs in a list (LPUSH, consumed from the right, so
// FIFO) and delayed jobs in a sorted set scored by due time. Dequeue moves a
// job into a processing list and leases it for Visibility; Ack removes it.
// A job whose lease runs out is handed out again.
type RedisQueue struct {
	client     redis.UniversalClient
	ready      string
	delayed    string
	processing string
	leases     string
	poll       time.Duration
	batch      int

	// Visibility must exceed the longest time a worker holds a job.
	Visibility time.Duration
}

// NewRedisQueue uses keys "<key>:ready", "<key>:delayed",
// "<key>:processing" and "<key>:leases".
func NewRedisQueue(client redis.UniversalClient, key string, poll time.Duration) *RedisQueue {
	if key == "" {
		key = "atendente:jobs"
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &RedisQueue{
		client:     client,
		ready:      key + ":ready",
		delayed:    key + ":delayed",
		processing: key + ":processing",
		leases:     key + ":leases",
		poll:       poll,
		batch:      100,
		Visibility: DefaultVisibility,
	}
}

// NewRedisQueueFromURL connects using a redis:// or rediss:// URL.
func NewRedisQueueFromURL(ctx context.Context, url, key string, poll time.Duration) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisQueue(client, key, poll), nil
}

func (q *RedisQueue) visibility() time.Duration {
	if q.Visibility <= 0 {
		return DefaultVisibility
	}
	return q.Visibility
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return q.client.LPush(ctx, q.ready, payload).Err()
	}
	due := time.Now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: payload}).Err()
}

// Dequeue implements Queue. The returned job stays leased until Ack.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := time.Now()
	keys := []string{q.delayed, q.ready, q.processing, q.leases}
	if err := maintainScript.Run(ctx, q.client, keys, now.UnixMilli(), q.batch, q.visibility().Milliseconds()).Err(); err != nil {
		return nil, fmt.Errorf("maintain queue: %w", err)
	}

	raw, err := q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.poll).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// A failed ZADD leaves the job unleased; the next maintenance pass leases it.
	deadline := time.Now().Add(q.visibility()).UnixMilli()
	_ = q.client.ZAdd(ctx, q.leases, redis.Z{Score: float64(deadline), Member: raw}).Err()

	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		// Never decodable, so drop it instead of redelivering forever.
		_ = q.forget(ctx, raw)
		return nil, fmt.Errorf("decode job: %w", err)
	}
	j.raw = raw
	return &j, nil
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	if job.raw == "" {
		return errors.New("ack: job was not dequeued from this queue")
	}
	return q.forget(ctx, job.raw)
}

func (q *RedisQueue) forget(ctx context.Context, raw string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	pipe.ZRem(ctx, q.leases, raw)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth implements Queue. Leased jobs are not counted.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.ready)
	delayed := pipe.ZCard(ctx, q.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val(), nil
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error { return q.client.Close() }
