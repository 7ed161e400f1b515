package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, "test:jobs", 100*time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisQueue_ReadyFIFO(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, NewJob(5, i), 0))
	}
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)

	for i := uint(1); i <= 3; i++ {
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, i, j.MessageID)
		assert.EqualValues(t, 5, j.ConversationID)
	}
}

func TestRedisQueue_DelayedPromotedWhenDue(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	ctx := context.Background()

	job := NewJob(1, 2)
	job.Attempt = 3
	require.NoError(t, q.Enqueue(ctx, job, 50*time.Millisecond))

	members, err := mr.ZMembers("test:jobs:delayed")
	require.NoError(t, err)
	assert.Len(t, members, 1)
	depth, _ := q.Depth(ctx)
	assert.EqualValues(t, 1, depth)

	time.Sleep(80 * time.Millisecond)
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 3, got.Attempt)

	depth, _ = q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestRedisQueue_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisQueueFromURL(context.Background(), "redis://"+mr.Addr()+"/0", "", time.Second)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, "atendente:jobs:ready", q.ready)

	_, err = NewRedisQueueFromURL(context.Background(), "not-a-url", "", time.Second)
	assert.Error(t, err)
}

func TestRedisQueue_UndecodableJob(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	_, err := mr.Lpush("test:jobs:ready", "{broken")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background())
	assert.Error(t, err)
	assert.False(t, mr.Exists("test:jobs:processing"))
}

func TestRedisQueue_UnackedJobIsRedelivered(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	q.Visibility = 50 * time.Millisecond
	ctx := context.Background()

	job := NewJob(7, 8)
	require.NoError(t, q.Enqueue(ctx, job, 0))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	processing, err := mr.List("test:jobs:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 1)
	leased, err := mr.ZMembers("test:jobs:leases")
	require.NoError(t, err)
	assert.Len(t, leased, 1)

	// The consumer goes away without acknowledging. Another one picks the
	// job up once the lease has run out.
	time.Sleep(80 * time.Millisecond)
	other := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:jobs", 100*time.Millisecond)
	other.Visibility = time.Minute
	t.Cleanup(func() { _ = other.Close() })

	again, err := other.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, job.MessageID, again.MessageID)

	require.NoError(t, other.Ack(ctx, *again))
	processing, _ = mr.List("test:jobs:processing")
	assert.Empty(t, processing)
}

func TestRedisQueue_AckedJobIsNotRedelivered(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	q.Visibility = 50 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewJob(1, 1), 0))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Ack(ctx, *got))

	assert.False(t, mr.Exists("test:jobs:processing"))
	assert.False(t, mr.Exists("test:jobs:leases"))

	time.Sleep(80 * time.Millisecond)
	none, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedisQueue_AckRequiresDequeuedJob(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	assert.Error(t, q.Ack(context.Background(), NewJob(1, 1)))
}

var (
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
