package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for development and tests. Jobs do not
// survive a restart, so a dequeued job is never handed out again and Ack has
// nothing to do.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	delayed map[*time.Timer]struct{}
	notify  chan struct{}
	poll    time.Duration
	closed  bool
}

// NewMemoryQueue returns an empty queue whose Dequeue waits up to poll.
func NewMemoryQueue(poll time.Duration) *MemoryQueue {
	if poll <= 0 {
		poll = time.Second
	}
	return &MemoryQueue{
		delayed: map[*time.Timer]struct{}{},
		notify:  make(chan struct{}, 1),
		poll:    poll,
	}
}

func (q *MemoryQueue) push(j Job) {
	q.ready = append(q.ready, j)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if delay <= 0 {
		q.push(job)
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.delayed, t)
		if !q.closed {
			q.push(job)
		}
	})
	q.delayed[t] = struct{}{}
	return nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	deadline := time.NewTimer(q.poll)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			j := q.ready[0]
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				// wake another waiter
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return &j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(ctx context.Context, job Job) error { return nil }

// Depth implements Queue.
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.delayed)), nil
}

// Close stops pending timers and rejects further use.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.delayed {
		t.Stop()
	}
	q.delayed = map[*time.Timer]struct{}{}
	q.ready = nil
	return nil
}
