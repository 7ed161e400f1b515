// Package queue carries pipeline jobs from ingestion to the workers.
//
// Delivery is at least once: a job may be handed out again after a crash, and
// nothing here orders jobs of the same conversation relative to each other.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Job asks for one inbound message to be processed. Attempt counts previous
// executions of the same job, starting at 0.
type Job struct {
	ID             string    `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	MessageID      uint      `json:"message_id"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`

	// Trace carries the W3C trace context of the request that created the
	// job, so the worker's spans join the webhook's trace.
	Trace map[string]string `json:"trace,omitempty"`

	// raw is the payload as stored by the backend, used to acknowledge it.
	raw string
}

// NewJob returns a first-attempt job for the message.
func NewJob(conversationID, messageID uint) Job {
	return Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		MessageID:      messageID,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// WithTrace returns a copy of j carrying the span context of ctx.
func (j Job) WithTrace(ctx context.Context) Job {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		j.Trace = map[string]string(carrier)
	}
	return j
}

// TraceContext returns ctx with the job's remote span context attached.
func (j Job) TraceContext(ctx context.Context) context.Context {
	if len(j.Trace) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(j.Trace))
}

// Key identifies the work independent of attempts and job ids.
func (j Job) Key() string {
	return fmt.Sprintf("conv:%d:msg:%d", j.ConversationID, j.MessageID)
}

// Queue is a FIFO of jobs with delayed delivery.
type Queue interface {
	// Enqueue makes job available after delay (immediately when delay <= 0).
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
	// Dequeue waits up to the queue's poll interval for a job. It returns
	// (nil, nil) when none became available. The job is handed out again
	// unless it is acknowledged.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack marks a dequeued job as settled: done, rescheduled under a new
	// attempt, or dead-lettered.
	Ack(ctx context.Context, job Job) error
	// Depth counts ready plus delayed jobs.
	Depth(ctx context.Context) (int64, error)
	Close() error
}
