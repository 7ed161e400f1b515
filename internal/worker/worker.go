package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-atendente/internal/pipeline"
	"github.com/tbourn/go-atendente/internal/queue"
)

// errorBackoff is the pause after a failed dequeue.
const errorBackoff = time.Second

// Worker processes jobs from the queue one at a time.
type Worker struct {
	id       int
	queue    queue.Queue
	proc     Processor
	dead     DeadLetters
	cfg      Config
	log      zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a background worker.
func NewWorker(id int, q queue.Queue, proc Processor, dead DeadLetters, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		queue:    q,
		proc:     proc,
		dead:     dead,
		cfg:      cfg,
		log:      log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start pulls jobs until ctx is done or Stop is called. A job already taken
// is always settled before the worker returns.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("worker started")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	for {
		if loopCtx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return
		}

		job, err := w.queue.Dequeue(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				continue
			}
			if errors.Is(err, queue.ErrClosed) {
				w.log.Info().Msg("queue closed, worker exiting")
				return
			}
			w.log.Error().Err(err).Msg("failed to dequeue job")
			select {
			case <-time.After(errorBackoff):
			case <-loopCtx.Done():
			}
			continue
		}
		if job == nil {
			continue
		}

		// Detach from the stop signal so a job in hand is finished.
		w.handle(context.WithoutCancel(ctx), *job)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Worker) handle(ctx context.Context, job queue.Job) {
	log := w.log.With().
		Str("job_id", job.ID).
		Uint("conversation_id", job.ConversationID).
		Uint("message_id", job.MessageID).
		Int("attempt", job.Attempt).
		Logger()

	taskCtx := job.TraceContext(ctx)
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, w.cfg.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := w.run(taskCtx, job)
	jobDuration.Observe(time.Since(start).Seconds())
	jobsTotal.WithLabelValues(out.String()).Inc()

	settled := true
	switch out {
	case pipeline.Completed:
		log.Info().Dur("took", time.Since(start)).Msg("job completed")
	case pipeline.FailedPermanent:
		log.Error().Err(err).Msg("job failed permanently, not retrying")
	case pipeline.FailedRetryable:
		settled = w.retry(ctx, job, err, log)
	}

	// An unsettled job stays leased and is handed out again later.
	if !settled {
		return
	}
	if err := w.queue.Ack(ctx, job); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge job")
	}
}

// run calls the processor, turning a panic into a retryable failure.
func (w *Worker) run(ctx context.Context, job queue.Job) (out pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = pipeline.FailedRetryable, fmt.Errorf("panic: %v", r)
		}
	}()
	return w.proc.Process(ctx, job)
}

// retry schedules the next attempt or dead-letters the job. It reports
// whether the job was settled.
func (w *Worker) retry(ctx context.Context, job queue.Job, cause error, log zerolog.Logger) bool {
	if !w.cfg.Retry.ShouldRetry(job.Attempt) {
		log.Error().Err(cause).Msg("retry budget exhausted, dead-lettering job")
		deadLettered.Inc()
		if w.dead == nil {
			return true
		}
		if err := w.dead.Record(ctx, job, cause); err != nil {
			log.Error().Err(err).Msg("failed to record dead letter")
			return false
		}
		return true
	}

	delay := w.cfg.Retry.Delay(job.Attempt)
	next := job
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	if err := w.queue.Enqueue(ctx, next, delay); err != nil {
		log.Error().Err(err).Msg("failed to re-enqueue job")
		return false
	}
	retries.Inc()
	log.Warn().Err(cause).Dur("delay", delay).Int("next_attempt", next.Attempt).Msg("job failed, retry scheduled")
	return true
}
