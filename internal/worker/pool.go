// Package worker runs pipeline jobs pulled from a queue.
//
// A Pool starts a fixed number of workers. Each worker takes one job at a
// time, runs it under a per-task timeout, and settles the outcome: retryable
// failures go back on the queue with exponential delay until the retry budget
// is spent, then become dead letters.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-atendente/internal/pipeline"
	"github.com/tbourn/go-atendente/internal/queue"
)

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, job queue.Job) (pipeline.Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job queue.Job) (pipeline.Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, job queue.Job) (pipeline.Outcome, error) {
	return f(ctx, job)
}

// DeadLetters records jobs that exhausted their retries.
type DeadLetters interface {
	Record(ctx context.Context, job queue.Job, cause error) error
}

// Config contains worker pool configuration.
type Config struct {
	WorkerCount int
	TaskTimeout time.Duration
	Retry       queue.RetryPolicy

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration
}

// Pool manages multiple background workers.
type Pool struct {
	workers []*Worker
	queue   queue.Queue
	proc    Processor
	dead    DeadLetters
	cfg     Config
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool. dead may be nil, in which case
// abandoned jobs are only logged.
func NewPool(q queue.Queue, proc Processor, dead DeadLetters, cfg Config, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Pool{
		queue: q,
		proc:  proc,
		dead:  dead,
		cfg:   cfg,
		log:   log.With().Str("component", "worker-pool").Logger(),
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info().
		Int("worker_count", p.cfg.WorkerCount).
		Dur("task_timeout", p.cfg.TaskTimeout).
		Int("max_attempts", p.cfg.Retry.MaxAttempts).
		Msg("starting worker pool")

	p.workers = make([]*Worker, p.cfg.WorkerCount)
	for i := range p.workers {
		w := NewWorker(i+1, p.queue, p.proc, p.dead, p.cfg, p.log)
		p.workers[i] = w

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Start(ctx)
		}()
	}
	workersActive.Set(float64(len(p.workers)))
}

// Stop signals every worker and waits for in-flight jobs to finish, up to the
// shutdown timeout.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool")
	for _, w := range p.workers {
		w.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
	}
	workersActive.Set(0)
}

// QueueDepth returns the number of waiting jobs.
func (p *Pool) QueueDepth(ctx context.Context) (int64, error) {
	return p.queue.Depth(ctx)
}
