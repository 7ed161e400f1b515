package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/availability"
	"github.com/tbourn/go-atendente/internal/catalog"
	"github.com/tbourn/go-atendente/internal/config"
	"github.com/tbourn/go-atendente/internal/delivery"
	"github.com/tbourn/go-atendente/internal/extraction"
	"github.com/tbourn/go-atendente/internal/observability"
	"github.com/tbourn/go-atendente/internal/pipeline"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/services"
	"github.com/tbourn/go-atendente/internal/worker"
)

const (
	janitorInterval = time.Hour
	workerShutdown  = 30 * time.Second
)

// app owns the process-wide resources shared by the commands.
type app struct {
	cfg          config.Config
	db           *gorm.DB
	queue        queue.Queue
	otelShutdown observability.Shutdown
}

// openApp sets up tracing, the store, and the queue.
func openApp(ctx context.Context, cfg config.Config, role string) (*app, error) {
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version, role)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a := &app{cfg: cfg, otelShutdown: shutdown}

	a.db, err = repo.Open(cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := repo.AutoMigrate(a.db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.queue, err = openQueue(ctx, cfg.Queue)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("queue: %w", err)
	}
	return a, nil
}

func openQueue(ctx context.Context, qc config.QueueConfig) (queue.Queue, error) {
	if qc.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, using the in-process queue; pending jobs are lost on restart")
		return queue.NewMemoryQueue(qc.PollInterval), nil
	}
	q, err := queue.NewRedisQueueFromURL(ctx, qc.RedisURL, qc.Key, qc.PollInterval)
	if err != nil {
		return nil, err
	}
	q.Visibility = qc.Visibility
	log.Info().Str("key", qc.Key).Dur("visibility", qc.Visibility).Msg("using redis queue")
	return q, nil
}

// Close releases everything openApp acquired, in reverse order.
func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Warn().Err(err).Msg("closing queue")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("flushing traces")
		}
	}
}

// newPipeline builds the message pipeline with the configured adapters.
func (a *app) newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	hours, err := a.cfg.Business.Hours()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(a.cfg.ServicesPath, catalog.WithDefaultDuration(a.cfg.DefaultServiceDuration))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", a.cfg.ServicesPath).Msg("service catalog not found, using default durations")
	case err != nil:
		return nil, fmt.Errorf("catalog: %w", err)
	default:
		log.Info().Str("path", a.cfg.ServicesPath).Int("services", len(cat.Services())).Msg("service catalog loaded")
	}

	cal, err := newCalendar(ctx, a.cfg.Calendar, a.db, hours)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.ExtractTimeout = a.cfg.LLM.ExtractTimeout
	pcfg.AvailabilityTimeout = a.cfg.Calendar.AvailabilityTimeout
	pcfg.DeliveryTimeout = a.cfg.Twilio.DeliveryTimeout
	pcfg.MinConfidence = a.cfg.LLM.MinConfidence
	pcfg.HistoryLimit = a.cfg.LLM.HistoryLimit
	pcfg.Location = hours.Location

	return pipeline.New(
		repo.NewSessions(a.db),
		newAnalyzer(a.cfg.LLM, a.cfg.Twilio.PublicBaseURL, hours.Location),
		cal,
		newSender(a.cfg.Twilio),
		cat,
		pcfg,
	), nil
}

func newAnalyzer(c config.LLMConfig, referer string, loc *time.Location) extraction.Analyzer {
	if c.APIKey == "" {
		log.Warn().Str("provider", c.Provider).Msg("no LLM API key configured, every extraction will fail")
	}
	cc := extraction.ClientConfig{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Model:      c.Model,
		Timeout:    c.ExtractTimeout,
		MaxRetries: 1,
	}
	if c.Provider == "openrouter" {
		cc.Referer = referer
		cc.Title = "go-atendente"
	}
	llm := extraction.NewLLMAnalyzer(extraction.NewOpenAIClient(cc), c.ExtractTimeout, loc)
	return extraction.NewBreakerAnalyzer(llm, c.BreakerFailures, c.BreakerCooldown)
}

func newCalendar(ctx context.Context, c config.CalendarConfig, db *gorm.DB, hours availability.Hours) (availability.Calendar, error) {
	if c.GoogleCredentials == "" {
		log.Info().Msg("GOOGLE_CREDENTIALS not set, booking against the local appointment table")
		return availability.NewLocalCalendar(db, hours), nil
	}
	cal, err := availability.NewGoogleCalendar(ctx, c.GoogleCredentials, c.GoogleCalendarID, hours)
	if err != nil {
		return nil, err
	}
	log.Info().Str("calendar_id", c.GoogleCalendarID).Msg("using google calendar")
	return cal, nil
}

func newSender(t config.TwilioConfig) delivery.Sender {
	if !t.Enabled() {
		log.Warn().Msg("twilio not configured, replies are only logged")
		return delivery.LogSender{}
	}
	return delivery.NewTwilioSender(delivery.TwilioConfig{
		BaseURL:      t.BaseURL,
		AccountSID:   t.AccountSID,
		AuthToken:    t.AuthToken,
		From:         t.WhatsAppFrom,
		Timeout:      t.DeliveryTimeout,
		RetryCount:   2,
		RetryWait:    500 * time.Millisecond,
		RetryMaxWait: 3 * time.Second,
	})
}

// startWorkers launches the worker pool and the idempotency janitor. Both
// stop when ctx is done; call Stop on the pool to wait for in-flight jobs.
func (a *app) startWorkers(ctx context.Context) (*worker.Pool, error) {
	p, err := a.newPipeline(ctx)
	if err != nil {
		return nil, err
	}
	dead := &services.DeadLetterService{DB: a.db, Queue: a.queue}
	pool := worker.NewPool(a.queue, p, dead, worker.Config{
		WorkerCount:     a.cfg.Queue.WorkerCount,
		TaskTimeout:     a.cfg.Queue.TaskTimeout,
		Retry:           a.cfg.Queue.Retry,
		ShutdownTimeout: workerShutdown,
	}, log.Logger)
	pool.Start(ctx)

	go services.RunJanitor(ctx, a.db, janitorInterval)
	return pool, nil
}
