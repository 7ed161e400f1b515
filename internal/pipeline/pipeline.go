// Package pipeline turns one inbound lead message into one outbound reply.
//
// A run walks Load, Extract, Decide, then either Ask or Book, falls back to a
// fixed apology when an adapter fails, persists the reply and hands it to the
// delivery adapter. Only store failures before the reply exists make a run
// retryable; adapter failures are absorbed so the lead always hears back.
//
// Each run holds one store session for its whole duration and releases it on
// every exit path. Runs for the same conversation are not serialized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/availability"
	"github.com/tbourn/go-atendente/internal/catalog"
	"github.com/tbourn/go-atendente/internal/delivery"
	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/extraction"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/reply"
	"github.com/tbourn/go-atendente/internal/repo"
)

// Config tunes a Pipeline. Zero timeouts disable the corresponding deadline.
type Config struct {
	ExtractTimeout      time.Duration
	AvailabilityTimeout time.Duration
	DeliveryTimeout     time.Duration

	// MinConfidence gates booking: a complete extraction below this score
	// gets a generic follow-up question instead. 0 disables the gate.
	MinConfidence int

	// HistoryLimit is how many earlier lead messages accompany the text sent
	// to the analyzer.
	HistoryLimit int

	// IdempotencyTTL is how long a completed run is remembered.
	IdempotencyTTL time.Duration

	// Location renders confirmed slots in business time.
	Location *time.Location
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExtractTimeout:      20 * time.Second,
		AvailabilityTimeout: 15 * time.Second,
		DeliveryTimeout:     15 * time.Second,
		HistoryLimit:        6,
		IdempotencyTTL:      7 * 24 * time.Hour,
		Location:            time.UTC,
	}
}

// Pipeline wires the store and the adapters together.
type Pipeline struct {
	Sessions repo.SessionProvider
	Analyzer extraction.Analyzer
	Calendar availability.Calendar
	Sender   delivery.Sender
	Catalog  *catalog.Catalog
	Config   Config

	Now func() time.Time
}

// New returns a Pipeline. A nil catalog resolves every service to itself
// with the default duration.
func New(sessions repo.SessionProvider, analyzer extraction.Analyzer, cal availability.Calendar, sender delivery.Sender, cat *catalog.Catalog, cfg Config) *Pipeline {
	if cat == nil {
		cat = catalog.New(nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Pipeline{
		Sessions: sessions,
		Analyzer: analyzer,
		Calendar: cal,
		Sender:   sender,
		Catalog:  cat,
		Config:   cfg,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Process runs the pipeline for job. The error explains any non-Completed
// outcome and is nil for Completed.
func (p *Pipeline) Process(ctx context.Context, job queue.Job) (Outcome, error) {
	tr := otel.Tracer("pipeline")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(job.ConversationID)),
			attribute.Int64("message.id", int64(job.MessageID)),
			attribute.Int("job.attempt", job.Attempt),
		),
	)
	defer span.End()

	logger := log.With().
		Str("component", "pipeline").
		Str("job_id", job.ID).
		Uint("conversation_id", job.ConversationID).
		Uint("message_id", job.MessageID).
		Int("attempt", job.Attempt).
		Logger()
	ctx = logger.WithContext(ctx)

	var (
		out    Outcome
		runErr error
	)
	err := p.Sessions.WithSession(ctx, func(db *gorm.DB) error {
		// Adapters backed by the store share the session connection.
		out, runErr = p.run(repo.ContextWithDB(ctx, db), db, job)
		return nil
	})
	if err != nil {
		out, runErr = FailedRetryable, fmt.Errorf("acquire store session: %w", err)
	}

	outcomes.WithLabelValues(out.String()).Inc()
	span.SetAttributes(attribute.String("pipeline.outcome", out.String()))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, out.String())
	}

	switch out {
	case FailedPermanent:
		logger.Error().Err(runErr).Msg("pipeline incident: job cannot be processed")
	case FailedRetryable:
		logger.Warn().Err(runErr).Msg("pipeline run failed, retryable")
	default:
		logger.Debug().Msg("pipeline run completed")
	}
	return out, runErr
}

// turn is the reply chosen for one run.
type turn struct {
	intent   reply.Intent
	data     reply.Data
	decision string
	booked   *domain.Appointment
}

func (p *Pipeline) run(ctx context.Context, db *gorm.DB, job queue.Job) (Outcome, error) {
	logger := log.Ctx(ctx)

	msg, conv, lead, err := p.load(ctx, db, job)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidJob) {
			return FailedPermanent, err
		}
		return FailedRetryable, err
	}

	switch _, err := repo.GetIdempotency(ctx, db, domain.ScopePipeline, job.Key(), p.now()); {
	case err == nil:
		logger.Info().Msg("job already completed, skipping")
		return Completed, nil
	case !errors.Is(err, repo.ErrNotFound):
		return FailedRetryable, fmt.Errorf("check completion: %w", err)
	}

	history, err := repo.ListLeadHistory(ctx, db, conv.ID, msg.ID, p.Config.HistoryLimit)
	if err != nil {
		return FailedRetryable, fmt.Errorf("load history: %w", err)
	}

	t, err := p.respond(ctx, db, msg, lead, history)
	if err != nil {
		return FailedRetryable, err
	}
	decisions.WithLabelValues(t.decision).Inc()

	text := reply.Compose(t.intent, t.data)
	botMsg, err := repo.CreateMessage(ctx, db, conv.ID, domain.SenderBot, text, "")
	if err != nil {
		if t.booked == nil {
			return FailedRetryable, fmt.Errorf("persist reply: %w", err)
		}
		logger.Error().Err(err).Uint("appointment_id", t.booked.ID).Msg("booked but failed to persist reply")
	}

	if err := p.deliver(ctx, lead.Phone, text); err != nil {
		deliveryFailures.Inc()
		ev := logger.Warn().Err(err).Str("decision", t.decision)
		if t.booked != nil {
			ev = ev.Uint("appointment_id", t.booked.ID)
		}
		ev.Msg("reply delivery failed")
	}

	var refID uint
	if botMsg != nil {
		refID = botMsg.ID
	}
	if _, err := repo.CreateIdempotency(ctx, db, domain.ScopePipeline, job.Key(), refID, t.decision, p.Config.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		logger.Warn().Err(err).Msg("failed to record completion")
	}
	if err := repo.TouchConversation(ctx, db, conv.ID, p.now()); err != nil {
		logger.Warn().Err(err).Msg("failed to touch conversation")
	}
	return Completed, nil
}

// stage opens a span for name and returns a func that closes it and records
// the duration.
func stage(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, name)
	start := time.Now()
	return ctx, func(err error) {
		stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
