package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
)

// Inbound is one message received from the channel provider.
type Inbound struct {
	From       string // channel address, e.g. "whatsapp:+5511999999999"
	Body       string
	ProviderID string // provider message id (Twilio MessageSid)

	// IdempotencyKey is the provider's redelivery token, when it sends one.
	IdempotencyKey string
}

// key identifies the delivery for replay detection.
func (in Inbound) key() string {
	if k := strings.TrimSpace(in.IdempotencyKey); k != "" {
		return k
	}
	return strings.TrimSpace(in.ProviderID)
}

// IngestResult describes what Receive stored.
type IngestResult struct {
	Lead         *domain.Lead
	Conversation *domain.Conversation
	Message      *domain.Message

	// Duplicate is true when the delivery had already been accepted.
	Duplicate bool
	// Job is the enqueued job, nil for duplicates.
	Job *queue.Job
}

// IngestService persists inbound messages and schedules their processing.
type IngestService struct {
	DB    *gorm.DB
	Queue queue.Queue

	MaxBodyRunes   int
	IdempotencyTTL time.Duration
}

// NewIngestService returns an IngestService with default limits.
func NewIngestService(db *gorm.DB, q queue.Queue) *IngestService {
	return &IngestService{DB: db, Queue: q, MaxBodyRunes: 4096, IdempotencyTTL: 24 * time.Hour}
}

// Receive stores in and enqueues a pipeline job for it. A delivery already
// accepted under the same key is reported as Duplicate and not enqueued
// again. A delivery whose message was stored but never enqueued is enqueued
// on replay.
func (s *IngestService) Receive(ctx context.Context, in Inbound) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Receive",
		trace.WithAttributes(attribute.String("provider.id", in.ProviderID)),
	)
	defer span.End()

	from := strings.TrimSpace(in.From)
	body := strings.TrimSpace(in.Body)
	if from == "" {
		return nil, ErrMissingSender
	}
	if body == "" {
		return nil, ErrEmptyBody
	}
	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return nil, ErrTooLong
	}

	key := in.key()
	if rec, err := repo.GetIdempotency(ctx, s.DB, domain.ScopeWebhook, key, time.Now().UTC()); err == nil {
		return s.replay(ctx, rec.RefID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	lead, err := repo.GetOrCreateLead(ctx, s.DB, from)
	if err != nil {
		return nil, err
	}
	conv, err := repo.GetOrCreateOpenConversation(ctx, s.DB, lead.ID)
	if err != nil {
		return nil, err
	}

	msg, err := repo.CreateMessage(ctx, s.DB, conv.ID, domain.SenderLead, body, strings.TrimSpace(in.ProviderID))
	if errors.Is(err, repo.ErrDuplicate) {
		// Stored by an earlier delivery that did not finish enqueueing.
		msg, err = repo.GetMessageByProviderID(ctx, s.DB, strings.TrimSpace(in.ProviderID))
		if err == nil && msg.ConversationID != conv.ID {
			conv, err = repo.GetConversation(ctx, s.DB, msg.ConversationID)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := repo.TouchConversation(ctx, s.DB, conv.ID, msg.Timestamp); err != nil {
		log.Ctx(ctx).Warn().Err(err).Uint("conversation_id", conv.ID).Msg("failed to touch conversation")
	}

	job := queue.NewJob(conv.ID, msg.ID).WithTrace(ctx)
	if err := s.Queue.Enqueue(ctx, job, 0); err != nil {
		return nil, err
	}

	if key != "" {
		if _, err := repo.CreateIdempotency(ctx, s.DB, domain.ScopeWebhook, key, msg.ID, "enqueued", s.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to record webhook idempotency")
		}
	}

	span.SetAttributes(
		attribute.Int64("conversation.id", int64(conv.ID)),
		attribute.Int64("message.id", int64(msg.ID)),
	)
	return &IngestResult{Lead: lead, Conversation: conv, Message: msg, Job: &job}, nil
}

func (s *IngestService) replay(ctx context.Context, messageID uint) (*IngestResult, error) {
	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := repo.GetConversation(ctx, s.DB, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	lead, err := repo.GetLead(ctx, s.DB, conv.LeadID)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Lead: lead, Conversation: conv, Message: msg, Duplicate: true}, nil
}
