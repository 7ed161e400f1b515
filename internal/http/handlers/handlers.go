package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/services"
)

// Ingestor stores inbound channel messages and schedules their processing.
type Ingestor interface {
	Receive(ctx context.Context, in services.Inbound) (*services.IngestResult, error)
}

// AppointmentService books and lists appointments made outside the pipeline.
type AppointmentService interface {
	Create(ctx context.Context, in services.AppointmentInput) (*domain.Appointment, error)
	ListPage(ctx context.Context, leadID uint, page, pageSize int) ([]domain.Appointment, int64, error)
}

// DashboardService reads conversations for operators. The Version methods
// return the row count and latest change time used to build ETags.
type DashboardService interface {
	ListConversations(ctx context.Context, status string, page, pageSize int) ([]domain.Conversation, int64, error)
	ConversationsVersion(ctx context.Context, status string) (int64, *time.Time, error)
	Conversation(ctx context.Context, id uint) (*domain.Conversation, *domain.Lead, error)
	ListMessages(ctx context.Context, conversationID uint, page, pageSize int) ([]domain.Message, int64, error)
	MessagesVersion(ctx context.Context, conversationID uint) (int64, *time.Time, error)
}

// DeadLetterService lists and requeues jobs that exhausted their retries.
type DeadLetterService interface {
	ListPage(ctx context.Context, page, pageSize int) ([]domain.DeadLetter, int64, error)
	Requeue(ctx context.Context, id uint) (*queue.Job, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	ingest Ingestor
	appts  AppointmentService
	dash   DashboardService
	dead   DeadLetterService
}

// New binds the handlers to their services.
func New(ingest Ingestor, appts AppointmentService, dash DashboardService, dead DeadLetterService) *Handlers {
	return &Handlers{ingest: ingest, appts: appts, dash: dash, dead: dead}
}
