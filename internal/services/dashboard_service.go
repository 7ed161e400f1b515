package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/utils"
)

// DashboardService serves the read-only operator views.
type DashboardService struct {
	DB *gorm.DB
}

// ListConversations returns a page of conversations, most recently active
// first, optionally filtered by status.
func (s *DashboardService) ListConversations(ctx context.Context, status string, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "ListConversations",
		trace.WithAttributes(
			attribute.String("status", status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	p := utils.NewPage(page, pageSize)
	total, err := repo.CountConversations(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, status, p.Offset(), p.Size)
	return items, total, err
}

// ConversationsVersion returns the inputs of the conversation list ETag.
func (s *DashboardService) ConversationsVersion(ctx context.Context, status string) (int64, *time.Time, error) {
	return repo.ConversationsStats(ctx, s.DB, status)
}

// Conversation returns one conversation with its lead.
func (s *DashboardService) Conversation(ctx context.Context, id uint) (*domain.Conversation, *domain.Lead, error) {
	tr := otel.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "Conversation",
		trace.WithAttributes(attribute.Int64("conversation.id", int64(id))),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrConversationNotFound
		}
		return nil, nil, err
	}
	lead, err := repo.GetLead(ctx, s.DB, conv.LeadID)
	if err != nil {
		return nil, nil, err
	}
	return conv, lead, nil
}

// ListMessages returns a page of a conversation's messages in timestamp order.
func (s *DashboardService) ListMessages(ctx context.Context, conversationID uint, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/DashboardService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(conversationID)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrConversationNotFound
		}
		return nil, 0, err
	}

	p := utils.NewPage(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, p.Offset(), p.Size)
	return items, total, err
}

// MessagesVersion returns the inputs of a conversation's message list ETag.
func (s *DashboardService) MessagesVersion(ctx context.Context, conversationID uint) (int64, *time.Time, error) {
	return repo.MessagesStats(ctx, s.DB, conversationID)
}
