package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
)

// GetConversation fetches a conversation by id, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id uint) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOpenConversation returns the lead's open conversation, or ErrNotFound.
func GetOpenConversation(ctx context.Context, db *gorm.DB, leadID uint) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("lead_id = ? AND status = ?", leadID, domain.ConversationOpen).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateOpenConversation returns the lead's open conversation, opening a
// new one when none exists. The partial unique index guarantees a concurrent
// opener loses with a unique violation, after which the winner is returned.
func GetOrCreateOpenConversation(ctx context.Context, db *gorm.DB, leadID uint) (*domain.Conversation, error) {
	c, err := GetOpenConversation(ctx, db, leadID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	c = &domain.Conversation{
		LeadID:        leadID,
		Status:        domain.ConversationOpen,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return GetOpenConversation(ctx, db, leadID)
		}
		return nil, err
	}
	return c, nil
}

// TouchConversation moves LastMessageAt forward to at. Older timestamps are
// ignored so out-of-order writers cannot move it backwards.
func TouchConversation(ctx context.Context, db *gorm.DB, id uint, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Updates(map[string]any{"last_message_at": at, "updated_at": time.Now().UTC()})
	return res.Error
}

// CountConversations returns the number of conversations, optionally filtered
// by status (empty matches all).
func CountConversations(ctx context.Context, db *gorm.DB, status string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Conversation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListConversationsPage returns conversations ordered by most recent activity,
// with their lead preloaded.
func ListConversationsPage(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	q := db.WithContext(ctx).Preload("Lead")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("last_message_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
