// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
// Messages are insert-only; nothing here updates a stored turn.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
)

// CreateMessage inserts a new message row. providerID may be empty. A unique
// violation on the provider id is reported as ErrDuplicate.
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID uint, sender domain.Sender, content, providerID string) (*domain.Message, error) {
	m := &domain.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
	if providerID != "" {
		m.ProviderID = &providerID
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByProviderID fetches a message by the provider's identifier.
func GetMessageByProviderID(ctx context.Context, db *gorm.DB, providerID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("provider_id = ?", providerID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages ordered deterministically (Timestamp ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, conversationID uint, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("timestamp ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (Timestamp ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID uint, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListLeadHistory returns up to limit lead-authored messages that precede
// beforeID in the conversation, oldest first.
func ListLeadHistory(ctx context.Context, db *gorm.DB, conversationID, beforeID uint, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND sender = ? AND id < ?", conversationID, domain.SenderLead, beforeID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
