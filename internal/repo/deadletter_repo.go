package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
)

// CreateDeadLetter records an abandoned job.
func CreateDeadLetter(ctx context.Context, db *gorm.DB, dl *domain.DeadLetter) error {
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(dl).Error
}

// GetDeadLetter fetches a dead letter by id, or ErrNotFound.
func GetDeadLetter(ctx context.Context, db *gorm.DB, id uint) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	if err := db.WithContext(ctx).First(&dl, id).Error; err != nil {
		return nil, err
	}
	return &dl, nil
}

// CountDeadLetters returns the number of dead letters not yet requeued.
func CountDeadLetters(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.DeadLetter{}).Where("requeued_at IS NULL").Count(&total).Error
	return total, err
}

// ListDeadLettersPage returns pending dead letters, newest first.
func ListDeadLettersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DeadLetter, error) {
	var out []domain.DeadLetter
	err := db.WithContext(ctx).
		Where("requeued_at IS NULL").
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkDeadLetterRequeued stamps RequeuedAt. It returns ErrNotFound when the
// record is missing or was already requeued.
func MarkDeadLetterRequeued(ctx context.Context, db *gorm.DB, id uint, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.DeadLetter{}).
		Where("id = ? AND requeued_at IS NULL", id).
		Update("requeued_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
