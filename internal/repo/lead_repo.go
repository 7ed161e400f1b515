// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations on insert are reported as ErrDuplicate.
//   - On other DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Usage:
//
//	lead, err := repo.GetLead(ctx, db, conv.LeadID)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // handle missing
//	} else if err != nil {
//	    // handle DB failure
//	}
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert hit a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation recognises unique-constraint failures across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") ||
		strings.Contains(low, "sqlstate 23505")
}

// GetLead fetches a lead by id, or ErrNotFound.
func GetLead(ctx context.Context, db *gorm.DB, id uint) (*domain.Lead, error) {
	var l domain.Lead
	if err := db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLeadByPhone fetches a lead by channel address, or ErrNotFound.
func GetLeadByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Lead, error) {
	var l domain.Lead
	if err := db.WithContext(ctx).Where("phone = ?", phone).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// GetOrCreateLead returns the lead for phone, creating it on first contact.
// A concurrent insert of the same phone is resolved by re-reading the winner.
func GetOrCreateLead(ctx context.Context, db *gorm.DB, phone string) (*domain.Lead, error) {
	l, err := GetLeadByPhone(ctx, db, phone)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	l = &domain.Lead{Phone: phone, CreatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		if isUniqueViolation(err) {
			return GetLeadByPhone(ctx, db, phone)
		}
		return nil, err
	}
	return l, nil
}

// SetLeadName stores a display name when the lead has none yet. It never
// overwrites an existing name.
func SetLeadName(ctx context.Context, db *gorm.DB, id uint, name string) error {
	return db.WithContext(ctx).
		Model(&domain.Lead{}).
		Where("id = ? AND (name IS NULL OR name = '')", id).
		Update("name", name).Error
}
