package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
)

// CreateAppointment validates and inserts a booking. A second booking for the
// same source message is reported as ErrDuplicate.
func CreateAppointment(ctx context.Context, db *gorm.DB, a *domain.Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAppointmentBySourceMessage returns the booking produced by processing
// messageID, or ErrNotFound.
func GetAppointmentBySourceMessage(ctx context.Context, db *gorm.DB, messageID uint) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := db.WithContext(ctx).Where("source_message_id = ?", messageID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAppointments returns the number of bookings, optionally for one lead
// (leadID 0 matches all).
func CountAppointments(ctx context.Context, db *gorm.DB, leadID uint) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Appointment{})
	if leadID != 0 {
		q = q.Where("lead_id = ?", leadID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListAppointmentsPage returns bookings ordered by start time.
func ListAppointmentsPage(ctx context.Context, db *gorm.DB, leadID uint, offset, limit int) ([]domain.Appointment, error) {
	var out []domain.Appointment
	q := db.WithContext(ctx)
	if leadID != 0 {
		q = q.Where("lead_id = ?", leadID)
	}
	err := q.Order("start_at ASC, id ASC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// ListBusyAppointments returns non-cancelled bookings overlapping [from, to).
func ListBusyAppointments(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := db.WithContext(ctx).
		Where("status <> ? AND start_at < ? AND end_at > ?", domain.AppointmentCancelled, to, from).
		Order("start_at ASC").
		Find(&out).Error
	return out, err
}

// ErrSlotTaken is returned by ReserveAppointment when a non-cancelled booking
// already overlaps the window.
var ErrSlotTaken = errors.New("slot taken")

// reserveLockKey serializes reservations on PostgreSQL.
const reserveLockKey = 7261001

// ReserveAppointment inserts a and commits it only if no other non-cancelled
// booking overlaps [a.StartAt, a.EndAt). The insert runs before the overlap
// check so that, on SQLite, the write lock is held while checking; PostgreSQL
// takes a transaction-scoped advisory lock instead.
func ReserveAppointment(ctx context.Context, db *gorm.DB, a *domain.Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", reserveLockKey).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(a).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		var overlapping int64
		err := tx.Model(&domain.Appointment{}).
			Where("id <> ? AND status <> ? AND start_at < ? AND end_at > ?", a.ID, domain.AppointmentCancelled, a.EndAt, a.StartAt).
			Count(&overlapping).Error
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return ErrSlotTaken
		}
		return nil
	})
}
