package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/repo"
)

// LocalCalendar derives availability from the appointments table. It is the
// fallback when no external calendar is configured.
//
// Queries run on the handle found in the context (see repo.ContextWithDB), so
// a caller holding a session connection does not need a second one; DB is
// used otherwise.
type LocalCalendar struct {
	DB    *gorm.DB
	Hours Hours
	Now   func() time.Time
}

// NewLocalCalendar returns a calendar backed by db.
func NewLocalCalendar(db *gorm.DB, hours Hours) *LocalCalendar {
	return &LocalCalendar{DB: db, Hours: hours, Now: time.Now}
}

func (l *LocalCalendar) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *LocalCalendar) busy(ctx context.Context, from, to time.Time) ([]domain.Slot, error) {
	appts, err := repo.ListBusyAppointments(ctx, repo.DBFromContext(ctx, l.DB), from, to)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Slot, 0, len(appts))
	for _, a := range appts {
		out = append(out, domain.Slot{Start: a.StartAt, End: a.EndAt})
	}
	return out, nil
}

// ListSlots implements Calendar.
func (l *LocalCalendar) ListSlots(ctx context.Context, c domain.Criteria) ([]domain.Slot, error) {
	open, closeAt, err := l.Hours.Day(c.Date)
	if err != nil {
		return nil, err
	}
	busy, err := l.busy(ctx, open, closeAt)
	if err != nil {
		return nil, err
	}
	return l.Hours.Candidates(c, busy, l.now())
}

// Reserve implements Calendar. The booking is stored as a pending
// appointment and returned in the confirmation; a window taken since
// ListSlots loses with ErrReservationFailed. A second reservation for the
// same source message fails with repo.ErrDuplicate.
func (l *LocalCalendar) Reserve(ctx context.Context, slot domain.Slot, lead domain.Lead, c domain.Criteria) (Confirmation, error) {
	a := &domain.Appointment{
		LeadID:      lead.ID,
		Service:     c.Service,
		StartAt:     slot.Start.UTC(),
		EndAt:       slot.End.UTC(),
		Status:      domain.AppointmentPending,
		ExternalRef: "local-" + uuid.NewString(),
	}
	if c.SourceMessageID != 0 {
		id := c.SourceMessageID
		a.SourceMessageID = &id
	}
	err := repo.ReserveAppointment(ctx, repo.DBFromContext(ctx, l.DB), a)
	switch {
	case err == nil:
		return Confirmation{ExternalRef: a.ExternalRef, Slot: slot, Appointment: a}, nil
	case errors.Is(err, repo.ErrSlotTaken):
		return Confirmation{}, fmt.Errorf("%w: %s already taken", ErrReservationFailed, slot)
	case errors.Is(err, repo.ErrDuplicate):
		return Confirmation{}, err
	default:
		return Confirmation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
}
