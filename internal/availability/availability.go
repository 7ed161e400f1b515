// Package availability lists free appointment windows and reserves them.
//
// Two calendars are provided: GoogleCalendar reads busy intervals through the
// Calendar FreeBusy API and books by inserting events; LocalCalendar treats
// the service's own appointments table as the source of truth. Both share the
// candidate generation in Hours, so slot ordering is identical: earliest
// first, starting at the preferred time when one was given.
package availability

import (
	"context"
	"errors"

	"github.com/tbourn/go-atendente/internal/domain"
)

// ErrReservationFailed is returned when a window could not be booked, either
// because it was taken in the meantime or because the backend refused.
var ErrReservationFailed = errors.New("reservation failed")

// ErrInvalidCriteria is returned when the requested date or time cannot be
// interpreted.
var ErrInvalidCriteria = errors.New("invalid availability criteria")

// Confirmation identifies a committed reservation.
type Confirmation struct {
	ExternalRef string
	Slot        domain.Slot

	// Appointment is set when the calendar stored the booking itself.
	Appointment *domain.Appointment
}

// Calendar is the booking backend used by the pipeline.
type Calendar interface {
	// ListSlots returns candidate windows, best first. An empty result is
	// not an error.
	ListSlots(ctx context.Context, c domain.Criteria) ([]domain.Slot, error)
	// Reserve books slot for lead. Lost races and backend refusals wrap
	// ErrReservationFailed.
	Reserve(ctx context.Context, slot domain.Slot, lead domain.Lead, c domain.Criteria) (Confirmation, error)
}
