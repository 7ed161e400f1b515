// Package services holds the application logic behind the HTTP layer:
// webhook ingestion, manual appointments, dashboards, and dead letters.
//
// This file centralizes service-level error values so handlers can map them
// to HTTP results consistently.
package services

import "errors"

// Ingestion errors.
var (
	// ErrMissingSender is returned when an inbound message carries no
	// channel address.
	ErrMissingSender = errors.New("sender address is empty")

	// ErrEmptyBody is returned for inbound messages without text, such as
	// media-only messages.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrTooLong is returned when an inbound body exceeds the configured
	// rune limit.
	ErrTooLong = errors.New("message body too long")
)

// Lookup and validation errors.
var (
	// ErrLeadNotFound indicates that the referenced lead does not exist.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrConversationNotFound indicates that the requested conversation
	// does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidAppointment is returned when a manual booking fails
	// validation (blank service, end not after start, unknown status).
	ErrInvalidAppointment = errors.New("invalid appointment")

	// ErrDeadLetterNotFound indicates that the dead letter does not exist
	// or was already requeued.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)
