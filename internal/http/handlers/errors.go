// Package handlers defines the error codes returned in the JSON error
// envelope. Clients branch on the code, never on the message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidAppointment = "invalid_appointment"
	ErrCodeLeadNotFound       = "lead_not_found"
	ErrCodeIngestFailed       = "ingest_failed"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeRequeueFailed      = "requeue_failed"
)
