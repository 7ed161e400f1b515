// Package delivery sends outbound text to a lead over the messaging channel.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrDeliveryFailed is matched by every send failure.
var ErrDeliveryFailed = errors.New("delivery failed")

// Sender delivers text to a channel address.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Error describes a failed send. Status is the provider HTTP status (0 when
// the request never got a response).
type Error struct {
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("delivery failed: status %d code %d: %s", e.Status, e.Code, e.Message)
	case e.Err != nil:
		return "delivery failed: " + e.Err.Error()
	default:
		return "delivery failed"
	}
}

// Unwrap lets errors.Is match both ErrDeliveryFailed and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeliveryFailed}
	}
	return []error{ErrDeliveryFailed, e.Err}
}

// LogSender writes messages to the log instead of sending them. Used when no
// provider credentials are configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, text string) error {
	log.Ctx(ctx).Info().
		Str("component", "delivery").
		Str("to", to).
		Str("text", text).
		Msg("outbound message (log sender)")
	return nil
}
