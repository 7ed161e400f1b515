package pipeline

import (
	"errors"
	"fmt"
)

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	// Completed means a reply was produced and delivery was attempted, or the
	// job had already completed before. Never retried.
	Completed Outcome = iota
	// FailedRetryable means an infrastructure error stopped the run before a
	// reply could be produced. The runner may try again later.
	FailedRetryable
	// FailedPermanent means the referenced records do not exist. Retrying
	// cannot help.
	FailedPermanent
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case FailedRetryable:
		return "failed_retryable"
	case FailedPermanent:
		return "failed_permanent"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

var (
	// ErrNotFound is wrapped by permanent failures caused by a missing
	// message, conversation, or lead.
	ErrNotFound = errors.New("referenced record not found")

	// ErrInvalidJob is wrapped by permanent failures where the records exist
	// but cannot be processed, e.g. the message is not an inbound lead turn.
	ErrInvalidJob = errors.New("invalid pipeline job")
)
