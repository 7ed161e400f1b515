package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tbourn/go-atendente/internal/domain"
)

// BreakerAnalyzer short-circuits calls to an unhealthy upstream. Only
// KindUnavailable failures count against the breaker; a malformed answer
// proves the upstream is reachable.
type BreakerAnalyzer struct {
	next Analyzer
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerAnalyzer opens after failures consecutive unavailable results
// and probes again after cooldown.
func NewBreakerAnalyzer(next Analyzer, failures uint32, cooldown time.Duration) *BreakerAnalyzer {
	if failures == 0 {
		failures = 5
	}
	st := gobreaker.Settings{
		Name:        "extraction",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "extraction").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &BreakerAnalyzer{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State exposes the breaker state for health reporting.
func (b *BreakerAnalyzer) State() gobreaker.State { return b.cb.State() }

// Analyze implements Analyzer.
func (b *BreakerAnalyzer) Analyze(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Analyze(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ExtractionResult{}, unavailable(err)
		}
		var f *Failure
		if errors.As(err, &f) {
			return domain.ExtractionResult{}, f
		}
		return domain.ExtractionResult{}, unavailable(err)
	}
	return out.(domain.ExtractionResult), nil
}
