package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a retryable job runs and how long it waits
// between runs: Delay(n) = min(Base * 2^n, Max).
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy retries up to 5 runs total, from 2s up to 5m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2 * time.Second, Max: 5 * time.Minute, MaxAttempts: 5}
}

func (p RetryPolicy) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay is the wait before re-running a job whose attempt-th run failed.
// It never decreases as attempt grows.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	b := p.backoff()
	if p.Max <= 0 {
		b.MaxInterval = p.Base << 20
	}
	d := b.NextBackOff()
	for i := 0; i < attempt && d < b.MaxInterval; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ShouldRetry reports whether a job whose attempt-th run failed may run again.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt+1 < p.MaxAttempts
}
