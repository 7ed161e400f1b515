// Package extraction turns free-form inbound text into a structured
// domain.ExtractionResult.
//
// Analyzers never panic or return raw upstream errors: every failure is a
// *Failure whose Kind tells callers whether the upstream was unreachable or
// answered with something that could not be interpreted. Callers recover from
// both the same way, but operators care about the difference.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/go-atendente/internal/domain"
)

// Kind classifies an extraction failure.
type Kind int

const (
	// KindUnavailable means the upstream could not be reached, timed out,
	// rejected the call, or the circuit breaker is open.
	KindUnavailable Kind = iota + 1
	// KindMalformed means the upstream answered but the answer was not the
	// expected structure (or carried zero confidence).
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Failure is the only error type analyzers return.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "extraction " + f.Kind.String()
	}
	return fmt.Sprintf("extraction %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func unavailable(err error) *Failure { return &Failure{Kind: KindUnavailable, Err: err} }
func malformed(err error) *Failure   { return &Failure{Kind: KindMalformed, Err: err} }

// IsUnavailable reports whether err is an unavailable-upstream Failure.
func IsUnavailable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == KindUnavailable
}

// IsMalformed reports whether err is a malformed-response Failure.
func IsMalformed(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == KindMalformed
}

// Request is one analysis input: the current message plus earlier lead turns
// of the same conversation, oldest first.
type Request struct {
	Text    string
	History []string
}

// Analyzer extracts booking intent from text.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (domain.ExtractionResult, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req Request) (domain.ExtractionResult, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req Request) (domain.ExtractionResult, error) {
	return f(ctx, req)
}
