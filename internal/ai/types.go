package ai

import (
	"context"
	"errors"
)

var (
	// ErrBackendAbsent means no reasoning backend is configured.
	ErrBackendAbsent = errors.New("reasoning backend not configured")
	// ErrBackendUnavailable covers transport and provider errors.
	ErrBackendUnavailable = errors.New("reasoning backend unavailable")
	// ErrTimeout is returned when a call exceeds the dispatcher timeout.
	ErrTimeout = errors.New("reasoning backend timed out")
	// ErrMalformedResponse is returned when the backend output fails the schema.
	ErrMalformedResponse = errors.New("reasoning backend returned a malformed response")
)

// Backend produces raw text for a prompt. Output is untrusted.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FallbackReason names why the deterministic path was taken.
type FallbackReason string

const (
	ReasonBackendAbsent FallbackReason = "backend_absent"
	ReasonBackendError  FallbackReason = "backend_error"
	ReasonTimeout       FallbackReason = "backend_timeout"
	ReasonMalformed     FallbackReason = "malformed_response"
)

// Outcome records which path produced a result.
type Outcome struct {
	Fallback bool
	Reason   FallbackReason
}

// Primary is the outcome of a validated backend answer.
func Primary() Outcome { return Outcome{} }

// Fallback is the outcome of the deterministic path.
func Fallback(reason FallbackReason) Outcome { return Outcome{Fallback: true, Reason: reason} }

// Source is the short label stored with a decision.
func (o Outcome) Source() string {
	if o.Fallback {
		return "fallback"
	}
	return "ai"
}

// Classify maps a backend or parse error onto a fallback reason.
func Classify(err error) FallbackReason {
	switch {
	case errors.Is(err, ErrBackendAbsent):
		return ReasonBackendAbsent
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrMalformedResponse):
		return ReasonMalformed
	default:
		return ReasonBackendError
	}
}
