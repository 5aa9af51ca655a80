package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCaseNotFound is returned when a case identifier cannot be resolved.
	ErrCaseNotFound = errors.New("case not found")
	// ErrInsufficientTurns is returned when an interview is ended before the
	// learner has said anything.
	ErrInsufficientTurns = errors.New("insufficient turns: have a conversation before ending the interview")
	// ErrInvalidState is returned for operations not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrEvaluationUnavailable is returned when scoring fails or yields an unusable result.
	ErrEvaluationUnavailable = errors.New("evaluation unavailable")
)

// ProviderError reports a failed call to an external provider.
type ProviderError struct {
	Op         string // provider operation, e.g. "respond"
	StatusCode int    // HTTP status, 0 for transport failures
	Detail     string // human-readable detail from the provider, if any
	Err        error
}

func (e *ProviderError) Error() string {
	msg := "provider " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	switch {
	case e.Detail != "":
		msg += ": " + e.Detail
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UserMessage returns the text to show the learner for a provider failure.
func (e *ProviderError) UserMessage(fallback string) string {
	if e.Detail != "" {
		return e.Detail
	}
	return fallback
}
