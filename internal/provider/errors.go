package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all provider adapters. Every one of them
// is a non-fatal, per-record outcome: the resolution pipeline falls
// through to the next provider on any of these.
var (
	// ErrNotFound indicates the provider returned no candidates.
	ErrNotFound = errors.New("no matching record found")

	// ErrRateLimited indicates the provider signaled throttling.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrInvalidResponse indicates an unexpected response shape.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrNetwork indicates a connectivity failure.
	ErrNetwork = errors.New("network error")
)

// LowScoreError reports a candidate that was found but failed the
// similarity gate. The computed score is carried for diagnosis.
type LowScoreError struct {
	Provider  string
	Title     string // the rejected candidate's title
	Score     float64
	Threshold float64
}

func (e *LowScoreError) Error() string {
	return fmt.Sprintf("%s candidate %q scored %.2f, below threshold %.2f",
		e.Provider, e.Title, e.Score, e.Threshold)
}

// StatusError reports an unexpected HTTP status from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Provider, e.StatusCode)
}

// IsNotFound returns true if the error indicates the provider had no
// matching record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited returns true if the error indicates throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// AsLowScore extracts a LowScoreError if err carries one.
func AsLowScore(err error) (*LowScoreError, bool) {
	var lse *LowScoreError
	if errors.As(err, &lse) {
		return lse, true
	}
	return nil, false
}
