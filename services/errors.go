package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoPriceAvailable is returned when a fresh fetch is impossible and no
// stored quote exists to fall back on.
var ErrNoPriceAvailable = errors.New("no spot price available")

// QuotaExceededError is returned when an API's call budget for the current
// period is used up.
type QuotaExceededError struct {
	APIName string
	Limit   int
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, resets at %s)",
		e.APIName, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// IsQuotaExceeded reports whether err is a quota exhaustion.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// UpstreamError wraps a failed call to an upstream API after retries.
type UpstreamError struct {
	APIName string
	Err     error
	Retries int
}

func (e *UpstreamError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("failed to reach %s: %v (after %d retries)", e.APIName, e.Err, e.Retries)
	}
	return fmt.Sprintf("failed to reach %s: %v", e.APIName, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// SourceUnavailableError wraps a listing source failure. The scan records it
// and continues with the other sources.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("listing source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }
