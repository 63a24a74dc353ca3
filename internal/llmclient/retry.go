// Package llmclient provides the retry/backoff and circuit-breaker
// plumbing shared by the planner and translator clients, grounded on
// agent_core/api_client.py's _retry and wrapped in a gobreaker circuit
// breaker above it.
package llmclient

import (
	"context"
	"errors"
	"time"
)

// RetryConfig mirrors api_client.py's _retry defaults: base backoff 0.75s,
// doubling per attempt, up to 2 retries (3 attempts total).
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig matches the Python prototype exactly.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: 750 * time.Millisecond}
}

// TransientStatus is the set of upstream HTTP statuses considered transient
// and therefore eligible for retry.
var TransientStatus = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

// StatusError carries the HTTP status code of a failed upstream call so
// Retry can decide whether it is transient.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// IsTransient reports whether err (if a *StatusError) names a transient
// status code. Any other error type is treated as transient too, matching
// _retry's "unknown exceptions are retried" behavior.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return TransientStatus[se.StatusCode]
	}
	return true
}

// Retry calls fn up to cfg.MaxRetries+1 times, sleeping base*2^attempt
// between transient failures. A non-transient StatusError returns
// immediately without further attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !TransientStatus[se.StatusCode] {
			return nil, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
