package llmclient

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker builds a circuit breaker layered outside the per-call retry:
// once a client's calls fail consistently, the breaker opens and short-
// circuits further attempts until the reset timeout elapses, sparing the
// upstream a retry storm.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Call runs fn through the breaker, then through the retry loop, matching
// the layering described in SPEC_FULL.md: breaker outside, retry inside.
func Call(ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, fn func(ctx context.Context) (any, error)) (any, error) {
	return cb.Execute(func() (any, error) {
		return Retry(ctx, cfg, fn)
	})
}

// OptionalFieldPriority is the declarative drop order SDK-compat retries
// consult, grounded on api_client.py's _responses_create_compat
// optional_drop_order.
var OptionalFieldPriority = []string{
	"response_format", "tools", "tool_choice", "reasoning", "text", "metadata", "previous_response_id",
}

// DropOptionalFields removes OptionalFieldPriority keys from fields, one at
// a time in priority order, returning the resulting set after each drop.
// Callers retry their SDK call after each drop until it is accepted or the
// field set is exhausted.
func DropOptionalFields(fields map[string]any) []map[string]any {
	variants := make([]map[string]any, 0, len(OptionalFieldPriority))
	current := make(map[string]any, len(fields))
	for k, v := range fields {
		current[k] = v
	}
	for _, key := range OptionalFieldPriority {
		if _, ok := current[key]; !ok {
			continue
		}
		delete(current, key)
		next := make(map[string]any, len(current))
		for k, v := range current {
			next[k] = v
		}
		variants = append(variants, next)
	}
	return variants
}
