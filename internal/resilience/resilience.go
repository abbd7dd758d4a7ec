// Package resilience provides error classification, backoff retry, and
// a circuit breaker for calls to external dependencies.
package resilience

import (
	"context"
	"errors"
)

// WithResilience composes retry around breaker: each retry attempt
// independently consults the breaker, so an open breaker short-circuits
// the remaining attempts instead of being bypassed by the retry loop.
func WithResilience(ctx context.Context, cfg RetryConfig, breaker *CircuitBreaker, fn func(ctx context.Context) error) error {
	predicate := cfg.RetryPredicate
	if predicate == nil {
		predicate = func(err error, _ int) bool { return IsRetryable(err) }
	}
	cfg.RetryPredicate = func(err error, attempt int) bool {
		if errors.Is(err, ErrCircuitOpen) {
			return false
		}
		return predicate(err, attempt)
	}

	return WithRetry(ctx, cfg, func(ctx context.Context) error {
		return breaker.Execute(ctx, fn)
	})
}
