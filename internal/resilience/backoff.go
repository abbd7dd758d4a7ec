package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPredicate decides whether a failed attempt should be retried
type RetryPredicate func(err error, attempt int) bool

// RetryConfig parameterizes WithRetry
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// RetryPredicate defaults to "classification says retryable"
	RetryPredicate RetryPredicate

	// OnRetry is called before each backoff sleep
	OnRetry func(err error, attempt int, delay time.Duration)
}

// CalculateBackoff returns the delay before retry number attempt
// (0-based): min(initial × multiplier^attempt, max), optionally
// inflated by up to 25% uniform jitter and floored to a whole
// millisecond.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64, jitter bool) time.Duration {
	if initial <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}

	ms := float64(initial.Milliseconds()) * math.Pow(multiplier, float64(attempt))
	if maxMs := float64(max.Milliseconds()); max > 0 && ms > maxMs {
		ms = maxMs
	}
	if jitter {
		ms *= 1 + rand.Float64()*0.25
	}
	return time.Duration(math.Floor(ms)) * time.Millisecond
}

// WithRetry runs fn until it succeeds, the retry budget is exhausted,
// or the predicate declines. The final failing error is returned once
// retries run out; intermediate sleeps respect ctx cancellation.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	predicate := cfg.RetryPredicate
	if predicate == nil {
		predicate = func(err error, _ int) bool { return IsRetryable(err) }
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt >= cfg.MaxRetries || !predicate(lastErr, attempt) {
			return lastErr
		}

		delay := CalculateBackoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(lastErr, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Preset retry policies for common call sites.

// Conservative retries a few times with generous spacing
func Conservative() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Aggressive retries often with tight spacing
func Aggressive() RetryConfig {
	return RetryConfig{
		MaxRetries:   10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	}
}

// None disables retrying
func None() RetryConfig {
	return RetryConfig{MaxRetries: 0}
}

// NetworkOnly retries only network and timeout failures
func NetworkOnly() RetryConfig {
	cfg := Conservative()
	cfg.RetryPredicate = func(err error, _ int) bool {
		ce := Classify(err)
		return ce != nil && (ce.Category == CategoryNetwork || ce.Category == CategoryTimeout)
	}
	return cfg
}

// TransientOnly retries only transient failures
func TransientOnly() RetryConfig {
	cfg := Conservative()
	cfg.RetryPredicate = func(err error, _ int) bool {
		ce := Classify(err)
		return ce != nil && ce.Category == CategoryTransient
	}
	return cfg
}

// PresetByName resolves a preset name from configuration. Unknown
// names fall back to conservative.
func PresetByName(name string) RetryConfig {
	switch name {
	case "aggressive":
		return Aggressive()
	case "none":
		return None()
	case "network-only":
		return NetworkOnly()
	case "transient-only":
		return TransientOnly()
	default:
		return Conservative()
	}
}
