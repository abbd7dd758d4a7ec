package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker FSM state
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig parameterizes a CircuitBreaker
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	ResetTimeout     time.Duration // open duration before a probe call is allowed
}

// DefaultBreakerConfig returns the standard thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one external dependency. Counters and state
// are mutated only inside Execute; the open→half-open transition is a
// passive time check, not a background timer.
type CircuitBreaker struct {
	cfg BreakerConfig

	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time

	now func() time.Time // injectable for tests
	mu  sync.Mutex
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take
// defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// State returns the current FSM state
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under breaker protection. While open and before the
// reset timeout it rejects with ErrCircuitOpen without invoking fn; on
// failure the original error is propagated untouched.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.canExecute() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// canExecute also performs the open→half-open transition once the
// reset timeout has elapsed.
func (b *CircuitBreaker) canExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			b.consecutiveSuccesses = 0
			return true
		}
		return false
	}
	return false
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.consecutiveSuccesses = 0
		}
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()
	b.consecutiveSuccesses = 0

	switch b.state {
	case BreakerHalfOpen:
		// One failure while probing reopens immediately
		b.state = BreakerOpen
		b.consecutiveFailures = 0
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.consecutiveFailures = 0
		}
	}
}
