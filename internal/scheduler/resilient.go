package scheduler

import (
	"context"

	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/resilience"
)

// ResilientExecutor wraps an Executor with retry and a circuit
// breaker. The scheduler itself never retries; callers opt in by
// composing their executor through this wrapper. Retry runs outside
// the breaker so each attempt consults breaker state independently.
type ResilientExecutor struct {
	inner   Executor
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewResilientExecutor composes inner with the given retry policy and
// breaker. A nil breaker gets default thresholds.
func NewResilientExecutor(inner Executor, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *ResilientExecutor {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
	}
	return &ResilientExecutor{inner: inner, retry: retry, breaker: breaker}
}

// Breaker exposes the guarding circuit breaker for inspection
func (e *ResilientExecutor) Breaker() *resilience.CircuitBreaker {
	return e.breaker
}

// Execute runs the command through retry and breaker. The last result
// observed is returned alongside any final error.
func (e *ResilientExecutor) Execute(ctx context.Context, name string, args []string, opts command.Options) (*domain.JobResult, error) {
	var result *domain.JobResult
	err := resilience.WithResilience(ctx, e.retry, e.breaker, func(ctx context.Context) error {
		var execErr error
		result, execErr = e.inner.Execute(ctx, name, args, opts)
		return execErr
	})
	return result, err
}
