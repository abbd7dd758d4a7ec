package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/resilience"
)

// flakyExecutor fails a fixed number of times before succeeding
type flakyExecutor struct {
	failures int

	mu    sync.Mutex
	calls int
}

func (e *flakyExecutor) Execute(ctx context.Context, name string, args []string, opts command.Options) (*domain.JobResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("connection refused")
	}
	return &domain.JobResult{Stdout: "ok", ExitCode: 0}, nil
}

func TestResilientExecutor_RetriesThroughBreaker(t *testing.T) {
	inner := &flakyExecutor{failures: 2}
	exec := NewResilientExecutor(inner, resilience.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, nil)

	result, err := exec.Execute(context.Background(), "cmd", nil, command.Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Stdout != "ok" {
		t.Errorf("Stdout = %q, want ok", result.Stdout)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	if exec.Breaker().State() != resilience.BreakerClosed {
		t.Errorf("breaker State = %q, want closed", exec.Breaker().State())
	}
}

func TestResilientExecutor_OpenBreakerStopsRetrying(t *testing.T) {
	inner := &flakyExecutor{failures: 100}
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	exec := NewResilientExecutor(inner, resilience.RetryConfig{
		MaxRetries:   10,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, breaker)

	_, err := exec.Execute(context.Background(), "cmd", nil, command.Options{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2 (breaker opened after threshold)", inner.calls)
	}
}

func TestScheduler_WithResilientExecutor(t *testing.T) {
	inner := &flakyExecutor{failures: 1}
	exec := NewResilientExecutor(inner, resilience.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, nil)

	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	id := s.Submit(JobConfig{Command: "cmd"})
	job, err := s.WaitForJob(id, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Errorf("Status = %q, want completed (retried transparently)", job.Status)
	}
}
