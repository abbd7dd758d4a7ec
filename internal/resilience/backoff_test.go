package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateBackoff_ExponentialAndCapped(t *testing.T) {
	initial := 1000 * time.Millisecond
	max := 30000 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{4, 16000 * time.Millisecond},
		{5, 30000 * time.Millisecond}, // 32000 capped
		{10, 30000 * time.Millisecond},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, initial, max, 2, false)
		if got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoff_NonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt <= 15; attempt++ {
		got := CalculateBackoff(attempt, time.Second, 30*time.Second, 2, false)
		if got < prev {
			t.Fatalf("CalculateBackoff(%d) = %v < previous %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestCalculateBackoff_JitterBounds(t *testing.T) {
	base := 4 * time.Second
	for i := 0; i < 50; i++ {
		got := CalculateBackoff(2, time.Second, 30*time.Second, 2, true)
		if got < base || got > base+base/4 {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, base, base+base/4)
		}
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	last := errors.New("connection refused (final)")
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, func(ctx context.Context) error {
		attempts++
		if attempts == 3 {
			return last
		}
		return errors.New("connection refused")
	})
	if !errors.Is(err, last) {
		t.Errorf("error = %v, want last failure", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
}

func TestWithRetry_DefaultPredicateSkipsNonRetryable(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
	}, func(ctx context.Context) error {
		attempts++
		return errors.New("401 unauthorized")
	})
	if err == nil {
		t.Fatal("error = nil, want failure")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (authentication is not retryable)", attempts)
	}
}

func TestWithRetry_OnRetryObservesEachBackoff(t *testing.T) {
	var delays []time.Duration
	_ = WithRetry(context.Background(), RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			delays = append(delays, delay)
		},
	}, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	if len(delays) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(delays))
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays = %v, want [1ms 2ms]", delays)
	}
}

func TestWithRetry_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Hour,
		Multiplier:   2,
	}, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestPresets(t *testing.T) {
	if None().MaxRetries != 0 {
		t.Error("None() should not retry")
	}
	if Conservative().MaxRetries == 0 || !Conservative().Jitter {
		t.Error("Conservative() should retry with jitter")
	}
	if Aggressive().MaxRetries <= Conservative().MaxRetries {
		t.Error("Aggressive() should retry more than Conservative()")
	}

	netOnly := NetworkOnly()
	if !netOnly.RetryPredicate(errors.New("connection refused"), 0) {
		t.Error("NetworkOnly should retry network errors")
	}
	if netOnly.RetryPredicate(errors.New("rate limit exceeded"), 0) {
		t.Error("NetworkOnly should not retry transient errors")
	}

	transOnly := TransientOnly()
	if !transOnly.RetryPredicate(errors.New("rate limit exceeded"), 0) {
		t.Error("TransientOnly should retry transient errors")
	}
	if transOnly.RetryPredicate(errors.New("connection refused"), 0) {
		t.Error("TransientOnly should not retry network errors")
	}

	if PresetByName("aggressive").MaxRetries != Aggressive().MaxRetries {
		t.Error("PresetByName(aggressive) mismatch")
	}
	if PresetByName("unheard-of").MaxRetries != Conservative().MaxRetries {
		t.Error("PresetByName should fall back to conservative")
	}
}
