package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunner_ExecuteCapturesStdout(t *testing.T) {
	r := NewRunner()

	result, err := r.Execute(context.Background(), "echo", []string{"hello"}, Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("TimedOut = true, want false")
	}
}

func TestRunner_ExecuteStreamsLines(t *testing.T) {
	r := NewRunner()

	var mu sync.Mutex
	var lines []string
	opts := Options{
		OnOutput: func(line string, isStderr bool) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	}

	_, err := r.Execute(context.Background(), "sh", []string{"-c", "echo one; echo two"}, opts)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("streamed %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0] != "one" || lines[1] != "two" {
		t.Errorf("lines = %v, want [one two]", lines)
	}
}

func TestRunner_ExecuteNonZeroExit(t *testing.T) {
	r := NewRunner()

	result, err := r.Execute(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"}, Options{})
	if err == nil {
		t.Fatal("Execute() error = nil, want ExitError")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error type = %T, want *ExitError", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", exitErr.ExitCode())
	}
	if !strings.Contains(exitErr.Stderr, "oops") {
		t.Errorf("Stderr = %q, want to contain oops", exitErr.Stderr)
	}
	if result == nil || result.ExitCode != 3 {
		t.Errorf("result = %+v, want captured exit code 3", result)
	}
}

func TestRunner_ExecuteTimeout(t *testing.T) {
	r := NewRunner()

	start := time.Now()
	_, err := r.Execute(context.Background(), "sleep", []string{"10"}, Options{
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not enforced")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error type = %T, want *ExitError", err)
	}
	if !exitErr.Timeout() {
		t.Error("Timeout() = false, want true")
	}
}

func TestRunner_ExecuteUnknownCommand(t *testing.T) {
	r := NewRunner()

	_, err := r.Execute(context.Background(), "definitely-not-a-command-xyz", nil, Options{})
	if err == nil {
		t.Fatal("Execute() error = nil, want start failure")
	}
}

func TestStderrTail(t *testing.T) {
	long := strings.Repeat("line\n", 10) + "last"
	tail := stderrTail(long)
	if strings.Count(tail, "\n") != 4 {
		t.Errorf("tail lines = %d, want 5", strings.Count(tail, "\n")+1)
	}
	if !strings.HasSuffix(tail, "last") {
		t.Errorf("tail = %q, want suffix last", tail)
	}
}
