package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/boardflow/orchestrator/internal/domain"
)

// DefaultTimeout bounds command execution when Options.Timeout is unset
const DefaultTimeout = 300 * time.Second

// OutputFunc receives one line of command output as it is produced
type OutputFunc func(line string, isStderr bool)

// Options control a single command execution
type Options struct {
	Timeout  time.Duration
	Dir      string
	Env      []string
	OnOutput OutputFunc
}

// ExitError reports a command that ran but exited non-zero or timed out.
// It carries enough detail for error classification.
type ExitError struct {
	Command  string
	Code     int
	Stderr   string
	TimedOut bool
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Command)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s: exit code %d", e.Command, e.Code)
}

// ExitCode returns the process exit code
func (e *ExitError) ExitCode() int { return e.Code }

// Timeout reports whether the command was killed by its deadline
func (e *ExitError) Timeout() bool { return e.TimedOut }

// Runner executes external commands with streaming output
type Runner struct{}

// NewRunner creates a Runner
func NewRunner() *Runner {
	return &Runner{}
}

// Execute runs the command and waits for it to finish. Output lines are
// streamed to opts.OnOutput as they arrive and collected into the result.
// A non-zero exit or timeout returns both the captured result and an
// *ExitError describing the failure.
func (r *Runner) Execute(ctx context.Context, name string, args []string, opts Options) (*domain.JobResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	var stdoutBuf, stderrBuf strings.Builder
	var bufMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	readLines := func(reader io.Reader, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		// Long single-line output is common; grow past the default cap
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			bufMu.Lock()
			if isStderr {
				stderrBuf.WriteString(line)
				stderrBuf.WriteByte('\n')
			} else {
				stdoutBuf.WriteString(line)
				stdoutBuf.WriteByte('\n')
			}
			bufMu.Unlock()
			if opts.OnOutput != nil {
				opts.OnOutput(line, isStderr)
			}
		}
	}

	go readLines(stdout, false)
	go readLines(stderr, true)
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(start)
	timedOut := ctx.Err() == context.DeadlineExceeded

	result := &domain.JobResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		TimedOut: timedOut,
		Duration: duration,
	}

	if waitErr != nil || timedOut {
		return result, &ExitError{
			Command:  name,
			Code:     result.ExitCode,
			Stderr:   stderrTail(result.Stderr),
			TimedOut: timedOut,
		}
	}

	return result, nil
}

// stderrTail keeps the last few lines of stderr for error messages
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
