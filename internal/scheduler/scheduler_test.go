package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/events"
)

// stubExecutor records dispatch order and can be gated or failed per
// command name.
type stubExecutor struct {
	gate chan struct{} // each Execute receives once before returning, when set
	fail map[string]error

	mu    sync.Mutex
	order []string
}

func (e *stubExecutor) Execute(ctx context.Context, name string, args []string, opts command.Options) (*domain.JobResult, error) {
	e.mu.Lock()
	e.order = append(e.order, name)
	e.mu.Unlock()

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.fail[name]; err != nil {
		return &domain.JobResult{ExitCode: 1, Stderr: err.Error()}, err
	}
	if opts.OnOutput != nil {
		opts.OnOutput("ok: "+name, false)
	}
	return &domain.JobResult{Stdout: "ok: " + name, ExitCode: 0}, nil
}

func (e *stubExecutor) dispatched() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func TestScheduler_PriorityDispatchOrder(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	// Saturate the single slot so later submissions queue up
	blocker := s.Submit(JobConfig{Command: "blocker"})
	waitForRunning(t, s, 1)

	low := s.Submit(JobConfig{Command: "low", Priority: domain.PriorityLow})
	critical := s.Submit(JobConfig{Command: "critical", Priority: domain.PriorityCritical})
	normal := s.Submit(JobConfig{Command: "normal", Priority: domain.PriorityNormal})

	// Release all four executions
	for i := 0; i < 4; i++ {
		exec.gate <- struct{}{}
	}

	for _, id := range []string{blocker, low, critical, normal} {
		if _, err := s.WaitForJob(id, 5*time.Second); err != nil {
			t.Fatalf("WaitForJob(%s) error = %v", id, err)
		}
	}

	got := exec.dispatched()
	want := []string{"blocker", "critical", "normal", "low"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
}

func TestScheduler_FIFOWithinPriority(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	s.Submit(JobConfig{Command: "first"})
	waitForRunning(t, s, 1)
	a := s.Submit(JobConfig{Command: "second"})
	b := s.Submit(JobConfig{Command: "third"})

	for i := 0; i < 3; i++ {
		exec.gate <- struct{}{}
	}
	for _, id := range []string{a, b} {
		if _, err := s.WaitForJob(id, 5*time.Second); err != nil {
			t.Fatal(err)
		}
	}

	got := exec.dispatched()
	want := []string{"first", "second", "third"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
}

func TestScheduler_ConcurrencyCapSaturated(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 2, nil)
	defer s.Shutdown()

	for i := 0; i < 4; i++ {
		s.Submit(JobConfig{Command: "job"})
	}
	waitForRunning(t, s, 2)

	if got := s.RunningCount(); got != 2 {
		t.Errorf("RunningCount = %d, want 2", got)
	}
	if got := s.QueueLength(); got != 2 {
		t.Errorf("QueueLength = %d, want 2", got)
	}

	// One completion frees a slot; the cap stays saturated
	exec.gate <- struct{}{}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.QueueLength() == 1 && s.RunningCount() == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if s.QueueLength() != 1 || s.RunningCount() != 2 {
		t.Errorf("after one completion: queue=%d running=%d, want 1/2", s.QueueLength(), s.RunningCount())
	}

	for i := 0; i < 3; i++ {
		exec.gate <- struct{}{}
	}
}

func TestScheduler_CancelQueuedOnly(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	running := s.Submit(JobConfig{Command: "running"})
	waitForRunning(t, s, 1)
	queued := s.Submit(JobConfig{Command: "queued"})

	if s.Cancel(running) {
		t.Error("Cancel(running job) = true, want false once dispatched")
	}
	if !s.Cancel(queued) {
		t.Error("Cancel(queued job) = false, want true")
	}

	status, _ := s.Status(queued)
	if status != domain.JobCancelled {
		t.Errorf("Status = %q, want cancelled", status)
	}

	// Cancelled wait resolves immediately
	job, err := s.WaitForJob(queued, time.Second)
	if err != nil {
		t.Fatalf("WaitForJob(cancelled) error = %v", err)
	}
	if job.Status != domain.JobCancelled {
		t.Errorf("job.Status = %q, want cancelled", job.Status)
	}

	exec.gate <- struct{}{}
	if _, err := s.WaitForJob(running, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if got := exec.dispatched(); len(got) != 1 {
		t.Errorf("dispatched = %v, cancelled job must not run", got)
	}
}

func TestScheduler_WaitForJobTimeout(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	id := s.Submit(JobConfig{Command: "slow"})
	_, err := s.WaitForJob(id, 20*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("error = %v, want ErrWaitTimeout", err)
	}

	// The job itself is unaffected by the wait timeout
	status, _ := s.Status(id)
	if status != domain.JobRunning {
		t.Errorf("Status = %q, want running", status)
	}

	exec.gate <- struct{}{}
	job, err := s.WaitForJob(id, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobCompleted {
		t.Errorf("Status = %q, want completed", job.Status)
	}
}

func TestScheduler_FailedJobDoesNotBlockQueue(t *testing.T) {
	exec := &stubExecutor{fail: map[string]error{"bad": errors.New("exit code 2: nope")}}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	bad := s.Submit(JobConfig{Command: "bad"})
	good := s.Submit(JobConfig{Command: "good"})

	badJob, err := s.WaitForJob(bad, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if badJob.Status != domain.JobFailed {
		t.Errorf("bad Status = %q, want failed", badJob.Status)
	}
	if badJob.Error == "" {
		t.Error("bad job Error not recorded")
	}
	if badJob.Result == nil || badJob.Result.ExitCode != 1 {
		t.Errorf("bad job Result = %+v, want captured exit detail", badJob.Result)
	}

	goodJob, err := s.WaitForJob(good, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if goodJob.Status != domain.JobCompleted {
		t.Errorf("good Status = %q, want completed", goodJob.Status)
	}
}

func TestScheduler_PanickingExecutorFailsJobOnly(t *testing.T) {
	s := New(panicExecutor{}, nil, 1, nil)
	defer s.Shutdown()

	id := s.Submit(JobConfig{Command: "boom"})
	job, err := s.WaitForJob(id, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "panic") {
		t.Errorf("Error = %q, want dispatch panic detail", job.Error)
	}
}

type panicExecutor struct{}

func (panicExecutor) Execute(ctx context.Context, name string, args []string, opts command.Options) (*domain.JobResult, error) {
	panic("executor exploded")
}

func TestScheduler_ResultRetainedUntilCleared(t *testing.T) {
	exec := &stubExecutor{}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	id := s.Submit(JobConfig{Command: "job"})
	if _, err := s.WaitForJob(id, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	if s.Result(id) == nil {
		t.Fatal("Result = nil, want retained result")
	}
	s.ClearResult(id)
	if s.Result(id) != nil {
		t.Error("Result retained after ClearResult")
	}
	if _, ok := s.Status(id); ok {
		t.Error("Status known after ClearResult")
	}
}

func TestScheduler_SetMaxConcurrentDispatchesQueued(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	s := New(exec, nil, 1, nil)
	defer s.Shutdown()

	for i := 0; i < 3; i++ {
		s.Submit(JobConfig{Command: "job"})
	}
	waitForRunning(t, s, 1)

	s.SetMaxConcurrent(3)
	waitForRunning(t, s, 3)

	for i := 0; i < 3; i++ {
		exec.gate <- struct{}{}
	}
}

func TestScheduler_EmitsLifecycleEvents(t *testing.T) {
	bus := events.NewBus(100)
	defer bus.Close()

	var mu sync.Mutex
	var seen []events.EventType
	bus.SubscribeAll(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	exec := &stubExecutor{}
	s := New(exec, bus, 1, nil)
	defer s.Shutdown()

	id := s.Submit(JobConfig{Command: "job"})
	if _, err := s.WaitForJob(id, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	want := []events.EventType{
		events.EventJobQueued,
		events.EventJobStarted,
		events.EventJobProgress,
		events.EventJobCompleted,
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= len(want) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, eventType := range want {
		if i >= len(seen) || seen[i] != eventType {
			t.Fatalf("events = %v, want %v", seen, want)
		}
	}
}

// waitForRunning polls until the scheduler reports n running jobs
func waitForRunning(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.RunningCount() == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("running count never reached %d (now %d)", n, s.RunningCount())
}
