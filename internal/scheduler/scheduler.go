// Package scheduler queues jobs by priority and dispatches them to a
// command executor under a concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/events"
)

// ErrWaitTimeout is returned by WaitForJob when the caller's deadline
// passes before the job finishes. The job itself is unaffected.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// Executor runs one external command to completion
type Executor interface {
	Execute(ctx context.Context, name string, args []string, opts command.Options) (*domain.JobResult, error)
}

// JobConfig describes a job submission
type JobConfig struct {
	Command  string
	Args     []string
	Priority domain.Priority
	Options  command.Options
}

// queueEntry pairs a queued job with its submission order and exec
// options. seq breaks FIFO ties within a priority class.
type queueEntry struct {
	job  *domain.Job
	opts command.Options
	seq  uint64
}

// Scheduler owns the job queue, the running set, and the finished-job
// results. All three are mutated only under s.mu by the scheduler's
// own methods.
type Scheduler struct {
	executor Executor
	bus      *events.Bus
	logger   *log.Logger

	maxConcurrent int
	queue         []*queueEntry
	jobs          map[string]*domain.Job
	waiters       map[string][]chan struct{}
	running       int
	nextSeq       uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a Scheduler dispatching at most maxConcurrent jobs at
// once. Lifecycle events are published to bus.
func New(executor Executor, bus *events.Bus, maxConcurrent int, logger *log.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		executor:      executor,
		bus:           bus,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		jobs:          make(map[string]*domain.Job),
		waiters:       make(map[string][]chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit enqueues a job and returns its id. It never blocks on
// capacity; dispatch happens as slots free up.
func (s *Scheduler) Submit(cfg JobConfig) string {
	job := &domain.Job{
		ID:        uuid.NewString(),
		Command:   cfg.Command,
		Args:      cfg.Args,
		Priority:  cfg.Priority,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	}
	if job.Priority == "" {
		job.Priority = domain.PriorityNormal
	}

	s.mu.Lock()
	s.nextSeq++
	s.jobs[job.ID] = job
	s.queue = append(s.queue, &queueEntry{job: job, opts: cfg.Options, seq: s.nextSeq})
	s.mu.Unlock()

	s.publish(events.EventJobQueued, job, "", false, "")
	s.dispatch()
	return job.ID
}

// Cancel removes a job from the queue. It succeeds only while the job
// is still queued; once dispatched, the command's own timeout is the
// only cancellation path.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	var job *domain.Job
	for i, entry := range s.queue {
		if entry.job.ID == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			job = entry.job
			break
		}
	}
	if job == nil {
		s.mu.Unlock()
		return false
	}
	now := time.Now()
	job.Status = domain.JobCancelled
	job.CompletedAt = &now
	s.notifyWaiters(jobID)
	s.mu.Unlock()

	s.publish(events.EventJobCancelled, job, "", false, "")
	return true
}

// Status returns the job's current status, or "" if unknown
func (s *Scheduler) Status(jobID string) (domain.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return "", false
	}
	return job.Status, true
}

// Job returns a snapshot of the job, or nil if unknown
func (s *Scheduler) Job(jobID string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// Result returns the result of a finished job, or nil. Results are
// retained until ClearResult.
func (s *Scheduler) Result(jobID string) *domain.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !job.Status.IsTerminal() {
		return nil
	}
	return job.Result
}

// ClearResult drops a finished job and its retained result
func (s *Scheduler) ClearResult(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.Status.IsTerminal() {
		delete(s.jobs, jobID)
	}
}

// WaitForJob blocks until the job reaches a terminal state and returns
// its snapshot, or returns ErrWaitTimeout after timeout. The timeout
// does not affect the job itself.
func (s *Scheduler) WaitForJob(jobID string, timeout time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown job %s", jobID)
	}
	if job.Status.IsTerminal() {
		snapshot := *job
		s.mu.Unlock()
		return &snapshot, nil
	}
	done := make(chan struct{}, 1)
	s.waiters[jobID] = append(s.waiters[jobID], done)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return s.Job(jobID), nil
	case <-timer.C:
		return nil, ErrWaitTimeout
	}
}

// SetMaxConcurrent adjusts the concurrency cap. Raising it dispatches
// queued jobs immediately; lowering it takes effect as running jobs
// finish.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()
	s.dispatch()
}

// QueueLength returns the number of jobs waiting for dispatch
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunningCount returns the number of jobs currently executing
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown cancels in-flight executions and waits for them to drain
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// dispatch pops the highest-priority oldest job while capacity allows.
// It is re-run after every completion so the cap stays saturated.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if s.running >= s.maxConcurrent || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		best := 0
		for i := 1; i < len(s.queue); i++ {
			a, b := s.queue[i], s.queue[best]
			ra, rb := a.job.Priority.Rank(), b.job.Priority.Rank()
			if ra < rb || (ra == rb && a.seq < b.seq) {
				best = i
			}
		}
		entry := s.queue[best]
		s.queue = append(s.queue[:best], s.queue[best+1:]...)

		now := time.Now()
		entry.job.Status = domain.JobRunning
		entry.job.StartedAt = &now
		s.running++
		s.wg.Add(1)
		s.mu.Unlock()

		s.publish(events.EventJobStarted, entry.job, "", false, "")
		go s.run(entry)
	}
}

// run executes one dispatched job. Any failure is recorded on the job;
// it must never corrupt the queue or stall other jobs.
func (s *Scheduler) run(entry *queueEntry) {
	defer s.wg.Done()

	job := entry.job
	opts := entry.opts
	userOutput := opts.OnOutput
	opts.OnOutput = func(line string, isStderr bool) {
		if userOutput != nil {
			userOutput(line, isStderr)
		}
		s.publish(events.EventJobProgress, job, line, isStderr, "")
	}

	result, err := s.execute(job, opts)

	s.mu.Lock()
	now := time.Now()
	job.CompletedAt = &now
	job.Result = result
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = domain.JobCompleted
	}
	s.running--
	s.notifyWaiters(job.ID)
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("[WARN] job failed id=%s command=%s err=%v", job.ID, job.Command, err)
		s.publish(events.EventJobFailed, job, "", false, err.Error())
	} else {
		s.publish(events.EventJobCompleted, job, "", false, "")
	}

	s.dispatch()
}

// execute isolates the executor call so a panicking executor surfaces
// as a failed job instead of killing the dispatch loop.
func (s *Scheduler) execute(job *domain.Job, opts command.Options) (result *domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return s.executor.Execute(s.ctx, job.Command, job.Args, opts)
}

// notifyWaiters must be called with s.mu held
func (s *Scheduler) notifyWaiters(jobID string) {
	for _, done := range s.waiters[jobID] {
		done <- struct{}{}
	}
	delete(s.waiters, jobID)
}

func (s *Scheduler) publish(eventType events.EventType, job *domain.Job, line string, isStderr bool, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, events.JobPayload{
		JobID:    job.ID,
		Command:  job.Command,
		Priority: job.Priority,
		Status:   job.Status,
		Line:     line,
		Stderr:   isStderr,
		Error:    errMsg,
	})
}
