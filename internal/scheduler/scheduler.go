package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

// Task is one unit of outbound scrape work executed under the
// scheduler's concurrency, rate, retry, and timeout policy.
type Task func(ctx context.Context) (domain.Payload, error)

// Options qualifies a submission.
type Options struct {
	Priority  bool
	SourceID  string
	Operation string
}

// Result settles a submitted job exactly once.
type Result struct {
	Payload  domain.Payload
	Err      error
	Attempts int
	Duration time.Duration
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Queued            int
	Running           int
	Completed         int
	Failed            int
	AvgProcessingTime time.Duration
}

// Limits bounds the queue; values come from config.SchedulerConfig.
type Limits struct {
	MaxConcurrent    int
	MaxQueueSize     int
	ProviderMinDelay time.Duration
	Timeout          time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
}

type job struct {
	key       string
	task      Task
	priority  bool
	sourceID  string
	operation string
	attempts  int
	createdAt time.Time
	ctx       context.Context
	done      chan Result
}

// Scheduler is a bounded-concurrency job queue with per-source rate
// limiting, priority reordering, exponential retry backoff, and
// overflow eviction. It is the sole concurrency gate for outbound
// source calls.
type Scheduler struct {
	limits Limits
	logger *slog.Logger

	mu           sync.Mutex
	queue        []*job
	running      int
	completed    int
	failed       int
	avgTime      time.Duration
	lastDispatch map[string]time.Time
	paused       bool
	closed       bool
	recheck      *time.Timer
}

// New constructs a scheduler; zero limits fall back to safe minimums.
func New(limits Limits, logger *slog.Logger) *Scheduler {
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 1
	}
	if limits.MaxQueueSize <= 0 {
		limits.MaxQueueSize = 1
	}
	if limits.RetryAttempts <= 0 {
		limits.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		limits:       limits,
		logger:       logger,
		lastDispatch: map[string]time.Time{},
	}
}

// Submit admits a job and returns the channel its result settles on.
// When the queue is at capacity the oldest non-priority job is evicted
// to make room; if every queued job is priority the submission itself
// is rejected with the queue-full error.
func (s *Scheduler) Submit(ctx context.Context, task Task, opts Options) (<-chan Result, error) {
	if task == nil {
		return nil, fmt.Errorf("submit: nil task")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	j := &job{
		key:       opts.SourceID + ":" + opts.Operation,
		task:      task,
		priority:  opts.Priority,
		sourceID:  opts.SourceID,
		operation: opts.Operation,
		createdAt: time.Now(),
		ctx:       ctx,
		done:      make(chan Result, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("submit: scheduler closed")
	}

	if len(s.queue) >= s.limits.MaxQueueSize {
		evicted := s.evictOldestNormalLocked()
		if evicted == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("submit %s/%s: %w", opts.SourceID, opts.Operation, domain.ErrQueueFull)
		}
		evicted.done <- Result{Err: fmt.Errorf("job %s: %w", evicted.key, domain.ErrQueueOverflow)}
		s.logger.Warn("job evicted on overflow", "job", evicted.key)
	}

	if j.priority {
		s.insertAfterPriorityLocked(j)
	} else {
		s.queue = append(s.queue, j)
	}
	s.dispatchLocked()
	s.mu.Unlock()

	return j.done, nil
}

// Stats snapshots the queue counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:            len(s.queue),
		Running:           s.running,
		Completed:         s.completed,
		Failed:            s.failed,
		AvgProcessingTime: s.avgTime,
	}
}

// Pause stops new dispatch without draining queued jobs.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts dispatch from the current queue state.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.dispatchLocked()
	s.mu.Unlock()
}

// Clear rejects every queued job with the cleared error. Running jobs
// are unaffected.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	cleared := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, j := range cleared {
		j.done <- Result{Err: fmt.Errorf("job %s: %w", j.key, domain.ErrQueueCleared)}
	}
}

// Close clears the queue and stops dispatch permanently.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.paused = true
	if s.recheck != nil {
		s.recheck.Stop()
		s.recheck = nil
	}
	s.mu.Unlock()
	s.Clear()
}

// evictOldestNormalLocked removes the earliest-created non-priority job.
func (s *Scheduler) evictOldestNormalLocked() *job {
	idx := -1
	for i, j := range s.queue {
		if j.priority {
			continue
		}
		if idx == -1 || j.createdAt.Before(s.queue[idx].createdAt) {
			idx = i
		}
	}
	if idx == -1 {
		return nil
	}
	j := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	return j
}

// insertAfterPriorityLocked places the job ahead of normal jobs but
// behind earlier priority jobs, keeping equal-priority submission order.
func (s *Scheduler) insertAfterPriorityLocked(j *job) {
	pos := 0
	for pos < len(s.queue) && s.queue[pos].priority {
		pos++
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[pos+1:], s.queue[pos:])
	s.queue[pos] = j
}

// dispatchLocked runs jobs while capacity allows, selecting the first
// queued job whose source has cooled down. When only cooling jobs
// remain it arms a single re-check after the cooldown window.
func (s *Scheduler) dispatchLocked() {
	if s.paused || s.closed {
		return
	}

	now := time.Now()
	for s.running < s.limits.MaxConcurrent && len(s.queue) > 0 {
		idx := -1
		for i, j := range s.queue {
			last, seen := s.lastDispatch[j.sourceID]
			if !seen || now.Sub(last) >= s.limits.ProviderMinDelay {
				idx = i
				break
			}
		}
		if idx == -1 {
			s.armRecheckLocked()
			return
		}

		j := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.lastDispatch[j.sourceID] = now
		s.running++
		go s.run(j)
	}
}

func (s *Scheduler) armRecheckLocked() {
	if s.recheck != nil {
		return
	}
	s.recheck = time.AfterFunc(s.limits.ProviderMinDelay, func() {
		s.mu.Lock()
		s.recheck = nil
		s.dispatchLocked()
		s.mu.Unlock()
	})
}

// run races the task against the job timeout and settles or requeues
// the job depending on the outcome.
func (s *Scheduler) run(j *job) {
	start := time.Now()

	ctx := j.ctx
	cancel := context.CancelFunc(func() {})
	if s.limits.Timeout > 0 {
		ctx, cancel = context.WithTimeout(j.ctx, s.limits.Timeout)
	}

	type outcome struct {
		payload domain.Payload
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		payload, err := j.task(ctx)
		ch <- outcome{payload: payload, err: err}
	}()

	var res outcome
	select {
	case res = <-ch:
	case <-ctx.Done():
		if cause := j.ctx.Err(); cause != nil {
			cancel()
			s.settleAbandoned(j, cause, time.Since(start))
			return
		}
		res = outcome{err: fmt.Errorf("job %s after %s: %w", j.key, s.limits.Timeout, domain.ErrJobTimeout)}
	}
	cancel()
	elapsed := time.Since(start)

	if res.err == nil {
		s.settleSuccess(j, res.payload, elapsed)
		return
	}
	s.handleFailure(j, res.err, elapsed)
}

// settleAbandoned ends a job whose submitting context is gone. The
// context error is surfaced as-is, not as a scheduler timeout, and no
// retries are burned: nothing can redeem a call nobody waits for.
func (s *Scheduler) settleAbandoned(j *job, cause error, elapsed time.Duration) {
	s.mu.Lock()
	s.running--
	s.failed++
	s.dispatchLocked()
	s.mu.Unlock()

	j.done <- Result{
		Err:      fmt.Errorf("job %s: %w", j.key, cause),
		Attempts: j.attempts + 1,
		Duration: elapsed,
	}
}

func (s *Scheduler) settleSuccess(j *job, payload domain.Payload, elapsed time.Duration) {
	s.mu.Lock()
	s.running--
	s.completed++
	n := time.Duration(s.completed)
	s.avgTime = (s.avgTime*(n-1) + elapsed) / n
	s.dispatchLocked()
	s.mu.Unlock()

	j.done <- Result{Payload: payload, Attempts: j.attempts + 1, Duration: elapsed}
}

// handleFailure consumes one retry attempt uniformly for every error
// kind, not-found included.
func (s *Scheduler) handleFailure(j *job, err error, elapsed time.Duration) {
	j.attempts++

	s.mu.Lock()
	s.running--
	if j.attempts >= s.limits.RetryAttempts {
		s.failed++
		s.dispatchLocked()
		s.mu.Unlock()
		j.done <- Result{
			Err:      fmt.Errorf("job %s after %d attempts: %w: %w", j.key, j.attempts, domain.ErrRetryExhausted, err),
			Attempts: j.attempts,
			Duration: elapsed,
		}
		return
	}
	s.dispatchLocked()
	s.mu.Unlock()

	backoff := s.limits.RetryDelay * (1 << (j.attempts - 1))
	s.logger.Debug("job retry scheduled",
		"job", j.key, "attempt", j.attempts, "backoff", backoff, "error", err)

	time.AfterFunc(backoff, func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			j.done <- Result{Err: fmt.Errorf("job %s: %w", j.key, domain.ErrQueueCleared), Attempts: j.attempts}
			return
		}
		j.priority = true
		s.queue = append([]*job{j}, s.queue...)
		s.dispatchLocked()
		s.mu.Unlock()
	})
}
