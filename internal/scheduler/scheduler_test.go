package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxConcurrent:    2,
		MaxQueueSize:     10,
		ProviderMinDelay: 0,
		Timeout:          time.Second,
		RetryAttempts:    3,
		RetryDelay:       5 * time.Millisecond,
	}
}

func payloadWith(titles ...string) domain.Payload {
	comics := make([]domain.Comic, 0, len(titles))
	for _, t := range titles {
		comics = append(comics, domain.Comic{Title: t})
	}
	return domain.Payload{Comics: comics}
}

func TestSubmitResolvesResult(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()

	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		return payloadWith("One Piece"), nil
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	res := <-done
	if res.Err != nil {
		t.Fatalf("unexpected job error: %v", res.Err)
	}
	if len(res.Payload.Comics) != 1 || res.Payload.Comics[0].Title != "One Piece" {
		t.Fatalf("unexpected payload: %+v", res.Payload)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxConcurrent = 3
	limits.MaxQueueSize = 50
	s := New(limits, nil)
	defer s.Close()

	var current, peak int64
	var chans []<-chan Result
	for i := 0; i < 20; i++ {
		done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return domain.Payload{}, nil
		}, Options{SourceID: fmt.Sprintf("src-%d", i), Operation: "latest"})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		chans = append(chans, done)
	}

	for i, done := range chans {
		if res := <-done; res.Err != nil {
			t.Fatalf("job %d failed: %v", i, res.Err)
		}
	}

	if p := atomic.LoadInt64(&peak); p > 3 {
		t.Fatalf("concurrency bound violated: peak %d", p)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()

	var calls int32
	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return domain.Payload{}, fmt.Errorf("transient: %w", domain.ErrNetwork)
		}
		return payloadWith("ok"), nil
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	res := <-done
	if res.Err != nil {
		t.Fatalf("expected eventual success, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()

	boom := errors.New("boom")
	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		return domain.Payload{}, boom
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	res := <-done
	if !errors.Is(res.Err, domain.ErrRetryExhausted) {
		t.Fatalf("expected retry-exhausted, got %v", res.Err)
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("terminal error should wrap last attempt error, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}

	stats := s.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed job, got %d", stats.Failed)
	}
}

func TestNotFoundConsumesRetryBudget(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()

	var calls int32
	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		atomic.AddInt32(&calls, 1)
		return domain.Payload{}, fmt.Errorf("slug missing: %w", domain.ErrNotFound)
	}, Options{SourceID: "a", Operation: "detail"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	res := <-done
	if !errors.Is(res.Err, domain.ErrNotFound) {
		t.Fatalf("expected wrapped not-found, got %v", res.Err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("not-found should retry like any failure: %d calls", got)
	}
}

func TestTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.Timeout = 10 * time.Millisecond
	limits.RetryAttempts = 1
	s := New(limits, nil)
	defer s.Close()

	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		select {
		case <-time.After(time.Second):
			return payloadWith("late"), nil
		case <-ctx.Done():
			return domain.Payload{}, ctx.Err()
		}
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	res := <-done
	if !errors.Is(res.Err, domain.ErrJobTimeout) {
		t.Fatalf("expected timeout failure, got %v", res.Err)
	}
}

func TestCancelledSubmissionSurfacesContextError(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()

	block := make(chan struct{})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := s.Submit(ctx, func(ctx context.Context) (domain.Payload, error) {
		<-block
		return payloadWith("late"), nil
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	time.AfterFunc(10*time.Millisecond, cancel)

	res := <-done
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected the context error, got %v", res.Err)
	}
	if errors.Is(res.Err, domain.ErrJobTimeout) {
		t.Fatalf("cancellation must not be reported as a job timeout: %v", res.Err)
	}
	if res.Attempts != 1 {
		t.Fatalf("cancellation should not burn retries, got %d attempts", res.Attempts)
	}
}

func TestOverflowEvictsOldestNormal(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxConcurrent = 1
	limits.MaxQueueSize = 2
	s := New(limits, nil)
	defer s.Close()

	block := make(chan struct{})
	running, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		<-block
		return domain.Payload{}, nil
	}, Options{SourceID: "hold", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	// Let the blocker reach the running slot before filling the queue.
	time.Sleep(20 * time.Millisecond)

	noop := func(ctx context.Context) (domain.Payload, error) { return domain.Payload{}, nil }

	first, err := s.Submit(context.Background(), noop, Options{SourceID: "q1", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	if _, err = s.Submit(context.Background(), noop, Options{SourceID: "q2", Operation: "latest"}); err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	// Queue is full: admitting a third must evict the oldest normal job.
	if _, err = s.Submit(context.Background(), noop, Options{SourceID: "q3", Operation: "latest"}); err != nil {
		t.Fatalf("Submit third: %v", err)
	}

	res := <-first
	if !errors.Is(res.Err, domain.ErrQueueOverflow) {
		t.Fatalf("expected overflow eviction, got %v", res.Err)
	}

	close(block)
	<-running
}

func TestQueueFullWhenAllPriority(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxConcurrent = 1
	limits.MaxQueueSize = 2
	s := New(limits, nil)
	defer s.Close()

	block := make(chan struct{})
	defer close(block)
	if _, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		<-block
		return domain.Payload{}, nil
	}, Options{SourceID: "hold", Operation: "latest"}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	noop := func(ctx context.Context) (domain.Payload, error) { return domain.Payload{}, nil }
	for i := 0; i < 2; i++ {
		if _, err := s.Submit(context.Background(), noop, Options{Priority: true, SourceID: "p", Operation: "latest"}); err != nil {
			t.Fatalf("Submit priority %d: %v", i, err)
		}
	}

	_, err := s.Submit(context.Background(), noop, Options{SourceID: "n", Operation: "latest"})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected queue-full rejection, got %v", err)
	}
}

func TestProviderMinDelaySpacesDispatch(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxConcurrent = 2
	limits.ProviderMinDelay = 50 * time.Millisecond
	s := New(limits, nil)
	defer s.Close()

	var mu sync.Mutex
	var starts []time.Time
	task := func(ctx context.Context) (domain.Payload, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return domain.Payload{}, nil
	}

	var chans []<-chan Result
	for i := 0; i < 2; i++ {
		done, err := s.Submit(context.Background(), task, Options{SourceID: "same", Operation: "latest"})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		chans = append(chans, done)
	}
	for _, done := range chans {
		if res := <-done; res.Err != nil {
			t.Fatalf("job failed: %v", res.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 2 {
		t.Fatalf("expected 2 starts, got %d", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < 45*time.Millisecond {
		t.Fatalf("same-source jobs dispatched %v apart, want >= min delay", gap)
	}
}

func TestPauseHoldsQueueResumeDrains(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()
	s.Pause()

	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		return domain.Payload{}, nil
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case <-done:
		t.Fatal("job ran while paused")
	case <-time.After(30 * time.Millisecond):
	}

	if got := s.Stats().Queued; got != 1 {
		t.Fatalf("expected 1 queued job while paused, got %d", got)
	}

	s.Resume()
	if res := <-done; res.Err != nil {
		t.Fatalf("job failed after resume: %v", res.Err)
	}
}

func TestClearRejectsQueued(t *testing.T) {
	t.Parallel()

	s := New(testLimits(), nil)
	defer s.Close()
	s.Pause()

	done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
		return domain.Payload{}, nil
	}, Options{SourceID: "a", Operation: "latest"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	s.Clear()
	res := <-done
	if !errors.Is(res.Err, domain.ErrQueueCleared) {
		t.Fatalf("expected cleared error, got %v", res.Err)
	}
}

func TestStatsAveragesProcessingTime(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxConcurrent = 1
	s := New(limits, nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		done, err := s.Submit(context.Background(), func(ctx context.Context) (domain.Payload, error) {
			time.Sleep(5 * time.Millisecond)
			return domain.Payload{}, nil
		}, Options{SourceID: "a", Operation: "latest"})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		<-done
	}

	stats := s.Stats()
	if stats.Completed != 3 {
		t.Fatalf("expected 3 completed, got %d", stats.Completed)
	}
	if stats.AvgProcessingTime <= 0 {
		t.Fatalf("expected positive average processing time, got %v", stats.AvgProcessingTime)
	}
}
