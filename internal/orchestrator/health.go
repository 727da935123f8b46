package orchestrator

import (
	"sync"
	"time"
)

// Health state thresholds for the soft circuit breaker. Advisory only:
// explicitly named sources are always dispatched.
const (
	unhealthyConsecutiveFailures = 5
	unhealthyMinAttempts         = 10
	unhealthyFailureRatio        = 0.5
)

// SourceHealth is the per-source success and failure record mutated
// after each job settles.
type SourceHealth struct {
	SuccessCount        int           `json:"success_count"`
	FailureCount        int           `json:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastFailureAt       time.Time     `json:"last_failure_at"`
	TotalResponseTime   time.Duration `json:"total_response_time"`
}

// Healthy reports default-set eligibility: a source drops out after 5
// consecutive failures, or once it has 10 attempts with failures above
// half of them.
func (h SourceHealth) Healthy() bool {
	if h.ConsecutiveFailures >= unhealthyConsecutiveFailures {
		return false
	}
	attempts := h.SuccessCount + h.FailureCount
	if attempts >= unhealthyMinAttempts {
		ratio := float64(h.FailureCount) / float64(attempts)
		if ratio > unhealthyFailureRatio {
			return false
		}
	}
	return true
}

// AvgResponseTime returns the mean response time over successful calls.
func (h SourceHealth) AvgResponseTime() time.Duration {
	if h.SuccessCount == 0 {
		return 0
	}
	return h.TotalResponseTime / time.Duration(h.SuccessCount)
}

// healthTable guards the per-source records; snapshots are taken for
// iteration so callers never range over live state.
type healthTable struct {
	mu      sync.Mutex
	records map[string]SourceHealth
}

func newHealthTable() *healthTable {
	return &healthTable{records: map[string]SourceHealth{}}
}

// recordSuccess resets the consecutive-failure streak.
func (t *healthTable) recordSuccess(sourceID string, elapsed time.Duration) {
	t.mu.Lock()
	h := t.records[sourceID]
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = time.Now()
	h.TotalResponseTime += elapsed
	t.records[sourceID] = h
	t.mu.Unlock()
}

func (t *healthTable) recordFailure(sourceID string) {
	t.mu.Lock()
	h := t.records[sourceID]
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailureAt = time.Now()
	t.records[sourceID] = h
	t.mu.Unlock()
}

func (t *healthTable) get(sourceID string) SourceHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[sourceID]
}

// snapshot copies the table for safe iteration.
func (t *healthTable) snapshot() map[string]SourceHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]SourceHealth, len(t.records))
	for id, h := range t.records {
		out[id] = h
	}
	return out
}
