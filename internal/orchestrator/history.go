package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationRecord is one settled scrape appended to the history buffer.
type OperationRecord struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	SourceID  string        `json:"source_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	ItemCount int           `json:"item_count"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// history is a bounded most-recent-first buffer; the oldest record is
// dropped on overflow.
type history struct {
	mu       sync.Mutex
	capacity int
	records  []OperationRecord
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 100
	}
	return &history{capacity: capacity}
}

func (h *history) append(record OperationRecord) {
	record.ID = uuid.NewString()
	record.Timestamp = time.Now()

	h.mu.Lock()
	h.records = append([]OperationRecord{record}, h.records...)
	if len(h.records) > h.capacity {
		h.records = h.records[:h.capacity]
	}
	h.mu.Unlock()
}

// recent returns up to n records, newest first.
func (h *history) recent(n int) []OperationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]OperationRecord, n)
	copy(out, h.records[:n])
	return out
}
