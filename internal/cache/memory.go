package cache

import (
	"sync"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/ports"
)

type entry struct {
	value     domain.Payload
	expiresAt time.Time
}

// Memory is a mutex-guarded TTL keyed store. Expired entries are
// dropped lazily on read and by an optional periodic sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry

	stop     chan struct{}
	stopOnce sync.Once
}

var _ ports.CacheStore = (*Memory)(nil)

// NewMemory builds the store; a positive sweep interval starts the
// background cleanup goroutine.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		entries: map[string]entry{},
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	}
	return m
}

// Get returns the live value for a key; an expired entry is deleted
// and reported absent.
func (m *Memory) Get(key string) (domain.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return domain.Payload{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return domain.Payload{}, false
	}
	return e.value, true
}

// Set stores a value under the key for the given TTL.
func (m *Memory) Set(key string, value domain.Payload, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Len reports the number of stored entries, expired included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the sweep goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
