package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

const fieldSeparator = "|"

// DefaultHashFields is the fingerprint basis used when a caller does
// not name its own field set.
var DefaultHashFields = []string{"title", "href"}

// SimilarityFunc scores two normalized titles in [0,1]. The default is
// a deliberately cheap positional heuristic; it is injectable so a real
// edit distance can replace it without touching callers.
type SimilarityFunc func(a, b string) float64

type processedEntry struct {
	hash        string
	context     string
	metadata    map[string]string
	processedAt time.Time
	expiresAt   time.Time
}

type freshnessEntry struct {
	timestamp time.Time
	metadata  map[string]string
}

// Options tunes the engine ledgers; zero values get safe defaults.
type Options struct {
	ProcessedTTL       time.Duration
	FreshnessRetention time.Duration
	SweepInterval      time.Duration
	DefaultStale       time.Duration
	Similarity         SimilarityFunc
	Logger             *slog.Logger
}

// Engine owns content fingerprinting, the processed ledger, freshness
// tracking, deduplication, validation, and new-item detection. All
// state is process-local and guarded by one mutex.
type Engine struct {
	mu        sync.Mutex
	processed map[string]processedEntry
	freshness map[string]freshnessEntry
	baselines map[string]map[string]struct{}

	processedTTL time.Duration
	retention    time.Duration
	defaultStale time.Duration
	similarity   SimilarityFunc
	logger       *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs the engine and starts the background maintenance
// sweep when an interval is configured. Close stops the sweep.
func New(opts Options) *Engine {
	if opts.ProcessedTTL <= 0 {
		opts.ProcessedTTL = time.Hour
	}
	if opts.FreshnessRetention <= 0 {
		opts.FreshnessRetention = 24 * time.Hour
	}
	if opts.DefaultStale <= 0 {
		opts.DefaultStale = 10 * time.Minute
	}
	if opts.Similarity == nil {
		opts.Similarity = PositionalSimilarity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		processed:    map[string]processedEntry{},
		freshness:    map[string]freshnessEntry{},
		baselines:    map[string]map[string]struct{}{},
		processedTTL: opts.ProcessedTTL,
		retention:    opts.FreshnessRetention,
		defaultStale: opts.DefaultStale,
		similarity:   opts.Similarity,
		logger:       opts.Logger,
		stop:         make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		go e.sweepLoop(opts.SweepInterval)
	}
	return e
}

// Close stops the maintenance sweep.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Hash builds the deterministic content fingerprint of the selected
// fields: lowercase, trimmed, empties skipped, joined, sha256 hex.
func (e *Engine) Hash(item domain.Comic, fields []string) string {
	if len(fields) == 0 {
		fields = DefaultHashFields
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := strings.ToLower(strings.TrimSpace(item.Field(f)))
		if v == "" {
			continue
		}
		parts = append(parts, v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// UniqueID prefers the final path segment of the item's URL and falls
// back to a hash-derived identifier.
func (e *Engine) UniqueID(item domain.Comic) string {
	if slug := item.Slug(); slug != "" {
		return slug
	}
	return "comic_" + e.Hash(item, DefaultHashFields)
}

// MarkProcessed records a fingerprint in the ledger with a mark-time
// expiry.
func (e *Engine) MarkProcessed(hash, context string, metadata map[string]string) {
	now := time.Now()
	e.mu.Lock()
	e.processed[ledgerKey(context, hash)] = processedEntry{
		hash:        hash,
		context:     context,
		metadata:    metadata,
		processedAt: now,
		expiresAt:   now.Add(e.processedTTL),
	}
	e.mu.Unlock()
}

// IsProcessed reports ledger membership; a read past expiry deletes the
// entry and reports false.
func (e *Engine) IsProcessed(hash, context string) bool {
	key := ledgerKey(context, hash)
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.processed[key]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(e.processed, key)
		return false
	}
	return true
}

// UpdateFreshness overwrites the freshness timestamp for a key.
func (e *Engine) UpdateFreshness(key string, metadata map[string]string) {
	e.mu.Lock()
	e.freshness[key] = freshnessEntry{timestamp: time.Now(), metadata: metadata}
	e.mu.Unlock()
}

// IsStale reports whether the key's last update is older than the
// threshold; a missing entry is always stale. A zero threshold uses
// the engine default.
func (e *Engine) IsStale(key string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = e.defaultStale
	}
	e.mu.Lock()
	entry, ok := e.freshness[key]
	e.mu.Unlock()
	if !ok {
		return true
	}
	return time.Since(entry.timestamp) > threshold
}

// DetectNewItems partitions items against the previous generation's
// fingerprint set for the context, then replaces that baseline with the
// current set. Two identical consecutive calls report zero new items
// on the second call.
func (e *Engine) DetectNewItems(items []domain.Comic, context string) (newItems, existing []domain.Comic) {
	current := make(map[string]struct{}, len(items))
	hashes := make([]string, len(items))
	for i, item := range items {
		h := e.Hash(item, DefaultHashFields)
		hashes[i] = h
		current[h] = struct{}{}
	}

	e.mu.Lock()
	previous := e.baselines[context]
	e.baselines[context] = current
	e.mu.Unlock()

	for i, item := range items {
		if _, seen := previous[hashes[i]]; seen {
			existing = append(existing, item)
		} else {
			newItems = append(newItems, item)
		}
	}
	return newItems, existing
}

// sweepLoop purges expired fingerprints and idle freshness entries.
func (e *Engine) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			removed := e.sweep(time.Now())
			if removed > 0 {
				e.logger.Debug("integrity sweep", "removed", removed)
			}
		}
	}
}

func (e *Engine) sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for key, entry := range e.processed {
		if now.After(entry.expiresAt) {
			delete(e.processed, key)
			removed++
		}
	}
	cutoff := now.Add(-e.retention)
	for key, entry := range e.freshness {
		if entry.timestamp.Before(cutoff) {
			delete(e.freshness, key)
			removed++
		}
	}
	return removed
}

func ledgerKey(context, hash string) string {
	return context + fieldSeparator + hash
}
