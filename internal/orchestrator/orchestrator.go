package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/integrity"
	"github.com/Seiaaxn/kanaver3/internal/ports"
	"github.com/Seiaaxn/kanaver3/internal/scheduler"
	"github.com/Seiaaxn/kanaver3/internal/source"
)

// Policy pairs one operation with its freshness threshold and cache TTL.
type Policy struct {
	StaleThreshold time.Duration
	CacheTTL       time.Duration
}

// PolicyTable is the per-operation stale-threshold table from config.
type PolicyTable map[string]Policy

// Lookup resolves a policy with a conservative fallback for unknown
// operations.
func (t PolicyTable) Lookup(operation string) Policy {
	if p, ok := t[operation]; ok {
		return p
	}
	return Policy{StaleThreshold: time.Hour, CacheTTL: 6 * time.Hour}
}

// Request describes one single-source scrape.
type Request struct {
	Operation    string
	SourceID     string
	Args         domain.Args
	ForceRefresh bool
	SkipCache    bool
	Deduplicate  bool
}

// Result is what a scrape settles with.
type Result struct {
	Data      domain.Payload
	Source    string // "scrape" or "cache"
	FromCache bool
	Attempts  int
	Duration  time.Duration
	Dedupe    *integrity.DedupeStats
}

// inflight shares one pending execution between concurrent identical
// requests.
type inflight struct {
	done   chan struct{}
	result Result
	err    error
}

// Defaults bundles the aggregation and pagination fallbacks from config.
type Defaults struct {
	FailureThreshold   float64
	MultiTimeout       time.Duration
	MaxPages           int
	DuplicateThreshold float64
	HistorySize        int
}

// Orchestrator ties the scheduler, integrity engine, cache store, and
// source registry into single-call, aggregated, and paginated scrape
// workflows with partial-failure tolerance.
type Orchestrator struct {
	sched    *scheduler.Scheduler
	engine   *integrity.Engine
	cache    ports.CacheStore
	registry *source.Registry
	policies PolicyTable
	defaults Defaults
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]*inflight

	health  *healthTable
	history *history
}

// New wires the orchestrator; the scheduler and engine are owned
// process singletons passed in by the application.
func New(sched *scheduler.Scheduler, engine *integrity.Engine, cache ports.CacheStore,
	registry *source.Registry, policies PolicyTable, defaults Defaults, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 0.5
	}
	if defaults.MultiTimeout <= 0 {
		defaults.MultiTimeout = 20 * time.Second
	}
	if defaults.MaxPages <= 0 {
		defaults.MaxPages = 5
	}
	if defaults.DuplicateThreshold <= 0 {
		defaults.DuplicateThreshold = 0.9
	}
	return &Orchestrator{
		sched:    sched,
		engine:   engine,
		cache:    cache,
		registry: registry,
		policies: policies,
		defaults: defaults,
		logger:   logger,
		inflight: map[string]*inflight{},
		health:   newHealthTable(),
		history:  newHistory(defaults.HistorySize),
	}
}

// Scrape performs one cached, collapsed, scheduled source call.
// Identical concurrent requests share a single execution.
func (o *Orchestrator) Scrape(ctx context.Context, req Request) (Result, error) {
	key := domain.OperationKey(req.SourceID, req.Operation, req.Args)
	policy := o.policies.Lookup(req.Operation)
	freshnessKey := req.SourceID + ":" + req.Operation

	o.mu.Lock()
	if call, ok := o.inflight[key]; ok {
		o.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if !req.SkipCache && !req.ForceRefresh {
		if cached, ok := o.cache.Get(key); ok {
			o.mu.Unlock()
			return Result{Data: cached, Source: "cache", FromCache: true}, nil
		}
		// A fresh freshness record with a populated cache covers the
		// race where the cache was written between the two checks.
		if !o.engine.IsStale(freshnessKey, policy.StaleThreshold) {
			if cached, ok := o.cache.Get(key); ok {
				o.mu.Unlock()
				return Result{Data: cached, Source: "cache", FromCache: true}, nil
			}
		}
	}

	call := &inflight{done: make(chan struct{})}
	o.inflight[key] = call
	o.mu.Unlock()

	return o.execute(ctx, req, key, policy, call)
}

// execute submits the adapter call to the scheduler and settles the
// shared in-flight call with the outcome. When the caller's context
// ends first, the source is charged a health failure right away and a
// detached goroutine keeps waiting: the job's eventual outcome still
// reaches freshness, the cache, and the health table, and the
// in-flight marker survives until then so an identical follow-up
// request cannot double-dispatch.
func (o *Orchestrator) execute(ctx context.Context, req Request, key string, policy Policy, call *inflight) (Result, error) {
	adapter, err := o.registry.Resolve(req.SourceID)
	if err != nil {
		o.recordFailure(req, 0, err)
		o.settleCall(key, call, Result{}, err)
		return Result{}, err
	}

	task, err := adapterTask(adapter, req.Operation, req.Args)
	if err != nil {
		o.settleCall(key, call, Result{}, err)
		return Result{}, err
	}

	done, err := o.sched.Submit(ctx, task, scheduler.Options{
		SourceID:  req.SourceID,
		Operation: req.Operation,
	})
	if err != nil {
		o.recordFailure(req, 0, err)
		o.settleCall(key, call, Result{}, err)
		return Result{}, err
	}

	select {
	case settled := <-done:
		return o.finish(req, key, policy, call, settled)
	case <-ctx.Done():
		err := ctx.Err()
		o.recordFailure(req, 0, err)
		go func() {
			settled := <-done
			if settled.Err != nil {
				// The failure was already charged when the wait ended.
				o.settleCall(key, call, Result{}, settled.Err)
				return
			}
			result := o.postprocess(req, key, policy, settled)
			o.settleCall(key, call, result, nil)
		}()
		return Result{}, err
	}
}

// finish applies post-scrape bookkeeping and settles the shared call.
func (o *Orchestrator) finish(req Request, key string, policy Policy, call *inflight, settled scheduler.Result) (Result, error) {
	if settled.Err != nil {
		o.recordFailure(req, settled.Duration, settled.Err)
		o.settleCall(key, call, Result{}, settled.Err)
		return Result{}, settled.Err
	}
	result := o.postprocess(req, key, policy, settled)
	o.settleCall(key, call, result, nil)
	return result, nil
}

// postprocess dedupes and validates a successful payload, then updates
// freshness, cache, health, and history.
func (o *Orchestrator) postprocess(req Request, key string, policy Policy, settled scheduler.Result) Result {
	payload := settled.Payload
	result := Result{
		Source:   "scrape",
		Attempts: settled.Attempts,
		Duration: settled.Duration,
	}

	if req.Deduplicate && len(payload.Comics) > 0 {
		deduped := o.engine.Deduplicate(payload.Comics, integrity.DedupeOptions{
			Fields:   []string{"title", "href"},
			Strategy: integrity.StrategyBestQuality,
			Context:  key,
		})
		payload.Comics = deduped.Items
		result.Dedupe = &deduped.Stats
	}

	if len(payload.Comics) > 0 {
		report := o.engine.Validate(payload.Comics, integrity.ValidateOptions{
			RequiredFields: []string{"title", "href"},
			MinTitleLength: 2,
			ValidateURLs:   true,
		})
		for _, w := range append(report.Errors, report.Warnings...) {
			o.logger.Warn("integrity finding", "source", req.SourceID, "operation", req.Operation, "detail", w)
		}
	}

	o.engine.UpdateFreshness(req.SourceID+":"+req.Operation, map[string]string{"operation": req.Operation})
	o.cache.Set(key, payload, policy.CacheTTL)
	o.health.recordSuccess(req.SourceID, settled.Duration)
	o.history.append(OperationRecord{
		Operation: req.Operation,
		SourceID:  req.SourceID,
		Success:   true,
		Duration:  settled.Duration,
		ItemCount: payloadItemCount(payload),
	})

	result.Data = payload
	return result
}

// recordFailure charges one failed call to health and history.
func (o *Orchestrator) recordFailure(req Request, duration time.Duration, err error) {
	o.health.recordFailure(req.SourceID)
	o.history.append(OperationRecord{
		Operation: req.Operation,
		SourceID:  req.SourceID,
		Duration:  duration,
		Error:     err.Error(),
	})
}

// settleCall publishes the shared result and releases the in-flight
// marker.
func (o *Orchestrator) settleCall(key string, call *inflight, result Result, err error) {
	call.result, call.err = result, err
	close(call.done)
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}

// Health returns the current record for one source.
func (o *Orchestrator) Health(sourceID string) SourceHealth {
	return o.health.get(sourceID)
}

// HealthSnapshot copies every source record.
func (o *Orchestrator) HealthSnapshot() map[string]SourceHealth {
	return o.health.snapshot()
}

// History returns up to n most recent operation records.
func (o *Orchestrator) History(n int) []OperationRecord {
	return o.history.recent(n)
}

// SchedulerStats exposes the queue counters for diagnostics.
func (o *Orchestrator) SchedulerStats() scheduler.Stats {
	return o.sched.Stats()
}

// healthySources filters registered sources through the soft circuit
// breaker.
func (o *Orchestrator) healthySources() []string {
	var out []string
	for _, id := range o.registry.IDs() {
		if o.health.get(id).Healthy() {
			out = append(out, id)
		}
	}
	return out
}

func adapterTask(adapter ports.SourceAdapter, operation string, args domain.Args) (scheduler.Task, error) {
	switch operation {
	case domain.OpLatest:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetLatest(ctx, args.Page)
		}, nil
	case domain.OpPopular:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetPopular(ctx)
		}, nil
	case domain.OpRecommended:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetRecommended(ctx)
		}, nil
	case domain.OpSearch:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.Search(ctx, args.Keyword)
		}, nil
	case domain.OpDetail:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetDetail(ctx, args.Slug)
		}, nil
	case domain.OpChapterImages:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetChapterImages(ctx, args.Slug)
		}, nil
	case domain.OpByGenre:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetByGenre(ctx, args.Genre, args.Page)
		}, nil
	case domain.OpGenres:
		return func(ctx context.Context) (domain.Payload, error) {
			return adapter.GetGenres(ctx)
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", operation)
	}
}

func payloadItemCount(p domain.Payload) int {
	if len(p.Comics) > 0 {
		return len(p.Comics)
	}
	if len(p.Images) > 0 {
		return len(p.Images)
	}
	return len(p.Genres)
}
