package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/integrity"
)

// MultiRequest describes one aggregation across several sources.
// An empty Sources list selects every registered source the health
// filter still deems eligible; naming sources bypasses the filter.
type MultiRequest struct {
	Operation        string
	Sources          []string
	Args             domain.Args
	FailureThreshold float64
	Timeout          time.Duration
}

// MultiResult reports the aggregate along with per-source outcomes.
type MultiResult struct {
	Data       []domain.Comic
	NewItems   []domain.Comic
	Successful []string
	Failed     []string
	Errors     map[string]string
	Dedupe     integrity.DedupeStats
}

// ScrapeMultiSource fans one operation out to several sources
// concurrently, tolerating partial failure. The whole call fails only
// when the failed fraction exceeds the threshold and nothing at all
// succeeded.
func (o *Orchestrator) ScrapeMultiSource(ctx context.Context, req MultiRequest) (MultiResult, error) {
	sources := req.Sources
	if len(sources) == 0 {
		sources = o.healthySources()
	}
	if len(sources) == 0 {
		return MultiResult{}, fmt.Errorf("multi-source %s: no eligible sources", req.Operation)
	}

	threshold := req.FailureThreshold
	if threshold <= 0 {
		threshold = o.defaults.FailureThreshold
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.defaults.MultiTimeout
	}

	type outcome struct {
		sourceID string
		comics   []domain.Comic
		err      error
	}

	results := make([]outcome, len(sources))
	var wg sync.WaitGroup
	for i, id := range sources {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// Per-source dedup is off: the aggregate pass below sees the
			// raw output of every source.
			res, err := o.Scrape(callCtx, Request{
				Operation: req.Operation,
				SourceID:  id,
				Args:      req.Args,
			})
			if err != nil {
				results[i] = outcome{sourceID: id, err: err}
				return
			}
			comics := res.Data.Comics
			for j := range comics {
				if len(comics[j].Sources) == 0 {
					comics[j].Sources = []string{id}
				}
			}
			results[i] = outcome{sourceID: id, comics: comics}
		}(i, id)
	}
	wg.Wait()

	out := MultiResult{Errors: map[string]string{}}
	var aggregate []domain.Comic
	for _, r := range results {
		if r.err != nil {
			out.Failed = append(out.Failed, r.sourceID)
			out.Errors[r.sourceID] = r.err.Error()
			continue
		}
		out.Successful = append(out.Successful, r.sourceID)
		aggregate = append(aggregate, r.comics...)
	}

	failedRatio := float64(len(out.Failed)) / float64(len(sources))
	if failedRatio > threshold && len(out.Successful) == 0 {
		return out, fmt.Errorf("multi-source %s: all %d sources failed", req.Operation, len(sources))
	}

	deduped := o.engine.Deduplicate(aggregate, integrity.DedupeOptions{
		Fields:   []string{"title", "href"},
		Strategy: integrity.StrategyBestQuality,
		Context:  "multi:" + req.Operation,
	})
	out.Data = deduped.Items
	out.Dedupe = deduped.Stats
	out.NewItems, _ = o.engine.DetectNewItems(deduped.Items, "multi:"+req.Operation)

	o.logger.Info("multi-source aggregation",
		"operation", req.Operation,
		"sources", len(sources),
		"successful", len(out.Successful),
		"failed", len(out.Failed),
		"items", len(out.Data),
		"new", len(out.NewItems))
	return out, nil
}
