package orchestrator

import (
	"context"

	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/integrity"
)

// PaginatedRequest describes a sequential page crawl of one source.
type PaginatedRequest struct {
	Operation          string
	SourceID           string
	Args               domain.Args
	MaxPages           int
	StartPage          int
	StopOnEmpty        bool
	StopOnDuplicate    bool
	DuplicateThreshold float64
}

// PageOutcome logs what happened on one page of the crawl.
type PageOutcome struct {
	Page          int     `json:"page"`
	Items         int     `json:"items"`
	DuplicateRate float64 `json:"duplicate_rate"`
	FromCache     bool    `json:"from_cache"`
	Error         string  `json:"error,omitempty"`
	StoppedBy     string  `json:"stopped_by,omitempty"`
}

// PaginatedResult carries the deduplicated cumulative crawl output and
// the per-page log.
type PaginatedResult struct {
	Data   []domain.Comic
	Pages  []PageOutcome
	Dedupe integrity.DedupeStats
}

// ScrapePaginated walks pages sequentially; source pagination is
// stateful and already rate-limited, so pages are never fetched in
// parallel. The first page honors the cache, later pages skip it to
// force forward progress.
func (o *Orchestrator) ScrapePaginated(ctx context.Context, req PaginatedRequest) (PaginatedResult, error) {
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = o.defaults.MaxPages
	}
	startPage := req.StartPage
	if startPage <= 0 {
		startPage = 1
	}
	dupThreshold := req.DuplicateThreshold
	if dupThreshold <= 0 {
		dupThreshold = o.defaults.DuplicateThreshold
	}

	var (
		result           PaginatedResult
		cumulative       []domain.Comic
		seen             = map[string]struct{}{}
		consecutiveEmpty int
	)

	for attempted := 0; attempted < maxPages; attempted++ {
		page := startPage + attempted
		args := req.Args
		args.Page = page

		res, err := o.Scrape(ctx, Request{
			Operation: req.Operation,
			SourceID:  req.SourceID,
			Args:      args,
			SkipCache: attempted > 0,
		})
		if err != nil {
			outcome := PageOutcome{Page: page, Error: err.Error()}
			if req.StopOnEmpty {
				outcome.StoppedBy = "error"
				result.Pages = append(result.Pages, outcome)
				break
			}
			result.Pages = append(result.Pages, outcome)
			continue
		}

		items := res.Data.Comics
		outcome := PageOutcome{Page: page, Items: len(items), FromCache: res.FromCache}

		if len(items) == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= 2 {
				outcome.StoppedBy = "empty"
				result.Pages = append(result.Pages, outcome)
				break
			}
		} else {
			consecutiveEmpty = 0

			duplicateRate := pageDuplicateRate(o.engine, items, seen)
			outcome.DuplicateRate = duplicateRate
			cumulative = append(cumulative, items...)

			if req.StopOnDuplicate && duplicateRate >= dupThreshold {
				outcome.StoppedBy = "duplicates"
				result.Pages = append(result.Pages, outcome)
				break
			}
		}

		// The last-page signal is honored even on an empty page.
		if res.Data.Page != nil && !res.Data.Page.HasNext {
			outcome.StoppedBy = "last-page"
			result.Pages = append(result.Pages, outcome)
			break
		}

		result.Pages = append(result.Pages, outcome)
	}

	deduped := o.engine.Deduplicate(cumulative, integrity.DedupeOptions{
		Fields:   []string{"title", "href"},
		Strategy: integrity.StrategyBestQuality,
		Context:  "paginated:" + req.SourceID + ":" + req.Operation,
	})
	result.Data = deduped.Items
	result.Dedupe = deduped.Stats

	o.logger.Info("paginated crawl finished",
		"source", req.SourceID,
		"operation", req.Operation,
		"pages", len(result.Pages),
		"items", len(result.Data))
	return result, nil
}

// pageDuplicateRate measures how much of the page was already seen in
// earlier pages, updating the cumulative fingerprint set in place.
func pageDuplicateRate(engine *integrity.Engine, items []domain.Comic, seen map[string]struct{}) float64 {
	if len(items) == 0 {
		return 0
	}
	duplicates := 0
	for _, item := range items {
		h := engine.Hash(item, integrity.DefaultHashFields)
		if _, ok := seen[h]; ok {
			duplicates++
			continue
		}
		seen[h] = struct{}{}
	}
	return float64(duplicates) / float64(len(items))
}
