package integrity

import (
	"strings"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

// Merge strategies accepted by Deduplicate.
const (
	StrategyNewest      = "newest"
	StrategyOldest      = "oldest"
	StrategyBestQuality = "best_quality"
	StrategyMerge       = "merge"
)

// fuzzyThreshold is exclusive: similarity must exceed it to merge.
const fuzzyThreshold = 0.85

// DedupeOptions shapes one deduplication pass. A non-empty Context
// marks every surviving fingerprint in the processed ledger under it.
type DedupeOptions struct {
	Fields      []string
	Strategy    string
	MergeFields []string
	Context     string
}

// DedupeStats summarizes one pass.
type DedupeStats struct {
	Total         int     `json:"total"`
	Unique        int     `json:"unique"`
	Duplicates    int     `json:"duplicates"`
	DuplicateRate float64 `json:"duplicate_rate"`
}

// DedupeResult carries the surviving groups in first-seen order, the
// items folded into them, and the pass statistics.
type DedupeResult struct {
	Items      []domain.Comic
	Duplicates []domain.Comic
	Stats      DedupeStats
}

type dedupeGroup struct {
	item  domain.Comic
	index int
	title string
}

// Deduplicate folds exact-fingerprint and fuzzy-title duplicates into
// unique groups, resolving collisions per the configured strategy.
// Output order is the order in which unique groups were first created.
func (e *Engine) Deduplicate(items []domain.Comic, opts DedupeOptions) DedupeResult {
	if len(opts.Fields) == 0 {
		opts.Fields = DefaultHashFields
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyNewest
	}

	groups := make([]*dedupeGroup, 0, len(items))
	byHash := make(map[string]*dedupeGroup, len(items))
	var duplicates []domain.Comic
	now := time.Now()

	for idx, item := range items {
		hash := e.Hash(item, opts.Fields)

		group := byHash[hash]
		if group == nil {
			group = e.fuzzyMatch(groups, item)
		}
		if group == nil {
			unique := item
			if unique.ID == "" {
				unique.ID = e.UniqueID(item)
			}
			if unique.Hash == "" {
				unique.Hash = hash
			}
			if unique.ProcessedAt.IsZero() {
				unique.ProcessedAt = now
			}
			g := &dedupeGroup{item: unique, index: idx, title: normalizeTitle(item.Title)}
			groups = append(groups, g)
			byHash[hash] = g
			if opts.Context != "" {
				e.MarkProcessed(hash, opts.Context, nil)
			}
			continue
		}

		duplicates = append(duplicates, item)
		e.resolveDuplicate(group, item, idx, opts)
	}

	result := DedupeResult{
		Duplicates: duplicates,
		Stats: DedupeStats{
			Total:      len(items),
			Unique:     len(groups),
			Duplicates: len(duplicates),
		},
	}
	if len(items) > 0 {
		result.Stats.DuplicateRate = float64(len(duplicates)) / float64(len(items))
	}
	result.Items = make([]domain.Comic, 0, len(groups))
	for _, g := range groups {
		result.Items = append(result.Items, g.item)
	}
	return result
}

func (e *Engine) fuzzyMatch(groups []*dedupeGroup, item domain.Comic) *dedupeGroup {
	title := normalizeTitle(item.Title)
	if title == "" {
		return nil
	}
	for _, g := range groups {
		if g.title == "" {
			continue
		}
		if g.title == title {
			return g
		}
		if e.similarity(title, g.title) > fuzzyThreshold {
			return g
		}
	}
	return nil
}

func (e *Engine) resolveDuplicate(group *dedupeGroup, item domain.Comic, idx int, opts DedupeOptions) {
	switch opts.Strategy {
	case StrategyOldest:
		// First-seen item wins unchanged.
	case StrategyBestQuality:
		if QualityScore(item) > QualityScore(group.item) {
			group.item = e.MergeItems(item, group.item, opts.MergeFields)
			group.index = idx
		} else {
			group.item = e.MergeItems(group.item, item, opts.MergeFields)
		}
	case StrategyMerge:
		group.item = e.MergeItems(group.item, item, opts.MergeFields)
	default: // newest
		if idx > group.index {
			group.item = e.MergeItems(item, group.item, opts.MergeFields)
			group.index = idx
		}
	}
	group.title = normalizeTitle(group.item.Title)
}

// MergeItems combines two records field by field: empty primary values
// are filled from the secondary, slice fields are unioned, and when
// both sides carry a string the longer one wins. Provenance from both
// sides is accumulated into a deduplicated source list.
func (e *Engine) MergeItems(primary, secondary domain.Comic, fields []string) domain.Comic {
	if len(fields) == 0 {
		fields = domain.FieldNames
	}

	merged := primary
	for _, f := range fields {
		switch f {
		case "genre":
			merged.Genres = unionStrings(primary.Genres, secondary.Genres)
		case "rating":
			if merged.Rating == 0 {
				merged.Rating = secondary.Rating
			}
		default:
			pv, sv := primary.Field(f), secondary.Field(f)
			if pv == "" && sv != "" {
				merged.SetField(f, sv)
			} else if pv != "" && sv != "" && len(sv) > len(pv) {
				merged.SetField(f, sv)
			}
		}
	}

	if merged.ID == "" {
		merged.ID = secondary.ID
	}
	if merged.Hash == "" {
		merged.Hash = secondary.Hash
	}
	if merged.ProcessedAt.IsZero() {
		merged.ProcessedAt = secondary.ProcessedAt
	}
	merged.Sources = unionStrings(primary.Sources, secondary.Sources)
	return merged
}

// QualityScore ranks field completeness; a higher score means a more
// complete record.
func QualityScore(item domain.Comic) int {
	score := 0
	if strings.TrimSpace(item.Title) != "" {
		score += 10
	}
	if len(item.Thumbnail) > 10 {
		score += 15
	}
	if len(item.Description) > 50 {
		score += 15
	}
	if item.Rating > 0 {
		score += 10
	}
	if strings.TrimSpace(item.Chapter) != "" {
		score += 10
	}
	if g := len(item.Genres) * 3; g > 15 {
		score += 15
	} else {
		score += g
	}
	if strings.TrimSpace(item.Author) != "" {
		score += 10
	}
	if strings.TrimSpace(item.Status) != "" {
		score += 5
	}
	if strings.TrimSpace(item.Type) != "" {
		score += 5
	}
	if strings.TrimSpace(item.Href) != "" {
		score += 5
	}
	return score
}

// PositionalSimilarity is the default title similarity: exact equality,
// then containment scaled by length ratio, then the ratio of
// index-aligned equal characters to the longer length. It undercounts
// shifted strings; callers needing better recall can inject their own
// SimilarityFunc.
func PositionalSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return float64(len(shorter)) / float64(len(longer))
	}

	matches := 0
	for i := 0; i < len(shorter); i++ {
		if shorter[i] == longer[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(longer))
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
