package ports

import (
	"context"
	"time"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

// SourceAdapter wraps one external comic source (a scraped site or a
// REST API) behind the normalized operation set. Adapters classify their
// failures with the domain error taxonomy.
type SourceAdapter interface {
	ID() string
	GetLatest(ctx context.Context, page int) (domain.Payload, error)
	GetPopular(ctx context.Context) (domain.Payload, error)
	GetRecommended(ctx context.Context) (domain.Payload, error)
	Search(ctx context.Context, keyword string) (domain.Payload, error)
	GetDetail(ctx context.Context, slug string) (domain.Payload, error)
	GetChapterImages(ctx context.Context, slug string) (domain.Payload, error)
	GetByGenre(ctx context.Context, genreSlug string, page int) (domain.Payload, error)
	GetGenres(ctx context.Context) (domain.Payload, error)
}

// CacheStore is the TTL keyed value store the orchestrator reads and
// writes processed results through. Expiry handling beyond the TTL is
// left to the implementation.
type CacheStore interface {
	Get(key string) (domain.Payload, bool)
	Set(key string, value domain.Payload, ttl time.Duration)
}
