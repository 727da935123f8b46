package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/ports"
)

// HTMLAdapter scrapes one comic listing site. The selector table comes
// from config, so one adapter type serves every mirror with the same
// layout family.
type HTMLAdapter struct {
	id        string
	baseURL   string
	paths     map[string]string
	selectors map[string]string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

var _ ports.SourceAdapter = (*HTMLAdapter)(nil)

// NewHTMLAdapter wires an HTTP client; a nil client gets a default with
// the configured request timeout.
func NewHTMLAdapter(cfg config.SourceConfig, httpCfg config.HTTPConfig, client *http.Client, logger *slog.Logger) *HTMLAdapter {
	if client == nil {
		timeout := httpCfg.RequestTimeout()
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLAdapter{
		id:        cfg.ID,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		paths:     cfg.Paths,
		selectors: cfg.Selectors,
		userAgent: httpCfg.UserAgent,
		client:    client,
		logger:    logger,
	}
}

// ID identifies the source inside the registry.
func (a *HTMLAdapter) ID() string {
	return a.id
}

// GetLatest scrapes one page of the update listing.
func (a *HTMLAdapter) GetLatest(ctx context.Context, page int) (domain.Payload, error) {
	if page <= 0 {
		page = 1
	}
	doc, err := a.fetchDocument(ctx, a.baseURL+fmt.Sprintf(a.path("latest"), page))
	if err != nil {
		return domain.Payload{}, err
	}
	items := a.parseList(doc)
	return domain.Payload{
		Comics: items,
		Page: &domain.PageMeta{
			CurrentPage: page,
			HasNext:     doc.Find(a.sel("nextPage")).Length() > 0,
			HasPrev:     page > 1,
		},
	}, nil
}

// GetPopular scrapes the popularity-ordered listing.
func (a *HTMLAdapter) GetPopular(ctx context.Context) (domain.Payload, error) {
	doc, err := a.fetchDocument(ctx, a.baseURL+a.path("popular"))
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.parseList(doc)}, nil
}

// GetRecommended falls back to the popular listing when the site has no
// dedicated recommendation page.
func (a *HTMLAdapter) GetRecommended(ctx context.Context) (domain.Payload, error) {
	path, ok := a.paths["recommended"]
	if !ok {
		path = a.path("popular")
	}
	doc, err := a.fetchDocument(ctx, a.baseURL+path)
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.parseList(doc)}, nil
}

// Search scrapes the site search results for a keyword.
func (a *HTMLAdapter) Search(ctx context.Context, keyword string) (domain.Payload, error) {
	doc, err := a.fetchDocument(ctx, a.baseURL+fmt.Sprintf(a.path("search"), url.QueryEscape(keyword)))
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.parseList(doc)}, nil
}

// GetDetail scrapes one title page into a single-item payload.
func (a *HTMLAdapter) GetDetail(ctx context.Context, slug string) (domain.Payload, error) {
	doc, err := a.fetchDocument(ctx, a.baseURL+fmt.Sprintf(a.path("detail"), slug))
	if err != nil {
		return domain.Payload{}, err
	}

	item := domain.Comic{
		Title:       strings.TrimSpace(doc.Find(a.sel("title")).First().Text()),
		Href:        "/" + strings.Trim(fmt.Sprintf(a.path("detail"), slug), "/"),
		Description: strings.TrimSpace(doc.Find(a.sel("description")).First().Text()),
		Author:      strings.TrimSpace(doc.Find(a.sel("author")).First().Text()),
		Status:      strings.TrimSpace(doc.Find(a.sel("status")).First().Text()),
		Type:        strings.TrimSpace(doc.Find(a.sel("type")).First().Text()),
		Rating:      parseRating(doc.Find(a.sel("rating")).First().Text()),
	}
	if src, ok := doc.Find(a.sel("thumbnail")).First().Attr("src"); ok {
		item.Thumbnail = src
	}
	doc.Find(a.sel("genreLink")).Each(func(_ int, s *goquery.Selection) {
		if g := strings.TrimSpace(s.Text()); g != "" {
			item.Genres = append(item.Genres, g)
		}
	})

	if item.Title == "" {
		return domain.Payload{}, fmt.Errorf("detail %s/%s: %w", a.id, slug, domain.ErrNotFound)
	}
	return domain.Payload{Comics: []domain.Comic{item}}, nil
}

// GetChapterImages scrapes the reader page image URLs.
func (a *HTMLAdapter) GetChapterImages(ctx context.Context, slug string) (domain.Payload, error) {
	doc, err := a.fetchDocument(ctx, a.baseURL+fmt.Sprintf(a.path("chapter"), slug))
	if err != nil {
		return domain.Payload{}, err
	}

	var images []string
	doc.Find(a.sel("image")).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			src, ok = s.Attr("data-src")
		}
		if ok && strings.TrimSpace(src) != "" {
			images = append(images, strings.TrimSpace(src))
		}
	})
	if len(images) == 0 {
		return domain.Payload{}, fmt.Errorf("chapter %s/%s: no images: %w", a.id, slug, domain.ErrParse)
	}
	return domain.Payload{Images: images}, nil
}

// GetByGenre scrapes one page of a genre listing.
func (a *HTMLAdapter) GetByGenre(ctx context.Context, genreSlug string, page int) (domain.Payload, error) {
	if page <= 0 {
		page = 1
	}
	doc, err := a.fetchDocument(ctx, a.baseURL+fmt.Sprintf(a.path("by-genre"), genreSlug, page))
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{
		Comics: a.parseList(doc),
		Page: &domain.PageMeta{
			CurrentPage: page,
			HasNext:     doc.Find(a.sel("nextPage")).Length() > 0,
			HasPrev:     page > 1,
		},
	}, nil
}

// GetGenres scrapes the browsable genre tags.
func (a *HTMLAdapter) GetGenres(ctx context.Context) (domain.Payload, error) {
	doc, err := a.fetchDocument(ctx, a.baseURL+a.path("genres"))
	if err != nil {
		return domain.Payload{}, err
	}

	var genres []domain.Genre
	doc.Find(a.sel("genreLink")).Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Text())
		if name == "" {
			return
		}
		genre := domain.Genre{Name: name, Slug: slugify(name)}
		if href, ok := s.Attr("href"); ok {
			if slug := lastPathSegment(href); slug != "" {
				genre.Slug = slug
			}
		}
		genres = append(genres, genre)
	})
	if len(genres) == 0 {
		return domain.Payload{}, fmt.Errorf("genres %s: none found: %w", a.id, domain.ErrParse)
	}
	return domain.Payload{Genres: genres}, nil
}

// fetchDocument downloads and parses a page, classifying failures into
// the shared taxonomy.
func (a *HTMLAdapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %v: %w", pageURL, err, domain.ErrNetwork)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, pageURL); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", pageURL, err, domain.ErrParse)
	}
	return doc, nil
}

// parseList extracts the item cards of a listing page.
func (a *HTMLAdapter) parseList(doc *goquery.Document) []domain.Comic {
	var items []domain.Comic
	doc.Find(a.sel("list")).Each(func(_ int, card *goquery.Selection) {
		item := domain.Comic{
			Title:   strings.TrimSpace(card.Find(a.sel("title")).First().Text()),
			Type:    strings.TrimSpace(card.Find(a.sel("type")).First().Text()),
			Chapter: strings.TrimSpace(card.Find(a.sel("chapter")).First().Text()),
			Rating:  parseRating(card.Find(a.sel("rating")).First().Text()),
		}
		if href, ok := card.Find(a.sel("href")).First().Attr("href"); ok {
			item.Href = relativeHref(href, a.baseURL)
		}
		if src, ok := card.Find(a.sel("thumbnail")).First().Attr("src"); ok {
			item.Thumbnail = src
		}
		if item.Title == "" && item.Href == "" {
			return
		}
		items = append(items, item)
	})
	return items
}

func (a *HTMLAdapter) path(name string) string {
	return a.paths[name]
}

func (a *HTMLAdapter) sel(name string) string {
	if s, ok := a.selectors[name]; ok {
		return s
	}
	// An unknown selector should match nothing rather than everything.
	return "__missing__"
}

func classifyStatus(status int, pageURL string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s returned 404: %w", pageURL, domain.ErrNotFound)
	case status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return fmt.Errorf("%s blocked with %d: %w", pageURL, status, domain.ErrNetwork)
	case status >= http.StatusBadRequest:
		return fmt.Errorf("%s returned %d: %w", pageURL, status, domain.ErrNetwork)
	}
	return nil
}

func parseRating(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return f
}

func relativeHref(href, baseURL string) string {
	if strings.HasPrefix(href, baseURL) {
		href = strings.TrimPrefix(href, baseURL)
	}
	if href == "" {
		return ""
	}
	if !strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "http") {
		href = "/" + href
	}
	return href
}

func lastPathSegment(href string) string {
	trimmed := strings.Trim(href, "/")
	if trimmed == "" {
		return ""
	}
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		trimmed = strings.Trim(u.Path, "/")
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func slugify(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}
