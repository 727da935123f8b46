package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/domain"
	"github.com/Seiaaxn/kanaver3/internal/ports"
)

// APIAdapter talks to a third-party comic REST API. Upstream
// descriptions arrive as HTML fragments and are converted to plain
// markdown before entering the pipeline.
type APIAdapter struct {
	id        string
	baseURL   string
	paths     map[string]string
	userAgent string
	client    *http.Client
	converter *md.Converter
	logger    *slog.Logger
}

var _ ports.SourceAdapter = (*APIAdapter)(nil)

// NewAPIAdapter wires an HTTP client; a nil client gets a default with
// the configured request timeout.
func NewAPIAdapter(cfg config.SourceConfig, httpCfg config.HTTPConfig, client *http.Client, logger *slog.Logger) *APIAdapter {
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
	return &APIAdapter{
		id:        cfg.ID,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		paths:     cfg.Paths,
		userAgent: httpCfg.UserAgent,
		client:    client,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// apiComic mirrors the upstream record shape.
type apiComic struct {
	Title       string   `json:"title"`
	Href        string   `json:"href"`
	Thumbnail   string   `json:"thumbnail"`
	Type        string   `json:"type"`
	Chapter     string   `json:"chapter"`
	Rating      float64  `json:"rating"`
	Status      string   `json:"status"`
	Author      string   `json:"author"`
	Genre       []string `json:"genre"`
	Description string   `json:"description"`
	Released    string   `json:"released"`
}

// apiPage is the upstream pagination wrapper.
type apiPage struct {
	CurrentPage int        `json:"current_page"`
	LengthPage  int        `json:"length_page"`
	HasNext     bool       `json:"has_next"`
	HasPrev     bool       `json:"has_prev"`
	Data        []apiComic `json:"data"`
}

// ID identifies the source inside the registry.
func (a *APIAdapter) ID() string {
	return a.id
}

// GetLatest fetches one page of the update feed.
func (a *APIAdapter) GetLatest(ctx context.Context, page int) (domain.Payload, error) {
	if page <= 0 {
		page = 1
	}
	var wrapped apiPage
	if err := a.getJSON(ctx, fmt.Sprintf(a.paths["latest"], page), &wrapped); err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{
		Comics: a.normalizeAll(wrapped.Data),
		Page: &domain.PageMeta{
			CurrentPage: wrapped.CurrentPage,
			LengthPage:  wrapped.LengthPage,
			HasNext:     wrapped.HasNext,
			HasPrev:     wrapped.HasPrev,
		},
	}, nil
}

// GetPopular fetches the popularity ranking.
func (a *APIAdapter) GetPopular(ctx context.Context) (domain.Payload, error) {
	var items []apiComic
	if err := a.getJSON(ctx, a.paths["popular"], &items); err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.normalizeAll(items)}, nil
}

// GetRecommended fetches the editorial picks, falling back to popular
// when the API has no recommendation endpoint.
func (a *APIAdapter) GetRecommended(ctx context.Context) (domain.Payload, error) {
	path, ok := a.paths["recommended"]
	if !ok {
		path = a.paths["popular"]
	}
	var items []apiComic
	if err := a.getJSON(ctx, path, &items); err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.normalizeAll(items)}, nil
}

// Search queries the API by keyword.
func (a *APIAdapter) Search(ctx context.Context, keyword string) (domain.Payload, error) {
	var items []apiComic
	if err := a.getJSON(ctx, fmt.Sprintf(a.paths["search"], url.QueryEscape(keyword)), &items); err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{Comics: a.normalizeAll(items)}, nil
}

// GetDetail fetches one title.
func (a *APIAdapter) GetDetail(ctx context.Context, slug string) (domain.Payload, error) {
	var item apiComic
	if err := a.getJSON(ctx, fmt.Sprintf(a.paths["detail"], slug), &item); err != nil {
		return domain.Payload{}, err
	}
	if item.Title == "" {
		return domain.Payload{}, fmt.Errorf("detail %s/%s: empty record: %w", a.id, slug, domain.ErrNotFound)
	}
	return domain.Payload{Comics: []domain.Comic{a.normalize(item)}}, nil
}

// GetChapterImages fetches the page image URLs of a chapter.
func (a *APIAdapter) GetChapterImages(ctx context.Context, slug string) (domain.Payload, error) {
	var resp struct {
		Images []string `json:"images"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf(a.paths["chapter"], slug), &resp); err != nil {
		return domain.Payload{}, err
	}
	if len(resp.Images) == 0 {
		return domain.Payload{}, fmt.Errorf("chapter %s/%s: no images: %w", a.id, slug, domain.ErrParse)
	}
	return domain.Payload{Images: resp.Images}, nil
}

// GetByGenre fetches one page of a genre feed.
func (a *APIAdapter) GetByGenre(ctx context.Context, genreSlug string, page int) (domain.Payload, error) {
	if page <= 0 {
		page = 1
	}
	var wrapped apiPage
	if err := a.getJSON(ctx, fmt.Sprintf(a.paths["by-genre"], genreSlug, page), &wrapped); err != nil {
		return domain.Payload{}, err
	}
	return domain.Payload{
		Comics: a.normalizeAll(wrapped.Data),
		Page: &domain.PageMeta{
			CurrentPage: wrapped.CurrentPage,
			LengthPage:  wrapped.LengthPage,
			HasNext:     wrapped.HasNext,
			HasPrev:     wrapped.HasPrev,
		},
	}, nil
}

// GetGenres fetches the genre tags.
func (a *APIAdapter) GetGenres(ctx context.Context) (domain.Payload, error) {
	var genres []domain.Genre
	if err := a.getJSON(ctx, a.paths["genres"], &genres); err != nil {
		return domain.Payload{}, err
	}
	if len(genres) == 0 {
		return domain.Payload{}, fmt.Errorf("genres %s: empty list: %w", a.id, domain.ErrParse)
	}
	return domain.Payload{Genres: genres}, nil
}

// getJSON performs one classified GET and decodes the body.
func (a *APIAdapter) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %v: %w", path, err, domain.ErrNetwork)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, a.baseURL+path); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %v: %w", path, err, domain.ErrNetwork)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, domain.ErrParse)
	}
	return nil
}

func (a *APIAdapter) normalizeAll(items []apiComic) []domain.Comic {
	out := make([]domain.Comic, 0, len(items))
	for _, item := range items {
		out = append(out, a.normalize(item))
	}
	return out
}

func (a *APIAdapter) normalize(item apiComic) domain.Comic {
	return domain.Comic{
		Title:       strings.TrimSpace(item.Title),
		Href:        item.Href,
		Thumbnail:   item.Thumbnail,
		Type:        item.Type,
		Chapter:     item.Chapter,
		Rating:      item.Rating,
		Status:      item.Status,
		Author:      item.Author,
		Genres:      item.Genre,
		Description: a.plainDescription(item.Description),
		Released:    item.Released,
	}
}

// plainDescription strips HTML markup from upstream synopsis fragments.
func (a *APIAdapter) plainDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" || !strings.Contains(desc, "<") {
		return desc
	}
	converted, err := a.converter.ConvertString(desc)
	if err != nil {
		a.logger.Debug("description conversion failed", "source", a.id, "error", err)
		return desc
	}
	return strings.TrimSpace(converted)
}
