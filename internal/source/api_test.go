package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/domain"
)

func apiSourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		ID:      "comicbay",
		Kind:    "api",
		BaseURL: baseURL,
		Paths: map[string]string{
			"latest":   "/comics/latest?page=%d",
			"popular":  "/comics/popular",
			"search":   "/comics/search?q=%s",
			"detail":   "/comics/%s",
			"chapter":  "/chapters/%s/images",
			"by-genre": "/genres/%s/comics?page=%d",
			"genres":   "/genres",
		},
	}
}

func TestAPIAdapterGetLatestPaginated(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comics/latest" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"current_page": 2,
			"length_page": 10,
			"has_next": true,
			"has_prev": true,
			"data": [
				{"title": "One Piece", "href": "/comics/one-piece", "rating": 9.3, "genre": ["action"]},
				{"title": "Naruto", "href": "/comics/naruto", "rating": 8.9}
			]
		}`))
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetLatest error: %v", err)
	}
	if len(payload.Comics) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.Comics))
	}
	if payload.Page == nil || payload.Page.CurrentPage != 2 || !payload.Page.HasNext {
		t.Fatalf("pagination layer lost: %+v", payload.Page)
	}
	if payload.Comics[0].Rating != 9.3 {
		t.Fatalf("unexpected rating: %v", payload.Comics[0].Rating)
	}
}

func TestAPIAdapterDescriptionHTMLStripped(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"title": "One Piece",
			"href": "/comics/one-piece",
			"description": "<p>A <b>pirate</b> adventure.</p>"
		}`))
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetDetail(context.Background(), "one-piece")
	if err != nil {
		t.Fatalf("GetDetail error: %v", err)
	}

	desc := payload.Comics[0].Description
	if strings.Contains(desc, "<p>") || strings.Contains(desc, "<b>") {
		t.Fatalf("description should not keep HTML tags: %q", desc)
	}
	if !strings.Contains(desc, "pirate") {
		t.Fatalf("description content lost: %q", desc)
	}
}

func TestAPIAdapterSearchFlatList(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "piece" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"title": "One Piece", "href": "/comics/one-piece"}]`))
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.Search(context.Background(), "piece")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(payload.Comics) != 1 || payload.Comics[0].Title != "One Piece" {
		t.Fatalf("unexpected result: %+v", payload.Comics)
	}
}

func TestAPIAdapterMalformedBodyIsParseFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [broken`))
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	_, err := a.GetLatest(context.Background(), 1)
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestAPIAdapterNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	_, err := a.GetDetail(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestAPIAdapterGetGenres(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name": "Action", "slug": "action"}, {"name": "Drama", "slug": "drama"}]`))
	}))
	defer server.Close()

	a := NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetGenres(context.Background())
	if err != nil {
		t.Fatalf("GetGenres error: %v", err)
	}
	if len(payload.Genres) != 2 || payload.Genres[0].Slug != "action" {
		t.Fatalf("unexpected genres: %+v", payload.Genres)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	defer server.Close()

	r.Register(NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil))
	r.Register(NewAPIAdapter(apiSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil))

	if _, err := r.Resolve("komikoid"); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, err := r.Resolve("nope"); err == nil {
		t.Fatal("unknown id should error")
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "komikoid" || ids[1] != "comicbay" {
		t.Fatalf("ids should keep registration order: %v", ids)
	}
}
