package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Seiaaxn/kanaver3/internal/config"
	"github.com/Seiaaxn/kanaver3/internal/domain"
)

func htmlSourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		ID:      "komikoid",
		Kind:    "html",
		BaseURL: baseURL,
		Paths: map[string]string{
			"latest":   "/daftar-komik/page/%d/",
			"popular":  "/daftar-komik/",
			"search":   "/?s=%s",
			"detail":   "/komik/%s/",
			"chapter":  "/chapter/%s/",
			"by-genre": "/genres/%s/page/%d/",
			"genres":   "/daftar-komik/",
		},
		Selectors: map[string]string{
			"list":        "div.list-update_item",
			"title":       "h3.title",
			"href":        "a",
			"thumbnail":   "img",
			"type":        "span.type",
			"chapter":     "div.chapter",
			"rating":      "div.numscore",
			"description": "div.entry-content p",
			"author":      "span.author",
			"status":      "span.status",
			"genreLink":   "ul.genre li a",
			"image":       "div.reading-content img",
			"nextPage":    "a.next.page-numbers",
		},
	}
}

const listingHTML = `
<div class="listupd">
  <div class="list-update_item">
    <a href="/komik/one-piece/"><h3 class="title">One Piece</h3></a>
    <img src="https://cdn.example.com/one-piece.jpg">
    <span class="type">Manga</span>
    <div class="chapter">Chapter 1100</div>
    <div class="numscore">9.3</div>
  </div>
  <div class="list-update_item">
    <a href="/komik/naruto/"><h3 class="title">Naruto</h3></a>
    <img src="https://cdn.example.com/naruto.jpg">
    <span class="type">Manga</span>
    <div class="chapter">Chapter 700</div>
    <div class="numscore">8.9</div>
  </div>
</div>
<a class="next page-numbers" href="/daftar-komik/page/2/">Next</a>`

func TestHTMLAdapterGetLatest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetLatest(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetLatest error: %v", err)
	}
	if len(payload.Comics) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.Comics))
	}

	first := payload.Comics[0]
	if first.Title != "One Piece" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.Href != "/komik/one-piece/" {
		t.Fatalf("unexpected href: %q", first.Href)
	}
	if first.Rating != 9.3 {
		t.Fatalf("unexpected rating: %v", first.Rating)
	}
	if first.Chapter != "Chapter 1100" {
		t.Fatalf("unexpected chapter: %q", first.Chapter)
	}

	if payload.Page == nil || !payload.Page.HasNext {
		t.Fatalf("next-page link should set HasNext: %+v", payload.Page)
	}
}

func TestHTMLAdapterGetDetail(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
		<h3 class="title">One Piece</h3>
		<img src="/thumb/one-piece.jpg">
		<span class="author">Eiichiro Oda</span>
		<span class="status">Ongoing</span>
		<span class="type">Manga</span>
		<div class="numscore">9.3</div>
		<div class="entry-content"><p>A pirate adventure.</p></div>
		<ul class="genre"><li><a href="/genres/action/">Action</a></li><li><a href="/genres/adventure/">Adventure</a></li></ul>`))
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetDetail(context.Background(), "one-piece")
	if err != nil {
		t.Fatalf("GetDetail error: %v", err)
	}
	if len(payload.Comics) != 1 {
		t.Fatalf("expected single item, got %d", len(payload.Comics))
	}

	item := payload.Comics[0]
	if item.Author != "Eiichiro Oda" || item.Status != "Ongoing" {
		t.Fatalf("unexpected detail fields: %+v", item)
	}
	if len(item.Genres) != 2 || item.Genres[0] != "Action" {
		t.Fatalf("unexpected genres: %v", item.Genres)
	}
	if item.Description != "A pirate adventure." {
		t.Fatalf("unexpected description: %q", item.Description)
	}
}

func TestHTMLAdapterDetailNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	_, err := a.GetDetail(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestHTMLAdapterBlockedIsNetworkFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	_, err := a.GetLatest(context.Background(), 1)
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("upstream blocking should classify as network failure, got %v", err)
	}
}

func TestHTMLAdapterChapterImages(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
		<div class="reading-content">
		  <img src="https://cdn.example.com/p1.jpg">
		  <img data-src="https://cdn.example.com/p2.jpg">
		</div>`))
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetChapterImages(context.Background(), "one-piece-chapter-1")
	if err != nil {
		t.Fatalf("GetChapterImages error: %v", err)
	}
	if len(payload.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", payload.Images)
	}
}

func TestHTMLAdapterGetGenres(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
		<ul class="genre">
		  <li><a href="/genres/action/">Action</a></li>
		  <li><a href="/genres/slice-of-life/">Slice of Life</a></li>
		</ul>`))
	}))
	defer server.Close()

	a := NewHTMLAdapter(htmlSourceConfig(server.URL), config.HTTPConfig{}, server.Client(), nil)

	payload, err := a.GetGenres(context.Background())
	if err != nil {
		t.Fatalf("GetGenres error: %v", err)
	}
	if len(payload.Genres) != 2 {
		t.Fatalf("expected 2 genres, got %v", payload.Genres)
	}
	if payload.Genres[1].Slug != "slice-of-life" {
		t.Fatalf("slug should come from the link path: %+v", payload.Genres[1])
	}
}
