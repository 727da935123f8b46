package domain

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Comic is the normalized listing record shared by every source adapter.
type Comic struct {
	Title       string   `json:"title"`
	Href        string   `json:"href"`
	Thumbnail   string   `json:"thumbnail"`
	Type        string   `json:"type"`
	Chapter     string   `json:"chapter"`
	Rating      float64  `json:"rating"`
	Status      string   `json:"status"`
	Author      string   `json:"author"`
	Genres      []string `json:"genre"`
	Description string   `json:"description"`
	Released    string   `json:"released"`

	// Enrichment added by the integrity engine when an item becomes a
	// unique group during deduplication.
	ID          string    `json:"id,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
}

// FieldNames lists every mergeable scalar field in a stable order.
var FieldNames = []string{
	"title", "href", "thumbnail", "type", "chapter", "rating",
	"status", "author", "genre", "description", "released",
}

// Field returns the string form of a named field; slice and numeric
// fields are rendered so hashing stays deterministic.
func (c Comic) Field(name string) string {
	switch name {
	case "title":
		return c.Title
	case "href":
		return c.Href
	case "thumbnail":
		return c.Thumbnail
	case "type":
		return c.Type
	case "chapter":
		return c.Chapter
	case "rating":
		if c.Rating == 0 {
			return ""
		}
		return strconv.FormatFloat(c.Rating, 'f', -1, 64)
	case "status":
		return c.Status
	case "author":
		return c.Author
	case "genre":
		return strings.Join(c.Genres, ",")
	case "description":
		return c.Description
	case "released":
		return c.Released
	default:
		return ""
	}
}

// SetField writes the string form of a named field back onto the item.
func (c *Comic) SetField(name, value string) {
	switch name {
	case "title":
		c.Title = value
	case "href":
		c.Href = value
	case "thumbnail":
		c.Thumbnail = value
	case "type":
		c.Type = value
	case "chapter":
		c.Chapter = value
	case "rating":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			c.Rating = f
		}
	case "status":
		c.Status = value
	case "author":
		c.Author = value
	case "genre":
		if value == "" {
			c.Genres = nil
		} else {
			c.Genres = strings.Split(value, ",")
		}
	case "description":
		c.Description = value
	case "released":
		c.Released = value
	}
}

// Slug derives the final path segment of the item's Href.
func (c Comic) Slug() string {
	trimmed := strings.Trim(c.Href, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// Genre is a browsable category tag exposed by a source.
type Genre struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// PageMeta carries the pagination layer some source operations wrap
// their item list in.
type PageMeta struct {
	CurrentPage int  `json:"current_page"`
	LengthPage  int  `json:"length_page"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

// Payload is what a source operation yields: a flat comic list, the same
// list under one pagination layer, chapter image URLs, or genre tags.
type Payload struct {
	Comics []Comic  `json:"data,omitempty"`
	Page   *PageMeta `json:"page,omitempty"`
	Images []string `json:"images,omitempty"`
	Genres []Genre  `json:"genres,omitempty"`
}

// IsEmpty reports whether the payload carries no content at all.
func (p Payload) IsEmpty() bool {
	return len(p.Comics) == 0 && len(p.Images) == 0 && len(p.Genres) == 0
}

// Operation names accepted by the orchestrator and the adapter contract.
const (
	OpLatest        = "latest"
	OpPopular       = "popular"
	OpRecommended   = "recommended"
	OpSearch        = "search"
	OpDetail        = "detail"
	OpChapterImages = "chapter-images"
	OpByGenre       = "by-genre"
	OpGenres        = "genres"
)

// Args carries the per-operation arguments; zero values are omitted from
// the canonical form so equal requests always produce equal keys.
type Args struct {
	Page    int    `json:"page,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Genre   string `json:"genre,omitempty"`
}

// Canonical renders the arguments deterministically for key building.
func (a Args) Canonical() string {
	values := url.Values{}
	if a.Page != 0 {
		values.Set("page", strconv.Itoa(a.Page))
	}
	if a.Keyword != "" {
		values.Set("keyword", a.Keyword)
	}
	if a.Slug != "" {
		values.Set("slug", a.Slug)
	}
	if a.Genre != "" {
		values.Set("genre", a.Genre)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+values.Get(k))
	}
	return strings.Join(parts, "&")
}

// OperationKey identifies one logical fetch for cache lookup and
// in-flight collapsing.
func OperationKey(sourceID, operation string, args Args) string {
	return fmt.Sprintf("%s:%s:%s", sourceID, operation, args.Canonical())
}
