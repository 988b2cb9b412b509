package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/post"
)

// FormatVersion is written to every export.
const FormatVersion = "1.0"

// ErrInvalidFormat is returned when an import document is not JSON or has
// no posts array.
var ErrInvalidFormat = errors.New(`invalid import file format: expected a JSON file with a "posts" array`)

// Document is the export file layout.
type Document struct {
	Version    string  `json:"version"`
	ExportDate string  `json:"exportDate"`
	Posts      []Entry `json:"posts"`
}

// Entry is one exported post.
type Entry struct {
	URL          string `json:"url"`
	Timestamp    int64  `json:"timestamp"`
	AuthorName   string `json:"authorName"`
	Text         string `json:"text"`
	AuthorHandle string `json:"authorHandle,omitempty"`
}

// Report summarizes an import.
type Report struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Merged   int `json:"merged"`
}

// Cache is the post store used by import and export.
type Cache interface {
	GetPost(ctx context.Context, url string) (*post.Post, error)
	PutPost(ctx context.Context, p *post.Post) error
	AllPosts(ctx context.Context) ([]*post.Post, error)
}

// Ledger is the URL list used by import and export.
type Ledger interface {
	TrackedPosts(ctx context.Context) ([]post.TrackedPost, error)
	Merge(ctx context.Context, urls []string) (int, error)
}

// Transfer moves history in and out of the local store.
type Transfer struct {
	cache  Cache
	ledger Ledger
	hosts  []string
	logger *log.Logger
	now    func() time.Time
}

// New creates a Transfer. hosts restricts which imported URLs are kept.
func New(cache Cache, ledger Ledger, hosts []string, logger *log.Logger) *Transfer {
	if len(hosts) == 0 {
		hosts = post.DefaultHosts
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Transfer{
		cache:  cache,
		ledger: ledger,
		hosts:  hosts,
		logger: logger.WithPrefix("transfer"),
		now:    time.Now,
	}
}

// Export writes every cached post, followed by ledger URLs that have no
// cache entry yet.
func (t *Transfer) Export(ctx context.Context, w io.Writer) (int, error) {
	posts, err := t.cache.AllPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	tracked, err := t.ledger.TrackedPosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	doc := Document{
		Version:    FormatVersion,
		ExportDate: t.now().UTC().Format(time.RFC3339),
		Posts:      make([]Entry, 0, len(posts)+len(tracked)),
	}

	cached := make(map[string]bool, len(posts))
	for _, p := range posts {
		cached[p.URL] = true
		doc.Posts = append(doc.Posts, Entry{
			URL:          p.URL,
			Timestamp:    p.SavedAt,
			AuthorName:   p.AuthorDisplayName,
			Text:         p.Text,
			AuthorHandle: p.AuthorHandle,
		})
	}
	for _, tp := range tracked {
		if cached[tp.URL] {
			continue
		}
		doc.Posts = append(doc.Posts, Entry{
			URL:          tp.URL,
			Timestamp:    tp.Timestamp,
			Text:         tp.Content,
			AuthorHandle: post.UsernameFromURL(tp.URL),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	t.logger.Info("exported history", "posts", len(doc.Posts))
	return len(doc.Posts), nil
}

// Import reads a Document, seeds the cache and merges the URLs into the
// ledger. Existing cache fields are never overwritten; only blanks are filled.
// A cache failure on one entry is counted in Report.Failed and its URL is
// still merged.
func (t *Transfer) Import(ctx context.Context, r io.Reader) (Report, error) {
	var raw struct {
		Posts []json.RawMessage `json:"posts"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if raw.Posts == nil {
		return Report{}, ErrInvalidFormat
	}

	rep := Report{Total: len(raw.Posts)}
	var urls []string
	for _, msg := range raw.Posts {
		var e Entry
		if err := json.Unmarshal(msg, &e); err != nil {
			rep.Skipped++
			continue
		}
		url, err := post.Normalize(e.URL, t.hosts)
		if err != nil {
			t.logger.Debug("skipping import entry", "url", e.URL, "reason", err)
			rep.Skipped++
			continue
		}

		urls = append(urls, url)
		created, err := t.seed(ctx, url, e)
		switch {
		case err != nil:
			t.logger.Warn("cache write failed, url still merged", "url", url, "error", err)
			rep.Failed++
		case created:
			rep.Imported++
		default:
			rep.Updated++
		}
	}

	merged, err := t.ledger.Merge(ctx, urls)
	if err != nil {
		return rep, fmt.Errorf("merge imported urls: %w", err)
	}
	rep.Merged = merged

	t.logger.Info("imported history", "total", rep.Total, "imported", rep.Imported, "skipped", rep.Skipped, "failed", rep.Failed, "merged", rep.Merged)
	return rep, nil
}

// seed writes e into the cache. It reports whether a new record was created.
func (t *Transfer) seed(ctx context.Context, url string, e Entry) (bool, error) {
	incoming := &post.Post{
		URL:               url,
		Text:              e.Text,
		AuthorHandle:      e.AuthorHandle,
		AuthorDisplayName: e.AuthorName,
		SavedAt:           e.Timestamp,
	}
	if incoming.AuthorHandle == "" {
		incoming.AuthorHandle = post.UsernameFromURL(url)
	}

	existing, err := t.cache.GetPost(ctx, url)
	if err != nil {
		return false, fmt.Errorf("import %s: %w", url, err)
	}
	if existing == nil {
		if err := t.cache.PutPost(ctx, incoming); err != nil {
			return false, fmt.Errorf("import %s: %w", url, err)
		}
		return true, nil
	}

	if existing.FillBlank(incoming) {
		if err := t.cache.PutPost(ctx, existing); err != nil {
			return false, fmt.Errorf("import %s: %w", url, err)
		}
	}
	return false, nil
}
