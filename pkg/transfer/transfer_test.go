package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/ledger"
	"github.com/elonfeng/xhistory/pkg/post"
)

type memCache struct {
	mu      sync.Mutex
	posts   map[string]*post.Post
	failPut map[string]bool
}

func (m *memCache) GetPost(_ context.Context, url string) (*post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.posts[url]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memCache) PutPost(_ context.Context, p *post.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[p.URL] {
		return errors.New("disk full")
	}
	cp := *p
	m.posts[p.URL] = &cp
	return nil
}

func (m *memCache) AllPosts(context.Context) ([]*post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*post.Post
	for _, p := range m.posts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt > out[j].SavedAt })
	return out, nil
}

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memKV) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) SetValues(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func newFixture() (*Transfer, *memCache, *ledger.Ledger) {
	logger := log.New(io.Discard)
	cache := &memCache{posts: map[string]*post.Post{}}
	l := ledger.New(&memKV{values: map[string]string{}}, nil, nil, logger)
	return New(cache, l, nil, logger), cache, l
}

func TestImportRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"missing posts", `{"version":"1.0"}`},
		{"posts not an array", `{"posts":{"url":"x"}}`},
		{"null posts", `{"posts":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, _ := newFixture()
			_, err := tr.Import(context.Background(), strings.NewReader(tt.body))
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Import() error = %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestImportSeedsCacheAndMergesLedger(t *testing.T) {
	ctx := context.Background()
	tr, cache, l := newFixture()

	l.RecordIfNew(ctx, "https://x.com/alice/status/1")
	cache.PutPost(ctx, &post.Post{URL: "https://x.com/alice/status/1", Text: "kept", SavedAt: 5})

	body := `{
		"version": "1.0",
		"posts": [
			{"url": "https://x.com/alice/status/1?s=20", "timestamp": 10, "authorName": "Alice", "text": "replaced?"},
			{"url": "https://x.com/bob/status/2", "timestamp": 20, "authorName": "Bob", "text": "new one"},
			{"url": "https://example.com/nope", "timestamp": 30},
			{"url": 42}
		]
	}`
	rep, err := tr.Import(ctx, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	want := Report{Total: 4, Imported: 1, Updated: 1, Skipped: 2, Merged: 1}
	if rep != want {
		t.Errorf("Import() = %+v, want %+v", rep, want)
	}

	alice := cache.posts["https://x.com/alice/status/1"]
	if alice.Text != "kept" || alice.AuthorDisplayName != "Alice" {
		t.Errorf("existing post = %+v, want text kept and blank name filled", alice)
	}
	bob := cache.posts["https://x.com/bob/status/2"]
	if bob == nil || bob.Text != "new one" || bob.AuthorHandle != "bob" || bob.SavedAt != 20 {
		t.Errorf("imported post = %+v", bob)
	}
	if bob.HasMetadata() {
		t.Error("imported posts must not count as fetched metadata")
	}

	urls, _ := l.URLs(ctx)
	if len(urls) != 2 || urls[0] != "https://x.com/alice/status/1" || urls[1] != "https://x.com/bob/status/2" {
		t.Errorf("ledger = %v", urls)
	}
}

func TestImportContinuesPastCacheFailure(t *testing.T) {
	ctx := context.Background()
	tr, cache, l := newFixture()
	cache.failPut = map[string]bool{"https://x.com/b/status/2": true}

	body := `{"posts": [
		{"url": "https://x.com/a/status/1", "timestamp": 1, "text": "one"},
		{"url": "https://x.com/b/status/2", "timestamp": 2, "text": "two"},
		{"url": "https://x.com/c/status/3", "timestamp": 3, "text": "three"}
	]}`
	rep, err := tr.Import(ctx, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	want := Report{Total: 3, Imported: 2, Failed: 1, Merged: 3}
	if rep != want {
		t.Errorf("Import() = %+v, want %+v", rep, want)
	}

	if cache.posts["https://x.com/c/status/3"] == nil {
		t.Error("entry after the failure was not cached")
	}
	urls, _ := l.URLs(ctx)
	if len(urls) != 3 {
		t.Errorf("ledger = %v, want all three urls", urls)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	tr, cache, l := newFixture()
	tr.now = func() time.Time { return time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC) }

	l.RecordIfNew(ctx, "https://x.com/alice/status/1")
	l.RecordIfNew(ctx, "https://x.com/bob/status/2")
	cache.PutPost(ctx, &post.Post{
		URL: "https://x.com/alice/status/1", Text: "hi", AuthorHandle: "alice", AuthorDisplayName: "Alice", SavedAt: 99,
	})

	var buf bytes.Buffer
	n, err := tr.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Export() = %d, want 2", n)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.Version != FormatVersion || doc.ExportDate != "2025-10-01T12:00:00Z" {
		t.Errorf("header = %q %q", doc.Version, doc.ExportDate)
	}
	if doc.Posts[0].URL != "https://x.com/alice/status/1" || doc.Posts[0].AuthorName != "Alice" || doc.Posts[0].Timestamp != 99 {
		t.Errorf("posts[0] = %+v", doc.Posts[0])
	}
	if doc.Posts[1].URL != "https://x.com/bob/status/2" || doc.Posts[1].AuthorHandle != "bob" {
		t.Errorf("posts[1] = %+v", doc.Posts[1])
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, srcCache, srcLedger := newFixture()
	srcLedger.RecordIfNew(ctx, "https://x.com/alice/status/1")
	srcCache.PutPost(ctx, &post.Post{URL: "https://x.com/alice/status/1", Text: "hello", AuthorHandle: "alice", SavedAt: 1})

	var buf bytes.Buffer
	if _, err := src.Export(ctx, &buf); err != nil {
		t.Fatal(err)
	}

	dst, dstCache, dstLedger := newFixture()
	if _, err := dst.Import(ctx, &buf); err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if p := dstCache.posts["https://x.com/alice/status/1"]; p == nil || p.Text != "hello" {
		t.Errorf("round-tripped post = %+v", p)
	}
	if urls, _ := dstLedger.URLs(ctx); len(urls) != 1 {
		t.Errorf("round-tripped ledger = %v", urls)
	}
}
