package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/post"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), log.New(io.Discard))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetPost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := &post.Post{
		URL:          "https://x.com/alice/status/1",
		RawEmbedHTML: `<blockquote class="twitter-tweet"><p>hello world</p></blockquote>`,
		Provider:     "oembed",
		Media:        &post.Media{Photos: []post.MediaItem{{URL: "https://img/1.jpg"}}},
		Engagement:   &post.Engagement{Likes: 3},
	}
	if err := s.PutPost(ctx, p); err != nil {
		t.Fatalf("PutPost() error: %v", err)
	}

	got, err := s.GetPost(ctx, p.URL)
	if err != nil {
		t.Fatalf("GetPost() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetPost() returned nil for stored post")
	}
	if got.Text != "hello world" {
		t.Errorf("Text = %q, want derived %q", got.Text, "hello world")
	}
	if got.AuthorHandle != "alice" {
		t.Errorf("AuthorHandle = %q, want alice", got.AuthorHandle)
	}
	if got.SavedAt == 0 {
		t.Error("SavedAt was not stamped")
	}
	if !got.HasMedia() || got.Media.Photos[0].URL != "https://img/1.jpg" {
		t.Errorf("Media = %+v, want one photo", got.Media)
	}
	if got.Engagement == nil || got.Engagement.Likes != 3 {
		t.Errorf("Engagement = %+v, want 3 likes", got.Engagement)
	}
}

func TestGetPostMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetPost(context.Background(), "https://x.com/nobody/status/0")
	if err != nil {
		t.Fatalf("GetPost() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetPost() = %+v, want nil", got)
	}
}

func TestPutPostOverwritesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	url := "https://x.com/alice/status/2"

	if err := s.PutPost(ctx, &post.Post{URL: url, Text: "a", AuthorDisplayName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPost(ctx, &post.Post{URL: url, Text: "b"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPost(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "b" {
		t.Errorf("Text = %q, want b", got.Text)
	}
	if got.AuthorDisplayName != "" {
		t.Errorf("AuthorDisplayName = %q, want it cleared by overwrite", got.AuthorDisplayName)
	}

	n, err := s.CountPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountPosts() = %d, want 1", n)
	}
}

func TestGetPostsPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := "https://x.com/a/status/1"
	c := "https://x.com/c/status/3"
	for _, u := range []string{a, c} {
		if err := s.PutPost(ctx, &post.Post{URL: u, Text: u}); err != nil {
			t.Fatal(err)
		}
	}

	urls := []string{c, "https://x.com/b/status/2", a}
	got, err := s.GetPosts(ctx, urls)
	if err != nil {
		t.Fatalf("GetPosts() error: %v", err)
	}
	if len(got) != len(urls) {
		t.Fatalf("len = %d, want %d", len(got), len(urls))
	}
	if got[0] == nil || got[0].URL != c {
		t.Errorf("got[0] = %+v, want %s", got[0], c)
	}
	if got[1] != nil {
		t.Errorf("got[1] = %+v, want nil", got[1])
	}
	if got[2] == nil || got[2].URL != a {
		t.Errorf("got[2] = %+v, want %s", got[2], a)
	}
}

func TestSearchPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	posts := []*post.Post{
		{URL: "https://x.com/a/status/1", Text: "hello world", SavedAt: 100},
		{URL: "https://x.com/b/status/2", Text: "hello there", SavedAt: 200},
		{URL: "https://x.com/c/status/3", Text: "nothing", AuthorDisplayName: "Hello Kitty", SavedAt: 300},
	}
	for _, p := range posts {
		if err := s.PutPost(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"hello there", []string{"https://x.com/b/status/2"}},
		{"HELLO", []string{"https://x.com/c/status/3", "https://x.com/b/status/2", "https://x.com/a/status/1"}},
		{"kitty", []string{"https://x.com/c/status/3"}},
		{"absent", nil},
		{"   ", []string{"https://x.com/c/status/3", "https://x.com/b/status/2", "https://x.com/a/status/1"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := s.SearchPosts(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchPosts() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("SearchPosts(%q) returned %d posts, want %d", tt.query, len(got), len(tt.want))
			}
			for i, p := range got {
				if p.URL != tt.want[i] {
					t.Errorf("result[%d] = %s, want %s", i, p.URL, tt.want[i])
				}
			}
		})
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, u := range []string{"https://x.com/a/status/1", "https://x.com/b/status/2"} {
		if err := s.PutPost(ctx, &post.Post{URL: u}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeletePost(ctx, "https://x.com/a/status/1"); err != nil {
		t.Fatalf("DeletePost() error: %v", err)
	}
	if n, _ := s.CountPosts(ctx); n != 1 {
		t.Errorf("CountPosts() after delete = %d, want 1", n)
	}

	if err := s.ClearPosts(ctx); err != nil {
		t.Fatalf("ClearPosts() error: %v", err)
	}
	if n, _ := s.CountPosts(ctx); n != 0 {
		t.Errorf("CountPosts() after clear = %d, want 0", n)
	}
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.GetValue(ctx, "urls"); err != nil || ok {
		t.Fatalf("GetValue() on empty store = ok %v, err %v", ok, err)
	}

	if err := s.SetValues(ctx, map[string]string{"urls": `["a"]`, "trackedPosts": `[]`}); err != nil {
		t.Fatalf("SetValues() error: %v", err)
	}
	if err := s.SetValues(ctx, map[string]string{"urls": `["a","b"]`}); err != nil {
		t.Fatalf("SetValues() error: %v", err)
	}

	v, ok, err := s.GetValue(ctx, "urls")
	if err != nil || !ok {
		t.Fatalf("GetValue() = ok %v, err %v", ok, err)
	}
	if v != `["a","b"]` {
		t.Errorf("GetValue() = %s, want updated value", v)
	}
}

func TestOpenReusesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	first, err := Open(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer first.Close()

	second, err := Open(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if first != second {
		t.Error("Open() returned a different store for the same path")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	ctx := context.Background()

	s, err := New(path, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutPost(ctx, &post.Post{URL: "https://x.com/a/status/1"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()

	if n, _ := s.CountPosts(ctx); n != 1 {
		t.Errorf("CountPosts() after reopen = %d, want 1", n)
	}
}
