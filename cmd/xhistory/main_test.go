package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/elonfeng/xhistory/pkg/fetch"
	"github.com/elonfeng/xhistory/pkg/post"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	want := []string{"record", "list", "show", "search", "remove", "clear", "import", "export", "backfill", "serve", "run"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil || cmd.Name() != name {
				t.Errorf("Find(%q) = %v, %v", name, cmd, err)
			}
		})
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 8, "hello..."},
		{"runes", "ééééééé", 5, "éé..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatAuthor(t *testing.T) {
	tests := []struct {
		name string
		p    *post.Post
		want string
	}{
		{"both", &post.Post{AuthorDisplayName: "Alice", AuthorHandle: "alice"}, "Alice (@alice)"},
		{"handle only", &post.Post{AuthorHandle: "alice"}, "@alice"},
		{"none", &post.Post{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAuthor(tt.p); got != tt.want {
				t.Errorf("formatAuthor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIgnoreShutdown(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"canceled", context.Canceled, nil},
		{"server closed", http.ErrServerClosed, nil},
		{"other", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ignoreShutdown(tt.in); got != tt.want {
				t.Errorf("ignoreShutdown(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrintPosts(t *testing.T) {
	var buf bytes.Buffer
	results := []fetch.Result{
		{Post: &post.Post{URL: "https://x.com/alice/status/1", AuthorHandle: "alice", Text: "hi"}, State: fetch.StateHit},
	}
	if err := printPosts(&buf, 10, results); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"AUTHOR", "11", "@alice", "https://x.com/alice/status/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
