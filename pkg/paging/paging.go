package paging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/xhistory/pkg/fetch"
	"github.com/elonfeng/xhistory/pkg/post"
)

// DefaultPageSize is the number of posts loaded per page.
const DefaultPageSize = 10

// Paginate returns the pageIndex-th slice of at most pageSize items.
// Out-of-range pages are empty.
func Paginate[T any](items []T, pageIndex, pageSize int) []T {
	if pageIndex < 0 || pageSize <= 0 {
		return []T{}
	}
	start := pageIndex * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

// View is the layout a surface renders results in.
type View string

const (
	ViewList View = "list"
	ViewGrid View = "grid"
)

// Theme is the color scheme of a surface.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Resolver turns a URL into a renderable record.
type Resolver interface {
	Resolve(ctx context.Context, url string) fetch.Result
}

// Searcher runs cache-wide queries.
type Searcher interface {
	SearchPosts(ctx context.Context, query string) ([]*post.Post, error)
}

// URLSource supplies the ledger contents.
type URLSource interface {
	URLs(ctx context.Context) ([]string, error)
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID        string         `json:"id"`
	Items     []fetch.Result `json:"items"`
	PageIndex int            `json:"pageIndex"`
	PageSize  int            `json:"pageSize"`
	Total     int            `json:"total"`
	HasMore   bool           `json:"hasMore"`
	Loading   bool           `json:"loading"`
	Searching bool           `json:"searching"`
	Query     string         `json:"query,omitempty"`
	View      View           `json:"view"`
	Theme     Theme          `json:"theme"`
}

// Session drives incremental page loads and search for one open surface.
// LoadNextPage and Search may be called from different goroutines.
type Session struct {
	id       string
	resolver Resolver
	searcher Searcher
	urls     URLSource
	pageSize int
	delay    time.Duration

	mu         sync.Mutex
	all        []string
	items      []fetch.Result
	pageIndex  int
	hasMore    bool
	loading    bool
	searching  bool
	query      string
	view       View
	theme      Theme
	generation int
}

// Config holds the collaborators and tuning of a session.
type Config struct {
	Resolver Resolver
	Searcher Searcher
	URLs     URLSource
	PageSize int
	Delay    time.Duration

	// IdleTimeout is used by Registry; zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// NewSession creates an empty session. Call Reload or Reset before loading.
func NewSession(id string, cfg Config) *Session {
	size := cfg.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Session{
		id:       id,
		resolver: cfg.Resolver,
		searcher: cfg.Searcher,
		urls:     cfg.URLs,
		pageSize: size,
		delay:    cfg.Delay,
		all:      []string{},
		items:    []fetch.Result{},
		view:     ViewList,
		theme:    ThemeLight,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Reset replaces the URL list and starts over from the first page.
func (s *Session) Reset(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(urls)
}

func (s *Session) resetLocked(urls []string) {
	s.all = append([]string{}, urls...)
	s.items = []fetch.Result{}
	s.pageIndex = 0
	s.hasMore = len(urls) > 0
	s.loading = false
	s.searching = false
	s.query = ""
	s.generation++
}

// Reload fetches the ledger URLs and resets the session to them.
func (s *Session) Reload(ctx context.Context) error {
	if s.urls == nil {
		return fmt.Errorf("session %s: no url source", s.id)
	}
	urls, err := s.urls.URLs(ctx)
	if err != nil {
		return fmt.Errorf("reload session %s: %w", s.id, err)
	}
	s.Reset(urls)
	return nil
}

// LoadNextPage resolves the next page of URLs and appends them to the
// displayed items. It returns how many items were added; it does nothing
// while a load is running, in search mode, or after the last page.
func (s *Session) LoadNextPage(ctx context.Context) int {
	s.mu.Lock()
	if s.loading || s.searching || !s.hasMore {
		s.mu.Unlock()
		return 0
	}
	s.loading = true
	gen := s.generation
	page := Paginate(s.all, s.pageIndex, s.pageSize)
	s.mu.Unlock()

	results := make([]fetch.Result, 0, len(page))
	for i, url := range page {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.delay):
			}
		}
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.resolver.Resolve(ctx, url))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A reset or search happened meanwhile; this page belongs to old state.
	if gen != s.generation {
		return 0
	}
	s.loading = false
	if len(results) < len(page) {
		return 0
	}
	s.items = append(s.items, results...)
	s.pageIndex++
	s.hasMore = s.pageIndex*s.pageSize < len(s.all)
	return len(results)
}

// Search switches the session to the cache results for query. An empty
// query leaves search mode and reloads the first page of the ledger.
func (s *Session) Search(ctx context.Context, query string) (int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ClearSearch(ctx)
	}

	posts, err := s.searcher.SearchPosts(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("search %q: %w", query, err)
	}

	items := make([]fetch.Result, len(posts))
	for i, p := range posts {
		items[i] = fetch.FromCache(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.searching = true
	s.query = query
	s.items = items
	s.hasMore = false
	s.loading = false
	return len(items), nil
}

// ClearSearch leaves search mode, reloads the ledger and loads its first page.
func (s *Session) ClearSearch(ctx context.Context) (int, error) {
	if err := s.Reload(ctx); err != nil {
		return 0, err
	}
	return s.LoadNextPage(ctx), nil
}

// ToggleView switches between list and grid layout.
func (s *Session) ToggleView() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == ViewList {
		s.view = ViewGrid
	} else {
		s.view = ViewList
	}
	return s.view
}

// ToggleTheme switches between light and dark.
func (s *Session) ToggleTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.theme == ThemeLight {
		s.theme = ThemeDark
	} else {
		s.theme = ThemeLight
	}
	return s.theme
}

// SetView sets the layout explicitly.
func (s *Session) SetView(v View) error {
	if v != ViewList && v != ViewGrid {
		return fmt.Errorf("unknown view %q", v)
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	return nil
}

// SetTheme sets the color scheme explicitly.
func (s *Session) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("unknown theme %q", t)
	}
	s.mu.Lock()
	s.theme = t
	s.mu.Unlock()
	return nil
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		Items:     append([]fetch.Result{}, s.items...),
		PageIndex: s.pageIndex,
		PageSize:  s.pageSize,
		Total:     len(s.all),
		HasMore:   s.hasMore,
		Loading:   s.loading,
		Searching: s.searching,
		Query:     s.query,
		View:      s.view,
		Theme:     s.theme,
	}
}
