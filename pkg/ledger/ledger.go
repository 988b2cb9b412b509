package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/notify"
	"github.com/elonfeng/xhistory/pkg/post"
)

// Storage keys.
const (
	KeyURLs         = "urls"
	KeyTrackedPosts = "trackedPosts"
)

// Storage is the key-value persistence the ledger writes through.
// SetValues must write all keys atomically.
type Storage interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValues(ctx context.Context, values map[string]string) error
}

// Broadcaster receives an event after every ledger mutation.
type Broadcaster interface {
	Broadcast(ctx context.Context, e *notify.Event) error
}

// Result describes the outcome of RecordIfNew. Position is -1 when the URL
// was rejected.
type Result struct {
	URL      string `json:"url,omitempty"`
	Inserted bool   `json:"inserted"`
	Position int    `json:"position"`
}

// Ledger is the ordered, deduplicated, newest-first list of visited post
// URLs plus the parallel tracked-post entries.
type Ledger struct {
	mu          sync.Mutex
	storage     Storage
	hosts       []string
	broadcaster Broadcaster
	logger      *log.Logger
	now         func() time.Time
}

// New creates a ledger. hosts limits which post URLs are accepted; nil means
// post.DefaultHosts. broadcaster may be nil.
func New(storage Storage, hosts []string, broadcaster Broadcaster, logger *log.Logger) *Ledger {
	if len(hosts) == 0 {
		hosts = post.DefaultHosts
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		storage:     storage,
		hosts:       hosts,
		broadcaster: broadcaster,
		logger:      logger.WithPrefix("ledger"),
		now:         time.Now,
	}
}

// RecordIfNew canonicalizes raw and prepends it if the ledger does not
// already hold it. Rejected URLs are not an error.
func (l *Ledger) RecordIfNew(ctx context.Context, raw string) (Result, error) {
	canonical, err := post.Normalize(raw, l.hosts)
	if err != nil {
		l.logger.Debug("ignoring navigation", "url", raw, "reason", err)
		return Result{Position: -1}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	urls, tracked, err := l.load(ctx)
	if err != nil {
		return Result{}, err
	}

	if i := slices.Index(urls, canonical); i >= 0 {
		return Result{URL: canonical, Position: i}, nil
	}
	if i := trackedIndex(tracked, canonical); i >= 0 {
		return Result{URL: canonical, Position: i}, nil
	}

	urls = append([]string{canonical}, urls...)
	tracked = append([]post.TrackedPost{post.NewTrackedPost(canonical, l.now())}, tracked...)
	if err := l.save(ctx, urls, tracked); err != nil {
		return Result{}, err
	}

	l.logger.Info("recorded post", "url", canonical, "total", len(urls))
	return Result{URL: canonical, Inserted: true, Position: 0}, nil
}

// URLs returns the ledger, newest first.
func (l *Ledger) URLs(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	urls, _, err := l.load(ctx)
	return urls, err
}

// TrackedPosts returns the tracked-post entries, newest first.
func (l *Ledger) TrackedPosts(ctx context.Context) ([]post.TrackedPost, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, tracked, err := l.load(ctx)
	return tracked, err
}

// Clear empties both lists.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.save(ctx, []string{}, []post.TrackedPost{}); err != nil {
		return err
	}
	l.logger.Info("ledger cleared")
	return nil
}

// Remove deletes every given URL from both lists, keeping the order of the
// rest. It returns how many ledger entries were removed.
func (l *Ledger) Remove(ctx context.Context, targets []string) (int, error) {
	drop := make(map[string]bool, len(targets))
	for _, raw := range targets {
		drop[raw] = true
		if c, err := post.Canonicalize(raw); err == nil {
			drop[c] = true
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	urls, tracked, err := l.load(ctx)
	if err != nil {
		return 0, err
	}

	keptURLs := make([]string, 0, len(urls))
	for _, u := range urls {
		if !drop[u] {
			keptURLs = append(keptURLs, u)
		}
	}
	keptTracked := make([]post.TrackedPost, 0, len(tracked))
	for _, tp := range tracked {
		if !drop[tp.URL] {
			keptTracked = append(keptTracked, tp)
		}
	}

	removed := len(urls) - len(keptURLs)
	if removed == 0 && len(keptTracked) == len(tracked) {
		return 0, nil
	}
	if err := l.save(ctx, keptURLs, keptTracked); err != nil {
		return 0, err
	}
	return removed, nil
}

// Merge adds the URLs the ledger does not hold yet, after the existing
// entries and in the given order. It returns the number added.
func (l *Ledger) Merge(ctx context.Context, incoming []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	urls, tracked, err := l.load(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(urls)+len(tracked))
	for _, u := range urls {
		seen[u] = true
	}
	for _, tp := range tracked {
		seen[tp.URL] = true
	}

	added := 0
	now := l.now()
	for _, u := range incoming {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		tracked = append(tracked, post.NewTrackedPost(u, now))
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := l.save(ctx, urls, tracked); err != nil {
		return 0, err
	}
	l.logger.Info("merged urls", "added", added, "total", len(urls))
	return added, nil
}

// Annotate fills the tracked entry for p.URL with the fetched author and text.
func (l *Ledger) Annotate(ctx context.Context, p *post.Post) error {
	if p == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	urls, tracked, err := l.load(ctx)
	if err != nil {
		return err
	}
	i := trackedIndex(tracked, p.URL)
	if i < 0 {
		return nil
	}

	tp := tracked[i]
	if p.AuthorHandle != "" {
		tp.Author = "@" + p.AuthorHandle
	}
	if p.Text != "" {
		tp.Content = p.Text
	}
	if tp == tracked[i] {
		return nil
	}
	tracked[i] = tp
	return l.save(ctx, urls, tracked)
}

// load reads both lists and migrates legacy data that has urls but no
// tracked posts. Callers hold l.mu.
func (l *Ledger) load(ctx context.Context) ([]string, []post.TrackedPost, error) {
	urls := []string{}
	if err := l.read(ctx, KeyURLs, &urls); err != nil {
		return nil, nil, err
	}
	tracked := []post.TrackedPost{}
	if err := l.read(ctx, KeyTrackedPosts, &tracked); err != nil {
		return nil, nil, err
	}

	if len(tracked) == 0 && len(urls) > 0 {
		now := l.now()
		for _, u := range urls {
			tracked = append(tracked, post.NewTrackedPost(u, now))
		}
		if err := l.write(ctx, urls, tracked); err != nil {
			return nil, nil, fmt.Errorf("migrate tracked posts: %w", err)
		}
		l.logger.Info("migrated tracked posts", "count", len(tracked))
	}
	return urls, tracked, nil
}

func (l *Ledger) read(ctx context.Context, key string, dst any) error {
	raw, ok, err := l.storage.GetValue(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) write(ctx context.Context, urls []string, tracked []post.TrackedPost) error {
	u, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	tp, err := json.Marshal(tracked)
	if err != nil {
		return err
	}
	return l.storage.SetValues(ctx, map[string]string{
		KeyURLs:         string(u),
		KeyTrackedPosts: string(tp),
	})
}

// save persists both lists and broadcasts the new state.
func (l *Ledger) save(ctx context.Context, urls []string, tracked []post.TrackedPost) error {
	if err := l.write(ctx, urls, tracked); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if l.broadcaster == nil {
		return nil
	}
	err := l.broadcaster.Broadcast(ctx, &notify.Event{
		Action:       notify.ActionURLListUpdated,
		URLs:         slices.Clone(urls),
		TrackedPosts: slices.Clone(tracked),
		At:           l.now(),
	})
	if err != nil {
		l.logger.Warn("broadcast failed", "error", err)
	}
	return nil
}

func trackedIndex(tracked []post.TrackedPost, url string) int {
	return slices.IndexFunc(tracked, func(tp post.TrackedPost) bool { return tp.URL == url })
}
