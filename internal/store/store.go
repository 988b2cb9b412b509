package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/post"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the persistence interface shared by every surface.
type Store interface {
	GetPost(ctx context.Context, url string) (*post.Post, error)
	GetPosts(ctx context.Context, urls []string) ([]*post.Post, error)
	PutPost(ctx context.Context, p *post.Post) error
	DeletePost(ctx context.Context, url string) error
	ClearPosts(ctx context.Context) error
	SearchPosts(ctx context.Context, query string) ([]*post.Post, error)
	AllPosts(ctx context.Context) ([]*post.Post, error)
	CountPosts(ctx context.Context) (int, error)

	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValues(ctx context.Context, values map[string]string) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger *log.Logger
	now    func() time.Time
}

var (
	openMu sync.Mutex
	opened = map[string]*SQLiteStore{}
)

// Open returns the process-wide store for path, creating it on first use.
func Open(path string, logger *log.Logger) (*SQLiteStore, error) {
	openMu.Lock()
	defer openMu.Unlock()

	if s, ok := opened[path]; ok {
		return s, nil
	}
	s, err := New(path, logger)
	if err != nil {
		return nil, err
	}
	opened[path] = s
	return s, nil
}

// New opens a SQLite database and runs migrations.
func New(path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.WithPrefix("store"),
		now:    time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the schema once per schemaVersion.
func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("schema initialized", "path", s.path, "version", schemaVersion)
	return nil
}

func (s *SQLiteStore) Close() error {
	openMu.Lock()
	if opened[s.path] == s {
		delete(opened, s.path)
	}
	openMu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) GetPost(ctx context.Context, url string) (*post.Post, error) {
	var p post.Post
	err := s.db.GetContext(ctx, &p, "SELECT * FROM posts WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", url, err)
	}
	decodePost(&p)
	return &p, nil
}

// GetPosts looks up every url in order. Missing or unreadable entries are
// nil; a failing key does not stop the batch.
func (s *SQLiteStore) GetPosts(ctx context.Context, urls []string) ([]*post.Post, error) {
	posts := make([]*post.Post, len(urls))
	for i, url := range urls {
		p, err := s.GetPost(ctx, url)
		if err != nil {
			s.logger.Warn("batch lookup failed", "url", url, "error", err)
			continue
		}
		posts[i] = p
	}
	return posts, nil
}

// PutPost overwrites the whole record for p.URL. Text and author handle are
// derived when missing; SavedAt is stamped unless the caller supplied one.
func (s *SQLiteStore) PutPost(ctx context.Context, p *post.Post) error {
	if p.URL == "" {
		return fmt.Errorf("put post: %w", post.ErrInvalidURL)
	}
	if p.Text == "" {
		p.Text = post.ExtractText(p.RawEmbedHTML)
	}
	if p.AuthorHandle == "" {
		p.AuthorHandle = post.UsernameFromURL(p.URL)
	}
	if p.SavedAt == 0 {
		p.SavedAt = s.now().UnixMilli()
	}
	encodePost(p)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO posts (url, text, author_handle, author_display_name, author_avatar_url, author_url,
			media, engagement, created_at, saved_at, raw_embed_html, provider)
		VALUES (:url, :text, :author_handle, :author_display_name, :author_avatar_url, :author_url,
			:media, :engagement, :created_at, :saved_at, :raw_embed_html, :provider)
		ON CONFLICT(url) DO UPDATE SET
			text = excluded.text,
			author_handle = excluded.author_handle,
			author_display_name = excluded.author_display_name,
			author_avatar_url = excluded.author_avatar_url,
			author_url = excluded.author_url,
			media = excluded.media,
			engagement = excluded.engagement,
			created_at = excluded.created_at,
			saved_at = excluded.saved_at,
			raw_embed_html = excluded.raw_embed_html,
			provider = excluded.provider
	`, p)
	if err != nil {
		return fmt.Errorf("put post %s: %w", p.URL, err)
	}
	s.logger.Debug("post saved", "url", p.URL, "provider", p.Provider)
	return nil
}

func (s *SQLiteStore) DeletePost(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM posts WHERE url = ?", url); err != nil {
		return fmt.Errorf("delete post %s: %w", url, err)
	}
	return nil
}

func (s *SQLiteStore) ClearPosts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM posts"); err != nil {
		return fmt.Errorf("clear posts: %w", err)
	}
	return nil
}

// AllPosts returns every cached post, most recently saved first.
func (s *SQLiteStore) AllPosts(ctx context.Context) ([]*post.Post, error) {
	var rows []post.Post
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM posts ORDER BY saved_at DESC, url ASC"); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]*post.Post, len(rows))
	for i := range rows {
		decodePost(&rows[i])
		posts[i] = &rows[i]
	}
	return posts, nil
}

// SearchPosts returns posts whose text, handle, display name and url together
// contain every whitespace-separated term of query. A blank query returns all.
func (s *SQLiteStore) SearchPosts(ctx context.Context, query string) ([]*post.Post, error) {
	all, err := s.AllPosts(ctx)
	if err != nil {
		return nil, err
	}

	tokens := post.Tokenize(query)
	if len(tokens) == 0 {
		return all, nil
	}

	var matched []*post.Post
	for _, p := range all {
		if p.Matches(tokens) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (s *SQLiteStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM posts"); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get value %s: %w", key, err)
	}
	return value, true, nil
}

// SetValues writes all keys in one transaction.
func (s *SQLiteStore) SetValues(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set values: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("set value %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func encodePost(p *post.Post) {
	p.MediaJSON = ""
	if p.Media != nil {
		b, _ := json.Marshal(p.Media)
		p.MediaJSON = string(b)
	}
	p.EngagementJSON = ""
	if p.Engagement != nil {
		b, _ := json.Marshal(p.Engagement)
		p.EngagementJSON = string(b)
	}
}

func decodePost(p *post.Post) {
	if p.MediaJSON != "" {
		var m post.Media
		if json.Unmarshal([]byte(p.MediaJSON), &m) == nil {
			p.Media = &m
		}
	}
	if p.EngagementJSON != "" {
		var e post.Engagement
		if json.Unmarshal([]byte(p.EngagementJSON), &e) == nil {
			p.Engagement = &e
		}
	}
}
