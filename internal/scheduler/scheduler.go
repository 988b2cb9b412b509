package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/fetch"
	"github.com/elonfeng/xhistory/pkg/post"
)

// Ledger is the URL list the backfill walks.
type Ledger interface {
	URLs(ctx context.Context) ([]string, error)
	Annotate(ctx context.Context, p *post.Post) error
}

// Cache answers batch lookups.
type Cache interface {
	GetPosts(ctx context.Context, urls []string) ([]*post.Post, error)
}

// Resolver fetches metadata for one URL.
type Resolver interface {
	Resolve(ctx context.Context, url string) fetch.Result
}

// Stats summarizes one backfill pass.
type Stats struct {
	Checked int
	Missing int
	Fetched int
	Failed  int
}

// Scheduler periodically fills in metadata for ledger URLs the cache does
// not describe yet.
type Scheduler struct {
	ledger   Ledger
	cache    Cache
	resolver Resolver
	interval time.Duration
	delay    time.Duration
	logger   *log.Logger
}

// New creates a new scheduler.
func New(l Ledger, c Cache, r Resolver, interval, delay time.Duration, logger *log.Logger) *Scheduler {
	if interval == 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		ledger:   l,
		cache:    c,
		resolver: r,
		interval: interval,
		delay:    delay,
		logger:   logger.WithPrefix("scheduler"),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("initial backfill")
	s.runOnce(ctx)
	s.logger.Info("running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.Backfill(ctx)
	if err != nil {
		s.logger.Error("backfill failed", "error", err)
		return
	}
	s.logger.Info("backfill done",
		"checked", stats.Checked,
		"missing", stats.Missing,
		"fetched", stats.Fetched,
		"failed", stats.Failed,
	)
}

// Backfill resolves every ledger URL lacking cached metadata, pausing the
// configured delay between remote lookups.
func (s *Scheduler) Backfill(ctx context.Context) (Stats, error) {
	urls, err := s.ledger.URLs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load ledger: %w", err)
	}
	posts, err := s.cache.GetPosts(ctx, urls)
	if err != nil {
		return Stats{}, fmt.Errorf("batch cache lookup: %w", err)
	}

	stats := Stats{Checked: len(urls)}
	var missing []string
	for i, p := range posts {
		if p.HasMetadata() {
			continue
		}
		missing = append(missing, urls[i])
	}
	stats.Missing = len(missing)

	for i, url := range missing {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		res := s.resolver.Resolve(ctx, url)
		if res.State != fetch.StateFetched {
			stats.Failed++
			continue
		}
		stats.Fetched++
		if err := s.ledger.Annotate(ctx, res.Post); err != nil {
			s.logger.Warn("annotate failed", "url", url, "error", err)
		}
	}
	return stats, nil
}
