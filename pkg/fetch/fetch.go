package fetch

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/pkg/post"
	"github.com/elonfeng/xhistory/pkg/source"
)

// State is the terminal state of a resolution.
type State string

const (
	StateHit      State = "hit"
	StateFetched  State = "fetched"
	StateFallback State = "fallback"
	// StateCached marks a stored record without structured metadata, such as
	// an import or an oEmbed-only entry.
	StateCached State = "cached"
)

// Cache is the part of the post store the resolver reads and writes.
type Cache interface {
	GetPost(ctx context.Context, url string) (*post.Post, error)
	PutPost(ctx context.Context, p *post.Post) error
}

// Result is what a surface renders for one URL. Post is never nil.
type Result struct {
	Post     *post.Post `json:"post"`
	State    State      `json:"state"`
	Endpoint string     `json:"endpoint,omitempty"`
}

// FromCache labels a stored record without consulting any endpoint.
func FromCache(p *post.Post) Result {
	if p.HasMetadata() {
		return Result{Post: p, State: StateHit}
	}
	return Result{Post: p, State: StateCached}
}

// Resolver answers "what is this post" from the cache first and from the
// remote endpoints, in order, on a miss.
type Resolver struct {
	cache     Cache
	endpoints []source.Endpoint
	logger    *log.Logger
}

// NewResolver creates a resolver. Endpoints are tried in the given order.
func NewResolver(cache Cache, endpoints []source.Endpoint, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		cache:     cache,
		endpoints: endpoints,
		logger:    logger.WithPrefix("fetch"),
	}
}

// Resolve returns the best available record for url. It does not fail:
// when no endpoint answers, a synthetic record is returned.
func (r *Resolver) Resolve(ctx context.Context, url string) Result {
	if c, err := post.Canonicalize(url); err == nil {
		url = c
	}

	cached, err := r.cache.GetPost(ctx, url)
	if err != nil {
		r.logger.Warn("cache read failed, treating as miss", "url", url, "error", err)
	} else if cached.HasMetadata() {
		return Result{Post: cached, State: StateHit}
	}

	id := post.ExtractID(url)
	if id == "" {
		r.logger.Debug("no post id, rendering fallback", "url", url)
		return Result{Post: post.Synthetic(url), State: StateFallback}
	}

	for _, ep := range r.endpoints {
		p, err := ep.Lookup(ctx, url, id)
		if err != nil {
			r.logger.Debug("endpoint failed", "endpoint", ep.Name(), "url", url, "error", err)
			continue
		}

		p.URL = url
		if err := r.cache.PutPost(ctx, p); err != nil {
			r.logger.Warn("cache write failed", "url", url, "error", err)
		}
		return Result{Post: p, State: StateFetched, Endpoint: ep.Name()}
	}

	r.logger.Info("all endpoints failed", "url", url, "endpoints", len(r.endpoints))
	return Result{Post: post.Synthetic(url), State: StateFallback}
}

// ResolveMany resolves urls one after another, pausing delay between
// items. Cancelling ctx stops the batch; results gathered so far are
// returned.
func (r *Resolver) ResolveMany(ctx context.Context, urls []string, delay time.Duration) []Result {
	results := make([]Result, 0, len(urls))
	for i, url := range urls {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return results
		}
		results = append(results, r.Resolve(ctx, url))
	}
	return results
}
