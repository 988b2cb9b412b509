package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/xhistory/pkg/post"
)

// Provider names recorded on fetched posts.
const (
	ProviderStatusAPI = post.ProviderStatusAPI
	ProviderOEmbed    = post.ProviderOEmbed
	ProviderNitter    = post.ProviderNitter
)

const (
	userAgent      = "xhistory/1.0"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// ErrUnavailable wraps every failure to obtain a post from an endpoint.
var ErrUnavailable = errors.New("endpoint unavailable")

// Endpoint is a remote service that can describe a single post.
type Endpoint interface {
	Name() string
	Lookup(ctx context.Context, url, id string) (*post.Post, error)
}

// ChainConfig lists the endpoint families to try. Empty slices are skipped.
type ChainConfig struct {
	StatusAPIs []string
	OEmbeds    []string
	NitterURL  string
	Timeout    time.Duration
}

// NewChain builds endpoints in fallback order: structured APIs, then oEmbed,
// then Nitter when configured.
func NewChain(c ChainConfig) []Endpoint {
	var endpoints []Endpoint
	for _, base := range c.StatusAPIs {
		endpoints = append(endpoints, NewStatusAPI(base, c.Timeout))
	}
	for _, ep := range c.OEmbeds {
		endpoints = append(endpoints, NewOEmbed(ep, c.Timeout))
	}
	if c.NitterURL != "" {
		endpoints = append(endpoints, NewNitterFeed(c.NitterURL, c.Timeout))
	}
	return endpoints
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// get issues a GET and returns the response when the status is 2xx.
// The caller closes the body.
func get(ctx context.Context, client *http.Client, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, unavailable("create request %s: %v", endpoint, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, unavailable("fetch %s: %v", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, unavailable("%s status %d", endpoint, resp.StatusCode)
	}
	return resp, nil
}

// getJSON fetches endpoint and decodes a JSON body into dst. Responses that
// do not declare a JSON content type are rejected.
func getJSON(ctx context.Context, client *http.Client, endpoint string, dst any) error {
	resp, err := get(ctx, client, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return unavailable("%s content type %q", endpoint, ct)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		return unavailable("decode %s: %v", endpoint, err)
	}
	return nil
}
