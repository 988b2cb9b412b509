package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elonfeng/xhistory/pkg/post"
)

// DefaultOEmbedEndpoints are the embed services used when the structured
// APIs are down.
var DefaultOEmbedEndpoints = []string{
	"https://publish.x.com/oembed",
	"https://publish.twitter.com/oembed",
}

// OEmbed looks posts up through an oEmbed endpoint. It yields the embed
// markup and author only.
type OEmbed struct {
	client   *http.Client
	endpoint string
}

// NewOEmbed creates an oEmbed endpoint.
func NewOEmbed(endpoint string, timeout time.Duration) *OEmbed {
	return &OEmbed{
		client:   newClient(timeout),
		endpoint: endpoint,
	}
}

func (o *OEmbed) Name() string { return ProviderOEmbed + " " + o.endpoint }

type oembedResponse struct {
	HTML       string `json:"html"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
}

func (o *OEmbed) Lookup(ctx context.Context, postURL, _ string) (*post.Post, error) {
	q := url.Values{}
	q.Set("url", postURL)
	q.Set("omit_script", "1")

	sep := "?"
	if strings.Contains(o.endpoint, "?") {
		sep = "&"
	}

	var resp oembedResponse
	if err := getJSON(ctx, o.client, o.endpoint+sep+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.HTML) == "" {
		return nil, unavailable("%s: empty embed html", o.endpoint)
	}

	return &post.Post{
		URL:               postURL,
		Text:              post.ExtractText(resp.HTML),
		AuthorHandle:      post.UsernameFromURL(resp.AuthorURL),
		AuthorDisplayName: resp.AuthorName,
		AuthorURL:         resp.AuthorURL,
		RawEmbedHTML:      resp.HTML,
		Provider:          ProviderOEmbed,
	}, nil
}
