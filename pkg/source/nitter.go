package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/xhistory/pkg/post"
	"github.com/mmcdole/gofeed"
)

// NitterFeed looks posts up in the author's Nitter RSS timeline. Only posts
// still present in the feed can be found.
type NitterFeed struct {
	client    *http.Client
	parser    *gofeed.Parser
	nitterURL string
}

// NewNitterFeed creates an endpoint backed by a Nitter instance.
func NewNitterFeed(nitterURL string, timeout time.Duration) *NitterFeed {
	return &NitterFeed{
		client:    newClient(timeout),
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
	}
}

func (n *NitterFeed) Name() string { return ProviderNitter + " " + n.nitterURL }

func (n *NitterFeed) Lookup(ctx context.Context, url, id string) (*post.Post, error) {
	user := post.UsernameFromURL(url)
	if user == "" || id == "" {
		return nil, unavailable("nitter: cannot derive feed for %s", url)
	}

	feedURL := n.nitterURL + "/" + user + "/rss"
	resp, err := get(ctx, n.client, feedURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return nil, unavailable("parse %s: %v", feedURL, err)
	}

	for _, entry := range feed.Items {
		if post.ExtractID(entry.Link) != id {
			continue
		}

		p := &post.Post{
			URL:               url,
			Text:              post.ExtractText(entry.Description),
			AuthorHandle:      user,
			AuthorDisplayName: displayName(feed.Title),
			RawEmbedHTML:      entry.Description,
			Provider:          ProviderNitter,
		}
		if p.Text == "" {
			p.Text = strings.TrimSpace(entry.Title)
		}
		if entry.PublishedParsed != nil {
			p.CreatedAt = entry.PublishedParsed.UTC().Format(time.RFC3339)
		}
		if feed.Image != nil {
			p.AuthorAvatarURL = feed.Image.URL
		}
		return p, nil
	}
	return nil, unavailable("%s: post %s not in feed", feedURL, id)
}

// displayName extracts "Name" from a Nitter feed title "Name / @user".
func displayName(title string) string {
	name, _, ok := strings.Cut(title, " / ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(name)
}
