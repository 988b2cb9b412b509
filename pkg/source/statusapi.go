package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/xhistory/pkg/post"
)

// DefaultStatusAPIBases are the structured-metadata services tried first.
var DefaultStatusAPIBases = []string{
	"https://api.fxtwitter.com",
	"https://api.fixupx.com",
}

// StatusAPI looks posts up through a `GET <base>/status/<id>` JSON service.
type StatusAPI struct {
	client *http.Client
	base   string
}

// NewStatusAPI creates an endpoint for base.
func NewStatusAPI(base string, timeout time.Duration) *StatusAPI {
	return &StatusAPI{
		client: newClient(timeout),
		base:   strings.TrimRight(base, "/"),
	}
}

func (s *StatusAPI) Name() string { return ProviderStatusAPI + " " + s.base }

type statusResponse struct {
	Tweet *statusPayload `json:"tweet"`
}

type statusPayload struct {
	URL       string `json:"url"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	Author    struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
		AvatarURL  string `json:"avatar_url"`
		URL        string `json:"url"`
	} `json:"author"`
	Media *struct {
		Photos []struct {
			URL string `json:"url"`
		} `json:"photos"`
		Videos []struct {
			URL string `json:"url"`
		} `json:"videos"`
	} `json:"media"`
	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
}

func (s *StatusAPI) Lookup(ctx context.Context, url, id string) (*post.Post, error) {
	if id == "" {
		return nil, unavailable("%s: missing post id", s.base)
	}

	var resp statusResponse
	if err := getJSON(ctx, s.client, s.base+"/status/"+id, &resp); err != nil {
		return nil, err
	}
	if resp.Tweet == nil {
		return nil, unavailable("%s: no post in response", s.base)
	}
	return resp.Tweet.toPost(url), nil
}

func (p *statusPayload) toPost(url string) *post.Post {
	out := &post.Post{
		URL:               url,
		Text:              p.Text,
		AuthorHandle:      p.Author.ScreenName,
		AuthorDisplayName: p.Author.Name,
		AuthorAvatarURL:   p.Author.AvatarURL,
		AuthorURL:         p.Author.URL,
		CreatedAt:         p.CreatedAt,
		Provider:          ProviderStatusAPI,
		Engagement: &post.Engagement{
			Likes:   p.Likes,
			Reposts: p.Retweets,
			Replies: p.Replies,
		},
	}
	if p.Media != nil {
		m := &post.Media{}
		for _, ph := range p.Media.Photos {
			m.Photos = append(m.Photos, post.MediaItem{URL: ph.URL})
		}
		for _, v := range p.Media.Videos {
			m.Videos = append(m.Videos, post.MediaItem{URL: v.URL})
		}
		if len(m.Photos) > 0 || len(m.Videos) > 0 {
			out.Media = m
		}
	}
	return out
}
