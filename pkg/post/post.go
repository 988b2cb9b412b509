package post

import (
	"strings"
)

// Provider names recorded on posts. ProviderNone marks imported and
// synthetic records.
const (
	ProviderNone      = ""
	ProviderStatusAPI = "status-api"
	ProviderOEmbed    = "oembed"
	ProviderNitter    = "nitter"
)

// Post is the cached metadata for a single social-media post, keyed by its
// canonical URL.
type Post struct {
	URL               string      `json:"url" db:"url"`
	Text              string      `json:"text" db:"text"`
	AuthorHandle      string      `json:"authorHandle" db:"author_handle"`
	AuthorDisplayName string      `json:"authorDisplayName" db:"author_display_name"`
	AuthorAvatarURL   string      `json:"authorAvatarUrl,omitempty" db:"author_avatar_url"`
	AuthorURL         string      `json:"authorUrl,omitempty" db:"author_url"`
	Media             *Media      `json:"media,omitempty" db:"-"`
	Engagement        *Engagement `json:"engagement,omitempty" db:"-"`
	CreatedAt         string      `json:"createdAt,omitempty" db:"created_at"`
	SavedAt           int64       `json:"savedAt" db:"saved_at"`
	RawEmbedHTML      string      `json:"rawEmbedHtml,omitempty" db:"raw_embed_html"`
	Provider          string      `json:"provider,omitempty" db:"provider"`
	MediaJSON         string      `json:"-" db:"media"`
	EngagementJSON    string      `json:"-" db:"engagement"`
}

// Media lists the attachments of a post.
type Media struct {
	Photos []MediaItem `json:"photos,omitempty"`
	Videos []MediaItem `json:"videos,omitempty"`
}

// MediaItem is a single photo or video reference.
type MediaItem struct {
	URL string `json:"url"`
}

// Engagement holds the public counters of a post at fetch time.
type Engagement struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
}

// HasMetadata reports whether the record came from a structured endpoint.
// Imported, synthetic and oEmbed-only records return false and stay
// eligible for a refetch.
func (p *Post) HasMetadata() bool {
	if p == nil {
		return false
	}
	switch p.Provider {
	case ProviderStatusAPI, ProviderNitter:
		return true
	}
	return false
}

// HasMedia reports whether the post carries at least one photo or video.
func (p *Post) HasMedia() bool {
	return p.Media != nil && (len(p.Media.Photos) > 0 || len(p.Media.Videos) > 0)
}

// SearchText is the lower-cased haystack used for query matching.
func (p *Post) SearchText() string {
	return strings.ToLower(strings.Join([]string{
		p.Text, p.AuthorHandle, p.AuthorDisplayName, p.URL,
	}, " "))
}

// Matches reports whether every token is a substring of the search text.
// Tokens must already be lower-cased; see Tokenize.
func (p *Post) Matches(tokens []string) bool {
	haystack := p.SearchText()
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

// Tokenize splits a query on whitespace and lower-cases each term.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Synthetic builds the minimal record handed out when no endpoint could
// describe the post.
func Synthetic(url string) *Post {
	return &Post{
		URL:          url,
		AuthorHandle: UsernameFromURL(url),
	}
}

// FillBlank copies fields from src into p where p has no value yet.
// It never clears or replaces populated fields.
func (p *Post) FillBlank(src *Post) bool {
	changed := false
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	fill(&p.Text, src.Text)
	fill(&p.AuthorHandle, src.AuthorHandle)
	fill(&p.AuthorDisplayName, src.AuthorDisplayName)
	fill(&p.AuthorAvatarURL, src.AuthorAvatarURL)
	fill(&p.AuthorURL, src.AuthorURL)
	fill(&p.CreatedAt, src.CreatedAt)
	fill(&p.RawEmbedHTML, src.RawEmbedHTML)
	if p.Media == nil && src.Media != nil {
		p.Media = src.Media
		changed = true
	}
	if p.Engagement == nil && src.Engagement != nil {
		p.Engagement = src.Engagement
		changed = true
	}
	return changed
}
