package post

import "time"

// TrackedPost is the ledger's display entry for a recorded URL. Author and
// Content start as placeholders and are filled in once metadata arrives.
type TrackedPost struct {
	URL       string `json:"url"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewTrackedPost builds the placeholder entry for url recorded at t.
func NewTrackedPost(url string, t time.Time) TrackedPost {
	author := ""
	if user := UsernameFromURL(url); user != "" {
		author = "@" + user
	}
	return TrackedPost{
		URL:       url,
		Author:    author,
		Timestamp: t.UnixMilli(),
	}
}
