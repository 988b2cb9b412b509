package post

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// StatusMarker is the path segment that separates the author from the post id.
const StatusMarker = "status"

// DefaultHosts are the hosts whose post URLs are tracked.
var DefaultHosts = []string{"x.com"}

// ErrInvalidURL is returned for URLs that cannot be canonicalized or do not
// have the /<user>/status/<id> shape.
var ErrInvalidURL = errors.New("invalid post url")

var statusIDPattern = regexp.MustCompile(`status/(\d+)`)

// Canonicalize reduces a raw URL to origin + path. Query string and fragment
// are dropped, as are a trailing slash and the scheme's default port.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		host = strings.TrimSuffix(host, ":"+port)
	}

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return scheme + "://" + host + path, nil
}

// ValidateShape checks that a canonical URL points at a single post on one
// of the given hosts: exactly three non-empty path segments with the marker
// in the middle.
func ValidateShape(canonical string, hosts []string) error {
	u, err := url.Parse(canonical)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if len(hosts) > 0 && !hostAllowed(u.Hostname(), hosts) {
		return fmt.Errorf("%w: host %q not tracked", ErrInvalidURL, u.Hostname())
	}
	segments := pathSegments(u.Path)
	if len(segments) != 3 {
		return fmt.Errorf("%w: want 3 path segments, got %d", ErrInvalidURL, len(segments))
	}
	if segments[1] != StatusMarker {
		return fmt.Errorf("%w: segment %q is not %q", ErrInvalidURL, segments[1], StatusMarker)
	}
	return nil
}

// Normalize canonicalizes and validates in one step.
func Normalize(raw string, hosts []string) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	if err := ValidateShape(canonical, hosts); err != nil {
		return "", err
	}
	return canonical, nil
}

// ExtractID returns the numeric post id, or "" when the URL has none.
func ExtractID(rawURL string) string {
	m := statusIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// UsernameFromURL returns the first path segment of the URL.
func UsernameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := pathSegments(u.Path)
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func hostAllowed(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}
