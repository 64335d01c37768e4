package deezer

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[0-9]+$`)

var validKinds = map[string]bool{
	"track":    true,
	"album":    true,
	"playlist": true,
	"artist":   true,
}

// ParseURL extracts (kind, id) from a deezer.com URL. Language path
// segments like /en/ are skipped.
func ParseURL(raw string) (kind, id string, err error) {
	raw = strings.TrimSpace(raw)
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", fmt.Errorf("invalid deezer URL: %w", parseErr)
	}
	if !strings.HasSuffix(u.Host, "deezer.com") {
		return "", "", fmt.Errorf("not a deezer URL: %q", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 3 && !validKinds[segments[0]] {
		segments = segments[1:]
	}
	if len(segments) >= 2 && validKinds[segments[0]] && idPattern.MatchString(segments[1]) {
		return segments[0], segments[1], nil
	}
	return "", "", fmt.Errorf("unrecognized deezer URL: %q", raw)
}

// CanonicalURL renders the www.deezer.com form of a reference. Used as
// the stable key for deduplication.
func CanonicalURL(kind, id string) string {
	return fmt.Sprintf("https://www.deezer.com/%s/%s", kind, id)
}

// IsDeezerURL reports whether raw points at the Deezer catalogue.
func IsDeezerURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Host, "deezer.com")
}
