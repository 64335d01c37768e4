package spotify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Accepted reference forms: open.spotify.com pages (with an optional
// /intl-xx/ path segment and query noise), spotify:{kind}:{id} URIs, and
// bare 22-character base62 ids.

var idPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

var validKinds = map[string]bool{
	"track":    true,
	"album":    true,
	"playlist": true,
	"artist":   true,
	"episode":  true,
	"show":     true,
}

// GetID extracts the Spotify id of the given kind from an id, URI or URL.
func GetID(raw, kind string) (string, error) {
	gotKind, id, err := ParseURL(raw)
	if err != nil {
		return "", err
	}
	if gotKind != "" && gotKind != kind {
		return "", fmt.Errorf("expected a spotify %s reference, got %s: %q", kind, gotKind, raw)
	}
	return id, nil
}

// ParseURL extracts (kind, id) from a Spotify reference. For a bare id the
// kind is empty because the reference does not carry one.
func ParseURL(raw string) (kind, id string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty spotify reference")
	}

	if idPattern.MatchString(raw) {
		return "", raw, nil
	}

	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && validKinds[parts[1]] && idPattern.MatchString(parts[2]) {
			return parts[1], parts[2], nil
		}
		return "", "", fmt.Errorf("invalid spotify URI: %q", raw)
	}

	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", fmt.Errorf("invalid spotify URL: %w", parseErr)
	}
	if !strings.HasSuffix(u.Host, "open.spotify.com") {
		return "", "", fmt.Errorf("not a spotify URL: %q", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) >= 2 && validKinds[segments[0]] && idPattern.MatchString(segments[1]) {
		return segments[0], segments[1], nil
	}
	return "", "", fmt.Errorf("unrecognized spotify URL: %q", raw)
}

// CanonicalURL renders the open.spotify.com form of a reference. Used as
// the stable key for deduplication.
func CanonicalURL(kind, id string) string {
	return fmt.Sprintf("https://open.spotify.com/%s/%s", kind, id)
}

// IsSpotifyURL reports whether raw points at the Spotify catalogue.
func IsSpotifyURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Host, "open.spotify.com")
}
