package queue

import (
	"fmt"

	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// CanonicalSource normalizes a submitted source into its canonical URL
// form so that equivalent submissions fingerprint identically. Bare
// Spotify ids inherit the submission kind.
func CanonicalSource(kind task.Kind, raw string) (string, error) {
	if k, id, err := spotify.ParseURL(raw); err == nil {
		if k == "" {
			k = string(kind)
		}
		if k != string(kind) {
			return "", fmt.Errorf("source url is a spotify %s link, not a %s", k, kind)
		}
		return spotify.CanonicalURL(k, id), nil
	}
	if k, id, err := deezer.ParseURL(raw); err == nil {
		if k != string(kind) {
			return "", fmt.Errorf("source url is a deezer %s link, not a %s", k, kind)
		}
		return deezer.CanonicalURL(k, id), nil
	}
	return "", fmt.Errorf("unrecognized source url: %q", raw)
}
