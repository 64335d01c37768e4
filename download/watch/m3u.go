package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spotizerr-dev/spotizerr-sub000/download/fetch"
)

// WritePlaylistM3U regenerates the playlist's .m3u file from present
// child rows that have a recorded final path. Rows still waiting for a
// download are left out, so the file always plays end to end.
func (e *Engine) WritePlaylistM3U(playlistID, name string) error {
	rows, err := e.store.PlaylistTracks(playlistID)
	if err != nil {
		return err
	}
	if name == "" {
		name = playlistID
	}
	dir := filepath.Join(e.musicDir, "playlists")
	path := filepath.Join(dir, fetch.SanitizeComponent(name)+".m3u")

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, tr := range rows {
		if !tr.IsPresentInSpotify || tr.FinalPath == "" {
			continue
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s - %s\n", tr.DurationMS/1000, strings.Join(tr.Artists, ", "), tr.Title)
		b.WriteString(relativeTo(dir, tr.FinalPath) + "\n")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating playlists directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// relativeTo rewrites target relative to dir, keeping the stored absolute
// path when no relative form exists.
func relativeTo(dir, target string) string {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return target
	}
	return rel
}
