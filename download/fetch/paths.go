package fetch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// PathOptions controls where a finished track lands and how its directory
// and file names are built from the format templates.
type PathOptions struct {
	BaseDir         string
	DirFormat       string
	TrackFormat     string
	TracknumPadding bool
	PadNumberWidth  int
	Extension       string
}

// TrackTags carries the metadata used for path templating and tag
// embedding. Fields left zero are expanded to empty placeholders.
type TrackTags struct {
	Title       string
	Artists     []string
	AlbumArtist string
	AlbumTitle  string
	TrackNumber int
	DiscNumber  int
	TotalTracks int
	ReleaseDate string
	Genres      []string
	ISRC        string
	CoverURL    string
	SourceURL   string
	DurationMS  int
	Explicit    bool

	PlaylistName     string
	PlaylistPosition int
}

// TrackPath expands the directory and track templates for tags and joins
// them under BaseDir. Every expanded path component is sanitized so
// metadata cannot escape the base directory or produce invalid names.
func TrackPath(opts PathOptions, tags TrackTags) string {
	dir := expandTemplate(opts.DirFormat, tags, opts.TracknumPadding, opts.PadNumberWidth)
	file := expandTemplate(opts.TrackFormat, tags, opts.TracknumPadding, opts.PadNumberWidth)

	parts := []string{opts.BaseDir}
	for _, component := range strings.Split(dir, "/") {
		if component == "" {
			continue
		}
		parts = append(parts, SanitizeComponent(component))
	}

	ext := strings.TrimPrefix(opts.Extension, ".")
	if ext == "" {
		ext = "mp3"
	}
	parts = append(parts, SanitizeComponent(file)+"."+ext)
	return filepath.Clean(filepath.Join(parts...))
}

// expandTemplate substitutes the %placeholder% vocabulary into format.
func expandTemplate(format string, tags TrackTags, padded bool, width int) string {
	artist := ""
	if len(tags.Artists) > 0 {
		artist = tags.Artists[0]
	}
	albumArtist := tags.AlbumArtist
	if albumArtist == "" {
		albumArtist = artist
	}

	out := format
	out = strings.ReplaceAll(out, "%music%", tags.Title)
	out = strings.ReplaceAll(out, "%artist%", artist)
	out = strings.ReplaceAll(out, "%ar_album%", albumArtist)
	out = strings.ReplaceAll(out, "%album%", tags.AlbumTitle)
	out = strings.ReplaceAll(out, "%tracknum%", formatTrackNumber(tags.TrackNumber, padded, width))
	out = strings.ReplaceAll(out, "%discnum%", strconv.Itoa(tags.DiscNumber))
	out = strings.ReplaceAll(out, "%year%", releaseYear(tags.ReleaseDate))
	out = strings.ReplaceAll(out, "%playlist%", tags.PlaylistName)
	out = strings.ReplaceAll(out, "%playlistnum%", formatTrackNumber(tags.PlaylistPosition, padded, width))
	return out
}

// SanitizeComponent rewrites name so it is safe as a single path element.
func SanitizeComponent(name string) string {
	const maxLen = 255

	invalidChars := []rune{'/', '\\', ':', '*', '?', '"', '<', '>', '|'}
	out := name
	for _, c := range invalidChars {
		out = strings.ReplaceAll(out, string(c), "_")
	}
	out = strings.ReplaceAll(out, "..", "_")
	out = strings.Trim(out, ". ")
	if out == "" {
		out = "_"
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

func formatTrackNumber(n int, padded bool, width int) string {
	if !padded {
		return strconv.Itoa(n)
	}
	if width <= 0 {
		width = 2
	}
	return fmt.Sprintf("%0*d", width, n)
}

// releaseYear extracts the year from a release date such as "2016-04-29"
// or a bare "2016".
func releaseYear(date string) string {
	if date == "" {
		return ""
	}
	return strings.Split(date, "-")[0]
}
