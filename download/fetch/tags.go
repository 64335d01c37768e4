package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
)

// Tagger embeds track metadata into downloaded audio files.
type Tagger struct {
	logger *log.Logger
	client *http.Client
}

// NewTagger creates a metadata tagger. A nil logger discards output.
func NewTagger(logger *log.Logger) *Tagger {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Tagger{
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Embed writes tags into the file at path. Containers other than MP3 are
// passed through untouched; cover art failures are logged, not fatal.
func (t *Tagger) Embed(ctx context.Context, path string, tags TrackTags) error {
	if err := ctx.Err(); err != nil {
		return &Error{Message: "tagging cancelled", Original: err}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext != "mp3" {
		t.logger.Warn("skipping tag embed for unsupported container", "path", path, "format", ext)
		return nil
	}
	return t.embedID3(ctx, path, tags)
}

func (t *Tagger) embedID3(ctx context.Context, path string, tags TrackTags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		// Files without an existing tag get a fresh one.
		tag, err = id3v2.Open(path, id3v2.Options{Parse: false})
		if err != nil {
			return &Error{Message: fmt.Sprintf("opening %s for tagging", path), Original: err}
		}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	tag.SetTitle(tags.Title)
	tag.SetArtist(strings.Join(tags.Artists, ", "))
	if tags.AlbumTitle != "" {
		tag.SetAlbum(tags.AlbumTitle)
	}
	if tags.AlbumArtist != "" {
		tag.AddTextFrame(tag.CommonID("TPE2"), id3v2.EncodingUTF8, tags.AlbumArtist)
	}

	if tags.TrackNumber > 0 {
		trackStr := fmt.Sprintf("%d", tags.TrackNumber)
		if tags.TotalTracks > 0 {
			trackStr = fmt.Sprintf("%d/%d", tags.TrackNumber, tags.TotalTracks)
		}
		tag.AddTextFrame(tag.CommonID("TRCK"), id3v2.EncodingUTF8, trackStr)
	}
	if tags.DiscNumber > 0 {
		tag.AddTextFrame(tag.CommonID("TPOS"), id3v2.EncodingUTF8, fmt.Sprintf("%d", tags.DiscNumber))
	}

	if tags.ReleaseDate != "" {
		tag.AddTextFrame(tag.CommonID("TDRC"), id3v2.EncodingUTF8, tags.ReleaseDate)
	}
	if tags.ISRC != "" {
		tag.AddTextFrame(tag.CommonID("TSRC"), id3v2.EncodingUTF8, tags.ISRC)
	}
	if tags.SourceURL != "" {
		tag.AddTextFrame(tag.CommonID("WOAS"), id3v2.EncodingUTF8, tags.SourceURL)
	}
	if len(tags.Genres) > 0 {
		tag.SetGenre(strings.Join(tags.Genres, ", "))
	}

	if tags.CoverURL != "" {
		if err := t.embedCover(ctx, tag, tags.CoverURL); err != nil {
			t.logger.Warn("cover art embed failed", "path", path, "cover_url", tags.CoverURL, "error", err)
		}
	}

	if err := tag.Save(); err != nil {
		return &Error{Message: fmt.Sprintf("saving tags for %s", path), Original: err}
	}
	return nil
}

func (t *Tagger) embedCover(ctx context.Context, tag *id3v2.Tag, coverURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return fmt.Errorf("creating cover request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading cover art: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading cover art: status %d", resp.StatusCode)
	}
	coverData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading cover art: %w", err)
	}

	mimeType := "image/jpeg"
	if len(coverData) > 4 {
		// PNG signature
		if coverData[0] == 0x89 && coverData[1] == 0x50 && coverData[2] == 0x4E && coverData[3] == 0x47 {
			mimeType = "image/png"
		}
	}

	tag.DeleteFrames(tag.CommonID("APIC"))
	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    mimeType,
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     coverData,
	})
	return nil
}
