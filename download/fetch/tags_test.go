package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/charmbracelet/log"
)

func TestNewTagger(t *testing.T) {
	tagger := NewTagger(nil)
	if tagger == nil {
		t.Fatal("NewTagger() returned nil")
	}
}

func TestTaggerEmbedUnsupportedContainer(t *testing.T) {
	tagger := NewTagger(log.New(io.Discard))

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.wav")
	if err := os.WriteFile(testFile, []byte("riff"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	err := tagger.Embed(context.Background(), testFile, TrackTags{Title: "Test"})
	if err != nil {
		t.Errorf("Expected no error for unsupported container, got: %v", err)
	}
}

func TestTaggerEmbedCancelledContext(t *testing.T) {
	tagger := NewTagger(log.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tagger.Embed(ctx, "ignored.mp3", TrackTags{Title: "Test"})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Errorf("Expected *fetch.Error, got %T", err)
	}
}

func TestTaggerEmbedWritesID3(t *testing.T) {
	tagger := NewTagger(log.New(io.Discard))

	audio := []byte("fake audio data")
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.mp3")
	if err := os.WriteFile(testFile, audio, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tags := TrackTags{
		Title:       "Harvest Moon",
		Artists:     []string{"Neil Young", "Stray Gators"},
		AlbumArtist: "Neil Young",
		AlbumTitle:  "Harvest Moon",
		TrackNumber: 3,
		DiscNumber:  1,
		TotalTracks: 10,
		ReleaseDate: "1992-10-27",
		Genres:      []string{"Folk Rock"},
		ISRC:        "USRE19200003",
		SourceURL:   "https://open.spotify.com/track/abc123",
	}
	if err := tagger.Embed(context.Background(), testFile, tags); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	tag, err := id3v2.Open(testFile, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("Failed to reopen tagged file: %v", err)
	}
	defer tag.Close()

	if tag.Title() != "Harvest Moon" {
		t.Errorf("Expected title 'Harvest Moon', got '%s'", tag.Title())
	}
	if tag.Artist() != "Neil Young, Stray Gators" {
		t.Errorf("Expected joined artists, got '%s'", tag.Artist())
	}
	if tag.Album() != "Harvest Moon" {
		t.Errorf("Expected album 'Harvest Moon', got '%s'", tag.Album())
	}
	if tag.Genre() != "Folk Rock" {
		t.Errorf("Expected genre 'Folk Rock', got '%s'", tag.Genre())
	}
	if track := tag.GetTextFrame(tag.CommonID("TRCK")).Text; track != "3/10" {
		t.Errorf("Expected track frame '3/10', got '%s'", track)
	}
	if disc := tag.GetTextFrame(tag.CommonID("TPOS")).Text; disc != "1" {
		t.Errorf("Expected disc frame '1', got '%s'", disc)
	}
	if isrc := tag.GetTextFrame(tag.CommonID("TSRC")).Text; isrc != "USRE19200003" {
		t.Errorf("Expected ISRC frame, got '%s'", isrc)
	}

	// The audio payload must survive the tag rewrite.
	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read tagged file: %v", err)
	}
	if !bytes.HasSuffix(data, audio) {
		t.Error("Expected audio data to be preserved after tagging")
	}
}

func TestTaggerEmbedCoverArt(t *testing.T) {
	// Minimal PNG header so MIME sniffing picks image/png.
	cover := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(cover)
	}))
	defer server.Close()

	tagger := NewTagger(log.New(io.Discard))

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.mp3")
	if err := os.WriteFile(testFile, []byte("audio"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tags := TrackTags{
		Title:    "Covered",
		Artists:  []string{"Artist"},
		CoverURL: server.URL + "/cover.png",
	}
	if err := tagger.Embed(context.Background(), testFile, tags); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	tag, err := id3v2.Open(testFile, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("Failed to reopen tagged file: %v", err)
	}
	defer tag.Close()

	frames := tag.GetFrames(tag.CommonID("APIC"))
	if len(frames) != 1 {
		t.Fatalf("Expected 1 picture frame, got %d", len(frames))
	}
	pic, ok := frames[0].(id3v2.PictureFrame)
	if !ok {
		t.Fatalf("Expected PictureFrame, got %T", frames[0])
	}
	if pic.MimeType != "image/png" {
		t.Errorf("Expected image/png, got '%s'", pic.MimeType)
	}
	if !bytes.Equal(pic.Picture, cover) {
		t.Error("Expected picture bytes to round-trip")
	}
}

func TestTaggerEmbedCoverFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	tagger := NewTagger(log.New(io.Discard))

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.mp3")
	if err := os.WriteFile(testFile, []byte("audio"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tags := TrackTags{
		Title:    "Coverless",
		Artists:  []string{"Artist"},
		CoverURL: server.URL + "/missing.jpg",
	}
	if err := tagger.Embed(context.Background(), testFile, tags); err != nil {
		t.Errorf("Expected cover failure to be non-fatal, got: %v", err)
	}

	tag, err := id3v2.Open(testFile, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatalf("Failed to reopen tagged file: %v", err)
	}
	defer tag.Close()

	if tag.Title() != "Coverless" {
		t.Errorf("Expected title to be written despite cover failure, got '%s'", tag.Title())
	}
}
