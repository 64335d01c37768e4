// Package fetch defines the audio-fetch contract consumed by the worker
// runtime: a Fetcher resolves a submission into tracks, streams audio to
// disk, and reports everything through a progress callback. The worker
// treats the callback as the only canonical channel; a Fetcher's return
// value signals whole-job failure.
package fetch

import (
	"context"
	"fmt"

	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// Event statuses emitted through the progress callback.
const (
	EventInitializing  = "initializing"
	EventDownloading   = "downloading"
	EventProgress      = "progress"
	EventRealTime      = "real_time"
	EventTrackProgress = "track_progress"
	EventTrackComplete = "track_complete"
	EventSkipped       = "skipped"
	EventRetrying      = "retrying"
	EventError         = "error"
	EventDone          = "done"
)

// Event is one raw progress report. Type scopes the event to "track" or
// to the parent kind; only the fields relevant to Status are populated.
type Event struct {
	Status string
	Type   string

	Name        string
	Artist      string
	TotalTracks int

	TrackName    string
	CurrentTrack string // "m/n" on progress events

	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64

	Reason      string
	Error       string
	RetryCount  int
	SecondsLeft int

	Track   *TrackResult
	Summary *task.Summary
}

// TrackResult describes one finished track, carried on its done event.
type TrackResult struct {
	Title          string
	Artists        []string
	AlbumTitle     string
	DurationMS     int
	TrackNumber    int
	DiscNumber     int
	Explicit       bool
	ISRC           string
	Genres         []string
	SpotifyID      string
	DeezerID       string
	FinalPath      string
	Service        string
	QualityFormat  string
	QualityBitrate string
	Position       int
}

// Callback receives every progress event for a job, in order.
type Callback func(Event)

// Request describes one download job handed to a Fetcher.
type Request struct {
	TaskID    string
	Kind      task.Kind
	SourceURL string

	Service   string
	Fallback  bool
	Quality   string
	Bitrate   string
	ConvertTo string
	RealTime  bool

	DirFormat       string
	TrackFormat     string
	TracknumPadding bool
	PadNumberWidth  int

	// Playlist context for single tracks submitted by the watch engine.
	PlaylistName     string
	PlaylistPosition int
}

// Fetcher downloads the content a Request names. Implementations emit
// progress events on cb and return an error only when the job as a whole
// failed; per-track failures are reported through the final summary.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, cb Callback) error
}

// Error wraps a failure inside a fetch invocation.
type Error struct {
	Message  string
	Original error
}

func (e *Error) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Original)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Original
}
