// Package task defines the shared task model: submission kinds, merged
// download parameters, the per-task info record, and the append-only status
// entries that drive the task state machine.
package task

import (
	"fmt"
	"time"
)

// Kind identifies what a submission refers to.
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
	KindArtist   Kind = "artist"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTrack, KindAlbum, KindPlaylist, KindArtist:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown task kind: %q", s)
}

// IsParent reports whether tasks of this kind produce per-track child rows.
func (k Kind) IsParent() bool {
	return k == KindAlbum || k == KindPlaylist
}

// Status is one step of the task state machine. Values match the wire form
// emitted by the fetch callback and stored in the status log.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusInitializing  Status = "initializing"
	StatusDownloading   Status = "downloading"
	StatusProgress      Status = "progress"
	StatusRealTime      Status = "real_time"
	StatusTrackProgress Status = "track_progress"
	StatusTrackComplete Status = "track_complete"
	StatusSkipped       Status = "skipped"
	StatusRetrying      Status = "retrying"
	StatusDone          Status = "done"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
	StatusCancelled     Status = "cancelled"
)

// IsTerminal reports whether no further status may be appended after s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Display is the human-facing identity of a task.
type Display struct {
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
}

// Parameters are the merged per-task download options. Caller-supplied
// overrides win over config defaults at submit time.
type Parameters struct {
	Service           string `json:"service"`
	Fallback          bool   `json:"fallback"`
	SpotifyQuality    string `json:"spotifyQuality,omitempty"`
	DeezerQuality     string `json:"deezerQuality,omitempty"`
	RealTime          bool   `json:"realTime"`
	ConvertTo         string `json:"convertTo,omitempty"`
	Bitrate           string `json:"bitrate,omitempty"`
	CustomDirFormat   string `json:"customDirFormat,omitempty"`
	CustomTrackFormat string `json:"customTrackFormat,omitempty"`
	TracknumPadding   bool   `json:"tracknumPadding"`
	PadNumberWidth    int    `json:"padNumberWidth,omitempty"`
}

// Info is the task-info record stored under task:{id}:info. SQM writes it at
// submit/retry; the worker updates only the progress counters.
type Info struct {
	TaskID      string            `json:"task_id"`
	Kind        Kind              `json:"download_type"`
	SourceURL   string            `json:"url"`
	Display     Display           `json:"display"`
	Parameters  Parameters        `json:"parameters"`
	OrigRequest map[string]string `json:"orig_request,omitempty"`
	FromWatch   bool              `json:"from_watch,omitempty"`
	RetryOf     string            `json:"retry_of,omitempty"`
	RetryCount  int               `json:"retry_count"`
	CreatedAt   time.Time         `json:"created_at"`
	Submitter   string            `json:"submitter,omitempty"`

	// Progress counters maintained by the worker runtime.
	TotalTracks     int    `json:"total_tracks,omitempty"`
	CurrentTrackNum int    `json:"current_track_num,omitempty"`
	CompletedTracks int    `json:"completed_tracks,omitempty"`
	SkippedTracks   int    `json:"skipped_tracks,omitempty"`
	ErrorCount      int    `json:"error_count,omitempty"`
	ChildrenTable   string `json:"children_table,omitempty"`
}

// Summary is the final rollup attached to a parent COMPLETE entry.
type Summary struct {
	TotalSuccessful int      `json:"total_successful"`
	TotalSkipped    int      `json:"total_skipped"`
	TotalFailed     int      `json:"total_failed"`
	FailedTracks    []string `json:"failed_tracks,omitempty"`
}

// StatusEntry is one append-only entry in task:{id}:status. StatusID is dense
// and strictly increasing within a task, starting at 1.
type StatusEntry struct {
	StatusID  int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`

	// Optional payload, populated per status kind.
	Name               string   `json:"name,omitempty"`
	Artist             string   `json:"artist,omitempty"`
	QueuePosition      int      `json:"queue_position,omitempty"`
	TotalTracks        int      `json:"total_tracks,omitempty"`
	CurrentTrack       string   `json:"current_track,omitempty"`
	ParsedCurrentTrack int      `json:"parsed_current_track,omitempty"`
	ParsedTotalTracks  int      `json:"parsed_total_tracks,omitempty"`
	OverallProgress    int      `json:"overall_progress,omitempty"`
	TrackName          string   `json:"track_name,omitempty"`
	Percent            int      `json:"percent,omitempty"`
	DownloadRate       string   `json:"download_rate,omitempty"`
	TrackSkipped       bool     `json:"track_skipped,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	Message            string   `json:"message,omitempty"`
	Error              string   `json:"error,omitempty"`
	CanRetry           *bool    `json:"can_retry,omitempty"`
	RetryCount         int      `json:"retry_count,omitempty"`
	MaxRetries         int      `json:"max_retries,omitempty"`
	SecondsLeft        int      `json:"seconds_left,omitempty"`
	Summary            *Summary `json:"summary,omitempty"`
}

// Update is the notification published on task_updates:{id} after each
// append, carrying just enough for a consumer to fetch the entry.
type Update struct {
	TaskID   string `json:"task_id"`
	StatusID int    `json:"id"`
	Status   Status `json:"status"`
}
