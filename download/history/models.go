package history

import "time"

// Status values recorded for parent entries and child track rows.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusSkipped    = "skipped"
)

// Entry is one row of the download_history table. Track downloads are
// recorded directly; album and playlist downloads are recorded as parent
// entries whose constituent tracks live in a dedicated child table named
// by ChildrenTable.
type Entry struct {
	ID               int64             `json:"id"`
	DownloadType     string            `json:"download_type"`
	Title            string            `json:"title"`
	Artists          []string          `json:"artists"`
	Timestamp        time.Time         `json:"timestamp"`
	Status           string            `json:"status"`
	Service          string            `json:"service"`
	QualityFormat    string            `json:"quality_format"`
	QualityBitrate   string            `json:"quality_bitrate"`
	TotalTracks      int               `json:"total_tracks"`
	SuccessfulTracks int               `json:"successful_tracks"`
	FailedTracks     int               `json:"failed_tracks"`
	SkippedTracks    int               `json:"skipped_tracks"`
	TotalDurationMS  int64             `json:"total_duration_ms"`
	ChildrenTable    string            `json:"children_table,omitempty"`
	TaskID           string            `json:"task_id"`
	ExternalIDs      map[string]string `json:"external_ids"`
	ReleaseDate      string            `json:"release_date,omitempty"`
	CoverURL         string            `json:"cover_url,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// TrackRow is one row of an album_* or playlist_* child table. Position
// is the 1-based index of the track within its parent collection.
type TrackRow struct {
	ID             int64             `json:"id"`
	Title          string            `json:"title"`
	Artists        []string          `json:"artists"`
	AlbumTitle     string            `json:"album_title"`
	DurationMS     int               `json:"duration_ms"`
	TrackNumber    int               `json:"track_number"`
	DiscNumber     int               `json:"disc_number"`
	Explicit       bool              `json:"explicit"`
	Status         string            `json:"status"`
	ExternalIDs    map[string]string `json:"external_ids"`
	Genres         []string          `json:"genres"`
	ISRC           string            `json:"isrc"`
	Timestamp      time.Time         `json:"timestamp"`
	Position       int               `json:"position"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Service        string            `json:"service"`
	QualityFormat  string            `json:"quality_format"`
	QualityBitrate string            `json:"quality_bitrate"`
}

// ListOptions narrows and pages an Entries query. Zero values mean no
// filter; Limit zero falls back to a server-side default.
type ListOptions struct {
	DownloadType string
	Status       string
	Limit        int
	Offset       int
}

// StatBucket is one (download type, status) aggregation cell.
type StatBucket struct {
	DownloadType string `json:"download_type"`
	Status       string `json:"status"`
	Count        int    `json:"count"`
}

// Stats summarizes the history table. SuccessfulTracks counts completed
// direct track entries plus the successful_tracks sum over parent rows.
type Stats struct {
	TotalEntries     int          `json:"total_entries"`
	SuccessfulTracks int          `json:"successful_tracks"`
	Buckets          []StatBucket `json:"buckets"`
}
