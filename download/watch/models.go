package watch

import "time"

// Download states recorded on artist album rows.
const (
	DownloadNone      = 0
	DownloadInitiated = 1
	DownloadCompleted = 2
)

// WatchedPlaylist is one row of the watched_playlists table. The cursor
// pair (BatchNextOffset, BatchProcessingSnapshotID) tracks a multi-tick
// reconciliation in flight; both reset when a full scan completes or a
// newer snapshot appears mid-scan.
type WatchedPlaylist struct {
	SpotifyID                 string    `json:"spotify_id"`
	Name                      string    `json:"name"`
	OwnerID                   string    `json:"owner_id"`
	OwnerName                 string    `json:"owner_name"`
	TotalTracks               int       `json:"total_tracks"`
	SnapshotID                string    `json:"snapshot_id"`
	BatchNextOffset           int       `json:"batch_next_offset"`
	BatchProcessingSnapshotID string    `json:"batch_processing_snapshot_id,omitempty"`
	LastChecked               time.Time `json:"last_checked"`
	AddedAt                   time.Time `json:"added_at"`
	IsActive                  bool      `json:"is_active"`
}

// PlaylistTrackRow is one row of a per-playlist child table. Rows are
// never deleted; tracks removed upstream keep their row with
// IsPresentInSpotify false.
type PlaylistTrackRow struct {
	SpotifyTrackID     string    `json:"spotify_track_id"`
	Title              string    `json:"title"`
	Artists            []string  `json:"artists"`
	AlbumName          string    `json:"album_name"`
	TrackNumber        int       `json:"track_number"`
	DurationMS         int       `json:"duration_ms"`
	AddedAtPlaylist    string    `json:"added_at_playlist"`
	AddedToDB          time.Time `json:"added_to_db"`
	IsPresentInSpotify bool      `json:"is_present_in_spotify"`
	LastSeenInSpotify  time.Time `json:"last_seen_in_spotify"`
	SnapshotID         string    `json:"snapshot_id"`
	FinalPath          string    `json:"final_path,omitempty"`
}

// WatchedArtist is one row of the watched_artists table.
type WatchedArtist struct {
	SpotifyID            string    `json:"spotify_id"`
	Name                 string    `json:"name"`
	TotalAlbumsOnSpotify int       `json:"total_albums_on_spotify"`
	BatchNextOffset      int       `json:"batch_next_offset"`
	LastChecked          time.Time `json:"last_checked"`
	AddedAt              time.Time `json:"added_at"`
	IsActive             bool      `json:"is_active"`
}

// ArtistAlbumRow is one row of a per-artist child table.
type ArtistAlbumRow struct {
	AlbumSpotifyID    string    `json:"album_spotify_id"`
	Name              string    `json:"name"`
	AlbumGroup        string    `json:"album_group"`
	AlbumType         string    `json:"album_type"`
	ReleaseDate       string    `json:"release_date"`
	TotalTracks       int       `json:"total_tracks"`
	AddedToDB         time.Time `json:"added_to_db"`
	LastSeenOnSpotify time.Time `json:"last_seen_on_spotify"`
	DownloadTaskID    string    `json:"download_task_id,omitempty"`
	DownloadStatus    int       `json:"download_status"`
	IsFullyDownloaded bool      `json:"is_fully_downloaded_managed_by_app"`
}
