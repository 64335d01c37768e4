package spotify

// API response types based on
// https://developer.spotify.com/documentation/web-api/reference/

// Paging is Spotify's standard paginated container.
type Paging[T any] struct {
	Href     string  `json:"href"`
	Items    []T     `json:"items"`
	Limit    int     `json:"limit"`
	Next     *string `json:"next"`
	Offset   int     `json:"offset"`
	Previous *string `json:"previous"`
	Total    int     `json:"total"`
}

// GetNext returns the URL of the next page, or nil on the final page.
func (p *Paging[T]) GetNext() *string {
	if p == nil {
		return nil
	}
	return p.Next
}

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ExternalIDs holds known external identifiers for a track.
type ExternalIDs struct {
	ISRC string `json:"isrc"`
	EAN  string `json:"ean"`
	UPC  string `json:"upc"`
}

// Artist represents a Spotify artist. Genres and Images are only populated
// on the full artist endpoint.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	Images []Image  `json:"images"`
	URI    string   `json:"uri"`
}

// SimplifiedTrack represents a track inside an album listing.
type SimplifiedTrack struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []Artist `json:"artists"`
	DiscNumber  int      `json:"disc_number"`
	TrackNumber int      `json:"track_number"`
	DurationMS  int      `json:"duration_ms"`
	Explicit    bool     `json:"explicit"`
	IsLocal     bool     `json:"is_local"`
	URI         string   `json:"uri"`
}

// Track represents a full Spotify track.
type Track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Artists     []Artist    `json:"artists"`
	Album       Album       `json:"album"`
	DiscNumber  int         `json:"disc_number"`
	TrackNumber int         `json:"track_number"`
	DurationMS  int         `json:"duration_ms"`
	Explicit    bool        `json:"explicit"`
	ExternalIDs ExternalIDs `json:"external_ids"`
	IsLocal     bool        `json:"is_local"`
	Popularity  int         `json:"popularity"`
	PreviewURL  string      `json:"preview_url"`
	URI         string      `json:"uri"`
}

// Album represents a full Spotify album. Tracks is nil when the album
// arrives embedded in another object.
type Album struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	AlbumType   string                   `json:"album_type"`
	Artists     []Artist                 `json:"artists"`
	Images      []Image                  `json:"images"`
	ReleaseDate string                   `json:"release_date"`
	TotalTracks int                      `json:"total_tracks"`
	Genres      []string                 `json:"genres"`
	Label       string                   `json:"label"`
	Tracks      *Paging[SimplifiedTrack] `json:"tracks,omitempty"`
	URI         string                   `json:"uri"`
}

// SimplifiedAlbum represents an album inside an artist discography.
// AlbumGroup distinguishes how the album relates to the artist: album,
// single, compilation or appears_on.
type SimplifiedAlbum struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlbumType   string   `json:"album_type"`
	AlbumGroup  string   `json:"album_group"`
	Artists     []Artist `json:"artists"`
	Images      []Image  `json:"images"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	URI         string   `json:"uri"`
}

// PlaylistOwner identifies the owning user of a playlist.
type PlaylistOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Playlist represents a Spotify playlist. SnapshotID changes whenever the
// playlist's track list changes.
type Playlist struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Owner       PlaylistOwner         `json:"owner"`
	Public      bool                  `json:"public"`
	SnapshotID  string                `json:"snapshot_id"`
	Tracks      Paging[PlaylistTrack] `json:"tracks"`
	Images      []Image               `json:"images"`
	URI         string                `json:"uri"`
}

// PlaylistTrack represents a track within a playlist context.
type PlaylistTrack struct {
	AddedAt string `json:"added_at"`
	IsLocal bool   `json:"is_local"`
	Track   Track  `json:"track"`
}

// Show represents a podcast show embedded in an episode.
type Show struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Publisher string `json:"publisher"`
}

// Episode represents a podcast episode.
type Episode struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	DurationMS  int     `json:"duration_ms"`
	Explicit    bool    `json:"explicit"`
	Images      []Image `json:"images"`
	ReleaseDate string  `json:"release_date"`
	Show        Show    `json:"show"`
	URI         string  `json:"uri"`
}
