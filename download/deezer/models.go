package deezer

// API response types based on https://developers.deezer.com/api

// Artist represents a Deezer artist.
type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AlbumRef is the compact album object embedded in a track.
type AlbumRef struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	CoverXL string `json:"cover_xl"`
}

// Track represents a Deezer track. Duration is in seconds.
type Track struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	ISRC           string   `json:"isrc"`
	Duration       int      `json:"duration"`
	TrackPosition  int      `json:"track_position"`
	DiskNumber     int      `json:"disk_number"`
	ExplicitLyrics bool     `json:"explicit_lyrics"`
	Preview        string   `json:"preview"`
	Artist         Artist   `json:"artist"`
	Album          AlbumRef `json:"album"`
	Contributors   []Artist `json:"contributors"`
}

// trackList is Deezer's embedded list container.
type trackList struct {
	Data []Track `json:"data"`
}

// Album represents a full Deezer album.
type Album struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	UPC      string    `json:"upc"`
	NbTracks int       `json:"nb_tracks"`
	CoverXL  string    `json:"cover_xl"`
	Artist   Artist    `json:"artist"`
	Tracks   trackList `json:"tracks"`
}

// Creator identifies the owning user of a playlist.
type Creator struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Playlist represents a full Deezer playlist.
type Playlist struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	NbTracks int       `json:"nb_tracks"`
	Creator  Creator   `json:"creator"`
	Tracks   trackList `json:"tracks"`
}
