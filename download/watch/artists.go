package watch

import (
	"fmt"
	"time"
)

// AddArtist subscribes an artist, creating its child table. Re-adding a
// removed artist reactivates it.
func (s *Store) AddArtist(a *WatchedArtist) error {
	if err := validateSpotifyID(a.SpotifyID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTable(artistTableName(a.SpotifyID), artistAlbumColumns); err != nil {
		return fmt.Errorf("creating artist child table: %w", err)
	}
	addedAt := a.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO watched_artists
		(spotify_id, name, total_albums_on_spotify, batch_next_offset, last_checked, added_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(spotify_id) DO UPDATE SET
			name = excluded.name,
			is_active = 1`,
		a.SpotifyID, a.Name, a.TotalAlbumsOnSpotify, a.BatchNextOffset, unixOrZero(a.LastChecked), addedAt.Unix())
	return err
}

// RemoveArtist deactivates a subscription, keeping album rows.
func (s *Store) RemoveArtist(spotifyID string) error {
	if err := validateSpotifyID(spotifyID); err != nil {
		return err
	}
	res, err := s.db.Exec("UPDATE watched_artists SET is_active = 0 WHERE spotify_id = ?", spotifyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotWatched
	}
	return nil
}

// Artists lists subscriptions in the order they were added.
func (s *Store) Artists(activeOnly bool) ([]WatchedArtist, error) {
	query := `SELECT spotify_id, name, total_albums_on_spotify, batch_next_offset, last_checked, added_at, is_active
		FROM watched_artists`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY added_at, spotify_id"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchedArtist
	for rows.Next() {
		var (
			a                    WatchedArtist
			lastChecked, addedAt int64
			active               int
		)
		if err := rows.Scan(&a.SpotifyID, &a.Name, &a.TotalAlbumsOnSpotify, &a.BatchNextOffset,
			&lastChecked, &addedAt, &active); err != nil {
			return nil, err
		}
		a.LastChecked = timeFromUnix(lastChecked)
		a.AddedAt = timeFromUnix(addedAt)
		a.IsActive = active != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// Artist returns one subscription, or (nil, nil) when it was never added.
func (s *Store) Artist(spotifyID string) (*WatchedArtist, error) {
	all, err := s.Artists(false)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].SpotifyID == spotifyID {
			return &all[i], nil
		}
	}
	return nil, nil
}

// UpdateArtistCursor persists the discography paging cursor.
func (s *Store) UpdateArtistCursor(spotifyID string, offset int) error {
	_, err := s.db.Exec(`UPDATE watched_artists SET batch_next_offset = ?, last_checked = ? WHERE spotify_id = ?`,
		offset, time.Now().Unix(), spotifyID)
	return err
}

// CompleteArtistSync records the end of a discography scan: the album
// total becomes current and the cursor resets.
func (s *Store) CompleteArtistSync(spotifyID string, totalAlbums int) error {
	_, err := s.db.Exec(`UPDATE watched_artists
		SET total_albums_on_spotify = ?, batch_next_offset = 0, last_checked = ?
		WHERE spotify_id = ?`,
		totalAlbums, time.Now().Unix(), spotifyID)
	return err
}

// UpsertArtistAlbums writes one reconciled discography page. Download
// bookkeeping on existing rows survives: the task id is only replaced by
// a non-empty one and the status never moves backwards.
func (s *Store) UpsertArtistAlbums(artistID string, albums []ArtistAlbumRow) error {
	if err := validateSpotifyID(artistID); err != nil {
		return err
	}
	if len(albums) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s
		(album_spotify_id, name, album_group, album_type, release_date, total_tracks,
		 added_to_db, last_seen_on_spotify, download_task_id, download_status, is_fully_downloaded_managed_by_app)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(album_spotify_id) DO UPDATE SET
			name = excluded.name,
			album_group = excluded.album_group,
			album_type = excluded.album_type,
			release_date = excluded.release_date,
			total_tracks = excluded.total_tracks,
			last_seen_on_spotify = excluded.last_seen_on_spotify,
			download_task_id = CASE WHEN excluded.download_task_id != '' THEN excluded.download_task_id ELSE download_task_id END,
			download_status = MAX(download_status, excluded.download_status),
			is_fully_downloaded_managed_by_app = MAX(is_fully_downloaded_managed_by_app, excluded.is_fully_downloaded_managed_by_app)`,
		artistTableName(artistID))
	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, al := range albums {
		if _, err := stmt.Exec(al.AlbumSpotifyID, al.Name, al.AlbumGroup, al.AlbumType, al.ReleaseDate,
			al.TotalTracks, now, now, al.DownloadTaskID, al.DownloadStatus, boolToInt(al.IsFullyDownloaded)); err != nil {
			return fmt.Errorf("upserting album %s: %w", al.AlbumSpotifyID, err)
		}
	}
	return tx.Commit()
}

// ArtistAlbums returns all child rows of an artist in insertion order.
func (s *Store) ArtistAlbums(artistID string) ([]ArtistAlbumRow, error) {
	if err := validateSpotifyID(artistID); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT album_spotify_id, name, album_group, album_type, release_date, total_tracks,
		added_to_db, last_seen_on_spotify, download_task_id, download_status, is_fully_downloaded_managed_by_app
		FROM %s ORDER BY rowid`, artistTableName(artistID))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArtistAlbumRow
	for rows.Next() {
		var (
			al                  ArtistAlbumRow
			addedToDB, lastSeen int64
			fully               int
		)
		if err := rows.Scan(&al.AlbumSpotifyID, &al.Name, &al.AlbumGroup, &al.AlbumType, &al.ReleaseDate,
			&al.TotalTracks, &addedToDB, &lastSeen, &al.DownloadTaskID, &al.DownloadStatus, &fully); err != nil {
			return nil, err
		}
		al.AddedToDB = timeFromUnix(addedToDB)
		al.LastSeenOnSpotify = timeFromUnix(lastSeen)
		al.IsFullyDownloaded = fully != 0
		out = append(out, al)
	}
	return out, rows.Err()
}

// ArtistAlbumIDs returns the set of album ids already known for an
// artist.
func (s *Store) ArtistAlbumIDs(artistID string) (map[string]bool, error) {
	if err := validateSpotifyID(artistID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT album_spotify_id FROM %s", artistTableName(artistID)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SetAlbumDownload records the download task spawned for an album and its
// progress through the managed lifecycle.
func (s *Store) SetAlbumDownload(artistID, albumID, taskID string, status int) error {
	if err := validateSpotifyID(artistID); err != nil {
		return err
	}
	fully := 0
	if status == DownloadCompleted {
		fully = 1
	}
	query := fmt.Sprintf(`UPDATE %s
		SET download_task_id = CASE WHEN ? != '' THEN ? ELSE download_task_id END,
		    download_status = ?,
		    is_fully_downloaded_managed_by_app = ?
		WHERE album_spotify_id = ?`, artistTableName(artistID))
	res, err := s.db.Exec(query, taskID, taskID, status, fully, albumID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotWatched
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
