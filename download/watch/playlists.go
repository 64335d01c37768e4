package watch

import (
	"encoding/json"
	"fmt"
	"time"
)

// AddPlaylist subscribes a playlist, creating its child table. Re-adding
// a removed playlist reactivates it and keeps its reconciled rows and
// cursor.
func (s *Store) AddPlaylist(p *WatchedPlaylist) error {
	if err := validateSpotifyID(p.SpotifyID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTable(playlistTableName(p.SpotifyID), playlistTrackColumns); err != nil {
		return fmt.Errorf("creating playlist child table: %w", err)
	}
	addedAt := p.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO watched_playlists
		(spotify_id, name, owner_id, owner_name, total_tracks, snapshot_id,
		 batch_next_offset, batch_processing_snapshot_id, last_checked, added_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(spotify_id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			owner_name = excluded.owner_name,
			is_active = 1`,
		p.SpotifyID, p.Name, p.OwnerID, p.OwnerName, p.TotalTracks, p.SnapshotID,
		p.BatchNextOffset, p.BatchProcessingSnapshotID, unixOrZero(p.LastChecked), addedAt.Unix())
	return err
}

// RemovePlaylist deactivates a subscription. Child rows are kept so a
// later re-add resumes where reconciliation left off.
func (s *Store) RemovePlaylist(spotifyID string) error {
	if err := validateSpotifyID(spotifyID); err != nil {
		return err
	}
	res, err := s.db.Exec("UPDATE watched_playlists SET is_active = 0 WHERE spotify_id = ?", spotifyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotWatched
	}
	return nil
}

// Playlists lists subscriptions in the order they were added.
func (s *Store) Playlists(activeOnly bool) ([]WatchedPlaylist, error) {
	query := `SELECT spotify_id, name, owner_id, owner_name, total_tracks, snapshot_id,
		batch_next_offset, batch_processing_snapshot_id, last_checked, added_at, is_active
		FROM watched_playlists`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY added_at, spotify_id"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchedPlaylist
	for rows.Next() {
		var (
			p                    WatchedPlaylist
			lastChecked, addedAt int64
			active               int
		)
		if err := rows.Scan(&p.SpotifyID, &p.Name, &p.OwnerID, &p.OwnerName, &p.TotalTracks, &p.SnapshotID,
			&p.BatchNextOffset, &p.BatchProcessingSnapshotID, &lastChecked, &addedAt, &active); err != nil {
			return nil, err
		}
		p.LastChecked = timeFromUnix(lastChecked)
		p.AddedAt = timeFromUnix(addedAt)
		p.IsActive = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// Playlist returns one subscription, or (nil, nil) when it was never
// added.
func (s *Store) Playlist(spotifyID string) (*WatchedPlaylist, error) {
	all, err := s.Playlists(false)
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

// UpdatePlaylistCursor persists the multi-tick reconciliation cursor.
func (s *Store) UpdatePlaylistCursor(spotifyID string, offset int, processingSnapshot string) error {
	_, err := s.db.Exec(`UPDATE watched_playlists
		SET batch_next_offset = ?, batch_processing_snapshot_id = ?, last_checked = ?
		WHERE spotify_id = ?`,
		offset, processingSnapshot, time.Now().Unix(), spotifyID)
	return err
}

// CompletePlaylistSync records the end of a full scan: the snapshot and
// track count become current and the cursor resets.
func (s *Store) CompletePlaylistSync(spotifyID, name, snapshotID string, totalTracks int) error {
	_, err := s.db.Exec(`UPDATE watched_playlists
		SET name = ?, snapshot_id = ?, total_tracks = ?,
		    batch_next_offset = 0, batch_processing_snapshot_id = '', last_checked = ?
		WHERE spotify_id = ?`,
		name, snapshotID, totalTracks, time.Now().Unix(), spotifyID)
	return err
}

// UpsertPlaylistTracks writes one reconciled page of tracks. Existing rows
// keep their added_to_db and any recorded final_path; presence and the
// row snapshot tag are refreshed.
func (s *Store) UpsertPlaylistTracks(playlistID string, tracks []PlaylistTrackRow) error {
	if err := validateSpotifyID(playlistID); err != nil {
		return err
	}
	if len(tracks) == 0 {
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
		(spotify_track_id, title, artists, album_name, track_number, duration_ms,
		 added_at_playlist, added_to_db, is_present_in_spotify, last_seen_in_spotify, snapshot_id, final_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(spotify_track_id) DO UPDATE SET
			title = excluded.title,
			artists = excluded.artists,
			album_name = excluded.album_name,
			track_number = excluded.track_number,
			duration_ms = excluded.duration_ms,
			added_at_playlist = excluded.added_at_playlist,
			is_present_in_spotify = 1,
			last_seen_in_spotify = excluded.last_seen_in_spotify,
			snapshot_id = excluded.snapshot_id,
			final_path = CASE WHEN excluded.final_path != '' THEN excluded.final_path ELSE final_path END`,
		playlistTableName(playlistID))
	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, tr := range tracks {
		artists, err := json.Marshal(emptyStrings(tr.Artists))
		if err != nil {
			return fmt.Errorf("encoding artists for %s: %w", tr.SpotifyTrackID, err)
		}
		if _, err := stmt.Exec(tr.SpotifyTrackID, tr.Title, string(artists), tr.AlbumName, tr.TrackNumber,
			tr.DurationMS, tr.AddedAtPlaylist, now, now, tr.SnapshotID, tr.FinalPath); err != nil {
			return fmt.Errorf("upserting track %s: %w", tr.SpotifyTrackID, err)
		}
	}
	return tx.Commit()
}

// PlaylistTracks returns all child rows of a playlist in insertion order.
func (s *Store) PlaylistTracks(playlistID string) ([]PlaylistTrackRow, error) {
	if err := validateSpotifyID(playlistID); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT spotify_track_id, title, artists, album_name, track_number, duration_ms,
		added_at_playlist, added_to_db, is_present_in_spotify, last_seen_in_spotify, snapshot_id, final_path
		FROM %s ORDER BY rowid`, playlistTableName(playlistID))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlaylistTrackRow
	for rows.Next() {
		var (
			tr                  PlaylistTrackRow
			artistsJSON         string
			addedToDB, lastSeen int64
			present             int
		)
		if err := rows.Scan(&tr.SpotifyTrackID, &tr.Title, &artistsJSON, &tr.AlbumName, &tr.TrackNumber,
			&tr.DurationMS, &tr.AddedAtPlaylist, &addedToDB, &present, &lastSeen, &tr.SnapshotID, &tr.FinalPath); err != nil {
			return nil, err
		}
		decodeJSON(artistsJSON, &tr.Artists)
		tr.AddedToDB = timeFromUnix(addedToDB)
		tr.LastSeenInSpotify = timeFromUnix(lastSeen)
		tr.IsPresentInSpotify = present != 0
		out = append(out, tr)
	}
	return out, rows.Err()
}

// PlaylistTrackIDs returns the set of track ids already known for a
// playlist, used to decide which discovered tracks need a download.
func (s *Store) PlaylistTrackIDs(playlistID string) (map[string]bool, error) {
	if err := validateSpotifyID(playlistID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT spotify_track_id FROM %s", playlistTableName(playlistID)))
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

// StaleTrackCount counts present rows whose snapshot tag is older than
// snapshotID.
func (s *Store) StaleTrackCount(playlistID, snapshotID string) (int, error) {
	if err := validateSpotifyID(playlistID); err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE snapshot_id != ? AND is_present_in_spotify = 1", playlistTableName(playlistID))
	if err := s.db.QueryRow(query, snapshotID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkTracksNotPresent flags rows not confirmed under snapshotID as
// removed upstream. Rows are never deleted.
func (s *Store) MarkTracksNotPresent(playlistID, snapshotID string) (int, error) {
	if err := validateSpotifyID(playlistID); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET is_present_in_spotify = 0 WHERE snapshot_id != ? AND is_present_in_spotify = 1", playlistTableName(playlistID))
	res, err := s.db.Exec(query, snapshotID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetTrackPath records where a watched track landed on disk.
func (s *Store) SetTrackPath(playlistID, trackID, finalPath string) error {
	if err := validateSpotifyID(playlistID); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET final_path = ? WHERE spotify_track_id = ?", playlistTableName(playlistID))
	res, err := s.db.Exec(query, finalPath, trackID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotWatched
	}
	return nil
}

func emptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeJSON(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}
