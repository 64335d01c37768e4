package watch

import (
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
)

const (
	testPlaylistID  = "37i9dQZF1DXcBWIGoYBM5M"
	testPlaylist2ID = "37i9dQZF1DX0XUsuxWHRQd"
	testArtistID    = "0TnOYISbd1XYRBk9myaseg"
	testTrackOneID  = "4iV5W9uYEdYUVa79Axb7Rh"
	testTrackTwoID  = "6rqhFgbbKwnb9MLmUQDhG6"
	testTrackThreeD = "0eGsygTp906u18L0Oimnem"
	testAlbumOneID  = "1301WleyT98MSxVHPZCA6M"
	testAlbumTwoID  = "2noRn2Aes5aoNVsU6iWThc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "watch.db"), log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateFreshDatabase(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []struct {
		name string
		cols []column
	}{
		{"watched_playlists", playlistColumns},
		{"watched_artists", artistColumns},
	} {
		cols, err := s.tableColumns(table.name)
		if err != nil {
			t.Fatalf("tableColumns(%s) error = %v", table.name, err)
		}
		for _, c := range table.cols {
			if !cols[c.name] {
				t.Errorf("expected column %q on %s after migration", c.name, table.name)
			}
		}
	}
}

func TestMigrateUpgradesOldChildTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	// A child table from a version that predates snapshot tagging.
	_, err = db.Exec(`CREATE TABLE playlist_` + testPlaylistID + ` (
		spotify_track_id TEXT PRIMARY KEY,
		title TEXT,
		artists TEXT,
		is_present_in_spotify INTEGER DEFAULT 1
	)`)
	if err != nil {
		t.Fatalf("creating legacy table error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO playlist_`+testPlaylistID+` (spotify_track_id, title, artists) VALUES (?, ?, ?)`,
		testTrackOneID, "Old Row", `["Someone"]`); err != nil {
		t.Fatalf("seeding legacy row error = %v", err)
	}
	db.Close()

	s, err := Open(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	cols, err := s.tableColumns("playlist_" + testPlaylistID)
	if err != nil {
		t.Fatalf("tableColumns() error = %v", err)
	}
	for _, c := range playlistTrackColumns {
		if !cols[c.name] {
			t.Errorf("expected column %q added to legacy child table", c.name)
		}
	}

	rows, err := s.PlaylistTracks(testPlaylistID)
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Old Row" {
		t.Fatalf("expected legacy row to survive migration, got %+v", rows)
	}
}

func TestAddAndListPlaylists(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Daily Mix", OwnerID: "spotify", OwnerName: "Spotify"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylist2ID, Name: "Roadtrip"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}

	playlists, err := s.Playlists(true)
	if err != nil {
		t.Fatalf("Playlists() error = %v", err)
	}
	if len(playlists) != 2 {
		t.Fatalf("expected 2 watched playlists, got %d", len(playlists))
	}
	if playlists[0].Name != "Daily Mix" || playlists[0].OwnerName != "Spotify" {
		t.Errorf("unexpected first playlist: %+v", playlists[0])
	}
	if !playlists[0].IsActive {
		t.Error("expected added playlist to be active")
	}
	if playlists[0].AddedAt.IsZero() {
		t.Error("expected added_at to be set on insert")
	}

	wp, err := s.Playlist(testPlaylist2ID)
	if err != nil {
		t.Fatalf("Playlist() error = %v", err)
	}
	if wp == nil || wp.Name != "Roadtrip" {
		t.Fatalf("expected Roadtrip, got %+v", wp)
	}

	missing, err := s.Playlist(testTrackOneID)
	if err != nil {
		t.Fatalf("Playlist() error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unwatched id, got %+v", missing)
	}
}

func TestAddPlaylistRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: "not-an-id; DROP TABLE"}); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
}

func TestRemovePlaylistKeepsRows(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}
	if err := s.UpsertPlaylistTracks(testPlaylistID, []PlaylistTrackRow{
		{SpotifyTrackID: testTrackOneID, Title: "Song", Artists: []string{"Band"}, SnapshotID: "s1"},
	}); err != nil {
		t.Fatalf("UpsertPlaylistTracks() error = %v", err)
	}

	if err := s.RemovePlaylist(testPlaylistID); err != nil {
		t.Fatalf("RemovePlaylist() error = %v", err)
	}

	active, _ := s.Playlists(true)
	if len(active) != 0 {
		t.Errorf("expected no active playlists after removal, got %d", len(active))
	}
	all, _ := s.Playlists(false)
	if len(all) != 1 || all[0].IsActive {
		t.Errorf("expected one inactive playlist, got %+v", all)
	}
	rows, err := s.PlaylistTracks(testPlaylistID)
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected child rows to survive removal, got %d", len(rows))
	}

	if err := s.RemovePlaylist(testPlaylist2ID); err != ErrNotWatched {
		t.Errorf("expected ErrNotWatched for unknown playlist, got %v", err)
	}
}

func TestAddPlaylistReactivatesKeepingCursor(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}
	if err := s.UpdatePlaylistCursor(testPlaylistID, 50, "snap-2"); err != nil {
		t.Fatalf("UpdatePlaylistCursor() error = %v", err)
	}
	if err := s.RemovePlaylist(testPlaylistID); err != nil {
		t.Fatalf("RemovePlaylist() error = %v", err)
	}

	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix Renamed"}); err != nil {
		t.Fatalf("re-AddPlaylist() error = %v", err)
	}
	wp, err := s.Playlist(testPlaylistID)
	if err != nil {
		t.Fatalf("Playlist() error = %v", err)
	}
	if !wp.IsActive {
		t.Error("expected re-added playlist to be active")
	}
	if wp.Name != "Mix Renamed" {
		t.Errorf("expected name refreshed, got %q", wp.Name)
	}
	if wp.BatchNextOffset != 50 || wp.BatchProcessingSnapshotID != "snap-2" {
		t.Errorf("expected cursor preserved across re-add, got offset=%d snapshot=%q", wp.BatchNextOffset, wp.BatchProcessingSnapshotID)
	}
}

func TestUpsertPlaylistTracksPreservesFinalPath(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}
	if err := s.UpsertPlaylistTracks(testPlaylistID, []PlaylistTrackRow{
		{SpotifyTrackID: testTrackOneID, Title: "Song", Artists: []string{"Band"}, DurationMS: 180000, SnapshotID: "s1"},
	}); err != nil {
		t.Fatalf("UpsertPlaylistTracks() error = %v", err)
	}
	if err := s.SetTrackPath(testPlaylistID, testTrackOneID, "/music/Band/Album/01. Song.mp3"); err != nil {
		t.Fatalf("SetTrackPath() error = %v", err)
	}

	// A later page re-confirms the row under a new snapshot.
	if err := s.UpsertPlaylistTracks(testPlaylistID, []PlaylistTrackRow{
		{SpotifyTrackID: testTrackOneID, Title: "Song (Remastered)", Artists: []string{"Band"}, DurationMS: 180000, SnapshotID: "s2"},
	}); err != nil {
		t.Fatalf("second UpsertPlaylistTracks() error = %v", err)
	}

	rows, err := s.PlaylistTracks(testPlaylistID)
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Title != "Song (Remastered)" || row.SnapshotID != "s2" {
		t.Errorf("expected metadata refreshed, got title=%q snapshot=%q", row.Title, row.SnapshotID)
	}
	if row.FinalPath != "/music/Band/Album/01. Song.mp3" {
		t.Errorf("expected final_path preserved, got %q", row.FinalPath)
	}

	if err := s.SetTrackPath(testPlaylistID, testTrackTwoID, "/tmp/x.mp3"); err != ErrNotWatched {
		t.Errorf("expected ErrNotWatched for unknown track, got %v", err)
	}
}

func TestStaleCountAndMarkNotPresent(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}
	seed := []PlaylistTrackRow{
		{SpotifyTrackID: testTrackOneID, Title: "One", SnapshotID: "s1"},
		{SpotifyTrackID: testTrackTwoID, Title: "Two", SnapshotID: "s1"},
		{SpotifyTrackID: testTrackThreeD, Title: "Three", SnapshotID: "s1"},
	}
	if err := s.UpsertPlaylistTracks(testPlaylistID, seed); err != nil {
		t.Fatalf("UpsertPlaylistTracks() error = %v", err)
	}

	n, err := s.StaleTrackCount(testPlaylistID, "s1")
	if err != nil {
		t.Fatalf("StaleTrackCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 stale rows under s1, got %d", n)
	}
	if n, _ := s.StaleTrackCount(testPlaylistID, "s2"); n != 3 {
		t.Errorf("expected 3 stale rows under s2, got %d", n)
	}

	// Two of three confirmed under the new snapshot; the third was removed
	// upstream.
	if err := s.UpsertPlaylistTracks(testPlaylistID, []PlaylistTrackRow{
		{SpotifyTrackID: testTrackOneID, Title: "One", SnapshotID: "s2"},
		{SpotifyTrackID: testTrackTwoID, Title: "Two", SnapshotID: "s2"},
	}); err != nil {
		t.Fatalf("UpsertPlaylistTracks() error = %v", err)
	}
	removed, err := s.MarkTracksNotPresent(testPlaylistID, "s2")
	if err != nil {
		t.Fatalf("MarkTracksNotPresent() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row marked not present, got %d", removed)
	}

	rows, _ := s.PlaylistTracks(testPlaylistID)
	if len(rows) != 3 {
		t.Fatalf("expected all 3 rows kept, got %d", len(rows))
	}
	for _, row := range rows {
		present := row.SpotifyTrackID != testTrackThreeD
		if row.IsPresentInSpotify != present {
			t.Errorf("row %s: expected present=%v, got %v", row.SpotifyTrackID, present, row.IsPresentInSpotify)
		}
	}
}

func TestPlaylistCursorLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddPlaylist(&WatchedPlaylist{SpotifyID: testPlaylistID, Name: "Mix"}); err != nil {
		t.Fatalf("AddPlaylist() error = %v", err)
	}

	if err := s.UpdatePlaylistCursor(testPlaylistID, 100, "snap-x"); err != nil {
		t.Fatalf("UpdatePlaylistCursor() error = %v", err)
	}
	wp, _ := s.Playlist(testPlaylistID)
	if wp.BatchNextOffset != 100 || wp.BatchProcessingSnapshotID != "snap-x" {
		t.Errorf("expected cursor (100, snap-x), got (%d, %q)", wp.BatchNextOffset, wp.BatchProcessingSnapshotID)
	}
	if wp.LastChecked.IsZero() {
		t.Error("expected last_checked set by cursor update")
	}

	if err := s.CompletePlaylistSync(testPlaylistID, "Mix v2", "snap-x", 120); err != nil {
		t.Fatalf("CompletePlaylistSync() error = %v", err)
	}
	wp, _ = s.Playlist(testPlaylistID)
	if wp.BatchNextOffset != 0 || wp.BatchProcessingSnapshotID != "" {
		t.Errorf("expected cursor reset, got (%d, %q)", wp.BatchNextOffset, wp.BatchProcessingSnapshotID)
	}
	if wp.SnapshotID != "snap-x" || wp.TotalTracks != 120 || wp.Name != "Mix v2" {
		t.Errorf("expected snapshot promoted, got %+v", wp)
	}
}

func TestArtistAlbumLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddArtist(&WatchedArtist{SpotifyID: testArtistID, Name: "Pixies"}); err != nil {
		t.Fatalf("AddArtist() error = %v", err)
	}

	if err := s.UpsertArtistAlbums(testArtistID, []ArtistAlbumRow{
		{AlbumSpotifyID: testAlbumOneID, Name: "Doolittle", AlbumGroup: "album", AlbumType: "album", TotalTracks: 15,
			DownloadTaskID: "task-1", DownloadStatus: DownloadInitiated},
		{AlbumSpotifyID: testAlbumTwoID, Name: "Surfer Rosa", AlbumGroup: "album", AlbumType: "album", TotalTracks: 13},
	}); err != nil {
		t.Fatalf("UpsertArtistAlbums() error = %v", err)
	}

	// Re-seeing the page must not lose download bookkeeping.
	if err := s.UpsertArtistAlbums(testArtistID, []ArtistAlbumRow{
		{AlbumSpotifyID: testAlbumOneID, Name: "Doolittle", AlbumGroup: "album", AlbumType: "album", TotalTracks: 15},
	}); err != nil {
		t.Fatalf("second UpsertArtistAlbums() error = %v", err)
	}

	albums, err := s.ArtistAlbums(testArtistID)
	if err != nil {
		t.Fatalf("ArtistAlbums() error = %v", err)
	}
	if len(albums) != 2 {
		t.Fatalf("expected 2 albums, got %d", len(albums))
	}
	if albums[0].DownloadTaskID != "task-1" || albums[0].DownloadStatus != DownloadInitiated {
		t.Errorf("expected download bookkeeping preserved, got %+v", albums[0])
	}

	if err := s.SetAlbumDownload(testArtistID, testAlbumOneID, "task-1", DownloadCompleted); err != nil {
		t.Fatalf("SetAlbumDownload() error = %v", err)
	}
	albums, _ = s.ArtistAlbums(testArtistID)
	if albums[0].DownloadStatus != DownloadCompleted || !albums[0].IsFullyDownloaded {
		t.Errorf("expected completed album, got %+v", albums[0])
	}

	ids, err := s.ArtistAlbumIDs(testArtistID)
	if err != nil {
		t.Fatalf("ArtistAlbumIDs() error = %v", err)
	}
	if !ids[testAlbumOneID] || !ids[testAlbumTwoID] {
		t.Errorf("expected both album ids known, got %v", ids)
	}
}

func TestArtistCursorLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddArtist(&WatchedArtist{SpotifyID: testArtistID, Name: "Pixies"}); err != nil {
		t.Fatalf("AddArtist() error = %v", err)
	}

	if err := s.UpdateArtistCursor(testArtistID, 50); err != nil {
		t.Fatalf("UpdateArtistCursor() error = %v", err)
	}
	wa, _ := s.Artist(testArtistID)
	if wa.BatchNextOffset != 50 {
		t.Errorf("expected cursor 50, got %d", wa.BatchNextOffset)
	}

	if err := s.CompleteArtistSync(testArtistID, 74); err != nil {
		t.Fatalf("CompleteArtistSync() error = %v", err)
	}
	wa, _ = s.Artist(testArtistID)
	if wa.BatchNextOffset != 0 || wa.TotalAlbumsOnSpotify != 74 {
		t.Errorf("expected reset cursor and total 74, got offset=%d total=%d", wa.BatchNextOffset, wa.TotalAlbumsOnSpotify)
	}

	if err := s.RemoveArtist(testArtistID); err != nil {
		t.Fatalf("RemoveArtist() error = %v", err)
	}
	if active, _ := s.Artists(true); len(active) != 0 {
		t.Errorf("expected no active artists, got %d", len(active))
	}
}
