// Package watch persists playlist and artist subscriptions and reconciles
// them against the remote catalogue. The Store owns the watch database:
// watched_playlists and watched_artists plus one child table per watched
// item (playlist_<id> with per-track rows, artist_<id> with per-album
// rows). The Engine drives reconciliation one item per tick.
package watch

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotWatched reports an operation against an item that was never added
// or has been removed.
var ErrNotWatched = errors.New("item is not watched")

type column struct {
	name string
	decl string
}

var playlistColumns = []column{
	{"spotify_id", "TEXT PRIMARY KEY"},
	{"name", "TEXT NOT NULL DEFAULT ''"},
	{"owner_id", "TEXT DEFAULT ''"},
	{"owner_name", "TEXT DEFAULT ''"},
	{"total_tracks", "INTEGER DEFAULT 0"},
	{"snapshot_id", "TEXT DEFAULT ''"},
	{"batch_next_offset", "INTEGER DEFAULT 0"},
	{"batch_processing_snapshot_id", "TEXT DEFAULT ''"},
	{"last_checked", "INTEGER DEFAULT 0"},
	{"added_at", "INTEGER DEFAULT 0"},
	{"is_active", "INTEGER DEFAULT 1"},
}

var artistColumns = []column{
	{"spotify_id", "TEXT PRIMARY KEY"},
	{"name", "TEXT NOT NULL DEFAULT ''"},
	{"total_albums_on_spotify", "INTEGER DEFAULT 0"},
	{"batch_next_offset", "INTEGER DEFAULT 0"},
	{"last_checked", "INTEGER DEFAULT 0"},
	{"added_at", "INTEGER DEFAULT 0"},
	{"is_active", "INTEGER DEFAULT 1"},
}

var playlistTrackColumns = []column{
	{"spotify_track_id", "TEXT PRIMARY KEY"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"artists", "TEXT NOT NULL DEFAULT '[]'"},
	{"album_name", "TEXT DEFAULT ''"},
	{"track_number", "INTEGER DEFAULT 0"},
	{"duration_ms", "INTEGER DEFAULT 0"},
	{"added_at_playlist", "TEXT DEFAULT ''"},
	{"added_to_db", "INTEGER DEFAULT 0"},
	{"is_present_in_spotify", "INTEGER DEFAULT 1"},
	{"last_seen_in_spotify", "INTEGER DEFAULT 0"},
	{"snapshot_id", "TEXT DEFAULT ''"},
	{"final_path", "TEXT DEFAULT ''"},
}

var artistAlbumColumns = []column{
	{"album_spotify_id", "TEXT PRIMARY KEY"},
	{"name", "TEXT NOT NULL DEFAULT ''"},
	{"album_group", "TEXT DEFAULT ''"},
	{"album_type", "TEXT DEFAULT ''"},
	{"release_date", "TEXT DEFAULT ''"},
	{"total_tracks", "INTEGER DEFAULT 0"},
	{"added_to_db", "INTEGER DEFAULT 0"},
	{"last_seen_on_spotify", "INTEGER DEFAULT 0"},
	{"download_task_id", "TEXT DEFAULT ''"},
	{"download_status", "INTEGER DEFAULT 0"},
	{"is_fully_downloaded_managed_by_app", "INTEGER DEFAULT 0"},
}

var (
	spotifyIDPattern  = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)
	watchChildPattern = regexp.MustCompile(`^(playlist|artist)_[0-9A-Za-z]{22}$`)
)

// Store is the watch database. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu sync.Mutex
}

// Open opens or creates the watch database at path and migrates it to the
// current schema.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating watch directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening watch database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging watch database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate brings the watch database to the current schema. Upgrade
// failures on individual columns or child tables are logged and skipped;
// only base table creation aborts.
func (s *Store) migrate() error {
	if err := s.createTable("watched_playlists", playlistColumns); err != nil {
		return fmt.Errorf("creating watched_playlists: %w", err)
	}
	if err := s.createTable("watched_artists", artistColumns); err != nil {
		return fmt.Errorf("creating watched_artists: %w", err)
	}

	for _, t := range []struct {
		name string
		cols []column
	}{
		{"watched_playlists", playlistColumns},
		{"watched_artists", artistColumns},
	} {
		existing, err := s.tableColumns(t.name)
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", t.name, err)
		}
		s.addMissingColumns(t.name, t.cols, existing)
	}

	s.upgradeChildTables()
	return nil
}

func (s *Store) createTable(name string, cols []column) error {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, c.name+" "+c.decl)
	}
	_, err := s.db.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", ")))
	return err
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (s *Store) addMissingColumns(table string, want []column, existing map[string]bool) {
	for _, c := range want {
		if existing[c.name] {
			continue
		}
		if strings.Contains(c.decl, "PRIMARY KEY") {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.decl)
		if _, err := s.db.Exec(query); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			s.logger.Warn("watch schema upgrade: adding column failed", "table", table, "column", c.name, "error", err)
			continue
		}
		existing[c.name] = true
	}
}

// upgradeChildTables extends every per-item table to the current column
// set, including tables whose parent row was removed by older versions.
func (s *Store) upgradeChildTables() {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND (name LIKE 'playlist\_%' ESCAPE '\' OR name LIKE 'artist\_%' ESCAPE '\')`)
	if err != nil {
		s.logger.Warn("watch schema upgrade: scanning child tables failed", "error", err)
		return
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	rows.Close()

	for _, name := range names {
		if !watchChildPattern.MatchString(name) {
			s.logger.Warn("watch schema upgrade: skipping table with unexpected name", "table", name)
			continue
		}
		cols := playlistTrackColumns
		if strings.HasPrefix(name, "artist_") {
			cols = artistAlbumColumns
		}
		if err := s.ensureTable(name, cols); err != nil {
			s.logger.Warn("watch schema upgrade: upgrading child table failed", "table", name, "error", err)
		}
	}
}

// ensureTable creates the table if needed and adds any missing columns.
// The caller must have validated the name.
func (s *Store) ensureTable(name string, cols []column) error {
	if err := s.createTable(name, cols); err != nil {
		return err
	}
	existing, err := s.tableColumns(name)
	if err != nil {
		return err
	}
	s.addMissingColumns(name, cols, existing)
	return nil
}

func playlistTableName(spotifyID string) string { return "playlist_" + spotifyID }
func artistTableName(spotifyID string) string   { return "artist_" + spotifyID }

func validateSpotifyID(id string) error {
	if !spotifyIDPattern.MatchString(id) {
		return fmt.Errorf("invalid spotify id %q", id)
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
