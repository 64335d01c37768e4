// Package history persists download outcomes in SQLite. Completed track
// downloads become direct rows in download_history; album and playlist
// downloads become parent rows pointing at per-collection child tables
// that receive one row per track as the download progresses.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 25

var entryColumns = "id, download_type, title, artists, timestamp, status, service, quality_format, quality_bitrate, total_tracks, successful_tracks, failed_tracks, skipped_tracks, total_duration_ms, children_table, task_id, external_ids, release_date, cover_url, metadata"

// Store wraps the history database. It is safe for concurrent use; the
// mutex only serializes child-table DDL, which SQLite cannot prepare
// transactionally alongside inserts.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	mu sync.Mutex
}

// Open opens or creates the history database at path and migrates it to
// the current schema.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
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

// NewChildTableName returns a fresh table name for the given download
// type, of the form album_3f2a9c01d4.
func NewChildTableName(downloadType string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%s_%s", downloadType, suffix)
}

// CreateChildTable creates a child track table. The name must come from
// NewChildTableName; anything else is rejected before touching SQL.
func (s *Store) CreateChildTable(name string) error {
	if !childTablePattern.MatchString(name) {
		return fmt.Errorf("invalid child table name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureChildTable(name)
}

// UpsertEntry inserts or replaces the parent entry keyed by (task_id,
// download_type, external_ids). Progressive updates during a download
// land on the same row.
func (s *Store) UpsertEntry(e *Entry) error {
	artists, err := json.Marshal(emptySlice(e.Artists))
	if err != nil {
		return fmt.Errorf("encoding artists: %w", err)
	}
	externalIDs, err := json.Marshal(emptyMap(e.ExternalIDs))
	if err != nil {
		return fmt.Errorf("encoding external ids: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `INSERT INTO download_history
		(download_type, title, artists, timestamp, status, service, quality_format, quality_bitrate,
		 total_tracks, successful_tracks, failed_tracks, skipped_tracks, total_duration_ms,
		 children_table, task_id, external_ids, release_date, cover_url, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, download_type, external_ids) DO UPDATE SET
		 title = excluded.title,
		 artists = excluded.artists,
		 timestamp = excluded.timestamp,
		 status = excluded.status,
		 service = excluded.service,
		 quality_format = excluded.quality_format,
		 quality_bitrate = excluded.quality_bitrate,
		 total_tracks = excluded.total_tracks,
		 successful_tracks = excluded.successful_tracks,
		 failed_tracks = excluded.failed_tracks,
		 skipped_tracks = excluded.skipped_tracks,
		 total_duration_ms = excluded.total_duration_ms,
		 children_table = excluded.children_table,
		 release_date = excluded.release_date,
		 cover_url = excluded.cover_url,
		 metadata = excluded.metadata`

	_, err = s.db.Exec(query,
		e.DownloadType, e.Title, string(artists), ts.Unix(), e.Status, e.Service,
		e.QualityFormat, e.QualityBitrate, e.TotalTracks, e.SuccessfulTracks,
		e.FailedTracks, e.SkippedTracks, e.TotalDurationMS, e.ChildrenTable,
		e.TaskID, string(externalIDs), e.ReleaseDate, e.CoverURL, string(metadata))
	if err != nil {
		return fmt.Errorf("upserting history entry: %w", err)
	}
	return nil
}

// AddTrackRow appends one track outcome to a child table.
func (s *Store) AddTrackRow(table string, row *TrackRow) error {
	if !childTablePattern.MatchString(table) {
		return fmt.Errorf("invalid child table name %q", table)
	}
	artists, err := json.Marshal(emptySlice(row.Artists))
	if err != nil {
		return fmt.Errorf("encoding artists: %w", err)
	}
	externalIDs, err := json.Marshal(emptyMap(row.ExternalIDs))
	if err != nil {
		return fmt.Errorf("encoding external ids: %w", err)
	}
	genres, err := json.Marshal(emptySlice(row.Genres))
	if err != nil {
		return fmt.Errorf("encoding genres: %w", err)
	}
	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	ts := row.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(title, artists, album_title, duration_ms, track_number, disc_number, explicit,
		 status, external_ids, genres, isrc, timestamp, position, metadata, service,
		 quality_format, quality_bitrate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)

	_, err = s.db.Exec(query,
		row.Title, string(artists), row.AlbumTitle, row.DurationMS, row.TrackNumber,
		row.DiscNumber, boolToInt(row.Explicit), row.Status, string(externalIDs),
		string(genres), row.ISRC, ts.Unix(), row.Position, string(metadata),
		row.Service, row.QualityFormat, row.QualityBitrate)
	if err != nil {
		return fmt.Errorf("inserting track row into %s: %w", table, err)
	}
	return nil
}

// Entries returns a page of history entries newest first, plus the total
// number of rows matching the filters.
func (s *Store) Entries(opts ListOptions) ([]Entry, int, error) {
	where, args := buildFilters(opts)

	var total int
	countQuery := "SELECT COUNT(*) FROM download_history" + where
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting history entries: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := fmt.Sprintf("SELECT %s FROM download_history%s ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?", entryColumns, where)
	rows, err := s.db.Query(query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Search returns entries whose title or artists match the query string,
// newest first.
func (s *Store) Search(query string, limit, offset int) ([]Entry, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	pattern := "%" + query + "%"

	var total int
	countQuery := "SELECT COUNT(*) FROM download_history WHERE title LIKE ? OR artists LIKE ?"
	if err := s.db.QueryRow(countQuery, pattern, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting search results: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM download_history WHERE title LIKE ? OR artists LIKE ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?", entryColumns)
	rows, err := s.db.Query(q, pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("searching history: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// EntryByTaskID returns the entry recorded for a task, or nil when the
// task never reached the history store.
func (s *Store) EntryByTaskID(taskID string) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM download_history WHERE task_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1", entryColumns)
	rows, err := s.db.Query(query, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying history by task id: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// TrackRows returns every row of a child table in insertion order.
func (s *Store) TrackRows(table string) ([]TrackRow, error) {
	if !childTablePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid child table name %q", table)
	}
	query := fmt.Sprintf(`SELECT id, title, artists, album_title, duration_ms, track_number,
		disc_number, explicit, status, external_ids, genres, isrc, timestamp, position,
		metadata, service, quality_format, quality_bitrate FROM %s ORDER BY id`, table)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying child table %s: %w", table, err)
	}
	defer rows.Close()

	var out []TrackRow
	for rows.Next() {
		var (
			tr                               TrackRow
			artists, externalIDs, genres, md string
			explicit                         int
			ts                               int64
		)
		if err := rows.Scan(&tr.ID, &tr.Title, &artists, &tr.AlbumTitle, &tr.DurationMS,
			&tr.TrackNumber, &tr.DiscNumber, &explicit, &tr.Status, &externalIDs,
			&genres, &tr.ISRC, &ts, &tr.Position, &md, &tr.Service,
			&tr.QualityFormat, &tr.QualityBitrate); err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		tr.Explicit = explicit != 0
		tr.Timestamp = time.Unix(ts, 0)
		decodeJSON(artists, &tr.Artists)
		decodeJSON(externalIDs, &tr.ExternalIDs)
		decodeJSON(genres, &tr.Genres)
		decodeJSON(md, &tr.Metadata)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Stats aggregates the history table by (download type, status) and
// totals successful tracks across direct track rows and parent rows.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}

	rows, err := s.db.Query(`SELECT download_type, status, COUNT(*) FROM download_history
		GROUP BY download_type, status ORDER BY download_type, status`)
	if err != nil {
		return nil, fmt.Errorf("aggregating history stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b StatBucket
		if err := rows.Scan(&b.DownloadType, &b.Status, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning stats bucket: %w", err)
		}
		st.TotalEntries += b.Count
		st.Buckets = append(st.Buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := `SELECT
		SUM(CASE WHEN download_type = 'track' AND status = ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN download_type != 'track' THEN successful_tracks ELSE 0 END)
		FROM download_history`
	var directTracks, parentTracks sql.NullInt64
	if err := s.db.QueryRow(query, StatusCompleted).Scan(&directTracks, &parentTracks); err != nil {
		return nil, fmt.Errorf("totalling successful tracks: %w", err)
	}
	st.SuccessfulTracks = int(directTracks.Int64 + parentTracks.Int64)
	return st, nil
}

// Cleanup deletes entries older than the given number of days and drops
// the child tables they reference. It returns the number of entries
// removed and the dropped table names.
func (s *Store) Cleanup(olderThanDays int) (int64, []string, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()

	rows, err := s.db.Query("SELECT DISTINCT children_table FROM download_history WHERE timestamp < ? AND children_table IS NOT NULL AND children_table != ''", cutoff)
	if err != nil {
		return 0, nil, fmt.Errorf("listing stale child tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, nil, fmt.Errorf("scanning stale child table: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	var dropped []string
	for _, name := range tables {
		if !childTablePattern.MatchString(name) {
			s.logger.Warn("cleanup: skipping child table with unexpected name", "table", name)
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
			s.logger.Warn("cleanup: dropping child table failed", "table", name, "error", err)
			continue
		}
		dropped = append(dropped, name)
	}

	res, err := s.db.Exec("DELETE FROM download_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, dropped, fmt.Errorf("deleting stale history entries: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, dropped, nil
}

func buildFilters(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if opts.DownloadType != "" {
		clauses = append(clauses, "download_type = ?")
		args = append(args, opts.DownloadType)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, opts.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e                            Entry
			artists, externalIDs, md     string
			ts                           int64
			childrenTable, taskID        sql.NullString
			releaseDate, coverURL        sql.NullString
			service, qFormat, qBitrate   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DownloadType, &e.Title, &artists, &ts, &e.Status,
			&service, &qFormat, &qBitrate, &e.TotalTracks, &e.SuccessfulTracks,
			&e.FailedTracks, &e.SkippedTracks, &e.TotalDurationMS, &childrenTable,
			&taskID, &externalIDs, &releaseDate, &coverURL, &md); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.ChildrenTable = childrenTable.String
		e.TaskID = taskID.String
		e.ReleaseDate = releaseDate.String
		e.CoverURL = coverURL.String
		e.Service = service.String
		e.QualityFormat = qFormat.String
		e.QualityBitrate = qBitrate.String
		decodeJSON(artists, &e.Artists)
		decodeJSON(externalIDs, &e.ExternalIDs)
		decodeJSON(md, &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// decodeJSON fills dst from a stored JSON column, tolerating rows written
// by older versions with empty or malformed values.
func decodeJSON(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
