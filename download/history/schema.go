package history

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// column pairs a name with its SQLite declaration. Order matters only
// for the initial CREATE TABLE; upgrades add missing columns one by one.
type column struct {
	name string
	decl string
}

var historyColumns = []column{
	{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
	{"download_type", "TEXT NOT NULL DEFAULT ''"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"artists", "TEXT NOT NULL DEFAULT '[]'"},
	{"timestamp", "INTEGER NOT NULL DEFAULT 0"},
	{"status", "TEXT NOT NULL DEFAULT ''"},
	{"service", "TEXT DEFAULT ''"},
	{"quality_format", "TEXT DEFAULT ''"},
	{"quality_bitrate", "TEXT DEFAULT ''"},
	{"total_tracks", "INTEGER DEFAULT 0"},
	{"successful_tracks", "INTEGER DEFAULT 0"},
	{"failed_tracks", "INTEGER DEFAULT 0"},
	{"skipped_tracks", "INTEGER DEFAULT 0"},
	{"total_duration_ms", "INTEGER DEFAULT 0"},
	{"children_table", "TEXT DEFAULT ''"},
	{"task_id", "TEXT DEFAULT ''"},
	{"external_ids", "TEXT NOT NULL DEFAULT '{}'"},
	{"release_date", "TEXT DEFAULT ''"},
	{"cover_url", "TEXT DEFAULT ''"},
	{"metadata", "TEXT DEFAULT '{}'"},
}

var childColumns = []column{
	{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"artists", "TEXT NOT NULL DEFAULT '[]'"},
	{"album_title", "TEXT DEFAULT ''"},
	{"duration_ms", "INTEGER DEFAULT 0"},
	{"track_number", "INTEGER DEFAULT 0"},
	{"disc_number", "INTEGER DEFAULT 0"},
	{"explicit", "INTEGER DEFAULT 0"},
	{"status", "TEXT NOT NULL DEFAULT ''"},
	{"external_ids", "TEXT NOT NULL DEFAULT '{}'"},
	{"genres", "TEXT DEFAULT '[]'"},
	{"isrc", "TEXT DEFAULT ''"},
	{"timestamp", "INTEGER NOT NULL DEFAULT 0"},
	{"position", "INTEGER DEFAULT 0"},
	{"metadata", "TEXT DEFAULT '{}'"},
	{"service", "TEXT DEFAULT ''"},
	{"quality_format", "TEXT DEFAULT ''"},
	{"quality_bitrate", "TEXT DEFAULT ''"},
}

// legacyTimestampColumns were used by earlier schema revisions. During
// migration their values are copied into timestamp before the backfill.
var legacyTimestampColumns = []string{"time", "created_at", "date"}

var childTablePattern = regexp.MustCompile(`^(album|playlist)_[0-9a-zA-Z]{1,32}$`)

// migrate brings the database up to the current schema. Every step is
// idempotent, and upgrade failures are logged rather than returned so a
// partially migrated database stays usable. Only a failure to create
// the base table aborts.
func (s *Store) migrate() error {
	if err := s.createHistoryTable(); err != nil {
		return fmt.Errorf("creating download_history: %w", err)
	}

	existing, err := s.tableColumns("download_history")
	if err != nil {
		return fmt.Errorf("inspecting download_history: %w", err)
	}

	s.addMissingColumns("download_history", historyColumns, existing)
	s.migrateLegacyColumns(existing)
	s.createIndexes()
	s.upgradeChildTables()
	return nil
}

func (s *Store) createHistoryTable() error {
	defs := make([]string, 0, len(historyColumns))
	for _, c := range historyColumns {
		defs = append(defs, c.name+" "+c.decl)
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS download_history (%s)", strings.Join(defs, ", "))
	_, err := s.db.Exec(query)
	return err
}

// tableColumns returns the current column set of a table.
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
		// ALTER TABLE cannot add a primary key column; the base CREATE
		// already carries it on fresh databases.
		if strings.Contains(c.decl, "PRIMARY KEY") {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.decl)
		if _, err := s.db.Exec(query); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			s.logger.Warn("schema upgrade: adding column failed", "table", table, "column", c.name, "error", err)
			continue
		}
		existing[c.name] = true
	}
}

// migrateLegacyColumns copies values from retired column names into
// their successors. existing reflects the pre-upgrade column set, so
// legacy sources are only consulted when they were actually present.
func (s *Store) migrateLegacyColumns(existing map[string]bool) {
	for _, legacy := range legacyTimestampColumns {
		if !existing[legacy] {
			continue
		}
		query := fmt.Sprintf(
			"UPDATE download_history SET timestamp = CAST(%s AS INTEGER) WHERE (timestamp IS NULL OR timestamp = 0) AND %s IS NOT NULL",
			legacy, legacy)
		if _, err := s.db.Exec(query); err != nil {
			s.logger.Warn("schema upgrade: copying legacy timestamp failed", "column", legacy, "error", err)
		}
	}
	// Rows that predate any timestamp column get the migration time.
	backfill := "UPDATE download_history SET timestamp = ? WHERE timestamp IS NULL OR timestamp = 0"
	if _, err := s.db.Exec(backfill, time.Now().Unix()); err != nil {
		s.logger.Warn("schema upgrade: backfilling timestamp failed", "error", err)
	}

	renames := []struct{ from, to string }{
		{"quality", "quality_format"},
		{"bitrate", "quality_bitrate"},
	}
	for _, r := range renames {
		if !existing[r.from] {
			continue
		}
		query := fmt.Sprintf(
			"UPDATE download_history SET %s = %s WHERE (%s IS NULL OR %s = '') AND %s IS NOT NULL",
			r.to, r.from, r.to, r.to, r.from)
		if _, err := s.db.Exec(query); err != nil {
			s.logger.Warn("schema upgrade: copying legacy column failed", "from", r.from, "to", r.to, "error", err)
		}
	}
}

func (s *Store) createIndexes() {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_download_history_timestamp ON download_history(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_download_history_type_status ON download_history(download_type, status)",
		"CREATE INDEX IF NOT EXISTS idx_download_history_task_id ON download_history(task_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_download_history_task_type_ids ON download_history(task_id, download_type, external_ids)",
	}
	for _, query := range indexes {
		if _, err := s.db.Exec(query); err != nil {
			s.logger.Warn("schema upgrade: creating index failed", "error", err)
		}
	}
}

// upgradeChildTables extends every known child table to the current
// column set: tables referenced from download_history plus orphaned
// album_* and playlist_* tables left behind by older versions.
func (s *Store) upgradeChildTables() {
	seen := make(map[string]bool)

	rows, err := s.db.Query("SELECT DISTINCT children_table FROM download_history WHERE children_table IS NOT NULL AND children_table != ''")
	if err != nil {
		s.logger.Warn("schema upgrade: listing child tables failed", "error", err)
	} else {
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				s.logger.Warn("schema upgrade: scanning child table name failed", "error", err)
				continue
			}
			seen[name] = true
		}
		rows.Close()
	}

	orphans, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND (name LIKE 'album\_%' ESCAPE '\' OR name LIKE 'playlist\_%' ESCAPE '\')`)
	if err != nil {
		s.logger.Warn("schema upgrade: scanning for orphan child tables failed", "error", err)
	} else {
		for orphans.Next() {
			var name string
			if err := orphans.Scan(&name); err != nil {
				continue
			}
			seen[name] = true
		}
		orphans.Close()
	}

	for name := range seen {
		if !childTablePattern.MatchString(name) {
			s.logger.Warn("schema upgrade: skipping child table with unexpected name", "table", name)
			continue
		}
		if err := s.ensureChildTable(name); err != nil {
			s.logger.Warn("schema upgrade: upgrading child table failed", "table", name, "error", err)
		}
	}
}

// ensureChildTable creates the table if needed and adds any missing
// columns. The caller must have validated the name.
func (s *Store) ensureChildTable(name string) error {
	defs := make([]string, 0, len(childColumns))
	for _, c := range childColumns {
		defs = append(defs, c.name+" "+c.decl)
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", "))
	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	existing, err := s.tableColumns(name)
	if err != nil {
		return err
	}
	s.addMissingColumns(name, childColumns, existing)
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
