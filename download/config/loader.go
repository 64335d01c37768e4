package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// legacyKeys maps the snake_case key names of earlier releases onto
// their camelCase successors.
var legacyKeys = map[string]string{
	"max_concurrent_downloads":   "maxConcurrentDownloads",
	"max_retries":                "maxRetries",
	"retry_delay_seconds":        "retryDelaySeconds",
	"retry_delay_increase":       "retryDelayIncrease",
	"spotify_quality":            "spotifyQuality",
	"deezer_quality":             "deezerQuality",
	"real_time":                  "realTime",
	"custom_dir_format":          "customDirFormat",
	"custom_track_format":        "customTrackFormat",
	"tracknum_padding":           "tracknumPadding",
	"pad_number_width":           "padNumberWidth",
	"convert_to":                 "convertTo",
	"music_directory":            "musicDirectory",
	"incomplete_download_folder": "incompleteDownloadFolder",
}

var legacyWatchKeys = map[string]string{
	"watch_poll_interval_seconds":     "watchPollIntervalSeconds",
	"watched_artist_album_group":      "watchedArtistAlbumGroup",
	"max_items_per_run":               "maxItemsPerRun",
	"delay_between_playlists_seconds": "delayBetweenPlaylistsSeconds",
	"delay_between_artists_seconds":   "delayBetweenArtistsSeconds",
	"use_snapshot_id_checking":        "useSnapshotIdChecking",
}

// Load reads and validates the configuration file at path. Legacy
// snake_case keys and a version exactly matching the supported
// predecessor are migrated in place: the file is rewritten (with a
// .backup sibling of the original) so subsequent reads are clean. Any
// other version mismatch is fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{
				Message: fmt.Sprintf("Configuration file not found: %s", path),
			}
		}
		return nil, &ConfigError{
			Message: fmt.Sprintf("Error reading configuration file: %v", err),
		}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("Error parsing YAML file: %v", err),
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	migrated := migrateLegacyKeys(raw)

	// Version flow: the current version passes, the named predecessor is
	// bumped, anything else aborts startup.
	switch version := fmt.Sprintf("%v", raw["version"]); version {
	case Version:
	case legacyVersion:
		raw["version"] = Version
		migrated = true
	default:
		return nil, &ConfigError{
			Message: fmt.Sprintf("Unsupported config version: %v. This build requires %s and migrates %s in place",
				raw["version"], Version, legacyVersion),
		}
	}

	applyPresenceDefaults(raw)

	if migrated {
		if err := rewriteMigrated(path, raw, data); err != nil {
			return nil, err
		}
	}

	// Re-marshal the normalized map for struct unmarshaling.
	yamlData, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("Error converting config data: %v", err),
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(yamlData, &cfg); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("Invalid configuration: %v", err),
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ensureStagingDir(&cfg)
	return &cfg, nil
}

// EnsureFile writes a default configuration at path when none exists.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	cfg := &Config{}
	cfg.SetDefaults()
	cfg.TracknumPadding = true
	cfg.Watch.UseSnapshotIDChecking = true

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// migrateLegacyKeys renames snake_case keys to their camelCase form. The
// camelCase key wins when both generations are present.
func migrateLegacyKeys(raw map[string]any) bool {
	changed := renameKeys(raw, legacyKeys)
	if w, ok := raw["watch"].(map[string]any); ok {
		if renameKeys(w, legacyWatchKeys) {
			changed = true
		}
	}
	return changed
}

func renameKeys(m map[string]any, names map[string]string) bool {
	changed := false
	for from, to := range names {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		changed = true
	}
	return changed
}

// applyPresenceDefaults handles booleans whose default is true. The
// struct zero value cannot distinguish an explicit false from an absent
// key, so the raw map is consulted before decoding.
func applyPresenceDefaults(raw map[string]any) {
	if _, ok := raw["tracknumPadding"]; !ok {
		raw["tracknumPadding"] = true
	}
	w, ok := raw["watch"].(map[string]any)
	if !ok {
		w = map[string]any{}
		raw["watch"] = w
	}
	if _, ok := w["useSnapshotIdChecking"]; !ok {
		w["useSnapshotIdChecking"] = true
	}
}

// rewriteMigrated persists a migrated config, keeping the original bytes
// in a .backup sibling.
func rewriteMigrated(path string, raw map[string]any, original []byte) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return &ConfigError{
			Message: fmt.Sprintf("Error writing migrated config: %v", err),
		}
	}
	// Backup failure is not fatal; the migration itself must land.
	_ = os.WriteFile(path+".backup", original, 0644)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &ConfigError{
			Message: fmt.Sprintf("Error writing migrated config: %v", err),
		}
	}
	return nil
}

// ensureStagingDir verifies the staging folder is usable and falls back
// to ./downloads when it is not.
func ensureStagingDir(c *Config) {
	if err := os.MkdirAll(c.IncompleteDownloadFolder, 0755); err != nil {
		c.IncompleteDownloadFolder = "./downloads"
		_ = os.MkdirAll(c.IncompleteDownloadFolder, 0755)
	}
}
