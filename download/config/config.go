// Package config loads, migrates, validates, and manages the service's
// YAML configuration file.
package config

import (
	"fmt"
	"strings"
)

// Version is the config schema version this build reads and writes.
const Version = "3.3.1"

// legacyVersion is the single predecessor the loader migrates in place.
const legacyVersion = "3.3.0"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// WatchConfig holds the playlist/artist watch settings.
type WatchConfig struct {
	Enabled                      bool     `yaml:"enabled" json:"enabled"`
	PollIntervalSeconds          int      `yaml:"watchPollIntervalSeconds" json:"watchPollIntervalSeconds"`
	WatchedArtistAlbumGroup      []string `yaml:"watchedArtistAlbumGroup" json:"watchedArtistAlbumGroup"`
	MaxItemsPerRun               int      `yaml:"maxItemsPerRun" json:"maxItemsPerRun"`
	DelayBetweenPlaylistsSeconds int      `yaml:"delayBetweenPlaylistsSeconds" json:"delayBetweenPlaylistsSeconds"`
	DelayBetweenArtistsSeconds   int      `yaml:"delayBetweenArtistsSeconds" json:"delayBetweenArtistsSeconds"`
	UseSnapshotIDChecking        bool     `yaml:"useSnapshotIdChecking" json:"useSnapshotIdChecking"`
}

// Config is the service configuration. Credentials are deliberately
// absent: they come from the environment, never the config file.
type Config struct {
	Version string `yaml:"version" json:"version"`

	MaxConcurrentDownloads int `yaml:"maxConcurrentDownloads" json:"maxConcurrentDownloads"`
	MaxRetries             int `yaml:"maxRetries" json:"maxRetries"`
	RetryDelaySeconds      int `yaml:"retryDelaySeconds" json:"retryDelaySeconds"`
	RetryDelayIncrease     int `yaml:"retryDelayIncrease" json:"retryDelayIncrease"`

	Service        string `yaml:"service" json:"service"`
	Fallback       bool   `yaml:"fallback" json:"fallback"`
	SpotifyQuality string `yaml:"spotifyQuality" json:"spotifyQuality"`
	DeezerQuality  string `yaml:"deezerQuality" json:"deezerQuality"`

	RealTime          bool   `yaml:"realTime" json:"realTime"`
	CustomDirFormat   string `yaml:"customDirFormat" json:"customDirFormat"`
	CustomTrackFormat string `yaml:"customTrackFormat" json:"customTrackFormat"`
	TracknumPadding   bool   `yaml:"tracknumPadding" json:"tracknumPadding"`
	PadNumberWidth    int    `yaml:"padNumberWidth" json:"padNumberWidth"`

	ConvertTo string `yaml:"convertTo" json:"convertTo"`
	Bitrate   string `yaml:"bitrate" json:"bitrate"`

	MusicDirectory           string `yaml:"musicDirectory" json:"musicDirectory"`
	IncompleteDownloadFolder string `yaml:"incompleteDownloadFolder" json:"incompleteDownloadFolder"`

	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// SetDefaults fills unset fields. Booleans that default to true
// (tracknumPadding, watch.useSnapshotIdChecking) are handled by the
// loader, which can tell an absent key from an explicit false.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = Version
	}
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = 3
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelaySeconds == 0 {
		c.RetryDelaySeconds = 5
	}
	if c.RetryDelayIncrease == 0 {
		c.RetryDelayIncrease = 5
	}
	if c.Service == "" {
		c.Service = "spotify"
	}
	if c.SpotifyQuality == "" {
		c.SpotifyQuality = "NORMAL"
	}
	if c.DeezerQuality == "" {
		c.DeezerQuality = "MP3_128"
	}
	if c.CustomDirFormat == "" {
		c.CustomDirFormat = "%ar_album%/%album%"
	}
	if c.CustomTrackFormat == "" {
		c.CustomTrackFormat = "%tracknum%. %music%"
	}
	if c.PadNumberWidth == 0 {
		c.PadNumberWidth = 2
	}
	if c.MusicDirectory == "" {
		c.MusicDirectory = "./music"
	}
	if c.IncompleteDownloadFolder == "" {
		c.IncompleteDownloadFolder = "./downloads"
	}

	w := &c.Watch
	if w.PollIntervalSeconds == 0 {
		w.PollIntervalSeconds = 3600
	}
	if len(w.WatchedArtistAlbumGroup) == 0 {
		w.WatchedArtistAlbumGroup = []string{"album", "single"}
	}
	if w.MaxItemsPerRun == 0 {
		w.MaxItemsPerRun = 50
	}
	if w.DelayBetweenPlaylistsSeconds == 0 {
		w.DelayBetweenPlaylistsSeconds = 2
	}
	if w.DelayBetweenArtistsSeconds == 0 {
		w.DelayBetweenArtistsSeconds = 5
	}
}

var (
	validServices = map[string]bool{
		"spotify": true,
		"deezer":  true,
	}
	validSpotifyQualities = map[string]bool{
		"NORMAL":    true,
		"HIGH":      true,
		"VERY_HIGH": true,
	}
	validDeezerQualities = map[string]bool{
		"MP3_128": true,
		"MP3_320": true,
		"FLAC":    true,
	}
	validConversionFormats = map[string]bool{
		"mp3":  true,
		"aac":  true,
		"ogg":  true,
		"opus": true,
		"flac": true,
		"wav":  true,
		"alac": true,
	}
	validAlbumGroups = map[string]bool{
		"album":       true,
		"single":      true,
		"compilation": true,
		"appears_on":  true,
	}
)

// Validate checks field values, clamping watch.maxItemsPerRun to [1, 50].
func (c *Config) Validate() error {
	if c.Version != Version {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid version: %s. Expected %s", c.Version, Version),
		}
	}
	if c.MaxConcurrentDownloads < 1 {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid maxConcurrentDownloads: %d. Must be at least 1", c.MaxConcurrentDownloads),
		}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid maxRetries: %d. Must not be negative", c.MaxRetries),
		}
	}
	if c.RetryDelaySeconds < 0 || c.RetryDelayIncrease < 0 {
		return &ConfigError{
			Message: "Invalid retry delays. retryDelaySeconds and retryDelayIncrease must not be negative",
		}
	}
	if !validServices[c.Service] {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid service: %s. Must be one of: spotify, deezer", c.Service),
		}
	}
	if !validSpotifyQualities[c.SpotifyQuality] {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid spotifyQuality: %s. Must be one of: NORMAL, HIGH, VERY_HIGH", c.SpotifyQuality),
		}
	}
	if !validDeezerQualities[c.DeezerQuality] {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid deezerQuality: %s. Must be one of: MP3_128, MP3_320, FLAC", c.DeezerQuality),
		}
	}
	if c.ConvertTo != "" && !validConversionFormats[strings.ToLower(c.ConvertTo)] {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid convertTo: %s. Must be one of: mp3, aac, ogg, opus, flac, wav, alac", c.ConvertTo),
		}
	}
	if !strings.Contains(c.CustomTrackFormat, "%music%") {
		return &ConfigError{
			Message: "customTrackFormat must contain the %music% placeholder",
		}
	}
	if c.PadNumberWidth < 1 {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid padNumberWidth: %d. Must be at least 1", c.PadNumberWidth),
		}
	}

	w := &c.Watch
	if w.PollIntervalSeconds < 1 {
		return &ConfigError{
			Message: fmt.Sprintf("Invalid watch.watchPollIntervalSeconds: %d. Must be at least 1", w.PollIntervalSeconds),
		}
	}
	if w.MaxItemsPerRun < 1 {
		w.MaxItemsPerRun = 1
	}
	if w.MaxItemsPerRun > 50 {
		w.MaxItemsPerRun = 50
	}
	for _, g := range w.WatchedArtistAlbumGroup {
		if !validAlbumGroups[g] {
			return &ConfigError{
				Message: fmt.Sprintf("Invalid watch.watchedArtistAlbumGroup entry: %s. Must be one of: album, single, compilation, appears_on", g),
			}
		}
	}
	return nil
}

// Copy returns an independent copy.
func (c *Config) Copy() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Watch.WatchedArtistAlbumGroup = append([]string(nil), c.Watch.WatchedArtistAlbumGroup...)
	return &out
}
