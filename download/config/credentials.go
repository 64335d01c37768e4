package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names for service credentials. Credentials are
// read from the process environment (optionally populated from a .env
// file) and are never written to the configuration file.
const (
	EnvSpotifyClientID     = "SPOTIFY_CLIENT_ID"
	EnvSpotifyClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvDeezerARL           = "DEEZER_ARL"
)

// Credentials holds the provider secrets the service authenticates with.
type Credentials struct {
	SpotifyClientID     string
	SpotifyClientSecret string
	DeezerARL           string
}

// LoadCredentials reads provider credentials from the environment. When
// envFiles are given each existing file is loaded first; otherwise a
// .env file in the working directory is tried. Variables already set in
// the environment always win over file contents.
func LoadCredentials(envFiles ...string) Credentials {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		for _, f := range envFiles {
			if f == "" {
				continue
			}
			_ = godotenv.Load(f)
		}
	}

	return Credentials{
		SpotifyClientID:     strings.TrimSpace(os.Getenv(EnvSpotifyClientID)),
		SpotifyClientSecret: strings.TrimSpace(os.Getenv(EnvSpotifyClientSecret)),
		DeezerARL:           strings.TrimSpace(os.Getenv(EnvDeezerARL)),
	}
}

// Validate checks that the Spotify client credentials are present. The
// Deezer ARL is optional; without it Deezer downloads and fallback are
// unavailable but the service still runs.
func (c Credentials) Validate() error {
	var missing []string
	if c.SpotifyClientID == "" {
		missing = append(missing, EnvSpotifyClientID)
	}
	if c.SpotifyClientSecret == "" {
		missing = append(missing, EnvSpotifyClientSecret)
	}
	if len(missing) > 0 {
		return &ConfigError{Message: fmt.Sprintf("missing Spotify credentials: set %s in the environment or a .env file", strings.Join(missing, " and "))}
	}
	return nil
}

// HasDeezer reports whether a Deezer ARL was provided.
func (c Credentials) HasDeezer() bool {
	return c.DeezerARL != ""
}
