// Package spotify is a typed client for the Spotify Web API using the
// client-credentials flow. It performs no rate limiting or caching of its
// own; the metadata provider layers both on top.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/spotizerr-dev/spotizerr-sub000/download/ratelimit"
)

const (
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultBaseURL  = "https://api.spotify.com/v1"

	defaultTimeout = 30 * time.Second
)

// Config holds credentials and tuning for the API client.
type Config struct {
	ClientID     string
	ClientSecret string

	// BaseURL and HTTPClient override the real API for tests.
	BaseURL    string
	HTTPClient *http.Client

	Timeout time.Duration
}

// Client is a thin typed wrapper over the Spotify Web API. Token refresh
// is handled by the oauth2 transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Spotify API client. ctx bounds the token exchange
// requests made by the oauth2 transport over the client's lifetime.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("missing spotify client credentials")
		}
		auth := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     defaultTokenURL,
		}
		httpClient = auth.Client(ctx)
	}
	if httpClient.Timeout == 0 {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient.Timeout = timeout
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// get performs an authenticated GET against the API and decodes the JSON
// response into result. A 429 response is returned as a
// ratelimit.RateLimitError carrying the Retry-After value.
func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	requestURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		requestURL = c.baseURL + endpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &ratelimit.RateLimitError{
			RetryAfter: retryAfter,
			Original:   decodeAPIError(resp),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Track retrieves a single track.
func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := c.get(ctx, fmt.Sprintf("/tracks/%s", id), &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Album retrieves a full album including its first page of tracks.
func (c *Client) Album(ctx context.Context, id string) (*Album, error) {
	var album Album
	if err := c.get(ctx, fmt.Sprintf("/albums/%s", id), &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// AlbumTracks retrieves one page of an album's tracks.
func (c *Client) AlbumTracks(ctx context.Context, id string, limit, offset int) (*Paging[SimplifiedTrack], error) {
	var page Paging[SimplifiedTrack]
	endpoint := fmt.Sprintf("/albums/%s/tracks?limit=%d&offset=%d", id, clampLimit(limit), offset)
	if err := c.get(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Playlist retrieves playlist metadata including the snapshot id and the
// embedded first page of tracks.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	var playlist Playlist
	if err := c.get(ctx, fmt.Sprintf("/playlists/%s", id), &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// PlaylistTracks retrieves one page of a playlist's tracks. The API caps
// the page size at 50.
func (c *Client) PlaylistTracks(ctx context.Context, id string, limit, offset int) (*Paging[PlaylistTrack], error) {
	var page Paging[PlaylistTrack]
	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=%d", id, clampLimit(limit), offset)
	if err := c.get(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Artist retrieves a full artist.
func (c *Client) Artist(ctx context.Context, id string) (*Artist, error) {
	var artist Artist
	if err := c.get(ctx, fmt.Sprintf("/artists/%s", id), &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// ArtistAlbums retrieves one page of an artist's discography filtered by
// the given include groups (album, single, compilation, appears_on).
func (c *Client) ArtistAlbums(ctx context.Context, id string, includeGroups []string, limit, offset int) (*Paging[SimplifiedAlbum], error) {
	var page Paging[SimplifiedAlbum]
	endpoint := fmt.Sprintf("/artists/%s/albums?limit=%d&offset=%d", id, clampLimit(limit), offset)
	if len(includeGroups) > 0 {
		endpoint += "&include_groups=" + url.QueryEscape(strings.Join(includeGroups, ","))
	}
	if err := c.get(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Episode retrieves a podcast episode.
func (c *Client) Episode(ctx context.Context, id string) (*Episode, error) {
	var episode Episode
	if err := c.get(ctx, fmt.Sprintf("/episodes/%s", id), &episode); err != nil {
		return nil, err
	}
	return &episode, nil
}

// Next fetches the page referenced by paging.Next, or nil on the final
// page.
func Next[T any](ctx context.Context, c *Client, p *Paging[T]) (*Paging[T], error) {
	next := p.GetNext()
	if next == nil {
		return nil, nil
	}
	var page Paging[T]
	if err := c.get(ctx, *next, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// clampLimit keeps page sizes inside the API's accepted range.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 50 {
		return 50
	}
	return limit
}
