// Package deezer is a typed client for the public Deezer API. Deezer
// reports errors in-band with HTTP 200, so every response body is probed
// for an error payload before decoding.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/ratelimit"
)

const (
	defaultBaseURL = "https://api.deezer.com"
	defaultTimeout = 30 * time.Second

	// quotaExceededCode is Deezer's error code for too many requests.
	quotaExceededCode = 4
)

// APIError is Deezer's in-band error payload.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deezer API error: %s (code %d): %s", e.Type, e.Code, e.Message)
}

// Config holds credentials and tuning for the API client.
type Config struct {
	// ARL is the session cookie. Optional for catalogue lookups; raises
	// quota limits when present.
	ARL string

	// BaseURL and HTTPClient override the real API for tests.
	BaseURL    string
	HTTPClient *http.Client

	Timeout time.Duration
}

// Client is a thin typed wrapper over the Deezer API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	arl        string
}

// NewClient creates a Deezer API client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		arl:        cfg.ARL,
	}
}

// get performs a GET against the API and decodes the response into
// result. A quota-exceeded payload is returned as a
// ratelimit.RateLimitError; Deezer sends no Retry-After.
func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.arl != "" {
		req.AddCookie(&http.Cookie{Name: "arl", Value: c.arl})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var probe struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
		if probe.Error.Code == quotaExceededCode {
			return &ratelimit.RateLimitError{Original: probe.Error}
		}
		return probe.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deezer API error: status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Track retrieves a single track.
func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := c.get(ctx, fmt.Sprintf("/track/%s", id), &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// TrackByISRC retrieves a track by its ISRC. Used to match a Spotify
// track onto the Deezer catalogue for cross-service downloads.
func (c *Client) TrackByISRC(ctx context.Context, isrc string) (*Track, error) {
	var track Track
	if err := c.get(ctx, fmt.Sprintf("/track/isrc:%s", isrc), &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Album retrieves a full album including its track list.
func (c *Client) Album(ctx context.Context, id string) (*Album, error) {
	var album Album
	if err := c.get(ctx, fmt.Sprintf("/album/%s", id), &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// Playlist retrieves a full playlist including its track list.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	var playlist Playlist
	if err := c.get(ctx, fmt.Sprintf("/playlist/%s", id), &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}
