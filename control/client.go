package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// Client is a thin HTTP client for the API, used by the submit, status,
// and monitor subcommands.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SubmitResponse mirrors the download submission response body.
type SubmitResponse struct {
	TaskID     string            `json:"task_id"`
	Queued     []string          `json:"queued"`
	Count      int               `json:"count"`
	Duplicates map[string]string `json:"duplicates"`
}

// TaskListResponse mirrors GET /api/prgs/list.
type TaskListResponse struct {
	Tasks  []queue.TaskSummary `json:"tasks"`
	Count  int                 `json:"count"`
	Paused bool                `json:"paused"`
}

// TaskDetailResponse mirrors GET /api/prgs/{taskID}.
type TaskDetailResponse struct {
	TaskID     string             `json:"task_id"`
	Info       task.Info          `json:"info"`
	Statuses   []task.StatusEntry `json:"statuses"`
	LastStatus *task.StatusEntry  `json:"last_status"`
}

var submittableKinds = map[string]bool{
	"track":    true,
	"album":    true,
	"playlist": true,
	"artist":   true,
}

// Submit queues a Spotify URL for download and reports what was queued.
func (c *Client) Submit(raw string) (*SubmitResponse, error) {
	kind, id, err := spotify.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, fmt.Errorf("bare ids are ambiguous, pass a full URL or spotify: URI: %q", raw)
	}
	if !submittableKinds[kind] {
		return nil, fmt.Errorf("%s links cannot be downloaded", kind)
	}

	var result SubmitResponse
	path := fmt.Sprintf("/api/%s/download/%s", kind, url.PathEscape(id))
	if err := c.post(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tasks lists every task tracked on the server.
func (c *Client) Tasks() (*TaskListResponse, error) {
	var result TaskListResponse
	if err := c.get("/api/prgs/list", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TaskDetail returns one task's info and status timeline.
func (c *Client) TaskDetail(taskID string) (*TaskDetailResponse, error) {
	var result TaskDetailResponse
	if err := c.get("/api/prgs/"+url.PathEscape(taskID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, out)
}

func (c *Client) post(path string, out interface{}) error {
	return c.do(http.MethodPost, path, out)
}

func (c *Client) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError turns an error response body into a readable error.
func apiError(status int, body []byte) error {
	var payload struct {
		Error          string `json:"error"`
		ExistingTaskID string `json:"existing_task_id"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		if payload.ExistingTaskID != "" {
			return fmt.Errorf("%s (task %s)", payload.Error, payload.ExistingTaskID)
		}
		return errors.New(payload.Error)
	}
	return fmt.Errorf("server returned %d", status)
}
