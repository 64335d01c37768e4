package spotify

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError represents a non-2xx response from the Spotify Web API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify API error: status %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failed response.
func (e *APIError) StatusCode() int {
	return e.Status
}

// decodeAPIError builds an APIError from an error response body of the
// form {"error": {"status": ..., "message": ...}}.
func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := http.StatusText(resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		message = body.Error.Message
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
