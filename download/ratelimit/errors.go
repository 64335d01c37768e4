package ratelimit

import "fmt"

// RateLimitError reports that a remote call was refused with HTTP 429.
type RateLimitError struct {
	RetryAfter int   // Seconds to wait before retrying, 0 when the response had no Retry-After header
	Original   error // Original error from the provider client
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited: retry after %d seconds: %v", e.RetryAfter, e.Original)
	}
	return fmt.Sprintf("provider rate limited: %v", e.Original)
}

func (e *RateLimitError) Unwrap() error {
	return e.Original
}
