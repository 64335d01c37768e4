package queue

import (
	"errors"
	"fmt"
)

// DuplicateDownloadError reports a submission whose (kind, canonical
// source) matches a task that has not yet reached a terminal status. The
// existing task id is returned so callers can surface it.
type DuplicateDownloadError struct {
	ExistingTaskID string
}

func (e *DuplicateDownloadError) Error() string {
	return fmt.Sprintf("duplicate download: task %s is already active", e.ExistingTaskID)
}

// ErrRetryNotAllowed is returned when the task's last status is not ERROR.
var ErrRetryNotAllowed = errors.New("task is not in a retryable state")

// ErrRetryLimitReached is returned when the task exhausted its retries.
var ErrRetryLimitReached = errors.New("retry limit reached")
