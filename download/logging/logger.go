// Package logging builds the service's structured loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a leveled logger writing to w with the service name attached
// as a field. service is e.g. "scheduler", "watch", "web-server".
func New(w io.Writer, service string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           levelFromEnv(),
	})
	if service == "" {
		return logger
	}
	return logger.With("service", service)
}

// OpenFileWriter opens the log file at path for appending, creating parent
// directories as needed, and returns a writer that tees to stderr. The
// returned closer flushes and closes the file.
func OpenFileWriter(path string) (io.Writer, func() error, error) {
	logDir := filepath.Dir(path)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return io.MultiWriter(os.Stderr, file), file.Close, nil
}

// NewFile returns a logger that writes to stderr and appends to the log file
// at path.
func NewFile(path, service string) (*log.Logger, func() error, error) {
	w, closeFn, err := OpenFileWriter(path)
	if err != nil {
		return nil, nil, err
	}
	return New(w, service), closeFn, nil
}

// levelFromEnv reads SPOTIZERR_LOG_LEVEL, defaulting to info.
func levelFromEnv() log.Level {
	raw := strings.TrimSpace(os.Getenv("SPOTIZERR_LOG_LEVEL"))
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
