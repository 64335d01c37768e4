// Package handlers implements the HTTP API of the control platform. Every
// handler is a thin adapter over the download orchestrator's components:
// the scheduler, the task state store, the history and watch databases,
// the config manager, and the stats tracker.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download"
)

// Handlers holds all HTTP handlers for the control platform.
type Handlers struct {
	orch      *download.Orchestrator
	version   string
	startTime time.Time
	logger    *log.Logger
	tasks     *TaskBroadcaster
}

// NewHandlers creates a new handlers instance over a wired orchestrator.
func NewHandlers(orch *download.Orchestrator, version string, startTime time.Time, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Handlers{
		orch:      orch,
		version:   version,
		startTime: startTime,
		logger:    logger,
		tasks:     NewTaskBroadcaster(orch.State(), logger),
	}
}

// Tasks returns the WebSocket broadcaster so the server can run its feed.
func (h *Handlers) Tasks() *TaskBroadcaster {
	return h.tasks
}

// logError logs an error with context.
func (h *Handlers) logError(operation string, err error) {
	h.logger.Error("handler error", "operation", operation, "error", err)
}

// writeJSON writes payload as a JSON response with the given status code.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encoding response failed", "error", err)
	}
}
