package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// sseHeartbeat keeps idle SSE connections from being reaped by proxies.
const sseHeartbeat = 1 * time.Second

// taskEvent is one streamed status update: the full status entry with the
// owning task id attached.
type taskEvent struct {
	TaskID string `json:"task_id"`
	task.StatusEntry
}

// PrgsList handles GET /api/prgs/list - summaries of every tracked task.
func (h *Handlers) PrgsList(w http.ResponseWriter, r *http.Request) {
	summaries := h.orch.Scheduler().List()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":  summaries,
		"count":  len(summaries),
		"paused": h.orch.Scheduler().IsPaused(),
	})
}

// PrgsDetail handles GET /api/prgs/{taskID} - task info plus the status log.
func (h *Handlers) PrgsDetail(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	st := h.orch.State()

	info, ok := st.Info(taskID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "Task not found",
			"task_id": taskID,
		})
		return
	}

	statuses := st.Statuses(taskID)
	response := map[string]interface{}{
		"task_id":  taskID,
		"info":     info,
		"statuses": statuses,
	}
	if len(statuses) > 0 {
		response["last_status"] = statuses[len(statuses)-1]
	}
	h.writeJSON(w, http.StatusOK, response)
}

// PrgsRetry handles POST /api/prgs/retry/{taskID} - requeue a failed task.
func (h *Handlers) PrgsRetry(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	newID, err := h.orch.Scheduler().Retry(taskID)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrUnknownTask):
			h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":   "Task not found",
				"task_id": taskID,
			})
		case errors.Is(err, queue.ErrRetryNotAllowed):
			h.writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":   "Task is not in a retryable state",
				"message": err.Error(),
				"task_id": taskID,
			})
		case errors.Is(err, queue.ErrRetryLimitReached):
			h.writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":   "Retry limit reached",
				"message": err.Error(),
				"task_id": taskID,
			})
		default:
			h.logError("PrgsRetry", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   "Failed to retry task",
				"message": err.Error(),
			})
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":  "Retry queued",
		"task_id":  newID,
		"retry_of": taskID,
	})
}

// PrgsCancel handles POST /api/prgs/cancel/{taskID} - cancel one task.
func (h *Handlers) PrgsCancel(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	if err := h.orch.Scheduler().Cancel(taskID); err != nil {
		switch {
		case errors.Is(err, state.ErrUnknownTask):
			h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":   "Task not found",
				"task_id": taskID,
			})
		case errors.Is(err, state.ErrTerminalStatus):
			h.writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":   "Task already finished",
				"task_id": taskID,
			})
		default:
			h.logError("PrgsCancel", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   "Failed to cancel task",
				"message": err.Error(),
			})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Cancellation requested",
		"task_id": taskID,
	})
}

// PrgsCancelAll handles POST /api/prgs/cancel/all - cancel every live task.
func (h *Handlers) PrgsCancelAll(w http.ResponseWriter, r *http.Request) {
	cancelled := h.orch.CancelAll()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Cancellation requested for all active tasks",
		"cancelled": cancelled,
	})
}

// PrgsPause handles POST /api/prgs/pause - defer new download jobs.
func (h *Handlers) PrgsPause(w http.ResponseWriter, r *http.Request) {
	h.orch.Scheduler().Pause()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Queue paused; running downloads continue, new jobs are deferred",
		"paused":  true,
	})
}

// PrgsResume handles POST /api/prgs/resume - release deferred download jobs.
func (h *Handlers) PrgsResume(w http.ResponseWriter, r *http.Request) {
	h.orch.Scheduler().Resume()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Queue resumed",
		"paused":  false,
	})
}

// PrgsStreamTask handles GET /api/prgs/stream/{taskID} - per-task SSE.
// The full status log is replayed first, then live updates follow until
// the task reaches a terminal status or the client disconnects.
func (h *Handlers) PrgsStreamTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	st := h.orch.State()

	if _, ok := st.Info(taskID); !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "Task not found",
			"task_id": taskID,
		})
		return
	}

	setSSEHeaders(w)

	// Subscribe before the snapshot so nothing appended in between is lost;
	// entries already replayed are filtered by status id below.
	updates, cancel := st.Subscribe(taskID)
	defer cancel()

	lastID := 0
	for _, e := range st.Statuses(taskID) {
		writeSSE(w, taskEvent{TaskID: taskID, StatusEntry: e})
		lastID = e.StatusID
		if e.Status.IsTerminal() {
			flush(w)
			return
		}
	}
	flush(w)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.StatusID <= lastID {
				continue
			}
			for _, e := range st.StatusesSince(taskID, lastID) {
				writeSSE(w, taskEvent{TaskID: taskID, StatusEntry: e})
				lastID = e.StatusID
				if e.Status.IsTerminal() {
					flush(w)
					return
				}
			}
			flush(w)
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flush(w)
		case <-r.Context().Done():
			return
		}
	}
}

// PrgsStream handles GET /api/prgs/stream - the global SSE feed. The last
// status of every tracked task is sent as a snapshot, then every update
// follows as it happens.
func (h *Handlers) PrgsStream(w http.ResponseWriter, r *http.Request) {
	st := h.orch.State()

	setSSEHeaders(w)

	updates, cancel := st.SubscribeAll()
	defer cancel()

	for _, snap := range st.List() {
		writeSSE(w, taskEvent{TaskID: snap.Info.TaskID, StatusEntry: snap.Last})
	}
	flush(w)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if e, ok := resolveEntry(st, u); ok {
				writeSSE(w, taskEvent{TaskID: u.TaskID, StatusEntry: e})
				flush(w)
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flush(w)
		case <-r.Context().Done():
			return
		}
	}
}

// resolveEntry fetches the status entry an update notification refers to.
// The entry can be gone when the janitor swept a terminal task between the
// publish and the read.
func resolveEntry(st *state.Store, u task.Update) (task.StatusEntry, bool) {
	for _, e := range st.StatusesSince(u.TaskID, u.StatusID-1) {
		if e.StatusID == u.StatusID {
			return e, true
		}
	}
	return task.StatusEntry{}, false
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeSSE(w http.ResponseWriter, event taskEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
