package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/spotizerr-dev/spotizerr-sub000/download/history"
)

const (
	defaultHistoryLimit = 25
	maxHistoryLimit     = 500
)

// HistoryList handles GET /api/history - page through download history.
// Supported query parameters: limit, offset, type, status.
func (h *Handlers) HistoryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaging(q.Get("limit"), q.Get("offset"))

	opts := history.ListOptions{
		DownloadType: q.Get("type"),
		Status:       q.Get("status"),
		Limit:        limit,
		Offset:       offset,
	}
	entries, total, err := h.orch.History().Entries(opts)
	if err != nil {
		h.logError("HistoryList", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to load history",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// HistorySearch handles GET /api/history/search?q=... - title and artist
// substring search.
func (h *Handlers) HistorySearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Missing search query",
			"message": "provide a q query parameter",
		})
		return
	}
	limit, offset := parsePaging(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))

	entries, total, err := h.orch.History().Search(query, limit, offset)
	if err != nil {
		h.logError("HistorySearch", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Search failed",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"query":   query,
		"limit":   limit,
		"offset":  offset,
	})
}

// HistoryDetail handles GET /api/history/{taskID} - one history entry.
func (h *Handlers) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	entry, err := h.orch.History().EntryByTaskID(taskID)
	if err != nil {
		h.logError("HistoryDetail", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to load history entry",
			"message": err.Error(),
		})
		return
	}
	if entry == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "No history entry for task",
			"task_id": taskID,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// HistoryTracks handles GET /api/history/{taskID}/tracks - per-track rows
// of an album or playlist entry. Track entries have no child rows and
// answer with an empty list.
func (h *Handlers) HistoryTracks(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]

	entry, err := h.orch.History().EntryByTaskID(taskID)
	if err != nil {
		h.logError("HistoryTracks", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to load history entry",
			"message": err.Error(),
		})
		return
	}
	if entry == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "No history entry for task",
			"task_id": taskID,
		})
		return
	}

	tracks := []history.TrackRow{}
	if entry.ChildrenTable != "" {
		tracks, err = h.orch.History().TrackRows(entry.ChildrenTable)
		if err != nil {
			h.logError("HistoryTracks", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   "Failed to load track rows",
				"message": err.Error(),
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": taskID,
		"type":    entry.DownloadType,
		"title":   entry.Title,
		"tracks":  tracks,
		"count":   len(tracks),
	})
}

// HistoryStats handles GET /api/history/stats - per type/status counts.
func (h *Handlers) HistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.History().Stats()
	if err != nil {
		h.logError("HistoryStats", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to compute history stats",
			"message": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HistoryCleanup handles POST /api/history/cleanup?days=N - delete entries
// older than N days together with their child tables.
func (h *Handlers) HistoryCleanup(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid days parameter",
			"message": "days must be a positive integer",
		})
		return
	}

	deleted, droppedTables, err := h.orch.History().Cleanup(days)
	if err != nil {
		h.logError("HistoryCleanup", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Cleanup failed",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "History cleanup complete",
		"days":            days,
		"deleted_entries": deleted,
		"dropped_tables":  len(droppedTables),
	})
}

// parsePaging normalizes limit/offset query values.
func parsePaging(limitRaw, offsetRaw string) (limit, offset int) {
	limit = defaultHistoryLimit
	if n, err := strconv.Atoi(limitRaw); err == nil && n > 0 {
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if n, err := strconv.Atoi(offsetRaw); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}
