package handlers

import "net/http"

// Stats handles GET /api/stats - cumulative and session counters plus the
// live queue and metadata cache gauges.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.orch.Stats().Snapshot()
	downloads := h.orch.Scheduler().Downloads()
	cache := h.orch.Provider().CacheStats()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cumulative": snapshot.Cumulative,
		"session":    snapshot.Session,
		"queue": map[string]interface{}{
			"concurrency": downloads.Concurrency(),
			"active":      downloads.ActiveCount(),
			"queued":      downloads.QueuedCount(),
			"deferred":    downloads.DeferredCount(),
			"paused":      h.orch.Scheduler().IsPaused(),
		},
		"metadata_cache": map[string]interface{}{
			"size":      cache.Size,
			"max_size":  cache.MaxSize,
			"hits":      cache.Hits,
			"misses":    cache.Misses,
			"evictions": cache.Evictions,
			"hit_rate":  cache.HitRate,
		},
	})
}

// StatsReset handles POST /api/stats/reset - zero the cumulative counters.
// Session counters restart from the same instant.
func (h *Handlers) StatsReset(w http.ResponseWriter, r *http.Request) {
	h.orch.Stats().Reset()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Statistics reset",
	})
}
