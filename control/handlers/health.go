package handlers

import (
	"net/http"
	"time"
)

// Health handles GET /api/health - JSON healthcheck endpoint for Docker
// HEALTHCHECK. Reports per-component gauges; an active rate-limit barrier
// marks the service degraded but not unhealthy.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	scheduler := h.orch.Scheduler()
	downloads := scheduler.Downloads()
	limiter := h.orch.Limiter()

	status := "healthy"
	reason := "Server is responding"

	queueComponent := map[string]interface{}{
		"paused":      scheduler.IsPaused(),
		"concurrency": downloads.Concurrency(),
		"active":      downloads.ActiveCount(),
		"queued":      downloads.QueuedCount(),
		"deferred":    downloads.DeferredCount(),
	}

	burst, sustained := limiter.Usage()
	limiterComponent := map[string]interface{}{
		"burst_window_used":     burst,
		"sustained_window_used": sustained,
		"limited_count":         limiter.LimitedCount(),
	}
	if barrier := limiter.BarrierInfo(); barrier != nil && barrier.Active {
		limiterComponent["barrier"] = barrier
		status = "degraded"
		reason = "Rate limit barrier active; downloads are waiting"
	}

	cfg := h.orch.Config().Get()
	watchComponent := map[string]interface{}{
		"enabled":               cfg.Watch.Enabled,
		"poll_interval_seconds": cfg.Watch.PollIntervalSeconds,
	}

	response := map[string]interface{}{
		"status":         status,
		"reason":         reason,
		"version":        h.version,
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(h.orch.Uptime().Seconds()),
		"components": map[string]interface{}{
			"queue":        queueComponent,
			"rate_limiter": limiterComponent,
			"watch":        watchComponent,
			"tasks":        map[string]interface{}{"tracked": h.orch.State().Count()},
			"websocket":    map[string]interface{}{"clients": h.tasks.ClientCount()},
		},
		"config_digest": h.orch.Config().Digest(),
	}

	h.writeJSON(w, http.StatusOK, response)
}
