package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spotizerr-dev/spotizerr-sub000/download/config"
)

// ConfigGet handles GET /api/config - the effective configuration plus its
// file path, content digest, and any queued update.
func (h *Handlers) ConfigGet(w http.ResponseWriter, r *http.Request) {
	manager := h.orch.Config()

	response := map[string]interface{}{
		"config": manager.Get(),
		"path":   manager.Path(),
		"digest": manager.Digest(),
	}
	if pending, ok := manager.PendingUpdate(); ok {
		response["pending_update"] = pending
	}
	h.writeJSON(w, http.StatusOK, response)
}

// ConfigPut handles PUT /api/config - update the configuration. The body
// is validated first; while downloads are running the update is queued and
// applied between jobs, otherwise it is saved immediately.
func (h *Handlers) ConfigPut(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}

	manager := h.orch.Config()
	downloads := h.orch.Scheduler().Downloads()
	queued := downloads.ActiveCount() > 0

	var err error
	if queued {
		err = manager.QueueUpdate(&cfg)
	} else {
		err = manager.Save(&cfg)
	}
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "Config validation failed",
				"message": err.Error(),
			})
			return
		}
		h.logError("ConfigPut", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to save configuration",
			"message": err.Error(),
		})
		return
	}

	response := map[string]interface{}{
		"message": "Config updated",
		"path":    manager.Path(),
		"queued":  queued,
	}
	if queued {
		response["message"] = "Config update queued; it will be applied once the running downloads finish"
	}
	h.writeJSON(w, http.StatusOK, response)
}
