package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func putConfig(t *testing.T, h *Handlers, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/config", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ConfigPut(w, req)
	return w
}

func TestConfigGet(t *testing.T) {
	h := newTestHandlers(t, newStubFetcher(false))

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	h.ConfigGet(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	payload := decodeBody(t, w)
	cfg, ok := payload["config"].(map[string]interface{})
	if !ok {
		t.Fatalf("config is %T, want object", payload["config"])
	}
	if cfg["maxConcurrentDownloads"] == nil {
		t.Error("config missing maxConcurrentDownloads")
	}
	if payload["path"] == "" || payload["path"] == nil {
		t.Error("expected config path in response")
	}
	if payload["digest"] == "" || payload["digest"] == nil {
		t.Error("expected config digest in response")
	}
	if _, ok := payload["pending_update"]; ok {
		t.Error("pending_update present with no queued update")
	}
}

func TestConfigPut_AppliesImmediatelyWhenIdle(t *testing.T) {
	h := newTestHandlers(t, newStubFetcher(false))

	cfg := h.orch.Config().Get()
	cfg.MaxConcurrentDownloads = 5
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}

	w := putConfig(t, h, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["queued"] != false {
		t.Errorf("queued = %v, want false", payload["queued"])
	}

	if got := h.orch.Config().Get().MaxConcurrentDownloads; got != 5 {
		t.Errorf("MaxConcurrentDownloads = %d, want 5", got)
	}
}

func TestConfigPut_InvalidBody(t *testing.T) {
	h := newTestHandlers(t, newStubFetcher(false))

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ConfigPut(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestConfigPut_RejectsInvalidValues(t *testing.T) {
	h := newTestHandlers(t, newStubFetcher(false))

	cfg := h.orch.Config().Get()
	cfg.MaxConcurrentDownloads = -1
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}

	w := putConfig(t, h, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["error"] != "Config validation failed" {
		t.Errorf("error = %v, want Config validation failed", payload["error"])
	}
}

func TestConfigPut_QueuedWhileDownloadsRun(t *testing.T) {
	fetcher := newStubFetcher(true)
	h := newTestHandlers(t, fetcher)

	submitTrack(t, h, testTrackURL)
	waitFor(t, 2*time.Second, "download to start", func() bool {
		return h.orch.Scheduler().Downloads().ActiveCount() > 0
	})

	cfg := h.orch.Config().Get()
	cfg.MaxRetries = 7
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshaling config: %v", err)
	}

	w := putConfig(t, h, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["queued"] != true {
		t.Errorf("queued = %v, want true", payload["queued"])
	}
	if _, ok := h.orch.Config().PendingUpdate(); !ok {
		t.Error("expected a pending config update")
	}
	if got := h.orch.Config().Get().MaxRetries; got == 7 {
		t.Error("queued update applied immediately, want deferred")
	}

	close(fetcher.release)
}
