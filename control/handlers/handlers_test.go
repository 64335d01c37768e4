package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download"
	"github.com/spotizerr-dev/spotizerr-sub000/download/fetch"
)

const (
	testTrackID  = "4iV5W9uYEdYUVa79Axb7Rh"
	testTrackURL = "https://open.spotify.com/track/4iV5W9uYEdYUVa79Axb7Rh"
)

// stubFetcher satisfies the fetch contract without touching the network.
// A blocking stub holds each job until released or cancelled so tests can
// observe live tasks; a non-blocking one finishes immediately with err.
type stubFetcher struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
	err     error
}

func newStubFetcher(blocking bool) *stubFetcher {
	f := &stubFetcher{}
	if blocking {
		f.release = make(chan struct{})
	}
	return f
}

func (f *stubFetcher) Fetch(ctx context.Context, req fetch.Request, cb fetch.Callback) error {
	f.mu.Lock()
	f.started = append(f.started, req.TaskID)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *stubFetcher) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

// newTestHandlers builds handlers over a real component graph rooted in a
// temp directory. The stub fetcher keeps everything offline.
func newTestHandlers(t *testing.T, fetcher fetch.Fetcher) *Handlers {
	t.Helper()
	t.Setenv("SPOTIFY_CLIENT_ID", "test-client-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "test-client-secret")

	dir := t.TempDir()
	orch, err := download.New(download.Options{
		ConfigPath: filepath.Join(dir, "config.yaml"),
		DataDir:    filepath.Join(dir, "data"),
		Fetcher:    fetcher,
		LogWriter:  io.Discard,
	})
	if err != nil {
		t.Fatalf("download.New() error = %v", err)
	}
	t.Cleanup(func() { orch.Close() })

	return NewHandlers(orch, "test", time.Now(), log.New(io.Discard))
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return payload
}
