package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/metadata"
	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/ratelimit"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	testArtistURL = "https://open.spotify.com/artist/7MhMgCo0Bl0Kukl93PZbYS"
	testArtistID  = "7MhMgCo0Bl0Kukl93PZbYS"
	testTrackURL  = "https://open.spotify.com/track/4iV5W9uYEdYUVa79Axb7Rh"
	testAlbumID   = "1301WleyT98MSxVHPZCA6M"
)

// runProbe is a scheduler RunFunc that records task ids and optionally
// blocks each job until released or cancelled.
type runProbe struct {
	mu      sync.Mutex
	ids     []string
	release chan struct{}
}

func newRunProbe(blocking bool) *runProbe {
	p := &runProbe{}
	if blocking {
		p.release = make(chan struct{})
	}
	return p
}

func (p *runProbe) run(ctx context.Context, taskID string) {
	p.mu.Lock()
	p.ids = append(p.ids, taskID)
	p.mu.Unlock()
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
		}
	}
}

func (p *runProbe) startedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
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

// newTestOrchestrator wires the submission path against a fake catalogue
// server. Only the components the submit and stats paths touch are set.
func newTestOrchestrator(t *testing.T, handler http.Handler, probe *runProbe) *Orchestrator {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	spotifyClient, err := spotify.NewClient(context.Background(), spotify.Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	deezerClient := deezer.NewClient(deezer.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})

	limiter := ratelimit.New(ratelimit.Options{Burst: 50, Sustained: 500, Window: 30 * time.Second}, nil)
	provider := metadata.NewProvider(spotifyClient, deezerClient, limiter, metadata.Options{}, nil)
	t.Cleanup(provider.Close)

	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)

	sched := queue.NewScheduler(st, probe.run, func() queue.Defaults {
		return queue.Defaults{Service: "spotify", SpotifyQuality: "NORMAL", MaxRetries: 3}
	}, queue.Options{DownloadsConcurrency: 2}, nil)
	t.Cleanup(sched.Close)

	o := &Orchestrator{
		limiter:   limiter,
		provider:  provider,
		state:     st,
		scheduler: sched,
		logger:    log.New(io.Discard),
	}
	o.stats = NewStatsTracker(filepath.Join(t.TempDir(), "stats.json"), limiter.LimitedCount)
	return o
}

// discographyHandler serves an artist lookup plus a single-page album
// listing.
func discographyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/albums") {
			fmt.Fprint(w, `{
				"items": [
					{"id": "1301WleyT98MSxVHPZCA6M", "name": "Doolittle", "album_type": "album", "album_group": "album", "total_tracks": 15},
					{"id": "2up3OPMp9Tb4dAKM2erWXQ", "name": "Velouria", "album_type": "single", "album_group": "single", "total_tracks": 1},
					{"id": "6akEvsycLGftJxYudPjmqK", "name": "Tribute Sessions", "album_type": "album", "album_group": "appears_on", "total_tracks": 12}
				],
				"total": 3,
				"next": null
			}`)
			return
		}
		fmt.Fprint(w, `{"id": "7MhMgCo0Bl0Kukl93PZbYS", "name": "Pixies"}`)
	})
}

func TestSubmit_TrackQueuesOneTask(t *testing.T) {
	probe := newRunProbe(false)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	res, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindTrack,
		SourceURL: testTrackURL,
		Display:   task.Display{Name: "Debaser", Artist: "Pixies"},
		Submitter: "api",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Queued) != 1 {
		t.Fatalf("Queued = %v, want exactly one id", res.Queued)
	}

	info, ok := o.state.Info(res.Queued[0])
	if !ok {
		t.Fatalf("no task info for %s", res.Queued[0])
	}
	if info.Kind != task.KindTrack || info.Display.Name != "Debaser" {
		t.Errorf("task info = %s %q, want track Debaser", info.Kind, info.Display.Name)
	}
}

func TestSubmit_DuplicateTrackSurfacesExistingID(t *testing.T) {
	probe := newRunProbe(true)
	defer close(probe.release)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	first, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindTrack,
		SourceURL: testTrackURL,
	})
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	_, err = o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindTrack,
		SourceURL: testTrackURL,
	})
	var dup *queue.DuplicateDownloadError
	if !errors.As(err, &dup) {
		t.Fatalf("second Submit() error = %v, want DuplicateDownloadError", err)
	}
	if dup.ExistingTaskID != first.Queued[0] {
		t.Errorf("ExistingTaskID = %s, want %s", dup.ExistingTaskID, first.Queued[0])
	}
}

func TestSubmit_ArtistFansOutMatchingAlbums(t *testing.T) {
	probe := newRunProbe(false)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	res, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindArtist,
		SourceURL: testArtistURL,
		Display:   task.Display{Name: "Pixies"},
		Submitter: "api",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Queued) != 2 {
		t.Fatalf("Queued = %v, want the album and the single but not appears_on", res.Queued)
	}
	if len(res.Duplicates) != 0 {
		t.Errorf("Duplicates = %v, want none", res.Duplicates)
	}

	names := map[string]bool{}
	for _, id := range res.Queued {
		info, ok := o.state.Info(id)
		if !ok {
			t.Fatalf("no task info for %s", id)
		}
		if info.Kind != task.KindAlbum {
			t.Errorf("task %s kind = %s, want album", id, info.Kind)
		}
		if info.Display.Artist != "Pixies" {
			t.Errorf("task %s artist = %q, want Pixies", id, info.Display.Artist)
		}
		if got := info.OrigRequest["artist_id"]; got != testArtistID {
			t.Errorf("task %s artist_id = %q, want %s", id, got, testArtistID)
		}
		if info.OrigRequest["album_id"] == "" {
			t.Errorf("task %s has no album_id", id)
		}
		names[info.Display.Name] = true
	}
	if !names["Doolittle"] || !names["Velouria"] {
		t.Errorf("queued albums = %v, want Doolittle and Velouria", names)
	}
}

func TestSubmit_ArtistFanOutHonoursAlbumTypeFilter(t *testing.T) {
	probe := newRunProbe(false)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	res, err := o.Submit(context.Background(), queue.Submission{
		Kind:        task.KindArtist,
		SourceURL:   testArtistURL,
		OrigRequest: map[string]string{"album_type": "appears_on"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Queued) != 1 {
		t.Fatalf("Queued = %v, want only the appears_on release", res.Queued)
	}
	info, _ := o.state.Info(res.Queued[0])
	if info == nil || info.Display.Name != "Tribute Sessions" {
		t.Errorf("queued album = %+v, want Tribute Sessions", info)
	}
}

func TestSubmit_ArtistFanOutCollectsDuplicates(t *testing.T) {
	probe := newRunProbe(true)
	defer close(probe.release)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	existing, err := o.scheduler.Submit(queue.Submission{
		Kind:      task.KindAlbum,
		SourceURL: "https://open.spotify.com/album/" + testAlbumID,
	})
	if err != nil {
		t.Fatalf("seeding album submit error = %v", err)
	}

	res, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindArtist,
		SourceURL: testArtistURL,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Queued) != 1 {
		t.Errorf("Queued = %v, want just the single", res.Queued)
	}
	dupURL := spotify.CanonicalURL("album", testAlbumID)
	if got := res.Duplicates[dupURL]; got != existing {
		t.Errorf("Duplicates[%s] = %q, want %s", dupURL, got, existing)
	}
}

func TestSubmit_ArtistFanOutPaginates(t *testing.T) {
	probe := newRunProbe(false)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/albums") {
			fmt.Fprint(w, `{"id": "7MhMgCo0Bl0Kukl93PZbYS", "name": "Pixies"}`)
			return
		}
		if r.URL.Query().Get("offset") == "0" || r.URL.Query().Get("offset") == "" {
			fmt.Fprint(w, `{
				"items": [{"id": "1301WleyT98MSxVHPZCA6M", "name": "Doolittle", "album_type": "album", "album_group": "album"}],
				"total": 2,
				"next": "https://api.spotify.com/v1/artists/7MhMgCo0Bl0Kukl93PZbYS/albums?offset=1"
			}`)
			return
		}
		fmt.Fprint(w, `{
			"items": [{"id": "2up3OPMp9Tb4dAKM2erWXQ", "name": "Bossanova", "album_type": "album", "album_group": "album"}],
			"total": 2,
			"next": null
		}`)
	})
	o := newTestOrchestrator(t, handler, probe)

	res, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindArtist,
		SourceURL: testArtistURL,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(res.Queued) != 2 {
		t.Errorf("Queued = %v, want one album per page", res.Queued)
	}
}

func TestSubmit_ArtistRejectsWrongKindURL(t *testing.T) {
	probe := newRunProbe(false)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	_, err := o.Submit(context.Background(), queue.Submission{
		Kind:      task.KindArtist,
		SourceURL: testTrackURL,
	})
	if err == nil || !strings.Contains(err.Error(), "expected an artist reference") {
		t.Fatalf("Submit() error = %v, want artist reference mismatch", err)
	}
}

func TestFanOutGroups(t *testing.T) {
	defaults := fanOutGroups("")
	for _, g := range []string{"album", "single", "compilation"} {
		if !defaults[g] {
			t.Errorf("default groups missing %s", g)
		}
	}
	if defaults["appears_on"] {
		t.Error("appears_on should be opt-in")
	}

	narrowed := fanOutGroups("Album, APPEARS_ON")
	if !narrowed["album"] || !narrowed["appears_on"] || len(narrowed) != 2 {
		t.Errorf("narrowed groups = %v, want album and appears_on only", narrowed)
	}

	blank := fanOutGroups(" , ")
	if len(blank) != 3 {
		t.Errorf("blank filter = %v, want the defaults", blank)
	}
}

func TestCancelAll(t *testing.T) {
	probe := newRunProbe(true)
	defer close(probe.release)
	o := newTestOrchestrator(t, discographyHandler(), probe)

	var ids []string
	for _, url := range []string{
		testTrackURL,
		"https://open.spotify.com/track/2TpxZ7JUBn3uw46aR7qd6V",
	} {
		res, err := o.Submit(context.Background(), queue.Submission{Kind: task.KindTrack, SourceURL: url})
		if err != nil {
			t.Fatalf("Submit(%s) error = %v", url, err)
		}
		ids = append(ids, res.Queued...)
	}
	waitFor(t, time.Second, "both jobs to start", func() bool { return probe.startedCount() == 2 })

	if got := o.CancelAll(); got != 2 {
		t.Errorf("CancelAll() = %d, want 2", got)
	}
	for _, id := range ids {
		last, ok := o.state.LastStatus(id)
		if !ok || last.Status != task.StatusCancelled {
			t.Errorf("task %s last status = %v, want cancelled", id, last.Status)
		}
	}

	if got := o.CancelAll(); got != 0 {
		t.Errorf("second CancelAll() = %d, want 0", got)
	}
}

func TestRecordUpdate_CountsOutcomes(t *testing.T) {
	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)
	stats := NewStatsTracker(filepath.Join(t.TempDir(), "stats.json"), nil)

	o := &Orchestrator{state: st, stats: stats, logger: log.New(io.Discard)}

	st.PutInfo(&task.Info{TaskID: "t1", Kind: task.KindTrack})
	st.PutInfo(&task.Info{TaskID: "t2", Kind: task.KindTrack, RetryCount: 1, RetryOf: "t1"})

	o.recordUpdate(task.Update{TaskID: "t1", Status: task.StatusQueued})
	o.recordUpdate(task.Update{TaskID: "t1", Status: task.StatusTrackComplete})
	o.recordUpdate(task.Update{TaskID: "t1", Status: task.StatusSkipped})
	o.recordUpdate(task.Update{TaskID: "t1", Status: task.StatusError})
	o.recordUpdate(task.Update{TaskID: "t2", Status: task.StatusQueued})
	o.recordUpdate(task.Update{TaskID: "t2", Status: task.StatusComplete})
	o.recordUpdate(task.Update{TaskID: "t3", Status: task.StatusCancelled})

	snap := stats.Snapshot()
	if snap.Session.TasksCompleted != 1 || snap.Session.TasksFailed != 1 || snap.Session.TasksCancelled != 1 {
		t.Errorf("task counters = %d/%d/%d, want 1/1/1",
			snap.Session.TasksCompleted, snap.Session.TasksFailed, snap.Session.TasksCancelled)
	}
	if snap.Session.TracksDownloaded != 1 || snap.Session.TracksSkipped != 1 {
		t.Errorf("track counters = %d/%d, want 1/1",
			snap.Session.TracksDownloaded, snap.Session.TracksSkipped)
	}
	if snap.Session.Retries != 1 {
		t.Errorf("Retries = %d, want only the requeued task counted", snap.Session.Retries)
	}
}

func TestTrackStats_FollowsFirehose(t *testing.T) {
	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)
	stats := NewStatsTracker(filepath.Join(t.TempDir(), "stats.json"), nil)
	o := &Orchestrator{state: st, stats: stats, logger: log.New(io.Discard)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.trackStats(ctx)
	}()

	st.PutInfo(&task.Info{TaskID: "t1", Kind: task.KindTrack})
	if _, err := st.Append("t1", task.StatusEntry{Status: task.StatusProcessing}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := st.Append("t1", task.StatusEntry{Status: task.StatusComplete}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	waitFor(t, time.Second, "the completion to be counted", func() bool {
		return stats.Snapshot().Session.TasksCompleted == 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trackStats did not stop on cancel")
	}
}
