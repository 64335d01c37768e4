package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	trackURL = "https://open.spotify.com/track/4iV5W9uYEdYUVa79Axb7Rh"
	trackURI = "spotify:track:4iV5W9uYEdYUVa79Axb7Rh"
	albumURL = "https://open.spotify.com/album/1301WleyT98MSxVHPZCA6M"
)

func testDefaults() Defaults {
	return Defaults{
		Service:        "spotify",
		Fallback:       true,
		SpotifyQuality: "NORMAL",
		DeezerQuality:  "MP3_320",
		MaxRetries:     3,
	}
}

// runRecorder is a RunFunc that records invocations and blocks each job
// until its context is cancelled or the recorder is released.
type runRecorder struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func newRunRecorder(blocking bool) *runRecorder {
	r := &runRecorder{}
	if blocking {
		r.release = make(chan struct{})
	}
	return r
}

func (r *runRecorder) run(ctx context.Context, taskID string) {
	r.mu.Lock()
	r.started = append(r.started, taskID)
	r.mu.Unlock()
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
}

func (r *runRecorder) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.started))
	copy(out, r.started)
	return out
}

func newTestScheduler(t *testing.T, run RunFunc, d Defaults) (*Scheduler, *state.Store) {
	t.Helper()
	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)
	s := NewScheduler(st, run, func() Defaults { return d }, Options{DownloadsConcurrency: 2}, nil)
	t.Cleanup(s.Close)
	return s, st
}

func TestSubmitAssignsQueuedStatus(t *testing.T) {
	rec := newRunRecorder(false)
	s, st := newTestScheduler(t, rec.run, testDefaults())

	id, err := s.Submit(Submission{
		Kind:      task.KindTrack,
		SourceURL: trackURL,
		Display:   task.Display{Name: "Song", Artist: "Artist"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id == "" {
		t.Fatal("Submit() returned empty task id")
	}

	info, ok := st.Info(id)
	if !ok {
		t.Fatal("task info not stored")
	}
	if info.SourceURL != trackURL {
		t.Errorf("SourceURL = %q, want canonical %q", info.SourceURL, trackURL)
	}
	if info.Parameters.Service != "spotify" || !info.Parameters.Fallback {
		t.Errorf("parameters = %+v, want config defaults merged in", info.Parameters)
	}

	statuses := st.Statuses(id)
	if len(statuses) == 0 || statuses[0].Status != task.StatusQueued {
		t.Fatalf("statuses = %v, want initial queued entry", statuses)
	}
	if statuses[0].QueuePosition != 1 {
		t.Errorf("queue_position = %d, want 1", statuses[0].QueuePosition)
	}

	waitFor(t, time.Second, "worker to pick up task", func() bool {
		return len(rec.startedIDs()) == 1
	})
}

func TestSubmitDuplicateReturnsExistingID(t *testing.T) {
	rec := newRunRecorder(true)
	defer func() {
		if rec.release != nil {
			close(rec.release)
		}
	}()
	s, _ := newTestScheduler(t, rec.run, testDefaults())

	first, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURI, Display: task.Display{Name: "Song"}})
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	// Same track through a different URL form must fingerprint identically.
	second, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL + "?si=share"})
	var dup *DuplicateDownloadError
	if !errors.As(err, &dup) {
		t.Fatalf("second Submit() error = %v, want DuplicateDownloadError", err)
	}
	if dup.ExistingTaskID != first || second != first {
		t.Errorf("duplicate returned id %q/%q, want existing %q", second, dup.ExistingTaskID, first)
	}
}

func TestSubmitAfterTerminalAllowsResubmission(t *testing.T) {
	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)
	run := func(ctx context.Context, taskID string) {
		st.Append(taskID, task.StatusEntry{Status: task.StatusComplete})
	}
	s := NewScheduler(st, run, func() Defaults { return testDefaults() }, Options{}, nil)
	t.Cleanup(s.Close)

	first, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL})
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	waitFor(t, time.Second, "first task to complete", func() bool {
		last, ok := st.LastStatus(first)
		return ok && last.Status == task.StatusComplete
	})

	second, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL})
	if err != nil {
		t.Fatalf("resubmission error = %v", err)
	}
	if second == first {
		t.Error("resubmission reused the finished task id")
	}
}

func TestSubmitRejectsArtistAndBadSources(t *testing.T) {
	rec := newRunRecorder(false)
	s, _ := newTestScheduler(t, rec.run, testDefaults())

	if _, err := s.Submit(Submission{Kind: task.KindArtist, SourceURL: "https://open.spotify.com/artist/4iV5W9uYEdYUVa79Axb7Rh"}); err == nil {
		t.Error("expected artist submissions to be rejected")
	}
	if _, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: "https://example.com/nope"}); err == nil {
		t.Error("expected unrecognized source url to be rejected")
	}
	if _, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: albumURL}); err == nil {
		t.Error("expected kind/url mismatch to be rejected")
	}
}

func TestCancelRunningTask(t *testing.T) {
	cancelled := make(chan string, 1)
	run := func(ctx context.Context, taskID string) {
		<-ctx.Done()
		cancelled <- taskID
	}
	s, st := newTestScheduler(t, run, testDefaults())

	id, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitFor(t, time.Second, "task to start", func() bool {
		return s.Downloads().ActiveCount() == 1
	})

	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case got := <-cancelled:
		if got != id {
			t.Errorf("cancelled task %q, want %q", got, id)
		}
	case <-time.After(time.Second):
		t.Fatal("job context never cancelled")
	}

	last, ok := st.LastStatus(id)
	if !ok || last.Status != task.StatusCancelled {
		t.Errorf("last status = %v, want cancelled", last.Status)
	}
}

func TestCancelUnknownAndTerminalIsNoop(t *testing.T) {
	rec := newRunRecorder(false)
	s, st := newTestScheduler(t, rec.run, testDefaults())

	if err := s.Cancel("never-submitted"); err != nil {
		t.Errorf("Cancel(unknown) error = %v, want nil", err)
	}

	st.Append("done-task", task.StatusEntry{Status: task.StatusComplete})
	if err := s.Cancel("done-task"); err != nil {
		t.Errorf("Cancel(terminal) error = %v, want nil", err)
	}
	if entries := st.Statuses("done-task"); len(entries) != 1 {
		t.Errorf("terminal task gained %d extra statuses", len(entries)-1)
	}
}

func TestRetryCreatesDeferredSuccessor(t *testing.T) {
	st := state.New(state.Options{}, nil)
	t.Cleanup(st.Close)

	var mu sync.Mutex
	var runs []string
	run := func(ctx context.Context, taskID string) {
		mu.Lock()
		runs = append(runs, taskID)
		first := len(runs) == 1
		mu.Unlock()
		if first {
			st.Append(taskID, task.StatusEntry{Status: task.StatusError, Error: "network down"})
		}
	}
	d := testDefaults()
	s := NewScheduler(st, run, func() Defaults { return d }, Options{}, nil)
	t.Cleanup(s.Close)

	id, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitFor(t, time.Second, "task to fail", func() bool {
		last, ok := st.LastStatus(id)
		return ok && last.Status == task.StatusError
	})

	retryID, err := s.Retry(id)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if retryID == id {
		t.Fatal("Retry() reused the failed task id")
	}

	info, ok := st.Info(retryID)
	if !ok {
		t.Fatal("retry info not stored")
	}
	if info.RetryOf != id || info.RetryCount != 1 {
		t.Errorf("retry info = retry_of %q count %d, want %q and 1", info.RetryOf, info.RetryCount, id)
	}

	waitFor(t, time.Second, "retry to run", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 2 && runs[1] == retryID
	})
}

func TestRetryPreconditions(t *testing.T) {
	rec := newRunRecorder(true)
	defer close(rec.release)
	d := testDefaults()
	d.MaxRetries = 1
	s, st := newTestScheduler(t, rec.run, d)

	if _, err := s.Retry("missing"); !errors.Is(err, state.ErrUnknownTask) {
		t.Errorf("Retry(unknown) error = %v, want ErrUnknownTask", err)
	}

	id, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := s.Retry(id); !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("Retry(non-error task) error = %v, want ErrRetryNotAllowed", err)
	}

	// Push the task over the retry limit by hand.
	if err := st.UpdateInfo(id, func(in *task.Info) { in.RetryCount = 1 }); err != nil {
		t.Fatalf("UpdateInfo() error = %v", err)
	}
	st.Append(id, task.StatusEntry{Status: task.StatusError, Error: "boom"})
	if _, err := s.Retry(id); !errors.Is(err, ErrRetryLimitReached) {
		t.Errorf("Retry(exhausted) error = %v, want ErrRetryLimitReached", err)
	}
}

func TestPauseDefersAndResumeReleases(t *testing.T) {
	rec := newRunRecorder(false)
	s, _ := newTestScheduler(t, rec.run, testDefaults())

	s.Pause()
	if !s.IsPaused() {
		t.Fatal("IsPaused() = false after Pause()")
	}

	if _, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := rec.startedIDs(); len(got) != 0 {
		t.Fatalf("paused queue ran %d jobs", len(got))
	}
	if s.Downloads().DeferredCount() != 1 {
		t.Errorf("DeferredCount() = %d, want 1 while paused", s.Downloads().DeferredCount())
	}

	s.Resume()
	waitFor(t, time.Second, "released job to run", func() bool {
		return len(rec.startedIDs()) == 1
	})
}

func TestListReturnsSummaries(t *testing.T) {
	rec := newRunRecorder(true)
	defer close(rec.release)
	s, _ := newTestScheduler(t, rec.run, testDefaults())

	trackID, err := s.Submit(Submission{Kind: task.KindTrack, SourceURL: trackURL, Display: task.Display{Name: "Song"}})
	if err != nil {
		t.Fatalf("Submit(track) error = %v", err)
	}
	albumID, err := s.Submit(Submission{Kind: task.KindAlbum, SourceURL: albumURL, Display: task.Display{Name: "Album"}})
	if err != nil {
		t.Fatalf("Submit(album) error = %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	byID := map[string]TaskSummary{}
	for _, ts := range list {
		byID[ts.TaskID] = ts
	}
	if byID[trackID].Kind != task.KindTrack || byID[trackID].Display.Name != "Song" {
		t.Errorf("track summary = %+v", byID[trackID])
	}
	if byID[albumID].Kind != task.KindAlbum {
		t.Errorf("album summary = %+v", byID[albumID])
	}
	for id, ts := range byID {
		if ts.Status == "" || ts.Timestamp.IsZero() {
			t.Errorf("summary %s missing status/timestamp: %+v", id, ts)
		}
	}
}

func TestMergeParameters(t *testing.T) {
	d := Defaults{
		Service:        "spotify",
		Fallback:       true,
		SpotifyQuality: "NORMAL",
		RealTime:       true,
		ConvertTo:      "mp3",
	}

	got := mergeParameters(d, nil)
	if got.Service != "spotify" || !got.Fallback || !got.RealTime {
		t.Errorf("mergeParameters(nil) = %+v, want pure defaults", got)
	}

	service := "deezer"
	realTime := false
	got = mergeParameters(d, &ParameterOverrides{Service: &service, RealTime: &realTime})
	if got.Service != "deezer" {
		t.Errorf("Service = %q, want override", got.Service)
	}
	if got.RealTime {
		t.Error("RealTime override to false ignored")
	}
	if got.ConvertTo != "mp3" || !got.Fallback {
		t.Errorf("untouched defaults changed: %+v", got)
	}
}

func TestMonitorResizesDownloadsPool(t *testing.T) {
	var mu sync.Mutex
	want := 2
	read := func() int {
		mu.Lock()
		defer mu.Unlock()
		return want
	}

	p := NewPool("downloads", 2, nil)
	defer p.Stop()
	m := NewMonitor(p, read, 20*time.Millisecond, nil)
	m.Start()
	defer m.Stop()

	mu.Lock()
	want = 5
	mu.Unlock()

	waitFor(t, time.Second, "monitor to resize pool", func() bool {
		return p.Concurrency() == 5
	})
}
