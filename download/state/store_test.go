package state

import (
	"errors"
	"testing"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s := New(opts, nil)
	t.Cleanup(s.Close)
	return s
}

func TestAppendAssignsDenseStatusIDs(t *testing.T) {
	s := newTestStore(t, Options{})

	for i, st := range []task.Status{task.StatusQueued, task.StatusProcessing, task.StatusDownloading} {
		id, err := s.Append("t1", task.StatusEntry{Status: st})
		if err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if id != i+1 {
			t.Errorf("Append(%d) id = %d, want %d", i, id, i+1)
		}
	}

	entries := s.Statuses("t1")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.StatusID != i+1 {
			t.Errorf("entry %d id = %d, want dense ids from 1", i, e.StatusID)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d missing timestamp", i)
		}
	}
}

func TestAppendAfterTerminalRejected(t *testing.T) {
	s := newTestStore(t, Options{})

	if _, err := s.Append("t1", task.StatusEntry{Status: task.StatusQueued}); err != nil {
		t.Fatalf("Append(queued) error = %v", err)
	}
	if _, err := s.Append("t1", task.StatusEntry{Status: task.StatusCancelled}); err != nil {
		t.Fatalf("Append(cancelled) error = %v", err)
	}

	_, err := s.Append("t1", task.StatusEntry{Status: task.StatusDownloading})
	if !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("Append after terminal error = %v, want ErrTerminalStatus", err)
	}

	last, ok := s.LastStatus("t1")
	if !ok || last.Status != task.StatusCancelled {
		t.Errorf("last status = %v, want cancelled preserved", last.Status)
	}
}

func TestInfoRoundTripAndUpdate(t *testing.T) {
	s := newTestStore(t, Options{})

	s.PutInfo(&task.Info{
		TaskID:      "t1",
		Kind:        task.KindAlbum,
		SourceURL:   "https://open.spotify.com/album/x",
		OrigRequest: map[string]string{"service": "spotify"},
		CreatedAt:   time.Now(),
	})

	got, ok := s.Info("t1")
	if !ok {
		t.Fatal("Info() not found")
	}
	if got.Kind != task.KindAlbum {
		t.Errorf("kind = %v", got.Kind)
	}

	// Mutating the returned copy must not leak into the store.
	got.OrigRequest["service"] = "deezer"
	again, _ := s.Info("t1")
	if again.OrigRequest["service"] != "spotify" {
		t.Error("Info() returned a shared map")
	}

	if err := s.UpdateInfo("t1", func(in *task.Info) { in.CompletedTracks = 4 }); err != nil {
		t.Fatalf("UpdateInfo() error = %v", err)
	}
	updated, _ := s.Info("t1")
	if updated.CompletedTracks != 4 {
		t.Errorf("CompletedTracks = %d, want 4", updated.CompletedTracks)
	}

	if err := s.UpdateInfo("missing", func(in *task.Info) {}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("UpdateInfo(missing) error = %v, want ErrUnknownTask", err)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := newTestStore(t, Options{})

	ch, cancel := s.Subscribe("t1")
	defer cancel()

	if _, err := s.Append("t1", task.StatusEntry{Status: task.StatusQueued}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := s.Append("t1", task.StatusEntry{Status: task.StatusProcessing}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	for i, want := range []task.Status{task.StatusQueued, task.StatusProcessing} {
		select {
		case u := <-ch:
			if u.TaskID != "t1" || u.Status != want || u.StatusID != i+1 {
				t.Errorf("update %d = %+v, want status %v id %d", i, u, want, i+1)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}

func TestSubscribeAllSeesEveryTask(t *testing.T) {
	s := newTestStore(t, Options{})

	ch, cancel := s.SubscribeAll()
	defer cancel()

	s.Append("a", task.StatusEntry{Status: task.StatusQueued})
	s.Append("b", task.StatusEntry{Status: task.StatusQueued})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-ch:
			seen[u.TaskID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want updates from both tasks", seen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestStore(t, Options{})

	ch, cancel := s.Subscribe("t1")
	cancel()

	if _, err := s.Append("t1", task.StatusEntry{Status: task.StatusQueued}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// The channel is closed by cancel; a receive must not yield an update.
	select {
	case u, ok := <-ch:
		if ok {
			t.Errorf("received %+v after unsubscribe", u)
		}
	default:
	}
}

func TestSlowSubscriberDoesNotBlockAppend(t *testing.T) {
	s := newTestStore(t, Options{})

	_, cancel := s.Subscribe("t1")
	defer cancel()

	// Never read from the channel; appends beyond the buffer must still
	// return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+8; i++ {
			s.Append("t1", task.StatusEntry{Status: task.StatusProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("appends blocked on a slow subscriber")
	}
}

func TestStatusesSince(t *testing.T) {
	s := newTestStore(t, Options{})

	for _, st := range []task.Status{task.StatusQueued, task.StatusProcessing, task.StatusDownloading, task.StatusDone} {
		if _, err := s.Append("t1", task.StatusEntry{Status: st}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	since := s.StatusesSince("t1", 2)
	if len(since) != 2 {
		t.Fatalf("StatusesSince(2) len = %d, want 2", len(since))
	}
	if since[0].StatusID != 3 || since[1].StatusID != 4 {
		t.Errorf("ids = %d,%d, want 3,4", since[0].StatusID, since[1].StatusID)
	}

	if got := s.StatusesSince("t1", 10); got != nil {
		t.Errorf("StatusesSince(10) = %v, want nil", got)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	s := newTestStore(t, Options{})

	base := time.Now()
	s.PutInfo(&task.Info{TaskID: "later", CreatedAt: base.Add(time.Minute)})
	s.PutInfo(&task.Info{TaskID: "earlier", CreatedAt: base})
	s.Append("earlier", task.StatusEntry{Status: task.StatusQueued})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].Info.TaskID != "earlier" || list[1].Info.TaskID != "later" {
		t.Errorf("order = %s,%s, want earlier,later", list[0].Info.TaskID, list[1].Info.TaskID)
	}
	if list[0].Last.Status != task.StatusQueued {
		t.Errorf("earlier last status = %v, want queued", list[0].Last.Status)
	}
}

func TestJanitorEvictsExpired(t *testing.T) {
	s := newTestStore(t, Options{TTL: 30 * time.Millisecond, JanitorInterval: 10 * time.Millisecond})
	s.StartJanitor()

	s.PutInfo(&task.Info{TaskID: "t1", CreatedAt: time.Now()})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expired record never evicted")
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := newTestStore(t, Options{})

	s.PutInfo(&task.Info{TaskID: "t1", CreatedAt: time.Now()})
	s.Append("t1", task.StatusEntry{Status: task.StatusQueued})
	s.Delete("t1")

	if _, ok := s.Info("t1"); ok {
		t.Error("Info() found deleted task")
	}
	if got := s.Statuses("t1"); got != nil {
		t.Errorf("Statuses() = %v after delete", got)
	}
}
