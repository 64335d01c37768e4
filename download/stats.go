package download

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CumulativeStats are lifetime totals across every run of the service.
// They are persisted to a JSON file and survive restarts.
type CumulativeStats struct {
	TasksCompleted   int64   `json:"tasksCompleted"`
	TasksFailed      int64   `json:"tasksFailed"`
	TasksCancelled   int64   `json:"tasksCancelled"`
	TracksDownloaded int64   `json:"tracksDownloaded"`
	TracksSkipped    int64   `json:"tracksSkipped"`
	Retries          int64   `json:"retries"`
	RateLimitHits    int64   `json:"rateLimitHits"`
	SuccessRate      float64 `json:"successRate"`
	FirstStartedAt   int64   `json:"firstStartedAt,omitempty"`
	LastStartedAt    int64   `json:"lastStartedAt,omitempty"`
}

// SessionStats are counters for the current process only.
type SessionStats struct {
	StartedAt        int64 `json:"startedAt"`
	UptimeSeconds    int64 `json:"uptimeSeconds"`
	TasksCompleted   int64 `json:"tasksCompleted"`
	TasksFailed      int64 `json:"tasksFailed"`
	TasksCancelled   int64 `json:"tasksCancelled"`
	TracksDownloaded int64 `json:"tracksDownloaded"`
	TracksSkipped    int64 `json:"tracksSkipped"`
	Retries          int64 `json:"retries"`
	RateLimitHits    int64 `json:"rateLimitHits"`
}

// StatsSnapshot is the stats endpoint payload.
type StatsSnapshot struct {
	Cumulative CumulativeStats `json:"cumulative"`
	Session    SessionStats    `json:"session"`
}

// StatsTracker counts task and track outcomes. Totals loaded from disk at
// startup form an immutable base; the session counters accumulate on top,
// and every save writes base plus session so restarts never double count.
type StatsTracker struct {
	filePath    string
	rateLimited func() int64

	mu         sync.Mutex
	base       CumulativeStats
	session    SessionStats
	rlBaseline int64
}

// NewStatsTracker loads any persisted totals from filePath and stamps the
// session start. rateLimited supplies the live 429 count for this process;
// nil means no rate limit reporting.
func NewStatsTracker(filePath string, rateLimited func() int64) *StatsTracker {
	if rateLimited == nil {
		rateLimited = func() int64 { return 0 }
	}
	t := &StatsTracker{filePath: filePath, rateLimited: rateLimited}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()
	now := time.Now().Unix()
	t.session.StartedAt = now
	if t.base.FirstStartedAt == 0 {
		t.base.FirstStartedAt = now
	}
	t.base.LastStartedAt = now
	t.save()
	return t
}

func (t *StatsTracker) load() {
	data, err := os.ReadFile(t.filePath)
	if err != nil {
		return
	}
	var loaded CumulativeStats
	if err := json.Unmarshal(data, &loaded); err != nil {
		return
	}
	t.base = loaded
}

// save persists the combined totals. Callers hold t.mu. Persistence is
// best effort: a failed write costs at most one session of counters.
func (t *StatsTracker) save() {
	combined := t.combined()
	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return
	}
	if dir := filepath.Dir(t.filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}
	}
	_ = os.WriteFile(t.filePath, data, 0644)
}

// sessionRateLimited is the 429 count attributable to this session.
// Callers hold t.mu.
func (t *StatsTracker) sessionRateLimited() int64 {
	return t.rateLimited() - t.rlBaseline
}

// combined folds the session into the base. Callers hold t.mu.
func (t *StatsTracker) combined() CumulativeStats {
	c := t.base
	c.TasksCompleted += t.session.TasksCompleted
	c.TasksFailed += t.session.TasksFailed
	c.TasksCancelled += t.session.TasksCancelled
	c.TracksDownloaded += t.session.TracksDownloaded
	c.TracksSkipped += t.session.TracksSkipped
	c.Retries += t.session.Retries
	c.RateLimitHits += t.sessionRateLimited()
	if total := c.TasksCompleted + c.TasksFailed; total > 0 {
		c.SuccessRate = float64(c.TasksCompleted) / float64(total) * 100
	}
	return c
}

// RecordTaskCompleted counts a task that reached COMPLETE and persists.
func (t *StatsTracker) RecordTaskCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.TasksCompleted++
	t.save()
}

// RecordTaskFailed counts a task that reached ERROR and persists.
func (t *StatsTracker) RecordTaskFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.TasksFailed++
	t.save()
}

// RecordTaskCancelled counts a task that reached CANCELLED and persists.
func (t *StatsTracker) RecordTaskCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.TasksCancelled++
	t.save()
}

// RecordTrackDownloaded counts one finished track. Not persisted on its
// own; the parent task's terminal record flushes it.
func (t *StatsTracker) RecordTrackDownloaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.TracksDownloaded++
}

// RecordTrackSkipped counts a track skipped as already present.
func (t *StatsTracker) RecordTrackSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.TracksSkipped++
}

// RecordRetry counts a failed task being requeued.
func (t *StatsTracker) RecordRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.Retries++
}

// Snapshot returns the current totals with live uptime and rate limit
// counts filled in.
func (t *StatsTracker) Snapshot() StatsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	session := t.session
	session.UptimeSeconds = time.Now().Unix() - session.StartedAt
	session.RateLimitHits = t.sessionRateLimited()
	return StatsSnapshot{
		Cumulative: t.combined(),
		Session:    session,
	}
}

// Reset zeroes every counter, on disk included. The session start stays.
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	started := t.session.StartedAt
	t.base = CumulativeStats{
		FirstStartedAt: time.Now().Unix(),
		LastStartedAt:  started,
	}
	t.session = SessionStats{StartedAt: started}
	t.rlBaseline = t.rateLimited()
	t.save()
}

// Close flushes the combined totals to disk.
func (t *StatsTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.save()
}
