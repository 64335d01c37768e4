// Package queue is the task scheduler: it accepts submissions,
// deduplicates them by (kind, canonical source), writes initial state,
// and dispatches work onto two named worker pools. Track, album, and
// playlist tasks run on the downloads pool; fan-out and maintenance work
// runs on the small fixed utility pool.
package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	defaultUtilityConcurrency = 3

	// pauseDeferral parks jobs submitted while the queue is paused; Resume
	// releases them early.
	defaultPauseDeferral = 24 * time.Hour
)

// Defaults are the config-resolved download options merged under caller
// overrides at submit time, plus the retry policy.
type Defaults struct {
	Service            string
	Fallback           bool
	SpotifyQuality     string
	DeezerQuality      string
	RealTime           bool
	ConvertTo          string
	Bitrate            string
	CustomDirFormat    string
	CustomTrackFormat  string
	TracknumPadding    bool
	PadNumberWidth     int
	MaxRetries         int
	RetryDelaySeconds  int
	RetryDelayIncrease int
}

// ParameterOverrides are caller-supplied download options. Nil fields
// fall back to the configured defaults.
type ParameterOverrides struct {
	Service           *string `json:"service,omitempty"`
	Fallback          *bool   `json:"fallback,omitempty"`
	SpotifyQuality    *string `json:"spotifyQuality,omitempty"`
	DeezerQuality     *string `json:"deezerQuality,omitempty"`
	RealTime          *bool   `json:"realTime,omitempty"`
	ConvertTo         *string `json:"convertTo,omitempty"`
	Bitrate           *string `json:"bitrate,omitempty"`
	CustomDirFormat   *string `json:"customDirFormat,omitempty"`
	CustomTrackFormat *string `json:"customTrackFormat,omitempty"`
	TracknumPadding   *bool   `json:"tracknumPadding,omitempty"`
	PadNumberWidth    *int    `json:"padNumberWidth,omitempty"`
}

// Submission describes one download request.
type Submission struct {
	Kind        task.Kind
	SourceURL   string
	Display     task.Display
	Overrides   *ParameterOverrides
	OrigRequest map[string]string
	FromWatch   bool
	Submitter   string
}

// TaskSummary is the List() row: identity plus the latest status.
type TaskSummary struct {
	TaskID    string       `json:"task_id"`
	Kind      task.Kind    `json:"download_type"`
	Display   task.Display `json:"display"`
	Status    task.Status  `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	RetryOf   string       `json:"retry_of,omitempty"`
	FromWatch bool         `json:"from_watch,omitempty"`
}

// RunFunc executes one task end-to-end. The context is cancelled when
// the task is cancelled or the scheduler shuts down.
type RunFunc func(ctx context.Context, taskID string)

// Options tune the scheduler's pools. Zero values select defaults.
type Options struct {
	DownloadsConcurrency int
	UtilityConcurrency   int
	PauseDeferral        time.Duration
}

// Scheduler owns submission, deduplication, cancellation, retry, and
// pause/resume for download tasks.
type Scheduler struct {
	state    *state.Store
	run      RunFunc
	defaults func() Defaults
	logger   *log.Logger

	downloads *Pool
	utility   *Pool

	rootCtx    context.Context
	rootCancel context.CancelFunc

	pauseDeferral time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	paused  bool
}

// NewScheduler starts both worker pools. defaults is consulted on every
// submit and retry so config changes apply without restart.
func NewScheduler(st *state.Store, run RunFunc, defaults func() Defaults, opts Options, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.DownloadsConcurrency <= 0 {
		opts.DownloadsConcurrency = 3
	}
	if opts.UtilityConcurrency <= 0 {
		opts.UtilityConcurrency = defaultUtilityConcurrency
	}
	if opts.PauseDeferral <= 0 {
		opts.PauseDeferral = defaultPauseDeferral
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		state:         st,
		run:           run,
		defaults:      defaults,
		logger:        logger,
		downloads:     NewPool("downloads", opts.DownloadsConcurrency, logger),
		utility:       NewPool("utility", opts.UtilityConcurrency, logger),
		rootCtx:       ctx,
		rootCancel:    cancel,
		pauseDeferral: opts.PauseDeferral,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Submit queues a track, album, or playlist download and returns its task
// id. A live task with the same fingerprint fails the submission with
// DuplicateDownloadError carrying the existing id. Artist submissions are
// fan-out operations handled above the scheduler.
func (s *Scheduler) Submit(sub Submission) (string, error) {
	if sub.Kind == task.KindArtist {
		return "", errors.New("artist submissions fan out to album tasks and are not queued directly")
	}
	if _, err := task.ParseKind(string(sub.Kind)); err != nil {
		return "", err
	}
	canonical, err := CanonicalSource(sub.Kind, sub.SourceURL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findActiveLocked(sub.Kind, canonical); existing != "" {
		return existing, &DuplicateDownloadError{ExistingTaskID: existing}
	}

	id := uuid.NewString()
	info := &task.Info{
		TaskID:      id,
		Kind:        sub.Kind,
		SourceURL:   canonical,
		Display:     sub.Display,
		Parameters:  mergeParameters(s.defaults(), sub.Overrides),
		OrigRequest: sub.OrigRequest,
		FromWatch:   sub.FromWatch,
		CreatedAt:   time.Now(),
		Submitter:   sub.Submitter,
	}

	position := s.state.Count() + 1
	s.state.PutInfo(info)
	if _, err := s.state.Append(id, task.StatusEntry{
		Status:        task.StatusQueued,
		QueuePosition: position,
		Name:          sub.Display.Name,
		Artist:        sub.Display.Artist,
	}); err != nil {
		return "", err
	}

	s.enqueueLocked(id, 0)
	s.logger.Info("task queued", "task_id", id, "kind", info.Kind, "position", position, "from_watch", info.FromWatch)
	return id, nil
}

// findActiveLocked scans live tasks for a non-terminal one with the same
// fingerprint. Caller holds s.mu, which serializes submissions.
func (s *Scheduler) findActiveLocked(kind task.Kind, canonical string) string {
	for _, snap := range s.state.List() {
		if snap.Info.Kind != kind || snap.Info.SourceURL != canonical {
			continue
		}
		// A task with no status yet is still being submitted; treat it
		// as active.
		if snap.Last.Status != "" && snap.Last.Status.IsTerminal() {
			continue
		}
		return snap.Info.TaskID
	}
	return ""
}

func (s *Scheduler) enqueueLocked(taskID string, delay time.Duration) {
	ctx, cancel := context.WithCancel(s.rootCtx)
	s.cancels[taskID] = cancel

	job := Job{TaskID: taskID, Run: func() {
		defer s.release(taskID)
		s.run(ctx, taskID)
	}}

	if s.paused && delay < s.pauseDeferral {
		delay = s.pauseDeferral
	}
	if delay > 0 {
		s.downloads.SubmitAfter(job, delay)
		return
	}
	s.downloads.Submit(job)
}

func (s *Scheduler) release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
		delete(s.cancels, taskID)
	}
}

// Cancel appends CANCELLED and signals the running job's context. Unknown
// or already-terminal tasks are a no-op.
func (s *Scheduler) Cancel(taskID string) error {
	last, ok := s.state.LastStatus(taskID)
	if !ok || last.Status.IsTerminal() {
		return nil
	}
	if _, err := s.state.Append(taskID, task.StatusEntry{
		Status:  task.StatusCancelled,
		Message: "cancelled by user",
	}); err != nil && !errors.Is(err, state.ErrTerminalStatus) {
		return err
	}

	s.mu.Lock()
	cancel := s.cancels[taskID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.logger.Info("task cancelled", "task_id", taskID)
	return nil
}

// Retry schedules a failed task again under a fresh id. The new task
// inherits the old parameters with retry_of set and retry_count bumped,
// deferred by initial_delay + retry_count * delay_increase.
func (s *Scheduler) Retry(taskID string) (string, error) {
	info, ok := s.state.Info(taskID)
	if !ok {
		return "", state.ErrUnknownTask
	}
	last, ok := s.state.LastStatus(taskID)
	if !ok || last.Status != task.StatusError {
		return "", ErrRetryNotAllowed
	}
	d := s.defaults()
	if info.RetryCount >= d.MaxRetries {
		return "", ErrRetryLimitReached
	}

	delay := time.Duration(d.RetryDelaySeconds+info.RetryCount*d.RetryDelayIncrease) * time.Second

	retry := *info
	retry.TaskID = uuid.NewString()
	retry.RetryOf = taskID
	retry.RetryCount = info.RetryCount + 1
	retry.CreatedAt = time.Now()
	retry.TotalTracks = 0
	retry.CurrentTrackNum = 0
	retry.CompletedTracks = 0
	retry.SkippedTracks = 0
	retry.ErrorCount = 0
	retry.ChildrenTable = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	position := s.state.Count() + 1
	s.state.PutInfo(&retry)
	if _, err := s.state.Append(retry.TaskID, task.StatusEntry{
		Status:        task.StatusQueued,
		QueuePosition: position,
		RetryCount:    retry.RetryCount,
		SecondsLeft:   int(delay / time.Second),
	}); err != nil {
		return "", err
	}

	s.enqueueLocked(retry.TaskID, delay)
	s.logger.Info("task retried", "task_id", retry.TaskID, "retry_of", taskID, "retry_count", retry.RetryCount, "delay", delay)
	return retry.TaskID, nil
}

// Pause defers newly submitted jobs so no worker picks them up.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("queue paused")
}

// Resume clears the pause flag and releases every deferred job.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	released := s.downloads.FlushDeferred()
	s.logger.Info("queue resumed", "released", released)
}

func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// List enumerates live tasks with their most recent status.
func (s *Scheduler) List() []TaskSummary {
	snaps := s.state.List()
	out := make([]TaskSummary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, TaskSummary{
			TaskID:    snap.Info.TaskID,
			Kind:      snap.Info.Kind,
			Display:   snap.Info.Display,
			Status:    snap.Last.Status,
			Timestamp: snap.Last.Timestamp,
			RetryOf:   snap.Info.RetryOf,
			FromWatch: snap.Info.FromWatch,
		})
	}
	return out
}

// Downloads exposes the downloads pool for the config monitor and status
// reporting.
func (s *Scheduler) Downloads() *Pool {
	return s.downloads
}

// Utility exposes the utility pool for fan-out and maintenance jobs.
func (s *Scheduler) Utility() *Pool {
	return s.utility
}

// Close cancels all running jobs and stops both pools.
func (s *Scheduler) Close() {
	s.rootCancel()
	s.downloads.Stop()
	s.utility.Stop()
}

func mergeParameters(d Defaults, o *ParameterOverrides) task.Parameters {
	p := task.Parameters{
		Service:           d.Service,
		Fallback:          d.Fallback,
		SpotifyQuality:    d.SpotifyQuality,
		DeezerQuality:     d.DeezerQuality,
		RealTime:          d.RealTime,
		ConvertTo:         d.ConvertTo,
		Bitrate:           d.Bitrate,
		CustomDirFormat:   d.CustomDirFormat,
		CustomTrackFormat: d.CustomTrackFormat,
		TracknumPadding:   d.TracknumPadding,
		PadNumberWidth:    d.PadNumberWidth,
	}
	if o == nil {
		return p
	}
	if o.Service != nil {
		p.Service = *o.Service
	}
	if o.Fallback != nil {
		p.Fallback = *o.Fallback
	}
	if o.SpotifyQuality != nil {
		p.SpotifyQuality = *o.SpotifyQuality
	}
	if o.DeezerQuality != nil {
		p.DeezerQuality = *o.DeezerQuality
	}
	if o.RealTime != nil {
		p.RealTime = *o.RealTime
	}
	if o.ConvertTo != nil {
		p.ConvertTo = *o.ConvertTo
	}
	if o.Bitrate != nil {
		p.Bitrate = *o.Bitrate
	}
	if o.CustomDirFormat != nil {
		p.CustomDirFormat = *o.CustomDirFormat
	}
	if o.CustomTrackFormat != nil {
		p.CustomTrackFormat = *o.CustomTrackFormat
	}
	if o.TracknumPadding != nil {
		p.TracknumPadding = *o.TracknumPadding
	}
	if o.PadNumberWidth != nil {
		p.PadNumberWidth = *o.PadNumberWidth
	}
	return p
}
