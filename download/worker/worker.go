// Package worker executes queued download jobs end to end. A Runner takes a
// task id off the queue, drives the configured fetch.Fetcher, translates its
// progress events into status log appends via jobProgress, and records the
// outcome in the history store. The Runner owns the lifecycle contract: a
// PROCESSING entry opens every job, exactly one terminal entry closes it, and
// parent jobs get their history child table before the first track lands.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/fetch"
	"github.com/spotizerr-dev/spotizerr-sub000/download/history"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const defaultMaxRetries = 3

// Options tunes Runner behavior beyond its hard dependencies.
type Options struct {
	// MaxRetries reports the current retry ceiling. It is consulted at
	// failure time so config reloads take effect mid-queue. Nil means a
	// fixed ceiling of 3.
	MaxRetries func() int
}

// Runner executes one download job per Run call. It is safe for concurrent
// use; the queue invokes Run from multiple pool workers at once.
type Runner struct {
	state      *state.Store
	history    *history.Store
	fetcher    fetch.Fetcher
	maxRetries func() int
	logger     *log.Logger
}

// New builds a Runner around the given stores and fetch implementation.
func New(st *state.Store, hs *history.Store, fetcher fetch.Fetcher, opts Options, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	maxRetries := opts.MaxRetries
	if maxRetries == nil {
		maxRetries = func() int { return defaultMaxRetries }
	}
	return &Runner{
		state:      st,
		history:    hs,
		fetcher:    fetcher,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Run drives the job for taskID to a terminal state. It matches the
// queue.RunFunc signature so the orchestrator can hand it straight to the
// pool. Jobs cancelled while still queued are skipped without touching the
// status log; the cancel command already wrote the terminal entry.
func (r *Runner) Run(ctx context.Context, taskID string) {
	info, ok := r.state.Info(taskID)
	if !ok {
		r.logger.Error("no task info for queued job", "task_id", taskID)
		return
	}

	if last, ok := r.state.LastStatus(taskID); ok && last.Status.IsTerminal() {
		r.logger.Info("job interrupted before start", "task_id", taskID, "status", last.Status)
		return
	}
	if err := ctx.Err(); err != nil {
		r.logger.Info("job interrupted before start", "task_id", taskID, "error", err)
		return
	}

	if _, err := r.state.Append(taskID, task.StatusEntry{Status: task.StatusProcessing}); err != nil {
		// A cancel can slip in between the terminal check and this append.
		r.logger.Info("job not started", "task_id", taskID, "error", err)
		return
	}
	r.logger.Info("job started", "task_id", taskID, "kind", info.Kind, "url", info.SourceURL)

	prog := newJobProgress(r, info)

	if info.Kind.IsParent() {
		if err := r.prepareChildTable(prog, info); err != nil {
			r.logger.Error("history preparation failed", "task_id", taskID, "error", err)
			r.finishError(prog, fmt.Errorf("preparing history: %w", err))
			return
		}
	}

	err := r.fetcher.Fetch(ctx, buildRequest(info), prog.handle)
	switch {
	case err == nil:
		r.finishComplete(prog)
		r.logger.Info("job finished", "task_id", taskID)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		r.finishCancelled(prog)
		r.logger.Info("job cancelled", "task_id", taskID)
	default:
		r.finishError(prog, err)
		r.logger.Error("job failed", "task_id", taskID, "error", err)
	}
}

// prepareChildTable creates the per-job track table, records its name in the
// task info, and publishes the parent history row as in_progress.
func (r *Runner) prepareChildTable(p *jobProgress, info *task.Info) error {
	name := info.ChildrenTable
	if name == "" {
		name = history.NewChildTableName(string(info.Kind))
	}
	if err := r.history.CreateChildTable(name); err != nil {
		return err
	}
	p.childTable = name
	if err := r.state.UpdateInfo(p.taskID, func(i *task.Info) { i.ChildrenTable = name }); err != nil {
		return err
	}
	entry := &history.Entry{
		DownloadType:   string(info.Kind),
		Title:          info.Display.Name,
		Artists:        artistList(info.Display.Artist),
		Timestamp:      time.Now(),
		Status:         history.StatusInProgress,
		Service:        info.Parameters.Service,
		QualityFormat:  p.quality(),
		QualityBitrate: info.Parameters.Bitrate,
		ChildrenTable:  name,
		TaskID:         p.taskID,
		ExternalIDs:    p.copyExternalIDs(),
	}
	return r.history.UpsertEntry(entry)
}

// finishComplete closes out a job whose fetch returned nil without emitting a
// terminal done event, such as a single track skipped as already present.
func (r *Runner) finishComplete(p *jobProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeLocked(fetch.Event{})
}

func (r *Runner) finishCancelled(p *jobProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return
	}
	p.appendLocked(task.StatusEntry{Status: task.StatusCancelled, Message: "download interrupted"})
	p.finalizeHistoryLocked(history.StatusCancelled, p.counterSummaryLocked())
	p.finalized = true
}

func (r *Runner) finishError(p *jobProgress, fetchErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return
	}
	retryCount := 0
	if info, ok := r.state.Info(p.taskID); ok {
		retryCount = info.RetryCount
	}
	maxRetries := r.maxRetries()
	canRetry := retryCount < maxRetries
	p.appendLocked(task.StatusEntry{
		Status:     task.StatusError,
		Error:      fetchErr.Error(),
		CanRetry:   &canRetry,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	})
	p.finalizeHistoryLocked(history.StatusFailed, p.counterSummaryLocked())
	p.finalized = true
}

// buildRequest maps merged task parameters onto the fetch contract. Quality
// follows the active service; the inactive service's setting is dropped.
func buildRequest(info *task.Info) fetch.Request {
	params := info.Parameters
	quality := params.SpotifyQuality
	if strings.EqualFold(params.Service, "deezer") {
		quality = params.DeezerQuality
	}
	req := fetch.Request{
		TaskID:          info.TaskID,
		Kind:            info.Kind,
		SourceURL:       info.SourceURL,
		Service:         params.Service,
		Fallback:        params.Fallback,
		Quality:         quality,
		Bitrate:         params.Bitrate,
		ConvertTo:       params.ConvertTo,
		RealTime:        params.RealTime,
		DirFormat:       params.CustomDirFormat,
		TrackFormat:     params.CustomTrackFormat,
		TracknumPadding: params.TracknumPadding,
		PadNumberWidth:  params.PadNumberWidth,
	}
	// Watched-playlist track jobs carry their playlist context so the path
	// template placeholders resolve.
	req.PlaylistName = info.OrigRequest["playlist_name"]
	if pos := info.OrigRequest["playlist_position"]; pos != "" {
		if n, err := strconv.Atoi(pos); err == nil {
			req.PlaylistPosition = n
		}
	}
	return req
}

// sourceExternalIDs derives the history external id map from the source URL.
func sourceExternalIDs(sourceURL string) map[string]string {
	if _, id, err := spotify.ParseURL(sourceURL); err == nil {
		return map[string]string{"spotify": id}
	}
	if _, id, err := deezer.ParseURL(sourceURL); err == nil {
		return map[string]string{"deezer": id}
	}
	return map[string]string{}
}

func trackExternalIDs(t *fetch.TrackResult) map[string]string {
	ids := make(map[string]string, 2)
	if t.SpotifyID != "" {
		ids["spotify"] = t.SpotifyID
	}
	if t.DeezerID != "" {
		ids["deezer"] = t.DeezerID
	}
	return ids
}

func artistList(artist string) []string {
	if artist == "" {
		return nil
	}
	return []string{artist}
}
