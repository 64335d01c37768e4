package worker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spotizerr-dev/spotizerr-sub000/download/fetch"
	"github.com/spotizerr-dev/spotizerr-sub000/download/history"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// jobProgress normalizes raw fetch events for a single job into status log
// appends, task info counter updates, and progressive history writes. All
// mutation happens under mu; fetchers may invoke the callback from several
// goroutines.
type jobProgress struct {
	runner *Runner
	taskID string
	kind   task.Kind
	params task.Parameters

	mu          sync.Mutex
	name        string
	artist      string
	externalIDs map[string]string
	childTable  string

	totalTracks int
	currentNum  int
	completed   int
	skipped     int
	errorCount  int
	childRows   int
	durationMS  int64

	lastTrack  *fetch.TrackResult
	lastBytes  int64
	lastUpdate time.Time
	finalized  bool
}

func newJobProgress(r *Runner, info *task.Info) *jobProgress {
	return &jobProgress{
		runner:      r,
		taskID:      info.TaskID,
		kind:        info.Kind,
		params:      info.Parameters,
		name:        info.Display.Name,
		artist:      info.Display.Artist,
		externalIDs: sourceExternalIDs(info.SourceURL),
	}
}

// handle is the fetch.Callback for this job.
func (p *jobProgress) handle(e fetch.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Status {
	case fetch.EventInitializing:
		p.handleInitializing(e)
	case fetch.EventDownloading:
		p.handleDownloading(e)
	case fetch.EventProgress:
		p.handleProgress(e)
	case fetch.EventRealTime:
		p.handleByteProgress(task.StatusRealTime, e)
	case fetch.EventTrackProgress:
		p.handleByteProgress(task.StatusTrackProgress, e)
	case fetch.EventTrackComplete:
		p.appendLocked(task.StatusEntry{Status: task.StatusTrackComplete, TrackName: e.TrackName})
	case fetch.EventSkipped:
		p.handleSkipped(e)
	case fetch.EventRetrying:
		p.handleRetrying(e)
	case fetch.EventError:
		p.handleError(e)
	case fetch.EventDone:
		p.handleDone(e)
	default:
		p.runner.logger.Debug("ignoring unknown fetch event", "task_id", p.taskID, "status", e.Status)
	}
}

func (p *jobProgress) handleInitializing(e fetch.Event) {
	if e.Name != "" {
		p.name = e.Name
	}
	if e.Artist != "" {
		p.artist = e.Artist
	}
	if e.TotalTracks > 0 {
		p.totalTracks = e.TotalTracks
	}
	p.updateInfo(func(i *task.Info) {
		i.TotalTracks = p.totalTracks
		if i.Display.Name == "" {
			i.Display.Name = p.name
		}
		if i.Display.Artist == "" {
			i.Display.Artist = p.artist
		}
	})
	p.appendLocked(task.StatusEntry{
		Status:      task.StatusInitializing,
		Name:        p.name,
		Artist:      p.artist,
		TotalTracks: p.totalTracks,
	})
}

func (p *jobProgress) handleDownloading(e fetch.Event) {
	p.currentNum++
	p.updateInfo(func(i *task.Info) { i.CurrentTrackNum = p.currentNum })
	entry := task.StatusEntry{
		Status:    task.StatusDownloading,
		TrackName: e.TrackName,
		Artist:    e.Artist,
	}
	if p.kind.IsParent() && p.totalTracks > 0 {
		entry.CurrentTrack = fmt.Sprintf("%d/%d", p.currentNum, p.totalTracks)
		entry.OverallProgress = progressPercent(p.currentNum, p.totalTracks)
	}
	p.appendLocked(entry)
}

func (p *jobProgress) handleProgress(e fetch.Event) {
	entry := task.StatusEntry{
		Status:       task.StatusProgress,
		CurrentTrack: e.CurrentTrack,
		TrackName:    e.TrackName,
	}
	if cur, total, ok := parseFraction(e.CurrentTrack); ok {
		entry.ParsedCurrentTrack = cur
		entry.ParsedTotalTracks = total
		entry.OverallProgress = progressPercent(cur, total)
		if p.totalTracks == 0 && total > 0 {
			p.totalTracks = total
			p.updateInfo(func(i *task.Info) { i.TotalTracks = total })
		}
	}
	p.appendLocked(entry)
}

// handleByteProgress maps real_time and track_progress events. Percent is
// normalized to an integer and the transfer rate is derived from the byte
// counter delta since the previous event.
func (p *jobProgress) handleByteProgress(status task.Status, e fetch.Event) {
	entry := task.StatusEntry{
		Status:    status,
		TrackName: e.TrackName,
		Percent:   normalizePercent(e.Percent),
	}
	now := time.Now()
	if e.DownloadedBytes > 0 {
		if !p.lastUpdate.IsZero() && e.DownloadedBytes > p.lastBytes {
			if elapsed := now.Sub(p.lastUpdate).Seconds(); elapsed > 0 {
				entry.DownloadRate = humanRate(float64(e.DownloadedBytes-p.lastBytes) / elapsed)
			}
		}
		p.lastBytes = e.DownloadedBytes
		p.lastUpdate = now
	}
	p.appendLocked(entry)
}

func (p *jobProgress) handleSkipped(e fetch.Event) {
	p.skipped++
	p.updateInfo(func(i *task.Info) { i.SkippedTracks = p.skipped })
	entry := task.StatusEntry{
		Status:    task.StatusSkipped,
		TrackName: e.TrackName,
		Reason:    e.Reason,
	}
	if p.kind.IsParent() {
		entry.TrackSkipped = true
		if p.totalTracks > 0 {
			entry.CurrentTrack = fmt.Sprintf("%d/%d", p.currentNum, p.totalTracks)
			entry.OverallProgress = progressPercent(p.currentNum, p.totalTracks)
		}
		p.writeTrackRowLocked(e, history.StatusSkipped)
	}
	if e.Track != nil {
		p.lastTrack = e.Track
	}
	p.appendLocked(entry)
}

func (p *jobProgress) handleRetrying(e fetch.Event) {
	count := e.RetryCount
	p.updateInfo(func(i *task.Info) {
		i.RetryCount++
		count = i.RetryCount
	})
	p.appendLocked(task.StatusEntry{
		Status:      task.StatusRetrying,
		RetryCount:  count,
		SecondsLeft: e.SecondsLeft,
		Error:       e.Error,
	})
}

// handleError records a fetch-reported failure. ERROR is terminal, so any
// later events for this job are dropped by appendLocked.
func (p *jobProgress) handleError(e fetch.Event) {
	p.errorCount++
	p.updateInfo(func(i *task.Info) { i.ErrorCount = p.errorCount })
	p.appendLocked(task.StatusEntry{Status: task.StatusError, Message: e.Error})
}

func (p *jobProgress) handleDone(e fetch.Event) {
	if p.kind.IsParent() && e.Type == "track" {
		p.completed++
		p.updateInfo(func(i *task.Info) { i.CompletedTracks = p.completed })
		entry := task.StatusEntry{Status: task.StatusProgress, TrackName: e.TrackName}
		if p.totalTracks > 0 {
			entry.CurrentTrack = fmt.Sprintf("%d/%d", p.currentNum, p.totalTracks)
			entry.ParsedCurrentTrack = p.currentNum
			entry.ParsedTotalTracks = p.totalTracks
			entry.OverallProgress = progressPercent(p.currentNum, p.totalTracks)
		}
		p.appendLocked(entry)
		if t := e.Track; t != nil {
			p.lastTrack = t
			p.durationMS += int64(t.DurationMS)
			p.writeTrackRowLocked(e, history.StatusCompleted)
		}
		return
	}
	p.completeLocked(e)
}

// completeLocked appends the terminal COMPLETE entry and finalizes history.
// It also serves the no-done-event path where Fetch returned nil, in which
// case e is the zero Event and the summary is built from counters.
func (p *jobProgress) completeLocked(e fetch.Event) {
	if p.finalized {
		return
	}
	if e.Track != nil {
		p.lastTrack = e.Track
		p.durationMS += int64(e.Track.DurationMS)
	}
	summary := e.Summary
	if summary == nil {
		summary = p.counterSummaryLocked()
		if !p.kind.IsParent() && e.Track != nil && summary.TotalSuccessful == 0 && summary.TotalSkipped == 0 {
			summary.TotalSuccessful = 1
		}
	}

	entry := task.StatusEntry{
		Status:  task.StatusComplete,
		Name:    p.name,
		Artist:  p.artist,
		Message: completeMessage(p.kind, summary),
		Summary: summary,
	}
	if e.Name != "" {
		entry.Name = e.Name
	}
	if e.Artist != "" {
		entry.Artist = e.Artist
	}
	p.appendLocked(entry)

	histStatus := history.StatusCompleted
	if summary.TotalSuccessful == 0 && summary.TotalFailed == 0 && summary.TotalSkipped > 0 {
		histStatus = history.StatusSkipped
	}
	p.finalizeHistoryLocked(histStatus, summary)
	p.finalized = true
}

// finalizeHistoryLocked writes the job's terminal history state: failed child
// rows that only exist in the summary, then the parent or track entry.
func (p *jobProgress) finalizeHistoryLocked(status string, summary *task.Summary) {
	if p.kind.IsParent() {
		if p.childTable != "" && summary != nil {
			for _, title := range summary.FailedTracks {
				p.childRows++
				row := &history.TrackRow{
					Title:     title,
					Status:    history.StatusFailed,
					Timestamp: time.Now(),
					Position:  p.childRows,
				}
				if err := p.runner.history.AddTrackRow(p.childTable, row); err != nil {
					p.runner.logger.Warn("failed track row write failed", "task_id", p.taskID, "title", title, "error", err)
				}
			}
		}
		if err := p.runner.history.UpsertEntry(p.parentEntryLocked(status, summary)); err != nil {
			p.runner.logger.Warn("parent history write failed", "task_id", p.taskID, "error", err)
		}
		return
	}
	if err := p.runner.history.UpsertEntry(p.trackEntryLocked(status, summary)); err != nil {
		p.runner.logger.Warn("track history write failed", "task_id", p.taskID, "error", err)
	}
}

func (p *jobProgress) parentEntryLocked(status string, summary *task.Summary) *history.Entry {
	e := &history.Entry{
		DownloadType:    string(p.kind),
		Title:           p.name,
		Artists:         artistList(p.artist),
		Timestamp:       time.Now(),
		Status:          status,
		Service:         p.params.Service,
		QualityFormat:   p.quality(),
		QualityBitrate:  p.params.Bitrate,
		TotalTracks:     p.totalTracks,
		TotalDurationMS: p.durationMS,
		ChildrenTable:   p.childTable,
		TaskID:          p.taskID,
		ExternalIDs:     p.copyExternalIDs(),
	}
	if summary != nil {
		e.SuccessfulTracks = summary.TotalSuccessful
		e.FailedTracks = summary.TotalFailed
		e.SkippedTracks = summary.TotalSkipped
	} else {
		e.SuccessfulTracks = p.completed
		e.FailedTracks = p.errorCount
		e.SkippedTracks = p.skipped
	}
	return e
}

func (p *jobProgress) trackEntryLocked(status string, summary *task.Summary) *history.Entry {
	e := &history.Entry{
		DownloadType:   string(task.KindTrack),
		Title:          p.name,
		Artists:        artistList(p.artist),
		Timestamp:      time.Now(),
		Status:         status,
		Service:        p.params.Service,
		QualityFormat:  p.quality(),
		QualityBitrate: p.params.Bitrate,
		TotalTracks:    1,
		TaskID:         p.taskID,
		ExternalIDs:    p.copyExternalIDs(),
	}
	if summary != nil {
		e.SuccessfulTracks = summary.TotalSuccessful
		e.FailedTracks = summary.TotalFailed
		e.SkippedTracks = summary.TotalSkipped
	}
	if t := p.lastTrack; t != nil {
		if t.Title != "" {
			e.Title = t.Title
		}
		if len(t.Artists) > 0 {
			e.Artists = t.Artists
		}
		e.TotalDurationMS = int64(t.DurationMS)
		if t.Service != "" {
			e.Service = t.Service
		}
		if t.QualityFormat != "" {
			e.QualityFormat = t.QualityFormat
		}
		if t.QualityBitrate != "" {
			e.QualityBitrate = t.QualityBitrate
		}
		for k, v := range trackExternalIDs(t) {
			e.ExternalIDs[k] = v
		}
		if t.FinalPath != "" {
			e.Metadata = map[string]any{"final_path": t.FinalPath}
		}
	}
	return e
}

// writeTrackRowLocked records one child table row for a finished or skipped
// track of a parent job.
func (p *jobProgress) writeTrackRowLocked(e fetch.Event, status string) {
	if p.childTable == "" {
		return
	}
	p.childRows++
	row := &history.TrackRow{
		Title:     e.TrackName,
		Status:    status,
		Timestamp: time.Now(),
		Position:  p.childRows,
	}
	if t := e.Track; t != nil {
		row.Title = t.Title
		row.Artists = t.Artists
		row.AlbumTitle = t.AlbumTitle
		row.DurationMS = t.DurationMS
		row.TrackNumber = t.TrackNumber
		row.DiscNumber = t.DiscNumber
		row.Explicit = t.Explicit
		row.Genres = t.Genres
		row.ISRC = t.ISRC
		row.ExternalIDs = trackExternalIDs(t)
		row.Service = t.Service
		row.QualityFormat = t.QualityFormat
		row.QualityBitrate = t.QualityBitrate
		if t.Position > 0 {
			row.Position = t.Position
		}
		if t.FinalPath != "" {
			row.Metadata = map[string]any{"final_path": t.FinalPath}
		}
	}
	if err := p.runner.history.AddTrackRow(p.childTable, row); err != nil {
		p.runner.logger.Warn("child row write failed", "task_id", p.taskID, "table", p.childTable, "error", err)
	}
}

// appendLocked writes one status entry, tolerating the two benign races:
// appends that arrive after a terminal entry and tasks already pruned.
func (p *jobProgress) appendLocked(e task.StatusEntry) {
	if _, err := p.runner.state.Append(p.taskID, e); err != nil {
		if errors.Is(err, state.ErrTerminalStatus) {
			p.runner.logger.Debug("dropping status after terminal entry", "task_id", p.taskID, "status", e.Status)
			return
		}
		p.runner.logger.Warn("status append failed", "task_id", p.taskID, "status", e.Status, "error", err)
	}
}

func (p *jobProgress) updateInfo(fn func(*task.Info)) {
	if err := p.runner.state.UpdateInfo(p.taskID, fn); err != nil {
		p.runner.logger.Debug("task info update failed", "task_id", p.taskID, "error", err)
	}
}

func (p *jobProgress) counterSummaryLocked() *task.Summary {
	return &task.Summary{
		TotalSuccessful: p.completed,
		TotalSkipped:    p.skipped,
		TotalFailed:     p.errorCount,
	}
}

func (p *jobProgress) quality() string {
	if strings.EqualFold(p.params.Service, "deezer") {
		return p.params.DeezerQuality
	}
	return p.params.SpotifyQuality
}

func (p *jobProgress) copyExternalIDs() map[string]string {
	ids := make(map[string]string, len(p.externalIDs))
	for k, v := range p.externalIDs {
		ids[k] = v
	}
	return ids
}

func completeMessage(kind task.Kind, summary *task.Summary) string {
	if kind.IsParent() {
		return fmt.Sprintf("Download complete: %d successful, %d skipped, %d failed",
			summary.TotalSuccessful, summary.TotalSkipped, summary.TotalFailed)
	}
	if summary.TotalSkipped > 0 && summary.TotalSuccessful == 0 {
		return "Track skipped"
	}
	return "Download complete"
}

// progressPercent is the floor of current/total as a percentage, capped at
// 100 so overshooting trackers cannot report past completion.
func progressPercent(current, total int) int {
	if total <= 0 {
		return 0
	}
	pct := current * 100 / total
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// parseFraction splits an "m/n" counter as emitted in progress events.
func parseFraction(s string) (current, total int, ok bool) {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	current, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return 0, 0, false
	}
	return current, total, true
}

// normalizePercent maps both fractional (0..1) and percentage (0..100)
// reporting conventions to an integer percent.
func normalizePercent(v float64) int {
	if v <= 1.0 {
		v *= 100
	}
	n := int(math.Round(v))
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n
}

// humanRate renders a bytes-per-second figure the way download clients
// conventionally show it.
func humanRate(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1<<20))
	case bytesPerSec >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	}
}
