// Package download assembles the download service: configuration and
// credentials, the rate-limited catalogue clients, the task state and
// history stores, the scheduler with its worker pools, the fetcher, the
// watch engine, and the stats tracker, all behind a single lifecycle.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/config"
	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/fetch"
	"github.com/spotizerr-dev/spotizerr-sub000/download/history"
	"github.com/spotizerr-dev/spotizerr-sub000/download/logging"
	"github.com/spotizerr-dev/spotizerr-sub000/download/metadata"
	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/ratelimit"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
	"github.com/spotizerr-dev/spotizerr-sub000/download/watch"
	"github.com/spotizerr-dev/spotizerr-sub000/download/worker"
)

const (
	historyDBFile = "history.db"
	watchDBFile   = "watch.db"
	statsFileName = "stats.json"

	cacheCleanupInterval = time.Minute
	discographyPageSize  = 50
)

// defaultFanOutGroups are the album groups an artist submission queues
// when the request does not narrow them. appears_on is opt-in.
var defaultFanOutGroups = []string{"album", "single", "compilation"}

// Options configure an Orchestrator. Zero values select defaults.
type Options struct {
	// ConfigPath locates the YAML config file. A default file is written
	// when none exists. Defaults to ./config.yaml.
	ConfigPath string

	// DataDir holds the SQLite databases and the stats file. Defaults to
	// ./data and is created on demand.
	DataDir string

	// EnvFiles are optional .env files consulted for credentials. The
	// process environment always wins.
	EnvFiles []string

	// Fetcher overrides the built-in preview fetcher. Tests use this.
	Fetcher fetch.Fetcher

	// LogWriter receives all component logs. Defaults to os.Stderr.
	LogWriter io.Writer
}

// SubmitResult reports what a submission queued. Track, album, and
// playlist submissions yield exactly one task id. Artist submissions
// fan out and may also report albums that were already in flight,
// keyed by source URL.
type SubmitResult struct {
	Queued     []string          `json:"queued"`
	Duplicates map[string]string `json:"duplicates,omitempty"`
}

// Orchestrator owns every long-lived component of the download service.
// Construct with New, launch background work with Start, tear down with
// Close.
type Orchestrator struct {
	manager   *config.Manager
	limiter   *ratelimit.Limiter
	provider  *metadata.Provider
	history   *history.Store
	watchDB   *watch.Store
	state     *state.Store
	fetcher   fetch.Fetcher
	runner    *worker.Runner
	scheduler *queue.Scheduler
	monitor   *queue.Monitor
	watch     *watch.Engine
	stats     *StatsTracker
	logger    *log.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	started   bool
	closed    bool
	startedAt time.Time
}

// New wires the full component graph. Nothing runs in the background yet
// except the scheduler's worker pools; call Start to launch the rest.
func New(opts Options) (*Orchestrator, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = "./config.yaml"
	}
	if opts.DataDir == "" {
		opts.DataDir = "./data"
	}
	logWriter := opts.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}

	if err := config.EnsureFile(opts.ConfigPath); err != nil {
		return nil, err
	}
	manager, err := config.NewManager(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	creds := config.LoadCredentials(opts.EnvFiles...)
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// The root context bounds the Spotify client's token refreshes and
	// every background loop; Close cancels it.
	rootCtx, rootCancel := context.WithCancel(context.Background())

	limiter := ratelimit.New(ratelimit.Options{}, logging.New(logWriter, "ratelimit"))

	spotifyClient, err := spotify.NewClient(rootCtx, spotify.Config{
		ClientID:     creds.SpotifyClientID,
		ClientSecret: creds.SpotifyClientSecret,
	})
	if err != nil {
		rootCancel()
		return nil, fmt.Errorf("building spotify client: %w", err)
	}
	deezerClient := deezer.NewClient(deezer.Config{ARL: creds.DeezerARL})

	provider := metadata.NewProvider(spotifyClient, deezerClient, limiter,
		metadata.Options{}, logging.New(logWriter, "metadata"))

	historyStore, err := history.Open(filepath.Join(opts.DataDir, historyDBFile), logging.New(logWriter, "history"))
	if err != nil {
		rootCancel()
		provider.Close()
		return nil, err
	}
	watchStore, err := watch.Open(filepath.Join(opts.DataDir, watchDBFile), logging.New(logWriter, "watch"))
	if err != nil {
		rootCancel()
		provider.Close()
		historyStore.Close()
		return nil, err
	}

	stateStore := state.New(state.Options{}, logging.New(logWriter, "state"))

	cfg := manager.Get()
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewDefaultFetcher(provider, fetch.DefaultOptions{
			BaseDir:    cfg.MusicDirectory,
			StagingDir: cfg.IncompleteDownloadFolder,
		}, logging.New(logWriter, "fetch"))
	}

	o := &Orchestrator{
		manager:    manager,
		limiter:    limiter,
		provider:   provider,
		history:    historyStore,
		watchDB:    watchStore,
		state:      stateStore,
		fetcher:    fetcher,
		logger:     logging.New(logWriter, "orchestrator"),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}

	o.runner = worker.New(stateStore, historyStore, fetcher, worker.Options{
		MaxRetries: func() int { return manager.Get().MaxRetries },
	}, logging.New(logWriter, "worker"))

	o.scheduler = queue.NewScheduler(stateStore, o.runTask, o.queueDefaults, queue.Options{
		DownloadsConcurrency: cfg.MaxConcurrentDownloads,
	}, logging.New(logWriter, "queue"))

	o.monitor = queue.NewMonitor(o.scheduler.Downloads(), func() int {
		return manager.Reload().MaxConcurrentDownloads
	}, queue.DefaultMonitorInterval, logging.New(logWriter, "queue"))

	o.watch = watch.New(watch.Options{
		Store:     watchStore,
		Catalog:   provider,
		Submitter: o.scheduler,
		State:     stateStore,
		History:   historyStore,
		Settings:  o.watchSettings,
		MusicDir:  cfg.MusicDirectory,
		Logger:    logging.New(logWriter, "watch"),
	})

	o.stats = NewStatsTracker(filepath.Join(opts.DataDir, statsFileName), limiter.LimitedCount)
	return o, nil
}

// runTask executes one queued job, then applies any queued config update
// while no job holds stale settings.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) {
	o.runner.Run(ctx, taskID)
	if err := o.manager.ApplyPendingUpdate(); err != nil {
		o.logger.Warn("applying queued config update failed", "error", err)
	}
}

// queueDefaults maps the live config onto the scheduler's submit-time
// defaults. Read on every submit so config changes apply without restart.
func (o *Orchestrator) queueDefaults() queue.Defaults {
	c := o.manager.Get()
	return queue.Defaults{
		Service:            c.Service,
		Fallback:           c.Fallback,
		SpotifyQuality:     c.SpotifyQuality,
		DeezerQuality:      c.DeezerQuality,
		RealTime:           c.RealTime,
		ConvertTo:          c.ConvertTo,
		Bitrate:            c.Bitrate,
		CustomDirFormat:    c.CustomDirFormat,
		CustomTrackFormat:  c.CustomTrackFormat,
		TracknumPadding:    c.TracknumPadding,
		PadNumberWidth:     c.PadNumberWidth,
		MaxRetries:         c.MaxRetries,
		RetryDelaySeconds:  c.RetryDelaySeconds,
		RetryDelayIncrease: c.RetryDelayIncrease,
	}
}

// watchSettings maps the live config onto the watch engine's settings.
func (o *Orchestrator) watchSettings() watch.Settings {
	c := o.manager.Get()
	return watch.Settings{
		Enabled:             c.Watch.Enabled,
		PollInterval:        time.Duration(c.Watch.PollIntervalSeconds) * time.Second,
		MaxItemsPerRun:      c.Watch.MaxItemsPerRun,
		AlbumGroups:         c.Watch.WatchedArtistAlbumGroup,
		UseSnapshotChecking: c.Watch.UseSnapshotIDChecking,
	}
}

// Start launches the background machinery: the state janitor, the
// concurrency monitor, the metadata cache sweep, the watch engine, and
// the stats recorder.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}
	if o.closed {
		return errors.New("orchestrator is closed")
	}
	o.started = true
	o.startedAt = time.Now()

	o.state.StartJanitor()
	o.provider.StartCacheCleanup(cacheCleanupInterval)
	o.monitor.Start()

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.watch.Run(o.rootCtx)
	}()
	go func() {
		defer o.wg.Done()
		o.trackStats(o.rootCtx)
	}()

	cfg := o.manager.Get()
	o.logger.Info("download service started",
		"config", o.manager.Path(),
		"service", cfg.Service,
		"concurrency", cfg.MaxConcurrentDownloads,
		"watch_enabled", cfg.Watch.Enabled,
	)
	return nil
}

// Close shuts the service down. Running jobs are cancelled and drained
// before the background loops stop, so their terminal statuses still
// reach the stats recorder. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.monitor.Stop()
	o.scheduler.Close()
	o.rootCancel()
	o.wg.Wait()

	o.provider.Close()
	o.state.Close()
	o.stats.Close()

	var firstErr error
	if err := o.history.Close(); err != nil {
		firstErr = fmt.Errorf("closing history store: %w", err)
	}
	if err := o.watchDB.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing watch store: %w", err)
	}
	o.logger.Info("download service stopped")
	return firstErr
}

// Submit queues a download. Track, album, and playlist submissions map to
// exactly one task; a duplicate of an active task returns the
// DuplicateDownloadError unchanged so callers can surface the existing
// id. Artist submissions fan out into one album task per matching
// release, with duplicates collected instead of failing the request.
func (o *Orchestrator) Submit(ctx context.Context, sub queue.Submission) (*SubmitResult, error) {
	if sub.Kind != task.KindArtist {
		id, err := o.scheduler.Submit(sub)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Queued: []string{id}}, nil
	}
	return o.fanOutArtist(ctx, sub)
}

// fanOutArtist pages the artist's discography and queues one album task
// per release whose album group matches the request.
func (o *Orchestrator) fanOutArtist(ctx context.Context, sub queue.Submission) (*SubmitResult, error) {
	kind, artistID, err := spotify.ParseURL(sub.SourceURL)
	if err != nil {
		return nil, err
	}
	if kind != "" && kind != "artist" {
		return nil, fmt.Errorf("expected an artist reference, got %s: %q", kind, sub.SourceURL)
	}

	groups := fanOutGroups(sub.OrigRequest["album_type"])

	artist, err := o.provider.Artist(ctx, artistID)
	if err != nil {
		return nil, fmt.Errorf("resolving artist %s: %w", artistID, err)
	}

	result := &SubmitResult{}
	for offset := 0; ; {
		page, err := o.provider.ArtistDiscography(ctx, artistID, discographyPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing releases for artist %s: %w", artistID, err)
		}
		for _, album := range page.Items {
			group := strings.ToLower(album.AlbumGroup)
			if group == "" {
				group = strings.ToLower(album.AlbumType)
			}
			if !groups[group] {
				continue
			}
			o.submitFanOutAlbum(sub, artist.Name, artistID, album, result)
		}
		if page.Next == nil || len(page.Items) == 0 {
			break
		}
		offset += len(page.Items)
	}

	o.logger.Info("artist fan-out complete",
		"artist_id", artistID,
		"artist", artist.Name,
		"queued", len(result.Queued),
		"duplicates", len(result.Duplicates),
	)
	return result, nil
}

func (o *Orchestrator) submitFanOutAlbum(sub queue.Submission, artistName, artistID string, album spotify.SimplifiedAlbum, result *SubmitResult) {
	sourceURL := spotify.CanonicalURL("album", album.ID)
	orig := make(map[string]string, len(sub.OrigRequest)+2)
	for k, v := range sub.OrigRequest {
		orig[k] = v
	}
	orig["artist_id"] = artistID
	orig["album_id"] = album.ID

	id, err := o.scheduler.Submit(queue.Submission{
		Kind:        task.KindAlbum,
		SourceURL:   sourceURL,
		Display:     task.Display{Name: album.Name, Artist: artistName},
		Overrides:   sub.Overrides,
		OrigRequest: orig,
		FromWatch:   sub.FromWatch,
		Submitter:   sub.Submitter,
	})
	if err != nil {
		var dup *queue.DuplicateDownloadError
		if errors.As(err, &dup) {
			if result.Duplicates == nil {
				result.Duplicates = make(map[string]string)
			}
			result.Duplicates[sourceURL] = dup.ExistingTaskID
			return
		}
		o.logger.Error("fan-out album submission failed", "album_id", album.ID, "error", err)
		return
	}
	result.Queued = append(result.Queued, id)
}

// fanOutGroups parses the album_type request parameter, a comma separated
// subset of album, single, compilation, and appears_on. Empty input
// selects the defaults.
func fanOutGroups(raw string) map[string]bool {
	groups := make(map[string]bool)
	for _, g := range strings.Split(raw, ",") {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			groups[g] = true
		}
	}
	if len(groups) == 0 {
		for _, g := range defaultFanOutGroups {
			groups[g] = true
		}
	}
	return groups
}

// CancelAll cancels every task that has not reached a terminal status and
// reports how many were cancelled.
func (o *Orchestrator) CancelAll() int {
	cancelled := 0
	for _, summary := range o.scheduler.List() {
		if summary.Status.IsTerminal() {
			continue
		}
		if err := o.scheduler.Cancel(summary.TaskID); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// TriggerPlaylistChecks queues an immediate reconciliation of every
// watched playlist on the utility pool and reports how many were queued.
func (o *Orchestrator) TriggerPlaylistChecks() (int, error) {
	playlists, err := o.watchDB.Playlists(true)
	if err != nil {
		return 0, err
	}
	for _, wp := range playlists {
		id := wp.SpotifyID
		o.scheduler.Utility().Submit(queue.Job{
			TaskID: "watch-playlist-" + id,
			Run: func() {
				if err := o.watch.CheckPlaylist(o.rootCtx, id); err != nil {
					o.logger.Warn("triggered playlist check failed", "playlist_id", id, "error", err)
				}
			},
		})
	}
	return len(playlists), nil
}

// TriggerArtistChecks queues an immediate reconciliation of every watched
// artist on the utility pool and reports how many were queued.
func (o *Orchestrator) TriggerArtistChecks() (int, error) {
	artists, err := o.watchDB.Artists(true)
	if err != nil {
		return 0, err
	}
	for _, wa := range artists {
		id := wa.SpotifyID
		o.scheduler.Utility().Submit(queue.Job{
			TaskID: "watch-artist-" + id,
			Run: func() {
				if err := o.watch.CheckArtist(o.rootCtx, id); err != nil {
					o.logger.Warn("triggered artist check failed", "artist_id", id, "error", err)
				}
			},
		})
	}
	return len(artists), nil
}

// trackStats follows the task firehose and folds outcomes into the stats
// tracker.
func (o *Orchestrator) trackStats(ctx context.Context) {
	updates, cancel := o.state.SubscribeAll()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			o.drainStats(updates)
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			o.recordUpdate(u)
		}
	}
}

// drainStats consumes updates still buffered at shutdown so terminal
// statuses appended while the pools drained are not lost.
func (o *Orchestrator) drainStats(updates <-chan task.Update) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			o.recordUpdate(u)
		default:
			return
		}
	}
}

func (o *Orchestrator) recordUpdate(u task.Update) {
	switch u.Status {
	case task.StatusComplete:
		o.stats.RecordTaskCompleted()
	case task.StatusError:
		o.stats.RecordTaskFailed()
	case task.StatusCancelled:
		o.stats.RecordTaskCancelled()
	case task.StatusTrackComplete:
		o.stats.RecordTrackDownloaded()
	case task.StatusSkipped:
		o.stats.RecordTrackSkipped()
	case task.StatusQueued:
		// A QUEUED entry on a task with a retry count is a requeue.
		if info, ok := o.state.Info(u.TaskID); ok && info.RetryCount > 0 {
			o.stats.RecordRetry()
		}
	}
}

// Uptime reports how long the service has been running. Zero before Start.
func (o *Orchestrator) Uptime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startedAt.IsZero() {
		return 0
	}
	return time.Since(o.startedAt)
}

// Config exposes the live configuration manager.
func (o *Orchestrator) Config() *config.Manager { return o.manager }

// State exposes the task state store.
func (o *Orchestrator) State() *state.Store { return o.state }

// History exposes the download history store.
func (o *Orchestrator) History() *history.Store { return o.history }

// Scheduler exposes the task scheduler.
func (o *Orchestrator) Scheduler() *queue.Scheduler { return o.scheduler }

// Watch exposes the watch engine.
func (o *Orchestrator) Watch() *watch.Engine { return o.watch }

// WatchStore exposes the watch database.
func (o *Orchestrator) WatchStore() *watch.Store { return o.watchDB }

// Provider exposes the metadata provider.
func (o *Orchestrator) Provider() *metadata.Provider { return o.provider }

// Limiter exposes the shared rate limiter.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Stats exposes the stats tracker.
func (o *Orchestrator) Stats() *StatsTracker { return o.stats }
