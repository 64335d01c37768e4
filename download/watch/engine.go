package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/history"
	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/state"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const defaultPageSize = 50

// Catalog is the slice of the metadata provider the engine consumes.
type Catalog interface {
	PlaylistMetadata(ctx context.Context, id string) (*spotify.Playlist, error)
	PlaylistTracks(ctx context.Context, id string, limit, offset int) (*spotify.Paging[spotify.PlaylistTrack], error)
	ArtistDiscography(ctx context.Context, id string, limit, offset int) (*spotify.Paging[spotify.SimplifiedAlbum], error)
}

// Submitter queues download tasks for discovered items.
type Submitter interface {
	Submit(sub queue.Submission) (string, error)
}

// Settings are the live watch options, re-read on every tick so config
// changes apply without a restart.
type Settings struct {
	Enabled             bool
	PollInterval        time.Duration
	MaxItemsPerRun      int
	AlbumGroups         []string
	UseSnapshotChecking bool
}

// Options wires an Engine. State and History are optional; when both are
// set the engine records final paths and album completion from finished
// watch-submitted tasks.
type Options struct {
	Store     *Store
	Catalog   Catalog
	Submitter Submitter
	State     *state.Store
	History   *history.Store
	Settings  func() Settings
	MusicDir  string
	Logger    *log.Logger
}

// Engine reconciles watched items against the remote catalogue, one item
// per tick in round-robin order.
type Engine struct {
	store     *Store
	catalog   Catalog
	submitter Submitter
	state     *state.Store
	history   *history.Store
	settings  func() Settings
	musicDir  string
	logger    *log.Logger

	mu        sync.Mutex
	index     int
	itemLocks map[string]*sync.Mutex
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	return &Engine{
		store:     opts.Store,
		catalog:   opts.Catalog,
		submitter: opts.Submitter,
		state:     opts.State,
		history:   opts.History,
		settings:  settings,
		musicDir:  opts.MusicDir,
		logger:    logger,
		itemLocks: make(map[string]*sync.Mutex),
	}
}

// Run drives the ticker until ctx is cancelled. Disabled settings skip
// ticks rather than stopping the loop, so enabling the watch feature at
// runtime takes effect on the next interval.
func (e *Engine) Run(ctx context.Context) {
	if e.state != nil && e.history != nil {
		go e.recordCompletions(ctx)
	}

	interval := e.settings().PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("watch engine started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("watch engine stopped")
			return
		case <-ticker.C:
			s := e.settings()
			if s.PollInterval > 0 && s.PollInterval != interval {
				interval = s.PollInterval
				ticker.Reset(interval)
				e.logger.Info("watch interval updated", "interval", interval)
			}
			if !s.Enabled {
				continue
			}
			if err := e.Tick(ctx); err != nil {
				e.logger.Error("watch tick failed", "error", err)
			}
		}
	}
}

// Tick processes exactly one watched item: the next one in round-robin
// order over playlists then artists. Processing only one item per tick
// smooths remote load.
func (e *Engine) Tick(ctx context.Context) error {
	playlists, err := e.store.Playlists(true)
	if err != nil {
		return fmt.Errorf("listing watched playlists: %w", err)
	}
	artists, err := e.store.Artists(true)
	if err != nil {
		return fmt.Errorf("listing watched artists: %w", err)
	}
	total := len(playlists) + len(artists)
	if total == 0 {
		return nil
	}

	e.mu.Lock()
	i := e.index % total
	e.index++
	e.mu.Unlock()

	if i < len(playlists) {
		return e.syncPlaylist(ctx, &playlists[i])
	}
	return e.syncArtist(ctx, &artists[i-len(playlists)])
}

// CheckPlaylist runs one reconciliation pass for a single playlist,
// outside the ticker. Used by the manual trigger endpoint.
func (e *Engine) CheckPlaylist(ctx context.Context, spotifyID string) error {
	wp, err := e.store.Playlist(spotifyID)
	if err != nil {
		return err
	}
	if wp == nil || !wp.IsActive {
		return ErrNotWatched
	}
	return e.syncPlaylist(ctx, wp)
}

// CheckArtist runs one reconciliation pass for a single artist.
func (e *Engine) CheckArtist(ctx context.Context, spotifyID string) error {
	wa, err := e.store.Artist(spotifyID)
	if err != nil {
		return err
	}
	if wa == nil || !wa.IsActive {
		return ErrNotWatched
	}
	return e.syncArtist(ctx, wa)
}

// lockFor returns the per-item mutex, creating it on first use.
func (e *Engine) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.itemLocks[key]
	if !ok {
		m = &sync.Mutex{}
		e.itemLocks[key] = m
	}
	return m
}

// syncPlaylist performs at most one page of playlist reconciliation. A
// provider failure returns without touching the cursor or snapshot.
func (e *Engine) syncPlaylist(ctx context.Context, wp *WatchedPlaylist) error {
	lock := e.lockFor("playlist:" + wp.SpotifyID)
	if !lock.TryLock() {
		e.logger.Debug("playlist check already running", "playlist_id", wp.SpotifyID)
		return nil
	}
	defer lock.Unlock()

	s := e.settings()
	pageSize := clampPageSize(s.MaxItemsPerRun)

	meta, err := e.catalog.PlaylistMetadata(ctx, wp.SpotifyID)
	if err != nil {
		return fmt.Errorf("playlist %s metadata: %w", wp.SpotifyID, err)
	}
	apiSnapshot := meta.SnapshotID
	apiTotal := meta.Tracks.Total

	if s.UseSnapshotChecking && apiSnapshot == wp.SnapshotID && apiTotal == wp.TotalTracks {
		stale, err := e.store.StaleTrackCount(wp.SpotifyID, apiSnapshot)
		if err != nil {
			return err
		}
		if stale == 0 {
			e.logger.Debug("playlist unchanged", "playlist_id", wp.SpotifyID, "snapshot", apiSnapshot)
			return nil
		}
	}

	if s.UseSnapshotChecking && apiSnapshot != wp.SnapshotID && apiTotal == wp.TotalTracks {
		stale, err := e.store.StaleTrackCount(wp.SpotifyID, apiSnapshot)
		if err != nil {
			return err
		}
		if stale > 0 && stale <= pageSize {
			return e.targetedSync(ctx, wp, apiSnapshot, pageSize)
		}
	}

	return e.fullSync(ctx, wp, meta, pageSize)
}

// targetedSync re-confirms existing rows against a new snapshot without
// submitting anything. The playlist's own snapshot is left alone; once
// every row is current a full sync converges it.
func (e *Engine) targetedSync(ctx context.Context, wp *WatchedPlaylist, apiSnapshot string, pageSize int) error {
	offset := wp.BatchNextOffset
	page, err := e.catalog.PlaylistTracks(ctx, wp.SpotifyID, pageSize, offset)
	if err != nil {
		return fmt.Errorf("playlist %s tracks at %d: %w", wp.SpotifyID, offset, err)
	}
	known, err := e.store.PlaylistTrackIDs(wp.SpotifyID)
	if err != nil {
		return err
	}

	var rows []PlaylistTrackRow
	for _, item := range page.Items {
		if item.Track.ID == "" || !known[item.Track.ID] {
			continue
		}
		rows = append(rows, playlistRowFromItem(item, apiSnapshot))
	}
	if err := e.store.UpsertPlaylistTracks(wp.SpotifyID, rows); err != nil {
		return err
	}
	e.logger.Info("playlist targeted sync", "playlist_id", wp.SpotifyID, "offset", offset, "updated", len(rows))

	if len(page.Items) == 0 || offset+len(page.Items) >= page.Total {
		return e.store.UpdatePlaylistCursor(wp.SpotifyID, 0, wp.BatchProcessingSnapshotID)
	}
	return e.store.UpdatePlaylistCursor(wp.SpotifyID, offset+len(page.Items), wp.BatchProcessingSnapshotID)
}

// fullSync processes one page of a complete rescan, submitting downloads
// for unknown tracks. The snapshot, track count, and m3u file update only
// when the final page lands.
func (e *Engine) fullSync(ctx context.Context, wp *WatchedPlaylist, meta *spotify.Playlist, pageSize int) error {
	apiSnapshot := meta.SnapshotID
	offset := wp.BatchNextOffset
	// A snapshot change mid-scan restarts the scan against the new one.
	if wp.BatchProcessingSnapshotID != apiSnapshot {
		offset = 0
		if err := e.store.UpdatePlaylistCursor(wp.SpotifyID, 0, apiSnapshot); err != nil {
			return err
		}
	}

	page, err := e.catalog.PlaylistTracks(ctx, wp.SpotifyID, pageSize, offset)
	if err != nil {
		return fmt.Errorf("playlist %s tracks at %d: %w", wp.SpotifyID, offset, err)
	}
	known, err := e.store.PlaylistTrackIDs(wp.SpotifyID)
	if err != nil {
		return err
	}

	var rows []PlaylistTrackRow
	submitted := 0
	for i, item := range page.Items {
		tr := item.Track
		if tr.ID == "" {
			continue
		}
		if !item.IsLocal && !tr.IsLocal && !known[tr.ID] {
			if e.submitTrack(wp, meta, tr, offset+i+1) {
				submitted++
			}
		}
		rows = append(rows, playlistRowFromItem(item, apiSnapshot))
	}
	if err := e.store.UpsertPlaylistTracks(wp.SpotifyID, rows); err != nil {
		return err
	}

	if len(page.Items) > 0 && offset+len(page.Items) < page.Total {
		e.logger.Info("playlist sync page done", "playlist_id", wp.SpotifyID, "offset", offset,
			"page", len(page.Items), "total", page.Total, "submitted", submitted)
		return e.store.UpdatePlaylistCursor(wp.SpotifyID, offset+len(page.Items), apiSnapshot)
	}

	// End of scan: flag removed tracks, promote the snapshot, rebuild the
	// m3u file.
	removed, err := e.store.MarkTracksNotPresent(wp.SpotifyID, apiSnapshot)
	if err != nil {
		e.logger.Warn("marking removed tracks failed", "playlist_id", wp.SpotifyID, "error", err)
	}
	if err := e.store.CompletePlaylistSync(wp.SpotifyID, meta.Name, apiSnapshot, page.Total); err != nil {
		return err
	}
	e.logger.Info("playlist sync complete", "playlist_id", wp.SpotifyID, "snapshot", apiSnapshot,
		"total", page.Total, "submitted", submitted, "removed", removed)

	if err := e.WritePlaylistM3U(wp.SpotifyID, meta.Name); err != nil {
		e.logger.Warn("m3u generation failed", "playlist_id", wp.SpotifyID, "error", err)
	}
	return nil
}

// submitTrack queues one playlist track download. Duplicates are routine
// (the track may already be queued from another source) and only logged.
func (e *Engine) submitTrack(wp *WatchedPlaylist, meta *spotify.Playlist, tr spotify.Track, position int) bool {
	artist := ""
	if len(tr.Artists) > 0 {
		artist = tr.Artists[0].Name
	}
	_, err := e.submitter.Submit(queue.Submission{
		Kind:      task.KindTrack,
		SourceURL: spotify.CanonicalURL("track", tr.ID),
		Display:   task.Display{Name: tr.Name, Artist: artist},
		FromWatch: true,
		OrigRequest: map[string]string{
			"playlist_id":       wp.SpotifyID,
			"playlist_name":     meta.Name,
			"playlist_position": strconv.Itoa(position),
			"track_id":          tr.ID,
		},
		Submitter: "watch",
	})
	if err != nil {
		var dup *queue.DuplicateDownloadError
		if errors.As(err, &dup) {
			e.logger.Debug("track already queued", "track_id", tr.ID, "existing", dup.ExistingTaskID)
		} else {
			e.logger.Error("watch track submission failed", "track_id", tr.ID, "error", err)
		}
		return false
	}
	return true
}

// syncArtist processes one page of an artist's discography, submitting an
// album task for each newly seen release in a watched album group.
func (e *Engine) syncArtist(ctx context.Context, wa *WatchedArtist) error {
	lock := e.lockFor("artist:" + wa.SpotifyID)
	if !lock.TryLock() {
		e.logger.Debug("artist check already running", "artist_id", wa.SpotifyID)
		return nil
	}
	defer lock.Unlock()

	s := e.settings()
	pageSize := clampPageSize(s.MaxItemsPerRun)
	groups := watchedGroups(s.AlbumGroups)
	offset := wa.BatchNextOffset

	page, err := e.catalog.ArtistDiscography(ctx, wa.SpotifyID, pageSize, offset)
	if err != nil {
		return fmt.Errorf("artist %s discography at %d: %w", wa.SpotifyID, offset, err)
	}
	known, err := e.store.ArtistAlbumIDs(wa.SpotifyID)
	if err != nil {
		return err
	}

	var rows []ArtistAlbumRow
	submitted := 0
	for _, album := range page.Items {
		group := album.AlbumGroup
		if group == "" {
			group = album.AlbumType
		}
		row := ArtistAlbumRow{
			AlbumSpotifyID: album.ID,
			Name:           album.Name,
			AlbumGroup:     group,
			AlbumType:      album.AlbumType,
			ReleaseDate:    album.ReleaseDate,
			TotalTracks:    album.TotalTracks,
		}
		if groups[group] && !known[album.ID] {
			if taskID, ok := e.submitAlbum(wa, album); ok {
				row.DownloadTaskID = taskID
				row.DownloadStatus = DownloadInitiated
				submitted++
			}
		}
		rows = append(rows, row)
	}
	if err := e.store.UpsertArtistAlbums(wa.SpotifyID, rows); err != nil {
		return err
	}

	if page.GetNext() != nil && len(page.Items) > 0 {
		e.logger.Info("artist sync page done", "artist_id", wa.SpotifyID, "offset", offset,
			"page", len(page.Items), "submitted", submitted)
		return e.store.UpdateArtistCursor(wa.SpotifyID, offset+len(page.Items))
	}
	e.logger.Info("artist sync complete", "artist_id", wa.SpotifyID, "albums", page.Total, "submitted", submitted)
	return e.store.CompleteArtistSync(wa.SpotifyID, page.Total)
}

func (e *Engine) submitAlbum(wa *WatchedArtist, album spotify.SimplifiedAlbum) (string, bool) {
	taskID, err := e.submitter.Submit(queue.Submission{
		Kind:      task.KindAlbum,
		SourceURL: spotify.CanonicalURL("album", album.ID),
		Display:   task.Display{Name: album.Name, Artist: wa.Name},
		FromWatch: true,
		OrigRequest: map[string]string{
			"artist_id": wa.SpotifyID,
			"album_id":  album.ID,
		},
		Submitter: "watch",
	})
	if err != nil {
		var dup *queue.DuplicateDownloadError
		if errors.As(err, &dup) {
			e.logger.Debug("album already queued", "album_id", album.ID, "existing", dup.ExistingTaskID)
		} else {
			e.logger.Error("watch album submission failed", "album_id", album.ID, "error", err)
		}
		return "", false
	}
	return taskID, true
}

// recordCompletions follows the task firehose and copies the outcome of
// finished watch-submitted tasks back into the watch database.
func (e *Engine) recordCompletions(ctx context.Context) {
	updates, cancel := e.state.SubscribeAll()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Status != task.StatusComplete {
				continue
			}
			e.recordCompletion(u.TaskID)
		}
	}
}

func (e *Engine) recordCompletion(taskID string) {
	info, ok := e.state.Info(taskID)
	if !ok || !info.FromWatch {
		return
	}
	switch info.Kind {
	case task.KindTrack:
		playlistID := info.OrigRequest["playlist_id"]
		trackID := info.OrigRequest["track_id"]
		if playlistID == "" || trackID == "" {
			return
		}
		entry, err := e.history.EntryByTaskID(taskID)
		if err != nil || entry == nil {
			return
		}
		finalPath, _ := entry.Metadata["final_path"].(string)
		if finalPath == "" {
			return
		}
		if err := e.store.SetTrackPath(playlistID, trackID, finalPath); err != nil {
			e.logger.Warn("recording track path failed", "playlist_id", playlistID, "track_id", trackID, "error", err)
		}
	case task.KindAlbum:
		artistID := info.OrigRequest["artist_id"]
		albumID := info.OrigRequest["album_id"]
		if artistID == "" || albumID == "" {
			return
		}
		if err := e.store.SetAlbumDownload(artistID, albumID, taskID, DownloadCompleted); err != nil {
			e.logger.Warn("recording album completion failed", "artist_id", artistID, "album_id", albumID, "error", err)
		}
	}
}

func playlistRowFromItem(item spotify.PlaylistTrack, snapshotID string) PlaylistTrackRow {
	tr := item.Track
	artists := make([]string, 0, len(tr.Artists))
	for _, a := range tr.Artists {
		artists = append(artists, a.Name)
	}
	return PlaylistTrackRow{
		SpotifyTrackID:  tr.ID,
		Title:           tr.Name,
		Artists:         artists,
		AlbumName:       tr.Album.Name,
		TrackNumber:     tr.TrackNumber,
		DurationMS:      tr.DurationMS,
		AddedAtPlaylist: item.AddedAt,
		SnapshotID:      snapshotID,
	}
}

// clampPageSize bounds the per-run page size to the API maximum.
func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > 50 {
		return 50
	}
	return n
}

// watchedGroups normalizes the configured album groups into a set,
// defaulting to albums and singles.
func watchedGroups(groups []string) map[string]bool {
	if len(groups) == 0 {
		return map[string]bool{"album": true, "single": true}
	}
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	return set
}
