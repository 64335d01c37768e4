package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/metadata"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	streamChunkSize   = 32 * 1024
	playlistPageLimit = 50
)

// skipError marks a track that was deliberately not downloaded.
type skipError struct {
	reason string
}

func (e *skipError) Error() string {
	return e.reason
}

// DefaultFetcher resolves track lists through the metadata provider and
// streams the public preview audio for each track over HTTP. Tracks are
// written into a per-task staging directory and moved to their final
// location only once tagged, so interrupted jobs never leave partial
// files in the library.
type DefaultFetcher struct {
	provider *metadata.Provider
	tagger   *Tagger
	client   *http.Client
	logger   *log.Logger

	baseDir string
	staging string
}

// DefaultOptions configures the built-in fetcher. Zero fields fall back
// to defaults.
type DefaultOptions struct {
	// BaseDir is the root of the finished-music library.
	BaseDir string
	// StagingDir receives in-progress downloads before the final move.
	StagingDir string
	// HTTPClient overrides the audio-stream client.
	HTTPClient *http.Client
}

// NewDefaultFetcher creates the built-in preview fetcher.
func NewDefaultFetcher(provider *metadata.Provider, opts DefaultOptions, logger *log.Logger) *DefaultFetcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = "./downloads"
	}
	staging := opts.StagingDir
	if staging == "" {
		staging = "./downloads"
	}
	return &DefaultFetcher{
		provider: provider,
		tagger:   NewTagger(logger),
		client:   client,
		logger:   logger,
		baseDir:  baseDir,
		staging:  staging,
	}
}

// plannedTrack is one track of a resolved job. Exactly one of spotifyID
// or deezerID identifies the source; preview caches a stream URL already
// known at resolve time.
type plannedTrack struct {
	position  int
	spotifyID string
	deezerID  string
	preview   string
	local     bool
	tags      TrackTags
}

type resolvedJob struct {
	name   string
	artist string
	tracks []plannedTrack
}

// Fetch downloads the content req names, emitting progress events on cb.
func (f *DefaultFetcher) Fetch(ctx context.Context, req Request, cb Callback) error {
	if req.Kind == task.KindArtist {
		return &Error{Message: "artist downloads fan out to album tasks and cannot be fetched directly"}
	}
	if req.ConvertTo != "" && !strings.EqualFold(req.ConvertTo, "mp3") {
		f.logger.Warn("format conversion is not supported by the built-in fetcher",
			"task_id", req.TaskID, "convert_to", req.ConvertTo)
	}

	job, err := f.resolve(ctx, req)
	if err != nil {
		return &Error{Message: fmt.Sprintf("resolving %s metadata", req.Kind), Original: err}
	}

	cb(Event{
		Status:      EventInitializing,
		Type:        string(req.Kind),
		Name:        job.name,
		Artist:      job.artist,
		TotalTracks: len(job.tracks),
	})

	staging := filepath.Join(f.staging, req.TaskID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return &Error{Message: "creating staging directory", Original: err}
	}
	defer os.RemoveAll(staging)

	summary := &task.Summary{}
	total := len(job.tracks)
	for i := range job.tracks {
		tr := &job.tracks[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		if req.Kind.IsParent() {
			cb(Event{
				Status:       EventProgress,
				Type:         string(req.Kind),
				CurrentTrack: fmt.Sprintf("%d/%d", i+1, total),
				TrackName:    tr.tags.Title,
			})
		}
		cb(Event{
			Status:    EventDownloading,
			Type:      "track",
			TrackName: tr.tags.Title,
			Artist:    firstName(tr.tags.Artists),
		})

		res, err := f.fetchTrack(ctx, req, staging, tr, cb)
		var skip *skipError
		switch {
		case err == nil:
			summary.TotalSuccessful++
			done := Event{Status: EventDone, Type: "track", TrackName: tr.tags.Title, Track: res}
			if !req.Kind.IsParent() {
				done.Name = job.name
				done.Artist = job.artist
				done.Summary = summary
			}
			cb(done)
		case errors.As(err, &skip):
			summary.TotalSkipped++
			cb(Event{
				Status:    EventSkipped,
				Type:      "track",
				TrackName: tr.tags.Title,
				Reason:    skip.reason,
				Track:     res,
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			summary.TotalFailed++
			summary.FailedTracks = append(summary.FailedTracks, tr.tags.Title)
			f.logger.Error("track download failed",
				"task_id", req.TaskID, "track", tr.tags.Title, "error", err)
			if !req.Kind.IsParent() {
				return &Error{Message: fmt.Sprintf("downloading %q", tr.tags.Title), Original: err}
			}
		}
	}

	if req.Kind.IsParent() {
		if total > 0 && summary.TotalFailed == total {
			return &Error{Message: fmt.Sprintf("all %d tracks failed", total)}
		}
		cb(Event{
			Status:      EventDone,
			Type:        string(req.Kind),
			Name:        job.name,
			Artist:      job.artist,
			TotalTracks: total,
			Summary:     summary,
		})
	}
	return nil
}

// fetchTrack downloads a single track into staging, tags it and moves it
// to its final path. A *skipError return means the track was skipped on
// purpose; res is still populated when the existing file was found.
func (f *DefaultFetcher) fetchTrack(ctx context.Context, req Request, staging string, tr *plannedTrack, cb Callback) (*TrackResult, error) {
	if tr.local {
		return nil, &skipError{reason: "local tracks have no remote stream"}
	}

	finalPath := TrackPath(f.pathOptions(req), tr.tags)
	if _, err := os.Stat(finalPath); err == nil {
		return f.trackResult(req, tr, "", finalPath), &skipError{
			reason: fmt.Sprintf("file already exists: %s", finalPath),
		}
	}

	streamURL, service, err := f.resolveStream(ctx, req, tr)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(staging, fmt.Sprintf("%04d-%s.mp3", tr.position, SanitizeComponent(tr.tags.Title)))
	if err := f.stream(ctx, req, streamURL, tmp, tr, cb); err != nil {
		return nil, err
	}
	if err := f.tagger.Embed(ctx, tmp, tr.tags); err != nil {
		f.logger.Warn("tag embed failed",
			"task_id", req.TaskID, "track", tr.tags.Title, "error", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := moveFile(tmp, finalPath); err != nil {
		return nil, fmt.Errorf("moving finished track: %w", err)
	}
	return f.trackResult(req, tr, service, finalPath), nil
}

// resolveStream picks the audio URL for tr, honoring the cross-service
// fallback order: with fallback enabled, Spotify-sourced tracks try the
// Deezer catalogue by ISRC first and only then the direct Spotify path.
func (f *DefaultFetcher) resolveStream(ctx context.Context, req Request, tr *plannedTrack) (string, string, error) {
	if tr.preview != "" {
		return tr.preview, "deezer", nil
	}
	if tr.deezerID != "" {
		dt, err := f.provider.DeezerTrack(ctx, tr.deezerID)
		if err != nil {
			return "", "", err
		}
		if dt.Preview == "" {
			return "", "", fmt.Errorf("deezer track %s has no stream", tr.deezerID)
		}
		return dt.Preview, "deezer", nil
	}

	full, err := f.provider.Track(ctx, tr.spotifyID)
	if err != nil {
		return "", "", err
	}
	if full.ExternalIDs.ISRC != "" {
		tr.tags.ISRC = full.ExternalIDs.ISRC
	}
	if tr.tags.CoverURL == "" && len(full.Album.Images) > 0 {
		tr.tags.CoverURL = full.Album.Images[0].URL
	}

	if req.Fallback {
		streamURL, deezerID, err := f.deezerFallback(ctx, tr.tags.ISRC)
		if err == nil {
			tr.deezerID = deezerID
			return streamURL, "deezer", nil
		}
		f.logger.Warn("cross-service fallback unavailable, trying direct stream",
			"task_id", req.TaskID, "track", tr.tags.Title, "error", err)
	}
	if full.PreviewURL == "" {
		return "", "", fmt.Errorf("no stream available for track %s", tr.spotifyID)
	}
	return full.PreviewURL, "spotify", nil
}

func (f *DefaultFetcher) deezerFallback(ctx context.Context, isrc string) (string, string, error) {
	if isrc == "" {
		return "", "", errors.New("track has no isrc for cross-service lookup")
	}
	dt, err := f.provider.DeezerTrackByISRC(ctx, isrc)
	if err != nil {
		return "", "", err
	}
	if dt.Preview == "" {
		return "", "", fmt.Errorf("deezer track %d has no stream", dt.ID)
	}
	return dt.Preview, strconv.FormatInt(dt.ID, 10), nil
}

// stream copies the audio body into dest. When real-time mode is on the
// copy is paced so the transfer takes roughly the track's duration, and
// byte-level progress events are emitted.
func (f *DefaultFetcher) stream(ctx context.Context, req Request, streamURL, dest string, tr *plannedTrack, cb Callback) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("fetching audio stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching audio stream: status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer out.Close()

	var limiter *rate.Limiter
	if req.RealTime && resp.ContentLength > 0 && tr.tags.DurationMS > 0 {
		bytesPerSecond := float64(resp.ContentLength) / (float64(tr.tags.DurationMS) / 1000)
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), streamChunkSize)
	}

	buf := make([]byte, streamChunkSize)
	var written int64
	total := resp.ContentLength
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing audio data: %w", err)
			}
			written += int64(n)
			if req.RealTime {
				ev := Event{
					Status:          EventRealTime,
					Type:            "track",
					TrackName:       tr.tags.Title,
					DownloadedBytes: written,
					TotalBytes:      total,
				}
				if total > 0 {
					ev.Percent = float64(written) / float64(total)
				}
				cb(ev)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading audio stream: %w", readErr)
		}
	}
}

// resolve expands the source URL into the full track list for the job.
func (f *DefaultFetcher) resolve(ctx context.Context, req Request) (*resolvedJob, error) {
	if _, id, err := spotify.ParseURL(req.SourceURL); err == nil {
		return f.resolveSpotify(ctx, req, id)
	}
	if _, id, err := deezer.ParseURL(req.SourceURL); err == nil {
		return f.resolveDeezer(ctx, req, id)
	}
	return nil, fmt.Errorf("unrecognized source url %q", req.SourceURL)
}

func (f *DefaultFetcher) resolveSpotify(ctx context.Context, req Request, id string) (*resolvedJob, error) {
	switch req.Kind {
	case task.KindTrack:
		t, err := f.provider.Track(ctx, id)
		if err != nil {
			return nil, err
		}
		tags := spotifyTrackTags(t)
		tags.PlaylistName = req.PlaylistName
		tags.PlaylistPosition = req.PlaylistPosition
		return &resolvedJob{
			name:   t.Name,
			artist: firstName(tags.Artists),
			tracks: []plannedTrack{{position: 1, spotifyID: t.ID, local: t.IsLocal, tags: tags}},
		}, nil

	case task.KindAlbum:
		album, err := f.provider.Album(ctx, id)
		if err != nil {
			return nil, err
		}
		items, err := f.provider.AllAlbumTracks(ctx, id)
		if err != nil {
			return nil, err
		}
		job := &resolvedJob{name: album.Name, artist: firstArtistName(album.Artists)}
		for i := range items {
			st := &items[i]
			job.tracks = append(job.tracks, plannedTrack{
				position:  i + 1,
				spotifyID: st.ID,
				local:     st.IsLocal,
				tags:      albumTrackTags(album, st),
			})
		}
		return job, nil

	case task.KindPlaylist:
		pl, err := f.provider.PlaylistMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		job := &resolvedJob{name: pl.Name, artist: pl.Owner.DisplayName}
		offset := 0
		for {
			page, err := f.provider.PlaylistTracks(ctx, id, playlistPageLimit, offset)
			if err != nil {
				return nil, err
			}
			for i := range page.Items {
				pt := &page.Items[i]
				if pt.Track.ID == "" && !pt.IsLocal {
					continue
				}
				pos := len(job.tracks) + 1
				tags := spotifyTrackTags(&pt.Track)
				tags.PlaylistName = pl.Name
				tags.PlaylistPosition = pos
				job.tracks = append(job.tracks, plannedTrack{
					position:  pos,
					spotifyID: pt.Track.ID,
					local:     pt.IsLocal || pt.Track.IsLocal,
					tags:      tags,
				})
			}
			offset += len(page.Items)
			if page.Next == nil || len(page.Items) == 0 {
				break
			}
		}
		return job, nil
	}
	return nil, fmt.Errorf("unsupported download type %q", req.Kind)
}

func (f *DefaultFetcher) resolveDeezer(ctx context.Context, req Request, id string) (*resolvedJob, error) {
	switch req.Kind {
	case task.KindTrack:
		dt, err := f.provider.DeezerTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		tags := deezerTrackTags(dt)
		tags.PlaylistName = req.PlaylistName
		tags.PlaylistPosition = req.PlaylistPosition
		return &resolvedJob{
			name:   dt.Title,
			artist: dt.Artist.Name,
			tracks: []plannedTrack{{position: 1, deezerID: id, preview: dt.Preview, tags: tags}},
		}, nil

	case task.KindAlbum:
		da, err := f.provider.DeezerAlbum(ctx, id)
		if err != nil {
			return nil, err
		}
		job := &resolvedJob{name: da.Title, artist: da.Artist.Name}
		for i := range da.Tracks.Data {
			t := &da.Tracks.Data[i]
			tags := deezerTrackTags(t)
			tags.AlbumTitle = da.Title
			tags.AlbumArtist = da.Artist.Name
			tags.TotalTracks = da.NbTracks
			if tags.CoverURL == "" {
				tags.CoverURL = da.CoverXL
			}
			if tags.TrackNumber == 0 {
				tags.TrackNumber = i + 1
			}
			job.tracks = append(job.tracks, plannedTrack{
				position: i + 1,
				deezerID: strconv.FormatInt(t.ID, 10),
				preview:  t.Preview,
				tags:     tags,
			})
		}
		return job, nil

	case task.KindPlaylist:
		dp, err := f.provider.DeezerPlaylist(ctx, id)
		if err != nil {
			return nil, err
		}
		job := &resolvedJob{name: dp.Title, artist: dp.Creator.Name}
		for i := range dp.Tracks.Data {
			t := &dp.Tracks.Data[i]
			tags := deezerTrackTags(t)
			tags.PlaylistName = dp.Title
			tags.PlaylistPosition = i + 1
			job.tracks = append(job.tracks, plannedTrack{
				position: i + 1,
				deezerID: strconv.FormatInt(t.ID, 10),
				preview:  t.Preview,
				tags:     tags,
			})
		}
		return job, nil
	}
	return nil, fmt.Errorf("unsupported download type %q", req.Kind)
}

func (f *DefaultFetcher) pathOptions(req Request) PathOptions {
	dirFormat := req.DirFormat
	if dirFormat == "" {
		dirFormat = "%ar_album%/%album%"
	}
	trackFormat := req.TrackFormat
	if trackFormat == "" {
		trackFormat = "%tracknum%. %music%"
	}
	return PathOptions{
		BaseDir:         f.baseDir,
		DirFormat:       dirFormat,
		TrackFormat:     trackFormat,
		TracknumPadding: req.TracknumPadding,
		PadNumberWidth:  req.PadNumberWidth,
		Extension:       "mp3",
	}
}

func (f *DefaultFetcher) trackResult(req Request, tr *plannedTrack, service, finalPath string) *TrackResult {
	if service == "" {
		service = strings.ToLower(req.Service)
	}
	return &TrackResult{
		Title:          tr.tags.Title,
		Artists:        tr.tags.Artists,
		AlbumTitle:     tr.tags.AlbumTitle,
		DurationMS:     tr.tags.DurationMS,
		TrackNumber:    tr.tags.TrackNumber,
		DiscNumber:     tr.tags.DiscNumber,
		Explicit:       tr.tags.Explicit,
		ISRC:           tr.tags.ISRC,
		Genres:         tr.tags.Genres,
		SpotifyID:      tr.spotifyID,
		DeezerID:       tr.deezerID,
		FinalPath:      finalPath,
		Service:        service,
		QualityFormat:  req.Quality,
		QualityBitrate: req.Bitrate,
		Position:       tr.position,
	}
}

func spotifyTrackTags(t *spotify.Track) TrackTags {
	tags := TrackTags{
		Title:       t.Name,
		Artists:     artistNames(t.Artists),
		AlbumTitle:  t.Album.Name,
		TrackNumber: t.TrackNumber,
		DiscNumber:  t.DiscNumber,
		TotalTracks: t.Album.TotalTracks,
		ReleaseDate: t.Album.ReleaseDate,
		Genres:      t.Album.Genres,
		ISRC:        t.ExternalIDs.ISRC,
		SourceURL:   spotify.CanonicalURL("track", t.ID),
		DurationMS:  t.DurationMS,
		Explicit:    t.Explicit,
	}
	tags.AlbumArtist = firstArtistName(t.Album.Artists)
	if len(t.Album.Images) > 0 {
		tags.CoverURL = t.Album.Images[0].URL
	}
	return tags
}

func albumTrackTags(album *spotify.Album, st *spotify.SimplifiedTrack) TrackTags {
	tags := TrackTags{
		Title:       st.Name,
		Artists:     artistNames(st.Artists),
		AlbumTitle:  album.Name,
		AlbumArtist: firstArtistName(album.Artists),
		TrackNumber: st.TrackNumber,
		DiscNumber:  st.DiscNumber,
		TotalTracks: album.TotalTracks,
		ReleaseDate: album.ReleaseDate,
		Genres:      album.Genres,
		SourceURL:   spotify.CanonicalURL("track", st.ID),
		DurationMS:  st.DurationMS,
		Explicit:    st.Explicit,
	}
	if len(album.Images) > 0 {
		tags.CoverURL = album.Images[0].URL
	}
	return tags
}

func deezerTrackTags(t *deezer.Track) TrackTags {
	return TrackTags{
		Title:       t.Title,
		Artists:     deezerArtists(t),
		AlbumTitle:  t.Album.Title,
		TrackNumber: t.TrackPosition,
		DiscNumber:  t.DiskNumber,
		ISRC:        t.ISRC,
		CoverURL:    t.Album.CoverXL,
		SourceURL:   deezer.CanonicalURL("track", strconv.FormatInt(t.ID, 10)),
		DurationMS:  t.Duration * 1000,
		Explicit:    t.ExplicitLyrics,
	}
}

func deezerArtists(t *deezer.Track) []string {
	if len(t.Contributors) > 0 {
		names := make([]string, 0, len(t.Contributors))
		for _, a := range t.Contributors {
			names = append(names, a.Name)
		}
		return names
	}
	if t.Artist.Name != "" {
		return []string{t.Artist.Name}
	}
	return nil
}

func artistNames(artists []spotify.Artist) []string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return names
}

func firstArtistName(artists []spotify.Artist) string {
	if len(artists) > 0 {
		return artists[0].Name
	}
	return ""
}

func firstName(names []string) string {
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

// moveFile renames src to dst, copying when the rename crosses
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
