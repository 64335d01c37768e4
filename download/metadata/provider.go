// Package metadata fronts the remote catalogues. Every outbound call
// passes through the shared rate limiter so the aggregate request rate
// across workers and the watch engine stays under provider limits. Hot
// lookups are cached with a short TTL.
package metadata

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/spotizerr-dev/spotizerr-sub000/download/deezer"
	"github.com/spotizerr-dev/spotizerr-sub000/download/ratelimit"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 5 * time.Minute
)

// discographyGroups is the fixed include_groups filter for artist
// discography scans.
var discographyGroups = []string{"single", "album", "appears_on"}

// Options tunes the provider. Zero fields fall back to defaults.
type Options struct {
	CacheMaxSize int
	CacheTTL     time.Duration
}

// Provider wraps the Spotify and Deezer clients behind the shared rate
// limiter and a TTL cache.
type Provider struct {
	spotify *spotify.Client
	deezer  *deezer.Client
	limiter *ratelimit.Limiter
	cache   *TTLCache
	logger  *log.Logger
}

// NewProvider creates a Provider. The limiter must be the process-wide
// instance shared with every other remote caller.
func NewProvider(spotifyClient *spotify.Client, deezerClient *deezer.Client, limiter *ratelimit.Limiter, opts Options, logger *log.Logger) *Provider {
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Provider{
		spotify: spotifyClient,
		deezer:  deezerClient,
		limiter: limiter,
		cache:   NewTTLCache(opts.CacheMaxSize, opts.CacheTTL),
		logger:  logger,
	}
}

// Close releases the provider's background resources.
func (p *Provider) Close() {
	p.cache.StopCleanup()
}

// StartCacheCleanup launches the cache's periodic sweep.
func (p *Provider) StartCacheCleanup(interval time.Duration) {
	p.cache.StartCleanup(interval)
}

// CacheStats returns cache statistics for status reporting.
func (p *Provider) CacheStats() CacheStats {
	return p.cache.Stats()
}

// Track retrieves Spotify track metadata (cached).
func (p *Provider) Track(ctx context.Context, id string) (*spotify.Track, error) {
	cacheKey := "track:" + id
	if cached := p.cache.Get(cacheKey); cached != nil {
		if track, ok := cached.(*spotify.Track); ok {
			return track, nil
		}
	}

	var track *spotify.Track
	err := p.limiter.Guard(ctx, func() error {
		var err error
		track, err = p.spotify.Track(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, track)
	return track, nil
}

// Album retrieves Spotify album metadata including the embedded first
// page of tracks (cached).
func (p *Provider) Album(ctx context.Context, id string) (*spotify.Album, error) {
	cacheKey := "album:" + id
	if cached := p.cache.Get(cacheKey); cached != nil {
		if album, ok := cached.(*spotify.Album); ok {
			return album, nil
		}
	}

	var album *spotify.Album
	err := p.limiter.Guard(ctx, func() error {
		var err error
		album, err = p.spotify.Album(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, album)
	return album, nil
}

// AlbumTracks retrieves one page of an album's tracks. Pages are not
// cached; callers walk them once.
func (p *Provider) AlbumTracks(ctx context.Context, id string, limit, offset int) (*spotify.Paging[spotify.SimplifiedTrack], error) {
	var page *spotify.Paging[spotify.SimplifiedTrack]
	err := p.limiter.Guard(ctx, func() error {
		var err error
		page, err = p.spotify.AlbumTracks(ctx, id, limit, offset)
		return err
	})
	return page, err
}

// AllAlbumTracks walks every page of an album's tracks.
func (p *Provider) AllAlbumTracks(ctx context.Context, id string) ([]spotify.SimplifiedTrack, error) {
	page, err := p.AlbumTracks(ctx, id, 50, 0)
	if err != nil {
		return nil, err
	}

	tracks := make([]spotify.SimplifiedTrack, 0, page.Total)
	tracks = append(tracks, page.Items...)
	for page.GetNext() != nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during pagination: %w", err)
		}
		err := p.limiter.Guard(ctx, func() error {
			var nextErr error
			page, nextErr = spotify.Next(ctx, p.spotify, page)
			return nextErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to paginate album tracks: %w", err)
		}
		if page == nil {
			break
		}
		tracks = append(tracks, page.Items...)
	}
	return tracks, nil
}

// PlaylistMetadata retrieves playlist metadata, including the snapshot id
// used by the watch engine. Cached with the provider TTL so repeated
// watch ticks stay cheap.
func (p *Provider) PlaylistMetadata(ctx context.Context, id string) (*spotify.Playlist, error) {
	cacheKey := "playlist:" + id
	if cached := p.cache.Get(cacheKey); cached != nil {
		if playlist, ok := cached.(*spotify.Playlist); ok {
			return playlist, nil
		}
	}

	var playlist *spotify.Playlist
	err := p.limiter.Guard(ctx, func() error {
		var err error
		playlist, err = p.spotify.Playlist(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, playlist)
	return playlist, nil
}

// PlaylistTracks retrieves one page of a playlist's tracks, at most 50
// per page. Never cached: the watch engine depends on fresh rows.
func (p *Provider) PlaylistTracks(ctx context.Context, id string, limit, offset int) (*spotify.Paging[spotify.PlaylistTrack], error) {
	var page *spotify.Paging[spotify.PlaylistTrack]
	err := p.limiter.Guard(ctx, func() error {
		var err error
		page, err = p.spotify.PlaylistTracks(ctx, id, limit, offset)
		return err
	})
	return page, err
}

// Artist retrieves Spotify artist metadata (cached).
func (p *Provider) Artist(ctx context.Context, id string) (*spotify.Artist, error) {
	cacheKey := "artist:" + id
	if cached := p.cache.Get(cacheKey); cached != nil {
		if artist, ok := cached.(*spotify.Artist); ok {
			return artist, nil
		}
	}

	var artist *spotify.Artist
	err := p.limiter.Guard(ctx, func() error {
		var err error
		artist, err = p.spotify.Artist(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, artist)
	return artist, nil
}

// ArtistDiscography retrieves one page of an artist's discography with
// include_groups fixed to singles, albums and appearances. Not cached;
// the watch engine scans pages incrementally.
func (p *Provider) ArtistDiscography(ctx context.Context, id string, limit, offset int) (*spotify.Paging[spotify.SimplifiedAlbum], error) {
	var page *spotify.Paging[spotify.SimplifiedAlbum]
	err := p.limiter.Guard(ctx, func() error {
		var err error
		page, err = p.spotify.ArtistAlbums(ctx, id, discographyGroups, limit, offset)
		return err
	})
	return page, err
}

// Episode retrieves podcast episode metadata (cached).
func (p *Provider) Episode(ctx context.Context, id string) (*spotify.Episode, error) {
	cacheKey := "episode:" + id
	if cached := p.cache.Get(cacheKey); cached != nil {
		if episode, ok := cached.(*spotify.Episode); ok {
			return episode, nil
		}
	}

	var episode *spotify.Episode
	err := p.limiter.Guard(ctx, func() error {
		var err error
		episode, err = p.spotify.Episode(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.cache.Set(cacheKey, episode)
	return episode, nil
}

// DeezerTrack retrieves Deezer track metadata.
func (p *Provider) DeezerTrack(ctx context.Context, id string) (*deezer.Track, error) {
	var track *deezer.Track
	err := p.limiter.Guard(ctx, func() error {
		var err error
		track, err = p.deezer.Track(ctx, id)
		return err
	})
	return track, err
}

// DeezerTrackByISRC matches a track onto the Deezer catalogue by ISRC.
// Used for cross-service fallback of Spotify submissions.
func (p *Provider) DeezerTrackByISRC(ctx context.Context, isrc string) (*deezer.Track, error) {
	var track *deezer.Track
	err := p.limiter.Guard(ctx, func() error {
		var err error
		track, err = p.deezer.TrackByISRC(ctx, isrc)
		return err
	})
	return track, err
}

// DeezerAlbum retrieves Deezer album metadata.
func (p *Provider) DeezerAlbum(ctx context.Context, id string) (*deezer.Album, error) {
	var album *deezer.Album
	err := p.limiter.Guard(ctx, func() error {
		var err error
		album, err = p.deezer.Album(ctx, id)
		return err
	})
	return album, err
}

// DeezerPlaylist retrieves Deezer playlist metadata.
func (p *Provider) DeezerPlaylist(ctx context.Context, id string) (*deezer.Playlist, error) {
	var playlist *deezer.Playlist
	err := p.limiter.Guard(ctx, func() error {
		var err error
		playlist, err = p.deezer.Playlist(ctx, id)
		return err
	})
	return playlist, err
}
