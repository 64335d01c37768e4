package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/watch"
)

// WatchedPlaylists handles GET /api/playlist/watch/list.
func (h *Handlers) WatchedPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.orch.WatchStore().Playlists(false)
	if err != nil {
		h.logError("WatchedPlaylists", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to list watched playlists",
			"message": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"playlists": playlists,
		"count":     len(playlists),
	})
}

// WatchPlaylistPut handles PUT /api/playlist/watch/{id} - start watching a
// playlist. The playlist metadata is resolved so the row carries its name
// and owner; the snapshot id is left empty so the first check scans fully.
func (h *Handlers) WatchPlaylistPut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.watchID(w, r, "playlist")
	if !ok {
		return
	}

	meta, err := h.orch.Provider().PlaylistMetadata(r.Context(), id)
	if err != nil {
		h.logError("WatchPlaylistPut", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "Failed to resolve playlist",
			"message": err.Error(),
		})
		return
	}

	wp := &watch.WatchedPlaylist{
		SpotifyID:   id,
		Name:        meta.Name,
		OwnerID:     meta.Owner.ID,
		OwnerName:   meta.Owner.DisplayName,
		TotalTracks: meta.Tracks.Total,
		AddedAt:     time.Now(),
		IsActive:    true,
	}
	if err := h.orch.WatchStore().AddPlaylist(wp); err != nil {
		h.logError("WatchPlaylistPut", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to store watched playlist",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Playlist is now watched",
		"playlist": wp,
	})
}

// WatchPlaylistDelete handles DELETE /api/playlist/watch/{id}.
func (h *Handlers) WatchPlaylistDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.watchID(w, r, "playlist")
	if !ok {
		return
	}

	if err := h.orch.WatchStore().RemovePlaylist(id); err != nil {
		if errors.Is(err, watch.ErrNotWatched) {
			h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":       "Playlist is not watched",
				"playlist_id": id,
			})
			return
		}
		h.logError("WatchPlaylistDelete", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to remove watched playlist",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Playlist watch removed",
		"playlist_id": id,
	})
}

// WatchPlaylistTrigger handles POST /api/playlist/watch/trigger_check -
// queue an immediate reconciliation of every watched playlist.
func (h *Handlers) WatchPlaylistTrigger(w http.ResponseWriter, r *http.Request) {
	queued, err := h.orch.TriggerPlaylistChecks()
	if err != nil {
		h.logError("WatchPlaylistTrigger", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to trigger playlist checks",
			"message": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Playlist checks queued",
		"queued":  queued,
	})
}

// WatchedArtists handles GET /api/artist/watch/list.
func (h *Handlers) WatchedArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := h.orch.WatchStore().Artists(false)
	if err != nil {
		h.logError("WatchedArtists", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to list watched artists",
			"message": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"artists": artists,
		"count":   len(artists),
	})
}

// WatchArtistPut handles PUT /api/artist/watch/{id} - start watching an
// artist's discography.
func (h *Handlers) WatchArtistPut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.watchID(w, r, "artist")
	if !ok {
		return
	}

	artist, err := h.orch.Provider().Artist(r.Context(), id)
	if err != nil {
		h.logError("WatchArtistPut", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "Failed to resolve artist",
			"message": err.Error(),
		})
		return
	}
	totalAlbums := 0
	if page, err := h.orch.Provider().ArtistDiscography(r.Context(), id, 1, 0); err == nil {
		totalAlbums = page.Total
	}

	wa := &watch.WatchedArtist{
		SpotifyID:            id,
		Name:                 artist.Name,
		TotalAlbumsOnSpotify: totalAlbums,
		AddedAt:              time.Now(),
		IsActive:             true,
	}
	if err := h.orch.WatchStore().AddArtist(wa); err != nil {
		h.logError("WatchArtistPut", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to store watched artist",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Artist is now watched",
		"artist":  wa,
	})
}

// WatchArtistDelete handles DELETE /api/artist/watch/{id}.
func (h *Handlers) WatchArtistDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.watchID(w, r, "artist")
	if !ok {
		return
	}

	if err := h.orch.WatchStore().RemoveArtist(id); err != nil {
		if errors.Is(err, watch.ErrNotWatched) {
			h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":     "Artist is not watched",
				"artist_id": id,
			})
			return
		}
		h.logError("WatchArtistDelete", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to remove watched artist",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Artist watch removed",
		"artist_id": id,
	})
}

// WatchArtistTrigger handles POST /api/artist/watch/trigger_check.
func (h *Handlers) WatchArtistTrigger(w http.ResponseWriter, r *http.Request) {
	queued, err := h.orch.TriggerArtistChecks()
	if err != nil {
		h.logError("WatchArtistTrigger", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to trigger artist checks",
			"message": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Artist checks queued",
		"queued":  queued,
	})
}

// watchID validates the {id} path variable as a bare Spotify id or URL of
// the given kind. A rejected id answers the request with a 400.
func (h *Handlers) watchID(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	raw := mux.Vars(r)["id"]
	id, err := spotify.GetID(raw, kind)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid " + kind + " id",
			"message": err.Error(),
		})
		return "", false
	}
	return id, true
}
