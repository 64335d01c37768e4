package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/spotify"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

// DownloadTrack handles POST /api/track/download/{id} - queue a track download.
func (h *Handlers) DownloadTrack(w http.ResponseWriter, r *http.Request) {
	h.submitDownload(w, r, task.KindTrack)
}

// DownloadAlbum handles POST /api/album/download/{id} - queue an album download.
func (h *Handlers) DownloadAlbum(w http.ResponseWriter, r *http.Request) {
	h.submitDownload(w, r, task.KindAlbum)
}

// DownloadPlaylist handles POST /api/playlist/download/{id} - queue a playlist download.
func (h *Handlers) DownloadPlaylist(w http.ResponseWriter, r *http.Request) {
	h.submitDownload(w, r, task.KindPlaylist)
}

// DownloadArtist handles POST /api/artist/download/{id} - fan an artist out
// into one album task per release. The album_type query parameter narrows
// the release groups.
func (h *Handlers) DownloadArtist(w http.ResponseWriter, r *http.Request) {
	h.submitDownload(w, r, task.KindArtist)
}

// submitDownload queues one download submission. The path id may be a bare
// Spotify id or a full open.spotify.com URL of the matching kind.
func (h *Handlers) submitDownload(w http.ResponseWriter, r *http.Request, kind task.Kind) {
	raw := mux.Vars(r)["id"]
	id, err := spotify.GetID(raw, string(kind))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid " + string(kind) + " id",
			"message": err.Error(),
		})
		return
	}

	q := r.URL.Query()
	sub := queue.Submission{
		Kind:        kind,
		SourceURL:   spotify.CanonicalURL(string(kind), id),
		Display:     task.Display{Name: q.Get("name"), Artist: q.Get("artist")},
		Overrides:   parseOverrides(q),
		OrigRequest: origRequest(q, id),
		Submitter:   "api",
	}

	result, err := h.orch.Submit(r.Context(), sub)
	if err != nil {
		var dup *queue.DuplicateDownloadError
		if errors.As(err, &dup) {
			h.writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":            "Duplicate download",
				"message":          err.Error(),
				"existing_task_id": dup.ExistingTaskID,
			})
			return
		}
		h.logError("Download", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to queue download",
			"message": err.Error(),
		})
		return
	}

	response := map[string]interface{}{
		"queued": result.Queued,
		"count":  len(result.Queued),
	}
	if kind != task.KindArtist && len(result.Queued) == 1 {
		response["task_id"] = result.Queued[0]
	}
	if len(result.Duplicates) > 0 {
		response["duplicates"] = result.Duplicates
	}
	h.writeJSON(w, http.StatusAccepted, response)
}

// parseOverrides maps download option query parameters onto submit-time
// overrides. Absent parameters stay nil so config defaults apply.
func parseOverrides(q url.Values) *queue.ParameterOverrides {
	o := &queue.ParameterOverrides{}
	set := false

	str := func(key string, dst **string) {
		if !q.Has(key) {
			return
		}
		v := q.Get(key)
		*dst = &v
		set = true
	}
	boolean := func(key string, dst **bool) {
		if !q.Has(key) {
			return
		}
		v := parseBoolParam(q.Get(key))
		*dst = &v
		set = true
	}

	str("service", &o.Service)
	str("spotifyQuality", &o.SpotifyQuality)
	str("deezerQuality", &o.DeezerQuality)
	str("convertTo", &o.ConvertTo)
	str("bitrate", &o.Bitrate)
	str("customDirFormat", &o.CustomDirFormat)
	str("customTrackFormat", &o.CustomTrackFormat)
	boolean("fallback", &o.Fallback)
	boolean("realTime", &o.RealTime)
	boolean("tracknumPadding", &o.TracknumPadding)
	if q.Has("padNumberWidth") {
		if n, err := strconv.Atoi(q.Get("padNumberWidth")); err == nil {
			o.PadNumberWidth = &n
			set = true
		}
	}

	if !set {
		return nil
	}
	return o
}

func parseBoolParam(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// origRequest captures the submission query string for later retries.
func origRequest(q url.Values, id string) map[string]string {
	orig := map[string]string{"id": id}
	for key, values := range q {
		if len(values) > 0 {
			orig[key] = values[0]
		}
	}
	return orig
}
