package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/spotizerr-dev/spotizerr-sub000/control/handlers"
	"github.com/spotizerr-dev/spotizerr-sub000/download"
	"github.com/spotizerr-dev/spotizerr-sub000/download/logging"
)

// ServerConfig holds configuration for the control platform server.
type ServerConfig struct {
	Port       int
	ConfigPath string
	DataDir    string
	EnvFiles   []string
	LogWriter  io.Writer
	Version    string
}

// Server represents the control platform HTTP server. It owns the
// download orchestrator and exposes it over the JSON API.
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	router     *mux.Router
	handlers   *handlers.Handlers
	orch       *download.Orchestrator
	logger     *log.Logger
	startTime  time.Time

	feedCancel context.CancelFunc
}

// NewServer wires the orchestrator and the HTTP layer. Nothing listens
// until Start.
func NewServer(config *ServerConfig) (*Server, error) {
	logWriter := config.LogWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}
	version := config.Version
	if version == "" {
		version = "dev"
	}

	orch, err := download.New(download.Options{
		ConfigPath: config.ConfigPath,
		DataDir:    config.DataDir,
		EnvFiles:   config.EnvFiles,
		LogWriter:  logWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("building download service: %w", err)
	}

	startTime := time.Now()
	logger := logging.New(logWriter, "web-server")
	h := handlers.NewHandlers(orch, version, startTime, logger)

	server := &Server{
		config:    config,
		router:    mux.NewRouter(),
		handlers:  h,
		orch:      orch,
		logger:    logger,
		startTime: startTime,
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: recoveryMiddleware(server.router, logger),
		// No blanket write timeout: the SSE and WebSocket endpoints hold
		// their connections open indefinitely.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return server, nil
}

// setupRoutes configures all HTTP routes. Fixed segments are registered
// before {var} patterns; gorilla/mux matches in registration order.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Download submission
	api.HandleFunc("/track/download/{id}", s.handlers.DownloadTrack).Methods("POST")
	api.HandleFunc("/album/download/{id}", s.handlers.DownloadAlbum).Methods("POST")
	api.HandleFunc("/playlist/download/{id}", s.handlers.DownloadPlaylist).Methods("POST")
	api.HandleFunc("/artist/download/{id}", s.handlers.DownloadArtist).Methods("POST")

	// Task progress and control
	api.HandleFunc("/prgs/list", s.handlers.PrgsList).Methods("GET")
	api.HandleFunc("/prgs/stream", s.handlers.PrgsStream).Methods("GET")
	api.HandleFunc("/prgs/stream/{taskID}", s.handlers.PrgsStreamTask).Methods("GET")
	api.HandleFunc("/prgs/ws", s.handlers.TaskUpdates).Methods("GET")
	api.HandleFunc("/prgs/retry/{taskID}", s.handlers.PrgsRetry).Methods("POST")
	api.HandleFunc("/prgs/cancel/all", s.handlers.PrgsCancelAll).Methods("POST")
	api.HandleFunc("/prgs/cancel/{taskID}", s.handlers.PrgsCancel).Methods("POST")
	api.HandleFunc("/prgs/pause", s.handlers.PrgsPause).Methods("POST")
	api.HandleFunc("/prgs/resume", s.handlers.PrgsResume).Methods("POST")
	api.HandleFunc("/prgs/{taskID}", s.handlers.PrgsDetail).Methods("GET")

	// Download history
	api.HandleFunc("/history", s.handlers.HistoryList).Methods("GET")
	api.HandleFunc("/history/search", s.handlers.HistorySearch).Methods("GET")
	api.HandleFunc("/history/stats", s.handlers.HistoryStats).Methods("GET")
	api.HandleFunc("/history/cleanup", s.handlers.HistoryCleanup).Methods("POST")
	api.HandleFunc("/history/{taskID}/tracks", s.handlers.HistoryTracks).Methods("GET")
	api.HandleFunc("/history/{taskID}", s.handlers.HistoryDetail).Methods("GET")

	// Watched playlists and artists
	api.HandleFunc("/playlist/watch/list", s.handlers.WatchedPlaylists).Methods("GET")
	api.HandleFunc("/playlist/watch/trigger_check", s.handlers.WatchPlaylistTrigger).Methods("POST")
	api.HandleFunc("/playlist/watch/{id}", s.handlers.WatchPlaylistPut).Methods("PUT")
	api.HandleFunc("/playlist/watch/{id}", s.handlers.WatchPlaylistDelete).Methods("DELETE")
	api.HandleFunc("/artist/watch/list", s.handlers.WatchedArtists).Methods("GET")
	api.HandleFunc("/artist/watch/trigger_check", s.handlers.WatchArtistTrigger).Methods("POST")
	api.HandleFunc("/artist/watch/{id}", s.handlers.WatchArtistPut).Methods("PUT")
	api.HandleFunc("/artist/watch/{id}", s.handlers.WatchArtistDelete).Methods("DELETE")

	// Config management
	api.HandleFunc("/config", s.handlers.ConfigGet).Methods("GET")
	api.HandleFunc("/config", s.handlers.ConfigPut).Methods("PUT")

	// System
	api.HandleFunc("/health", s.handlers.Health).Methods("GET")
	api.HandleFunc("/stats", s.handlers.Stats).Methods("GET")
	api.HandleFunc("/stats/reset", s.handlers.StatsReset).Methods("POST")

	// API documentation
	api.HandleFunc("/docs", s.docsPage).Methods("GET")
	api.HandleFunc("/docs/swagger.json", s.swaggerJSON).Methods("GET")
}

// Start launches the download service and the HTTP listener. Blocks until
// the listener stops.
func (s *Server) Start() error {
	if err := s.orch.Start(); err != nil {
		return err
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	s.feedCancel = cancel
	go s.handlers.Tasks().Run(feedCtx)

	s.logger.Info("control platform listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener, then tears the download service down so
// running jobs are cancelled and drained.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.feedCancel != nil {
		s.feedCancel()
	}
	if closeErr := s.orch.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// recoveryMiddleware wraps an http.Handler to recover from panics and
// return a JSON error response.
func recoveryMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic while serving request",
					"path", r.URL.Path,
					"panic", err,
					"stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)

				response := map[string]interface{}{
					"error":   "Internal server error",
					"message": "A panic occurred while processing the request",
				}
				if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
					w.Write([]byte(`{"error":"Internal server error"}`))
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}
