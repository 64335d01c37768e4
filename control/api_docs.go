package main

import (
	"fmt"
	"net/http"
)

// docsPage serves the Swagger UI.
func (s *Server) docsPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(swaggerUIHTML()))
}

// swaggerJSON serves the OpenAPI document the UI renders.
func (s *Server) swaggerJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(generateOpenAPISpec(s.config.Port)))
}

// swaggerUIHTML returns the Swagger UI HTML page.
func swaggerUIHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Spotizerr API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css">
    <style>
        body { margin: 0; background: #1a1a2e; }
        .swagger-ui .topbar { display: none; }
        .swagger-ui { max-width: 1200px; margin: 0 auto; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: '/api/docs/swagger.json',
            dom_id: '#swagger-ui',
            deepLinking: true,
            presets: [
                SwaggerUIBundle.presets.apis,
                SwaggerUIBundle.SwaggerUIStandalonePreset
            ],
            layout: "BaseLayout",
            tryItOutEnabled: true,
        });
    </script>
</body>
</html>`
}

// generateOpenAPISpec returns the OpenAPI 3.0 specification as JSON.
func generateOpenAPISpec(port int) string {
	return fmt.Sprintf(`{
  "openapi": "3.0.3",
  "info": {
    "title": "Spotizerr API",
    "description": "HTTP API for the Spotizerr music download service. Provides endpoints for download submission, task progress, history, watched playlists and artists, configuration, and statistics.",
    "version": "1.0.0",
    "contact": {
      "name": "Spotizerr",
      "url": "https://github.com/spotizerr-dev/spotizerr-sub000"
    }
  },
  "servers": [
    {
      "url": "http://localhost:%d",
      "description": "Local API server"
    }
  ],
  "tags": [
    {"name": "downloads", "description": "Download submission"},
    {"name": "progress", "description": "Task progress, control, and real-time streaming"},
    {"name": "history", "description": "Download history and per-track results"},
    {"name": "watch", "description": "Watched playlists and artists"},
    {"name": "config", "description": "Configuration management"},
    {"name": "system", "description": "Health, statistics, and metrics"}
  ],
  "paths": {
    "/api/track/download/{id}": {
      "post": {
        "tags": ["downloads"],
        "summary": "Queue a track download",
        "description": "Queue a Spotify track for download. The id may be a bare Spotify ID, an open.spotify.com URL, or a spotify: URI. Per-request parameters override the stored configuration for this task only.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "name", "in": "query", "schema": {"type": "string"}, "description": "Display name for progress reporting"},
          {"name": "artist", "in": "query", "schema": {"type": "string"}, "description": "Display artist for progress reporting"},
          {"name": "service", "in": "query", "schema": {"type": "string", "enum": ["spotify", "deezer"]}},
          {"name": "spotifyQuality", "in": "query", "schema": {"type": "string", "enum": ["NORMAL", "HIGH", "VERY_HIGH"]}},
          {"name": "deezerQuality", "in": "query", "schema": {"type": "string", "enum": ["MP3_128", "MP3_320", "FLAC"]}},
          {"name": "convertTo", "in": "query", "schema": {"type": "string", "enum": ["MP3", "AAC", "OGG", "OPUS", "FLAC", "WAV", "ALAC"]}},
          {"name": "bitrate", "in": "query", "schema": {"type": "string"}},
          {"name": "fallback", "in": "query", "schema": {"type": "boolean"}},
          {"name": "realTime", "in": "query", "schema": {"type": "boolean"}},
          {"name": "customDirFormat", "in": "query", "schema": {"type": "string"}},
          {"name": "customTrackFormat", "in": "query", "schema": {"type": "string"}}
        ],
        "responses": {
          "202": {
            "description": "Task queued",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "task_id": {"type": "string", "description": "Queued task UUID"},
                    "queued": {"type": "array", "items": {"type": "string"}},
                    "count": {"type": "integer"}
                  }
                }
              }
            }
          },
          "400": {"description": "Unrecognized ID or URL"},
          "409": {
            "description": "Duplicate: an active task already exists for this URL",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "error": {"type": "string"},
                    "existing_task_id": {"type": "string"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/album/download/{id}": {
      "post": {
        "tags": ["downloads"],
        "summary": "Queue an album download",
        "description": "Queue a Spotify album for download. Accepts the same query parameters as the track endpoint.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "202": {"description": "Task queued"},
          "400": {"description": "Unrecognized ID or URL"},
          "409": {"description": "Duplicate of an active task"}
        }
      }
    },
    "/api/playlist/download/{id}": {
      "post": {
        "tags": ["downloads"],
        "summary": "Queue a playlist download",
        "description": "Queue a Spotify playlist for download. Accepts the same query parameters as the track endpoint.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "202": {"description": "Task queued"},
          "400": {"description": "Unrecognized ID or URL"},
          "409": {"description": "Duplicate of an active task"}
        }
      }
    },
    "/api/artist/download/{id}": {
      "post": {
        "tags": ["downloads"],
        "summary": "Queue downloads for an artist's discography",
        "description": "Expand an artist into album download tasks and queue each one. Albums already running are reported as duplicates without failing the rest.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "album_type", "in": "query", "schema": {"type": "string"}, "description": "Comma-separated subset of album,single,compilation,appears_on"}
        ],
        "responses": {
          "202": {
            "description": "Album tasks queued",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "queued": {"type": "array", "items": {"type": "string"}},
                    "count": {"type": "integer"},
                    "duplicates": {"type": "object", "additionalProperties": {"type": "string"}}
                  }
                }
              }
            }
          },
          "400": {"description": "Unrecognized ID or URL"},
          "502": {"description": "Discography lookup failed"}
        }
      }
    },
    "/api/prgs/list": {
      "get": {
        "tags": ["progress"],
        "summary": "List tracked tasks",
        "description": "List every task currently tracked in memory with its latest status.",
        "responses": {
          "200": {
            "description": "Task summaries",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "tasks": {
                      "type": "array",
                      "items": {
                        "type": "object",
                        "properties": {
                          "task_id": {"type": "string"},
                          "download_type": {"type": "string", "enum": ["track", "album", "playlist", "artist"]},
                          "name": {"type": "string"},
                          "status": {"type": "string"},
                          "url": {"type": "string"}
                        }
                      }
                    },
                    "count": {"type": "integer"},
                    "paused": {"type": "boolean"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/prgs/{taskID}": {
      "get": {
        "tags": ["progress"],
        "summary": "Get task detail",
        "description": "Get a task's submission info and its full status timeline.",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {
            "description": "Task detail",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "task_id": {"type": "string"},
                    "info": {"type": "object"},
                    "statuses": {"type": "array", "items": {"type": "object"}},
                    "last_status": {"type": "object"}
                  }
                }
              }
            }
          },
          "404": {"description": "Unknown task"}
        }
      }
    },
    "/api/prgs/retry/{taskID}": {
      "post": {
        "tags": ["progress"],
        "summary": "Retry a failed task",
        "description": "Resubmit a task that ended in error as a fresh task with a new ID. The retry counter carries over and is capped by maxRetries.",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "202": {
            "description": "Retry queued",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "message": {"type": "string"},
                    "task_id": {"type": "string", "description": "New task UUID"},
                    "retry_of": {"type": "string"}
                  }
                }
              }
            }
          },
          "404": {"description": "Unknown task"},
          "409": {"description": "Task is not in error state, or retry limit reached"}
        }
      }
    },
    "/api/prgs/cancel/{taskID}": {
      "post": {
        "tags": ["progress"],
        "summary": "Cancel a task",
        "description": "Cancel a queued or running task. Queued tasks are cancelled immediately; running tasks have their context cancelled.",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "Cancellation recorded"},
          "404": {"description": "Unknown task"},
          "409": {"description": "Task already finished"}
        }
      }
    },
    "/api/prgs/cancel/all": {
      "post": {
        "tags": ["progress"],
        "summary": "Cancel every active task",
        "responses": {
          "200": {
            "description": "Cancellation count",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "cancelled": {"type": "integer"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/prgs/pause": {
      "post": {
        "tags": ["progress"],
        "summary": "Pause the queue",
        "description": "Stop dispatching queued tasks to workers. Running tasks continue; new submissions still queue.",
        "responses": {
          "200": {"description": "Queue paused"}
        }
      }
    },
    "/api/prgs/resume": {
      "post": {
        "tags": ["progress"],
        "summary": "Resume the queue",
        "responses": {
          "200": {"description": "Queue resumed"}
        }
      }
    },
    "/api/prgs/stream/{taskID}": {
      "get": {
        "tags": ["progress"],
        "summary": "Stream one task's status over SSE",
        "description": "Server-sent events stream of a single task's status entries. Replays the existing timeline, then follows live updates, and closes after the terminal entry. Events are JSON with task_id plus the status entry fields.",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "text/event-stream of status entries"},
          "404": {"description": "Unknown task"}
        }
      }
    },
    "/api/prgs/stream": {
      "get": {
        "tags": ["progress"],
        "summary": "Stream all task updates over SSE",
        "description": "Server-sent events stream of status updates across every task. Starts with a snapshot of each tracked task's latest entry, then follows live updates until the client disconnects."
      }
    },
    "/api/prgs/ws": {
      "get": {
        "tags": ["progress"],
        "summary": "WebSocket task update stream",
        "description": "Real-time task updates via WebSocket. On connect, receives buffered history (up to 1000 messages), then live updates. Messages are JSON with task_id plus the status entry fields."
      }
    },
    "/api/history": {
      "get": {
        "tags": ["history"],
        "summary": "List download history",
        "description": "List finished downloads from the persistent history database, newest first.",
        "parameters": [
          {"name": "limit", "in": "query", "schema": {"type": "integer", "default": 25, "maximum": 500}},
          {"name": "offset", "in": "query", "schema": {"type": "integer", "default": 0}},
          {"name": "type", "in": "query", "schema": {"type": "string", "enum": ["track", "album", "playlist"]}},
          {"name": "status", "in": "query", "schema": {"type": "string", "enum": ["completed", "failed", "cancelled"]}}
        ],
        "responses": {
          "200": {
            "description": "History entries",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "entries": {"type": "array", "items": {"type": "object"}},
                    "total": {"type": "integer"},
                    "limit": {"type": "integer"},
                    "offset": {"type": "integer"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/history/search": {
      "get": {
        "tags": ["history"],
        "summary": "Search download history",
        "description": "Case-insensitive substring search over history titles and artists.",
        "parameters": [
          {"name": "q", "in": "query", "required": true, "schema": {"type": "string"}},
          {"name": "limit", "in": "query", "schema": {"type": "integer", "default": 25}},
          {"name": "offset", "in": "query", "schema": {"type": "integer", "default": 0}}
        ],
        "responses": {
          "200": {"description": "Matching entries"},
          "400": {"description": "Missing q parameter"}
        }
      }
    },
    "/api/history/{taskID}": {
      "get": {
        "tags": ["history"],
        "summary": "Get one history entry",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "History entry"},
          "404": {"description": "No history for this task"}
        }
      }
    },
    "/api/history/{taskID}/tracks": {
      "get": {
        "tags": ["history"],
        "summary": "Get per-track results for an album or playlist",
        "description": "Return the per-track rows recorded for a finished album or playlist download. Track downloads have no child rows.",
        "parameters": [
          {"name": "taskID", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {
            "description": "Track rows",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "task_id": {"type": "string"},
                    "type": {"type": "string"},
                    "title": {"type": "string"},
                    "tracks": {"type": "array", "items": {"type": "object"}},
                    "count": {"type": "integer"}
                  }
                }
              }
            }
          },
          "404": {"description": "No history for this task"}
        }
      }
    },
    "/api/history/stats": {
      "get": {
        "tags": ["history"],
        "summary": "Get history aggregates",
        "description": "Entry counts bucketed by type and status, plus the total successful track count.",
        "responses": {
          "200": {"description": "Aggregated counts"}
        }
      }
    },
    "/api/history/cleanup": {
      "post": {
        "tags": ["history"],
        "summary": "Delete old history entries",
        "description": "Delete history entries older than the given number of days, dropping their per-track tables.",
        "parameters": [
          {"name": "days", "in": "query", "required": true, "schema": {"type": "integer", "minimum": 1}}
        ],
        "responses": {
          "200": {
            "description": "Deletion counts",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "message": {"type": "string"},
                    "days": {"type": "integer"},
                    "deleted_entries": {"type": "integer"},
                    "dropped_tables": {"type": "integer"}
                  }
                }
              }
            }
          },
          "400": {"description": "Missing or invalid days parameter"}
        }
      }
    },
    "/api/playlist/watch/list": {
      "get": {
        "tags": ["watch"],
        "summary": "List watched playlists",
        "responses": {
          "200": {
            "description": "Watched playlists",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "playlists": {"type": "array", "items": {"type": "object"}},
                    "count": {"type": "integer"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/playlist/watch/{id}": {
      "put": {
        "tags": ["watch"],
        "summary": "Watch a playlist",
        "description": "Add a playlist to the watch list. Its metadata is fetched once to seed the stored record; the periodic checker downloads new tracks as they appear.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "201": {"description": "Playlist watched"},
          "400": {"description": "Unrecognized ID or URL"},
          "502": {"description": "Metadata lookup failed"}
        }
      },
      "delete": {
        "tags": ["watch"],
        "summary": "Stop watching a playlist",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "Playlist removed"},
          "404": {"description": "Playlist is not watched"}
        }
      }
    },
    "/api/playlist/watch/trigger_check": {
      "post": {
        "tags": ["watch"],
        "summary": "Check watched playlists now",
        "description": "Run the playlist check immediately instead of waiting for the next interval.",
        "responses": {
          "202": {
            "description": "Check ran",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "queued": {"type": "integer", "description": "Download tasks queued by this check"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/artist/watch/list": {
      "get": {
        "tags": ["watch"],
        "summary": "List watched artists",
        "responses": {
          "200": {"description": "Watched artists"}
        }
      }
    },
    "/api/artist/watch/{id}": {
      "put": {
        "tags": ["watch"],
        "summary": "Watch an artist",
        "description": "Add an artist to the watch list. The periodic checker downloads newly released albums.",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "201": {"description": "Artist watched"},
          "400": {"description": "Unrecognized ID or URL"},
          "502": {"description": "Metadata lookup failed"}
        }
      },
      "delete": {
        "tags": ["watch"],
        "summary": "Stop watching an artist",
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {
          "200": {"description": "Artist removed"},
          "404": {"description": "Artist is not watched"}
        }
      }
    },
    "/api/artist/watch/trigger_check": {
      "post": {
        "tags": ["watch"],
        "summary": "Check watched artists now",
        "responses": {
          "202": {"description": "Check ran"}
        }
      }
    },
    "/api/config": {
      "get": {
        "tags": ["config"],
        "summary": "Get configuration",
        "description": "Retrieve the current configuration, its file path, and a digest of the stored file. Credentials never appear here; they come from the environment.",
        "responses": {
          "200": {
            "description": "Current configuration",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "config": {"type": "object"},
                    "path": {"type": "string"},
                    "digest": {"type": "string"},
                    "pending_update": {"type": "object", "nullable": true}
                  }
                }
              }
            }
          }
        }
      },
      "put": {
        "tags": ["config"],
        "summary": "Update configuration",
        "description": "Validate and persist a full configuration document. While downloads are active the update is queued and applied once the queue drains.",
        "requestBody": {
          "required": true,
          "content": {
            "application/json": {
              "schema": {"type": "object"}
            }
          }
        },
        "responses": {
          "200": {
            "description": "Saved or queued",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "message": {"type": "string"},
                    "path": {"type": "string"},
                    "queued": {"type": "boolean"}
                  }
                }
              }
            }
          },
          "400": {"description": "Invalid body or failed validation"}
        }
      }
    },
    "/api/health": {
      "get": {
        "tags": ["system"],
        "summary": "Health check",
        "description": "Check service health. Reports degraded while a rate limit barrier is holding downloads back.",
        "responses": {
          "200": {
            "description": "Health report",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "status": {"type": "string", "enum": ["healthy", "degraded"]},
                    "version": {"type": "string"},
                    "uptime_seconds": {"type": "integer"},
                    "config_digest": {"type": "string"},
                    "components": {"type": "object"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/stats": {
      "get": {
        "tags": ["system"],
        "summary": "Get statistics",
        "description": "Get session and cumulative download statistics plus queue and metadata cache gauges.",
        "responses": {
          "200": {
            "description": "Statistics",
            "content": {
              "application/json": {
                "schema": {
                  "type": "object",
                  "properties": {
                    "cumulative": {"type": "object"},
                    "session": {"type": "object"},
                    "queue": {"type": "object"},
                    "metadata_cache": {"type": "object"}
                  }
                }
              }
            }
          }
        }
      }
    },
    "/api/stats/reset": {
      "post": {
        "tags": ["system"],
        "summary": "Reset cumulative statistics",
        "description": "Reset cumulative statistics to zero. Session counters are not affected.",
        "responses": {
          "200": {"description": "Statistics reset"}
        }
      }
    }
  }
}`, port)
}
