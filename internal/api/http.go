// Reel is a local media-processing job server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package api implements the HTTP surface of the reel server: processor
// discovery, job submission, live progress over SSE and WebSocket, result
// download, and the maintenance endpoints.
//
// Endpoints:
//   - GET    /processors
//   - POST   /jobs
//   - POST   /jobs/batch
//   - GET    /jobs/{id}
//   - GET    /jobs/{id}/progress   (SSE)
//   - GET    /jobs/{id}/ws         (WebSocket)
//   - GET    /jobs/{id}/result
//   - GET    /jobs/batch/{id}
//   - GET    /health
//   - DELETE /cleanup
//   - GET    /metrics
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"reel/internal/jobs"
	"reel/internal/metrics"
	"reel/internal/middleware"
	"reel/internal/registry"
	"reel/internal/store"
)

// DefaultStreamTimeout is how long a progress stream waits for the next
// event before telling the client to give up.
const DefaultStreamTimeout = 60 * time.Second

// API is the HTTP layer. All fields except Logger are required.
type API struct {
	Jobs     *jobs.Manager
	Registry *registry.Registry
	Files    *store.Store
	Reaper   *jobs.Reaper

	// Logger is optional; if nil, logging is suppressed.
	Logger *log.Logger

	// StreamTimeout bounds the silence on a progress stream before a
	// timeout event is sent. Zero means DefaultStreamTimeout.
	StreamTimeout time.Duration

	// TaskContext is the context job tasks run under. It must outlive
	// the request; main wires the server-lifetime context so in-flight
	// work stops on shutdown. Nil means context.Background.
	TaskContext context.Context
}

// New constructs an API over its required dependencies.
func New(manager *jobs.Manager, reg *registry.Registry, files *store.Store, reaper *jobs.Reaper, logger *log.Logger) *API {
	return &API{
		Jobs:     manager,
		Registry: reg,
		Files:    files,
		Reaper:   reaper,
		Logger:   logger,
	}
}

// Router returns the fully wired route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()))

	r.HandleFunc("/processors", a.handleListProcessors).Methods(http.MethodGet)
	r.HandleFunc("/jobs", a.handleCreateJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs/batch", a.handleCreateBatch).Methods(http.MethodPost)
	r.HandleFunc("/jobs/batch/{id}", a.handleGetBatch).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", a.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/progress", a.handleJobProgress).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/ws", a.handleJobSocket).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/result", a.handleJobResult).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/cleanup", a.handleCleanup).Methods(http.MethodDelete)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

func (a *API) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

func (a *API) streamTimeout() time.Duration {
	if a.StreamTimeout > 0 {
		return a.StreamTimeout
	}
	return DefaultStreamTimeout
}

func (a *API) taskContext() context.Context {
	if a.TaskContext != nil {
		return a.TaskContext
	}
	return context.Background()
}

// jsonError is the error envelope for API responses.
type jsonError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --------------- GET /processors ---------------

func (a *API) handleListProcessors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Registry.List())
}

// --------------- GET /health ---------------

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --------------- DELETE /cleanup ---------------

// handleCleanup runs one reaper sweep synchronously so operators can
// reclaim disk without waiting for the next tick.
func (a *API) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	removed := a.Reaper.RunOnce()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
