// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package controlplane exposes the effect-level control plane (enqueue,
// pause, resume, stop, status, logs, live events) as an HTTP surface.
// The Row Loop and Dispatcher never call back into this package; they
// observe control-plane effects solely by re-reading the Progress
// Store, so this package's only state is the store itself.
package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/logging"
)

// Server wires the control-plane HTTP handlers to a Progress Store.
type Server struct {
	progress     store.ProgressStore
	logger       logging.Logger
	router       *mux.Router
	eventPoll    time.Duration
}

// NewServer builds a Server and registers its routes. eventPoll is how
// often the job-event stream re-reads a job's status and position
// while a client is subscribed (documented default 1s).
func NewServer(progress store.ProgressStore, logger logging.Logger, eventPoll time.Duration) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if eventPoll <= 0 {
		eventPoll = time.Second
	}
	s := &Server{progress: progress, logger: logger, eventPoll: eventPoll}
	s.router = s.newRouter()
	return s
}

// ServeHTTP implements http.Handler, so a Server can be passed directly
// to http.ListenAndServe or httptest.NewServer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter().StrictSlash(false)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/jobs", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobId}/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{jobId}/logs", s.handleListLogs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{jobId}/events", s.handleEvents).Methods(http.MethodGet)

	return r
}

// loggingMiddleware stamps every request with a request ID (surfaced to
// the client as X-Request-ID, matching the one Provider Call attaches
// to its own outbound requests via middleware.WithRequestID) and logs
// its duration through logging.LogDuration, so an operator correlating
// a slow enqueue/pause/resume call with the corresponding Row Loop log
// lines has a single ID to grep for.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		// logging.Logger.WithContext reads the plain string key
		// "request_id" (see pkg/logging), so that's the key used here
		// rather than a locally scoped type.
		ctx := context.WithValue(r.Context(), "request_id", requestID)
		r = r.WithContext(ctx)

		reqLogger := logging.LogOperation(s.logger.WithContext(ctx), r.Method+" "+r.URL.Path)
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.LogDuration(reqLogger, start, "http_request")
	})
}
