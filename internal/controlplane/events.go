// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/oapi-codegen/runtime"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/contextutil"
	"github.com/dessentialist/rowforge/pkg/streaming"
	"github.com/dessentialist/rowforge/pkg/watch"
)

// handleEvents streams position_set and status-transition events for
// one job until it reaches a terminal status or the client
// disconnects. The `stream` query parameter selects the transport
// (`sse`, the default, or `ws`), bound the same way a generated
// OpenAPI server would bind a form-style query parameter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	var transport string
	if err := runtime.BindQueryParameter("form", false, false, "stream", r.URL.Query(), &transport); err != nil {
		writeError(w, http.StatusBadRequest, "stream: "+err.Error())
		return
	}

	source := s.jobEventSource(jobID)
	switch transport {
	case "ws":
		streaming.NewWebSocketServer(source).ServeHTTP(w, r)
	default:
		streaming.NewSSEServer(source).ServeHTTP(w, r)
	}
}

// jobEventSource polls the Progress Store for jobID and emits an event
// whenever status or currentRow changes, closing the channel once the
// job reaches a terminal status (or the job disappears, or ctx ends).
// Change detection is delegated to a watch.Poller: its GetStateFunc
// encodes status+currentRow as a comparable string, and every captured
// state transition is re-expanded into a full job view here.
func (s *Server) jobEventSource(jobID string) streaming.Source {
	return func(parent context.Context) <-chan streaming.Event {
		ctx, cancel := contextutil.WithTimeout(parent, contextutil.OpWatch, nil)
		out := make(chan streaming.Event)

		var mu sync.Mutex
		var latest *model.Job

		getState := func(ctx context.Context) (string, error) {
			job, err := s.progress.GetJob(ctx, jobID)
			if err != nil {
				return "", err
			}
			row := 0
			if job.CurrentRow != nil {
				row = *job.CurrentRow
			}
			mu.Lock()
			latest = job
			mu.Unlock()
			return fmt.Sprintf("%s|%d", job.Status, row), nil
		}

		emit := func() (terminal, ok bool) {
			mu.Lock()
			job := latest
			mu.Unlock()
			if job == nil {
				return false, false
			}
			select {
			case out <- streaming.Event{Type: "status", Data: toJobView(job), Timestamp: time.Now()}:
			case <-ctx.Done():
				return false, false
			}
			return job.Status.Terminal() || job.Status == model.StatusStopped, true
		}

		go func() {
			defer close(out)
			defer cancel()

			if _, err := getState(ctx); err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					select {
					case out <- streaming.Event{Type: "error", Error: err.Error(), Timestamp: time.Now()}:
					case <-ctx.Done():
					}
				}
				return
			}
			if terminal, ok := emit(); !ok || terminal {
				return
			}

			poller := watch.NewPoller(getState).WithPollInterval(s.eventPoll).WithBufferSize(1)
			for range poller.Watch(ctx) {
				if terminal, ok := emit(); !ok || terminal {
					return
				}
			}
		}()
		return out
	}
}
