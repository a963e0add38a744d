// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dessentialist/rowforge/internal/controlplane/schema"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/contextutil"
)

type enqueueRequest struct {
	UserID        string          `json:"userId"`
	FileID        string          `json:"fileId"`
	PromptsConfig json.RawMessage `json:"promptsConfig"`
}

type jobView struct {
	JobID            string               `json:"jobId"`
	UserID           string               `json:"userId"`
	FileID           string               `json:"fileId"`
	Status           model.JobStatus      `json:"status"`
	TotalRows        int                  `json:"totalRows"`
	RowsProcessed    int                  `json:"rowsProcessed"`
	CurrentRow       *int                 `json:"currentRow,omitempty"`
	EnrichedFilePath string               `json:"enrichedFilePath,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	ErrorDetails     *model.ErrorDetails  `json:"errorDetails,omitempty"`
	FinishedAt       *time.Time           `json:"finishedAt,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

func toJobView(j *model.Job) jobView {
	return jobView{
		JobID: j.JobID, UserID: j.UserID, FileID: j.FileID, Status: j.Status,
		TotalRows: j.TotalRows, RowsProcessed: j.RowsProcessed, CurrentRow: j.CurrentRow,
		EnrichedFilePath: j.EnrichedFilePath, ErrorMessage: j.ErrorMessage,
		ErrorDetails: j.ErrorDetails, FinishedAt: j.FinishedAt, CreatedAt: j.CreatedAt,
	}
}

// handleEnqueue creates a new queued job. The promptsConfig body is
// validated against the embedded schema before anything is written to
// the Progress Store.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.FileID == "" {
		writeError(w, http.StatusBadRequest, "userId and fileId are required")
		return
	}
	if err := schema.ValidatePromptsConfig(req.PromptsConfig); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	var prompts []model.PromptSpec
	if err := json.Unmarshal(req.PromptsConfig, &prompts); err != nil {
		writeError(w, http.StatusBadRequest, "promptsConfig: "+err.Error())
		return
	}

	job := &model.Job{
		JobID:         model.NewJobID(),
		UserID:        req.UserID,
		FileID:        req.FileID,
		Status:        model.StatusQueued,
		PromptsConfig: prompts,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.progress.InsertJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed: "+err.Error())
		return
	}

	s.logger.Info("job_enqueued", "jobId", job.JobID, "userId", job.UserID)
	writeJSON(w, http.StatusCreated, toJobView(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	job, err := s.progress.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

// handleListLogs may return a large number of log lines for a
// long-running job, so its Progress Store read gets the longer
// list-operation timeout rather than the default read timeout.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	ctx, cancel := contextutil.WithTimeout(r.Context(), contextutil.OpList, nil)
	defer cancel()
	logs, err := s.progress.ListJobLogs(ctx, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handlePause requests processing → paused. The Row Loop observes this
// solely by re-reading the job on its next Step A check.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	matched, err := s.progress.TransitionStatus(r.Context(), jobID,
		[]model.JobStatus{model.StatusProcessing}, model.StatusPaused, store.TransitionUpdate{})
	s.respondTransition(w, r, jobID, "job_pause_requested", matched, err)
}

// handleResume requests paused → processing, clearing any errorDetails
// left over from a prior auto-pause.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	matched, err := s.progress.TransitionStatus(r.Context(), jobID,
		[]model.JobStatus{model.StatusPaused}, model.StatusProcessing,
		store.TransitionUpdate{ClearErrorDetails: true})
	s.respondTransition(w, r, jobID, "job_resume_requested", matched, err)
}

// handleStop requests any non-terminal status → stopped, clearing
// errorDetails.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	matched, err := s.progress.TransitionStatus(r.Context(), jobID,
		[]model.JobStatus{model.StatusQueued, model.StatusProcessing, model.StatusPaused},
		model.StatusStopped, store.TransitionUpdate{ClearErrorDetails: true})
	s.respondTransition(w, r, jobID, "job_stop_requested", matched, err)
}

func (s *Server) respondTransition(w http.ResponseWriter, r *http.Request, jobID, event string, matched bool, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !matched {
		writeError(w, http.StatusConflict, "job is not in a status that permits this transition")
		return
	}
	s.logger.Info(event, "jobId", jobID)
	job, err := s.progress.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
