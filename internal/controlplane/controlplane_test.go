// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryProgressStore) {
	t.Helper()
	progress := store.NewMemoryProgressStore(nil)
	return NewServer(progress, nil, 10*time.Millisecond), progress
}

func TestHandleEnqueueCreatesQueuedJob(t *testing.T) {
	srv, progress := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"userId":"user-1","fileId":"file-1","promptsConfig":[{"promptText":"hi {{name}}","outputColumnName":"greeting","provider":"openai"}]}`
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created jobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.JobID)
	require.Equal(t, model.StatusQueued, created.Status)

	stored, err := progress.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.UserID)
	require.Len(t, stored.PromptsConfig, 1)
}

func TestHandleEnqueueRejectsInvalidPromptsConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"userId":"user-1","fileId":"file-1","promptsConfig":[{"promptText":"hi","provider":"not-a-real-provider"}]}`
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleEnqueueRejectsMissingUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"fileId":"file-1","promptsConfig":[{"promptText":"hi","outputColumnName":"o","provider":"openai"}]}`
	resp, err := http.Post(ts.URL+"/jobs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetJobReturnsNotFoundForUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlePauseTransitionsProcessingToPaused(t *testing.T) {
	srv, progress := newTestServer(t)
	progress.PutJob(&model.Job{JobID: "job-1", UserID: "u", FileID: "f", Status: model.StatusProcessing, CreatedAt: time.Now()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jobs/job-1/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated jobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	require.Equal(t, model.StatusPaused, updated.Status)
}

func TestHandlePauseRejectsWrongSourceStatus(t *testing.T) {
	srv, progress := newTestServer(t)
	progress.PutJob(&model.Job{JobID: "job-1", UserID: "u", FileID: "f", Status: model.StatusQueued, CreatedAt: time.Now()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jobs/job-1/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleResumeClearsErrorDetails(t *testing.T) {
	srv, progress := newTestServer(t)
	progress.PutJob(&model.Job{
		JobID: "job-1", UserID: "u", FileID: "f", Status: model.StatusPaused, CreatedAt: time.Now(),
		ErrorDetails: &model.ErrorDetails{Category: model.ErrorAuth, UserMessage: "bad key"},
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jobs/job-1/resume", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job, err := progress.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessing, job.Status)
	require.Nil(t, job.ErrorDetails)
}

func TestHandleStopAcceptsAnyNonTerminalStatus(t *testing.T) {
	srv, progress := newTestServer(t)
	progress.PutJob(&model.Job{JobID: "job-1", UserID: "u", FileID: "f", Status: model.StatusPaused, CreatedAt: time.Now()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/jobs/job-1/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	job, err := progress.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusStopped, job.Status)
}

func TestHandleListLogsReturnsOrderedEntries(t *testing.T) {
	srv, progress := newTestServer(t)
	progress.PutJob(&model.Job{JobID: "job-1", UserID: "u", FileID: "f", Status: model.StatusProcessing, CreatedAt: time.Now()})
	require.NoError(t, progress.AppendJobLog(context.Background(), "job-1", model.LogInfo, "first", time.Now()))
	require.NoError(t, progress.AppendJobLog(context.Background(), "job-1", model.LogWarn, "second", time.Now().Add(time.Millisecond)))

	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/job-1/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var logs []model.JobLog
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	require.Len(t, logs, 2)
	require.Equal(t, "first", logs[0].Message)
	require.Equal(t, "second", logs[1].Message)
}
