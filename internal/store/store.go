// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package store defines the Progress Store and Blob Store capabilities
// the Row Loop and Lease Manager are built against, plus an in-memory
// and a Postgres-backed implementation of each.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dessentialist/rowforge/internal/model"
)

// ErrNotFound is returned by GetJob and blob Get when the key is absent.
var ErrNotFound = errors.New("store: not found")

// ProgressUpdate carries the unconditional fields a Row Loop publishes
// as it advances (currentRow, rowsProcessed, lease extension).
type ProgressUpdate struct {
	RowsProcessed   *int
	CurrentRow      *int
	ClearCurrentRow bool
	LeaseExpiresAt  *time.Time
	TotalRows       *int
}

// TransitionUpdate carries the extra fields written alongside a
// conditional status transition (auto-pause, completion, failure).
type TransitionUpdate struct {
	ErrorDetails     *model.ErrorDetails
	ClearErrorDetails bool
	ErrorMessage     string
	EnrichedFilePath string
	FinishedAt       *time.Time
	RowsProcessed    *int
	CurrentRow       *int
	ClearCurrentRow  bool
	LeaseExpiresAt   *time.Time
}

// ProgressStore is the durable row storage for jobs, logs, and the
// conditional updates the Lease Manager and Row Loop depend on.
type ProgressStore interface {
	// InsertJob creates a new job row, failing if job.JobID already
	// exists. Callers (the control plane) are responsible for setting
	// JobID, Status (normally StatusQueued), and CreatedAt.
	InsertJob(ctx context.Context, job *model.Job) error

	// ClaimNextJob finds one queued or lease-expired job and transitions
	// it to processing, atomically. Returns (nil, nil) when there is
	// nothing to claim.
	ClaimNextJob(ctx context.Context, leaseDuration time.Duration) (*model.Job, error)

	// GetJob returns the current row for jobID, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// UpdateJobProgress applies an unconditional progress update.
	UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error

	// TransitionStatus conditionally moves jobID from one of `from` to
	// `to`, applying `extra` iff the predicate matched. Returns whether
	// the row matched (i.e. the transition took effect).
	TransitionStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, extra TransitionUpdate) (bool, error)

	// AppendJobLog appends one log line to jobID's append-only log.
	AppendJobLog(ctx context.Context, jobID string, level model.LogLevel, message string, timestamp time.Time) error

	// ListJobLogs returns jobID's logs ordered by timestamp ascending.
	ListJobLogs(ctx context.Context, jobID string) ([]model.JobLog, error)
}

// BlobStore is opaque byte storage keyed by path.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Canonical blob paths.

// InputPath returns the uploaded input table path for a file.
func InputPath(userID, fileID string) string {
	return "uploads/" + userID + "/" + fileID + ".csv"
}

// PartialOutputPath returns the point-in-time partial-output CSV path for a job.
func PartialOutputPath(userID, jobID string) string {
	return "enriched/" + userID + "/" + jobID + "_partial.csv"
}

// FinalOutputPath returns the completed enriched CSV path for a job.
func FinalOutputPath(userID, jobID string) string {
	return "enriched/" + userID + "/" + jobID + "_enriched.csv"
}

// LogArtifactPath returns the assembled textual log artifact path for a job.
func LogArtifactPath(userID, jobID string) string {
	return "logs/" + userID + "/" + jobID + ".txt"
}

// OptionsPath returns the Job Options JSON blob path for a job.
func OptionsPath(userID, jobID string) string {
	return "controls/" + userID + "/" + jobID + ".json"
}
