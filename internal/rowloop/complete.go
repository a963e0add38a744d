// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"strings"

	"github.com/dessentialist/rowforge/internal/csvcodec"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
)

// complete implements the Row Loop's completion sequence: upload the
// final enriched CSV and log artifact, then conditionally transition
// the job to completed. A failure after this point must never
// downgrade an already-completed job back to failed (late-error
// safety) — callers invoke failJob only from Run's top-level error
// paths, which run before complete is ever reached.
func (l *Loop) complete(ctx context.Context, rc *runContext) {
	jobID := rc.job.JobID

	finalRows := rc.ws.MaterializeAll()
	finalData, err := csvcodec.Serialize(rc.ws.Headers(), finalRows)
	if err != nil {
		l.logBoth(ctx, jobID, model.LogError, "final_serialize_failed", "jobId", jobID, "error", err.Error())
		return
	}
	finalPath := store.FinalOutputPath(rc.job.UserID, jobID)
	if err := l.blobs.Put(ctx, finalPath, finalData, "text/csv"); err != nil {
		l.logBoth(ctx, jobID, model.LogError, "final_upload_failed", "jobId", jobID, "error", err.Error())
		return
	}

	l.uploadLogArtifact(ctx, rc)

	now := l.now()
	total := rc.filteredTotal
	matched, err := l.progress.TransitionStatus(ctx, jobID,
		[]model.JobStatus{model.StatusProcessing, model.StatusQueued},
		model.StatusCompleted,
		store.TransitionUpdate{
			EnrichedFilePath:  finalPath,
			FinishedAt:        &now,
			RowsProcessed:     &total,
			ClearCurrentRow:   true,
			ClearErrorDetails: true,
		},
	)
	if err != nil {
		l.logBoth(ctx, jobID, model.LogError, "completion_transition_failed", "jobId", jobID, "error", err.Error())
		return
	}
	if !matched {
		l.logBoth(ctx, jobID, model.LogWarn, "completion_race_lost", "jobId", jobID)
	}

	l.logBoth(ctx, jobID, model.LogInfo, "dedupe_summary",
		"jobId", jobID,
		"llmCallsMade", rc.metrics.llmCallsMade,
		"cacheHits", rc.metrics.cacheHits,
		"inFlightHits", rc.metrics.inFlightHits,
		"plannedRequests", rc.metrics.plannedRequests,
	)
}

// uploadLogArtifact assembles every job log line in timestamp order
// into a single text artifact and uploads it to the logs path.
func (l *Loop) uploadLogArtifact(ctx context.Context, rc *runContext) {
	jobID := rc.job.JobID
	logs, err := l.progress.ListJobLogs(ctx, jobID)
	if err != nil {
		l.logger.Warn("log_artifact_list_failed", "jobId", jobID, "error", err.Error())
		return
	}

	var b strings.Builder
	for _, entry := range logs {
		b.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
		b.WriteString(" [")
		b.WriteString(string(entry.Level))
		b.WriteString("] ")
		b.WriteString(entry.Message)
		b.WriteString("\n")
	}

	if err := l.blobs.Put(ctx, store.LogArtifactPath(rc.job.UserID, jobID), []byte(b.String()), "text/plain"); err != nil {
		l.logger.Warn("log_artifact_upload_failed", "jobId", jobID, "error", err.Error())
	}
}
