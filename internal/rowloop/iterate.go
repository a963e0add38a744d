// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"fmt"
	"time"

	"github.com/dessentialist/rowforge/internal/csvcodec"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providererr"
	"github.com/dessentialist/rowforge/internal/store"
)

// iterate runs the main per-row loop from rowIndex=start to
// filteredTotal-1, honoring external pause/stop and auto-pause.
func (l *Loop) iterate(ctx context.Context, rc *runContext, start int) outcome {
	jobID := rc.job.JobID
	rowIndex := start

	for rowIndex < rc.filteredTotal {
		if ctx.Err() != nil {
			l.writePartialThrough(ctx, rc, rowIndex, "shutdown_partial_uploaded", "shutdown_partial_upload_failed")
			return outcomeStopped
		}

		// Step A — external intent check.
		status, err := l.lease.ReadStatus(ctx, jobID)
		if err != nil {
			l.logBoth(ctx, jobID, model.LogWarn, "status_read_failed", "jobId", jobID, "error", err.Error())
		} else {
			switch status {
			case model.StatusStopped:
				l.writePartialThrough(ctx, rc, rowIndex, "stop_partial_uploaded", "stop_partial_upload_failed")
				if err := l.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{ClearCurrentRow: true}); err != nil {
					l.logBoth(ctx, jobID, model.LogWarn, "stop_clear_current_row_failed", "jobId", jobID, "error", err.Error())
				}
				l.logBoth(ctx, jobID, model.LogInfo, "job_stopped", "jobId", jobID, "rowIndex", rowIndex)
				return outcomeStopped
			case model.StatusPaused:
				next := l.waitForResume(ctx, rc)
				if next == model.StatusStopped {
					l.writePartialThrough(ctx, rc, rowIndex, "stop_partial_uploaded", "stop_partial_upload_failed")
					if err := l.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{ClearCurrentRow: true}); err != nil {
						l.logBoth(ctx, jobID, model.LogWarn, "stop_clear_current_row_failed", "jobId", jobID, "error", err.Error())
					}
					l.logBoth(ctx, jobID, model.LogInfo, "job_stopped", "jobId", jobID, "rowIndex", rowIndex)
					return outcomeStopped
				}
				continue // re-check Step A for this same rowIndex
			}
		}

		l.publishPosition(ctx, rc, rowIndex)

		if autoPaused := l.processRow(ctx, rc, rowIndex); autoPaused {
			return outcomePaused
		}

		l.commitRow(ctx, rc, rowIndex)
		rowIndex++
	}

	return outcomeCompleted
}

// publishPosition implements Step B: set currentRow and extend the lease.
// The loop is strictly sequential per job, so a non-increasing next is
// unreachable in normal operation; the check is kept as a defensive
// assertion for RowLoop used as a general-purpose state machine.
func (l *Loop) publishPosition(ctx context.Context, rc *runContext, rowIndex int) {
	jobID := rc.job.JobID
	next := rowIndex + 1

	if rc.lastPosition != 0 && next <= rc.lastPosition {
		l.logBoth(ctx, jobID, model.LogWarn, "position_set_out_of_order", "jobId", jobID, "previousCurrentRow", rc.lastPosition, "currentRow", next)
	}
	rc.lastPosition = next

	if err := l.lease.Heartbeat(ctx, jobID); err != nil {
		l.logBoth(ctx, jobID, model.LogWarn, "heartbeat_failed", "jobId", jobID, "error", err.Error())
	}
	if err := l.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{CurrentRow: &next}); err != nil {
		l.logBoth(ctx, jobID, model.LogError, "publish_position_failed", "jobId", jobID, "error", err.Error())
	}
	l.logBoth(ctx, jobID, model.LogInfo, "position_set", "jobId", jobID, "currentRow", next, "rowsProcessed", rc.job.RowsProcessed, "totalRows", rc.filteredTotal)
}

// waitForResume implements the paused wait loop: sleep, re-read, and on
// transition to processing reload Job Options and refresh the lease.
func (l *Loop) waitForResume(ctx context.Context, rc *runContext) model.JobStatus {
	jobID := rc.job.JobID
	for {
		select {
		case <-ctx.Done():
			return model.StatusPaused
		case <-time.After(l.cfg.PauseWait):
		}

		status, err := l.lease.ReadStatus(ctx, jobID)
		if err != nil {
			l.logBoth(ctx, jobID, model.LogWarn, "pause_status_read_failed", "jobId", jobID, "error", err.Error())
			continue
		}

		switch status {
		case model.StatusProcessing:
			rc.options = l.loadOptionsWithRetry(ctx, rc.job)
			if err := l.lease.Heartbeat(ctx, jobID); err != nil {
				l.logBoth(ctx, jobID, model.LogWarn, "resume_heartbeat_failed", "jobId", jobID, "error", err.Error())
			}
			l.logBoth(ctx, jobID, model.LogInfo, "resumed_from_pause", "jobId", jobID, "skipIfExistingValue", rc.options.SkipIfExistingValue)
			return status
		case model.StatusStopped:
			return status
		default:
			// still paused; loop again
		}
	}
}

// processRow runs every configured prompt against rowIndex in order,
// applying skip-if-filled, dedupe, and critical-failure auto-pause. An
// unexpected panic inside prompt processing is recovered and the row's
// unfilled declared output cells are marked ROW_ERROR instead of
// crashing the worker process.
func (l *Loop) processRow(ctx context.Context, rc *runContext, rowIndex int) (autoPaused bool) {
	jobID := rc.job.JobID

	defer func() {
		if r := recover(); r != nil {
			l.markRowError(rc, rowIndex)
			l.logBoth(ctx, jobID, model.LogError, "row_panic_recovered", "jobId", jobID, "rowIndex", rowIndex, "panic", fmt.Sprintf("%v", r))
			autoPaused = false
		}
	}()

	view := rc.ws.RowView(rowIndex)

	for promptIndex, prompt := range rc.job.PromptsConfig {
		if rc.options.SkipIfExistingValue && isFilled(view[prompt.OutputColumnName]) {
			l.logBoth(ctx, jobID, model.LogInfo, "prompt_skipped_filled", "jobId", jobID, "rowIndex", rowIndex, "promptIndex", promptIndex, "column", prompt.OutputColumnName)
			continue
		}

		systemText := substitute(prompt.SystemText, view)
		userText := substitute(prompt.PromptText, view)

		key := dedupeKey(l.cfg.DedupeSecret, rc.job.UserID)
		fingerprint, err := fingerprintFor(key, prompt, systemText, userText)
		if err != nil {
			l.logBoth(ctx, jobID, model.LogWarn, "fingerprint_failed", "jobId", jobID, "rowIndex", rowIndex, "promptIndex", promptIndex, "error", err.Error())
		}

		result := l.resolveCall(ctx, rc, prompt, fingerprint, systemText, userText)

		if result.Success() {
			rc.ws.SetOutput(rowIndex, prompt.OutputColumnName, result.Content)
			view[prompt.OutputColumnName] = result.Content
		} else {
			rc.ws.SetOutput(rowIndex, prompt.OutputColumnName, model.CellLLMError)
			view[prompt.OutputColumnName] = model.CellLLMError

			if result.Err.Category.Critical() {
				l.autoPause(ctx, rc, rowIndex, promptIndex, prompt, result.Err)
				return true
			}
			l.logBoth(ctx, jobID, model.LogWarn, "prompt_failed", "jobId", jobID, "rowIndex", rowIndex, "promptIndex", promptIndex, "category", string(result.Err.Category))
		}

		l.pacingSleep(ctx, prompt.Provider)
	}

	return false
}

// markRowError fills every declared output column not already set for
// rowIndex with ROW_ERROR.
func (l *Loop) markRowError(rc *runContext, rowIndex int) {
	view := rc.ws.RowView(rowIndex)
	for _, prompt := range rc.job.PromptsConfig {
		if !isFilled(view[prompt.OutputColumnName]) {
			rc.ws.SetOutput(rowIndex, prompt.OutputColumnName, model.CellRowError)
		}
	}
}

// autoPause implements Step D: a single conditional transition to
// paused, race-safe against another actor already having moved the job.
func (l *Loop) autoPause(ctx context.Context, rc *runContext, rowIndex, promptIndex int, prompt model.PromptSpec, callErr *providererr.CallError) {
	jobID := rc.job.JobID
	details := &model.ErrorDetails{
		Category:           model.ErrorCategory(callErr.Category),
		UserMessage:        callErr.UserMessage,
		TechnicalMessage:   callErr.TechnicalMessage,
		RowNumber:          rowIndex + 1,
		PromptIndex:        promptIndex,
		PromptOutputColumn: prompt.OutputColumnName,
		Provider:           prompt.Provider,
		ModelID:            prompt.ModelID,
		Timestamp:          l.now(),
	}

	matched, err := l.progress.TransitionStatus(ctx, jobID,
		[]model.JobStatus{model.StatusProcessing, model.StatusQueued},
		model.StatusPaused,
		store.TransitionUpdate{ErrorDetails: details},
	)
	if err != nil {
		l.logBoth(ctx, jobID, model.LogError, "auto_pause_transition_failed", "jobId", jobID, "error", err.Error())
		return
	}
	if !matched {
		l.logBoth(ctx, jobID, model.LogInfo, "auto_pause_race_lost", "jobId", jobID)
		return
	}
	l.logBoth(ctx, jobID, model.LogError, "job_auto_paused", "jobId", jobID, "category", string(callErr.Category), "rowNumber", rowIndex+1)
}

// writePartialThrough serializes rows [0, through) and uploads them to
// the partial-output path, logging infoMsg on success or warnMsg on
// failure (a failed checkpoint never aborts the loop).
func (l *Loop) writePartialThrough(ctx context.Context, rc *runContext, through int, infoMsg, warnMsg string) {
	jobID := rc.job.JobID
	rows := rc.ws.MaterializeSlice(through)
	data, err := csvcodec.Serialize(rc.ws.Headers(), rows)
	if err != nil {
		l.logBoth(ctx, jobID, model.LogWarn, warnMsg, "jobId", jobID, "error", err.Error())
		return
	}
	if err := l.blobs.Put(ctx, store.PartialOutputPath(rc.job.UserID, jobID), data, "text/csv"); err != nil {
		l.logBoth(ctx, jobID, model.LogWarn, warnMsg, "jobId", jobID, "error", err.Error())
		return
	}
	l.logBoth(ctx, jobID, model.LogInfo, infoMsg, "jobId", jobID, "rows", through)
}

// commitRow implements Step E: conditional rowsProcessed commit, lease
// extension, and stride-based partial checkpointing.
func (l *Loop) commitRow(ctx context.Context, rc *runContext, rowIndex int) {
	jobID := rc.job.JobID
	next := rowIndex + 1

	if err := l.lease.Heartbeat(ctx, jobID); err != nil {
		l.logBoth(ctx, jobID, model.LogWarn, "commit_heartbeat_failed", "jobId", jobID, "error", err.Error())
	}
	if err := l.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{RowsProcessed: &next}); err != nil {
		l.logBoth(ctx, jobID, model.LogError, "row_commit_failed", "jobId", jobID, "error", err.Error())
	}
	rc.job.RowsProcessed = next

	isLast := next == rc.filteredTotal
	stride := l.cfg.PartialStride
	if stride > 0 && (next%stride == 0 || isLast) {
		l.writePartialThrough(ctx, rc, next, "partial_uploaded", "partial_upload_failed")
	}
}
