// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dessentialist/rowforge/internal/csvcodec"
	"github.com/dessentialist/rowforge/internal/dedupe"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providercall"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/internal/workingset"
	"github.com/dessentialist/rowforge/pkg/contextutil"
)

// optionsRetryWait is the pause before the one-shot retry covering the
// race between job creation and the options blob landing in storage.
const optionsRetryWait = 200 * time.Millisecond

// runContext holds everything one Run call threads through input
// preparation, resume reconciliation, and the main iteration.
type runContext struct {
	job           *model.Job
	caller        providercall.Caller
	inputHeaders  []string
	filteredTotal int
	ws            *workingset.WorkingSet
	options       model.Options
	dedupe        *dedupe.Cache
	metrics       dedupeMetrics
	lastPosition  int // last currentRow published by Step B; 0 means none yet
}

var errNoCredentials = errors.New("No API keys configured")

func uniqueOutputColumns(prompts []model.PromptSpec) []string {
	seen := make(map[string]bool, len(prompts))
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if seen[p.OutputColumnName] {
			continue
		}
		seen[p.OutputColumnName] = true
		out = append(out, p.OutputColumnName)
	}
	return out
}

// rowIsEmpty reports whether every cell of row outside outputColumns is
// empty or whitespace-only.
func rowIsEmpty(row model.Row, outputColumns map[string]bool) bool {
	for col, val := range row {
		if outputColumns[col] {
			continue
		}
		if strings.TrimSpace(val) != "" {
			return false
		}
	}
	return true
}

// prepare implements the Row Loop's input-preparation steps: re-read
// the job, resolve credentials, download and parse input, filter empty
// rows, load Job Options, and construct the Working Set.
func (l *Loop) prepare(ctx context.Context, jobID string) (*runContext, error) {
	readCtx, cancel := contextutil.WithTimeout(ctx, contextutil.OpRead, nil)
	job, err := l.progress.GetJob(readCtx, jobID)
	cancel()
	if err != nil {
		return nil, contextutil.WrapContextError(fmt.Errorf("read job: %w", err), "prepare.GetJob", contextutil.DefaultTimeoutConfig().Read)
	}

	keys, err := l.credentials.GetProviderKeys(ctx, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if len(keys) == 0 {
		return nil, errNoCredentials
	}
	caller := l.callers(keys)

	inputCtx, cancel := contextutil.WithTimeout(ctx, contextutil.OpRead, nil)
	inputBytes, err := l.blobs.Get(inputCtx, store.InputPath(job.UserID, job.FileID))
	cancel()
	if err != nil {
		return nil, contextutil.WrapContextError(fmt.Errorf("download input: %w", err), "prepare.DownloadInput", contextutil.DefaultTimeoutConfig().Read)
	}
	headers, rows, err := csvcodec.Parse(inputBytes)
	if err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	declaredOutputs := uniqueOutputColumns(job.PromptsConfig)
	outputSet := make(map[string]bool, len(declaredOutputs))
	for _, c := range declaredOutputs {
		outputSet[c] = true
	}

	filtered := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		if !rowIsEmpty(row, outputSet) {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) != len(rows) {
		total := len(filtered)
		if err := l.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{TotalRows: &total}); err != nil {
			l.logger.Warn("update_total_rows_failed", "jobId", jobID, "error", err.Error())
		}
		job.TotalRows = total
		l.logBoth(ctx, jobID, model.LogInfo, "rows_filtered", "jobId", jobID, "removed", len(rows)-len(filtered), "remaining", total)
	}

	options := l.loadOptionsWithRetry(ctx, job)
	l.logBoth(ctx, jobID, model.LogInfo, "options_loaded", "jobId", jobID, "skipIfExistingValue", options.SkipIfExistingValue)

	ws := workingset.Construct(headers, filtered, declaredOutputs)

	return &runContext{
		job:           job,
		caller:        caller,
		inputHeaders:  headers,
		filteredTotal: len(filtered),
		ws:            ws,
		options:       options,
		dedupe:        dedupe.New(l.cfg.DedupeEnabled),
		metrics:       dedupeMetrics{plannedRequests: len(filtered) * len(job.PromptsConfig)},
	}, nil
}

// loadOptionsWithRetry reads the Job Options blob, with a single retry
// to cover the race of a Row Loop starting immediately after job
// creation and before the options blob has been written. Missing after
// the retry defaults to skipIfExistingValue = false. Only ErrNotFound
// is retried; any other read or parse failure resolves to the default
// immediately.
func (l *Loop) loadOptionsWithRetry(ctx context.Context, job *model.Job) model.Options {
	path := store.OptionsPath(job.UserID, job.JobID)

	data, err := l.blobs.Get(ctx, path)
	if err != nil && errors.Is(err, store.ErrNotFound) {
		select {
		case <-time.After(optionsRetryWait):
		case <-ctx.Done():
			return model.DefaultOptions()
		}
		data, err = l.blobs.Get(ctx, path)
	}
	if err != nil {
		return model.DefaultOptions()
	}
	opts, err := parseOptions(data)
	if err != nil {
		return model.DefaultOptions()
	}
	return opts
}
