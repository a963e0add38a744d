// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package rowloop drives a single job's row cursor across its
// configured prompts: input preparation, resume reconciliation, the
// main per-row iteration with pause/stop/auto-pause handling, and
// completion. It depends only on the capability interfaces in
// internal/store, internal/credentials, and internal/providercall —
// never a concrete database or HTTP client — so it can be driven and
// tested entirely against in-memory fakes.
package rowloop

import (
	"context"
	"time"

	"github.com/dessentialist/rowforge/internal/credentials"
	"github.com/dessentialist/rowforge/internal/lease"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providercall"
	"github.com/dessentialist/rowforge/internal/store"
	"github.com/dessentialist/rowforge/pkg/logging"
	"github.com/dessentialist/rowforge/pkg/metrics"
)

// CallerFactory binds a set of per-provider API keys into a ready
// Provider Call instance.
type CallerFactory func(keys map[model.Provider]string) providercall.Caller

// Config carries the tunables the Row Loop reads from pkg/config.
type Config struct {
	PartialStride int
	DedupeEnabled bool
	DedupeSecret  string
	PauseWait     time.Duration
	MaxRetries    int
}

// DefaultConfig returns the documented defaults (PartialStride 10,
// dedupe enabled, 5s pause-wait poll, 3 Provider Call retries).
func DefaultConfig() Config {
	return Config{
		PartialStride: 10,
		DedupeEnabled: true,
		PauseWait:     5 * time.Second,
		MaxRetries:    3,
	}
}

// Loop executes one job to completion, pause, or stop.
type Loop struct {
	progress    store.ProgressStore
	blobs       store.BlobStore
	credentials credentials.Store
	callers     CallerFactory
	lease       *lease.Manager
	cfg         Config
	logger      logging.Logger
	metrics     metrics.Collector

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New builds a Loop from its capability dependencies. collector records
// Dedupe Cache hit/miss counters alongside the Provider Call HTTP
// metrics gathered by pkg/middleware; a nil collector falls back to
// metrics.NoOpCollector.
func New(progress store.ProgressStore, blobs store.BlobStore, creds credentials.Store, callers CallerFactory, leaseMgr *lease.Manager, cfg Config, logger logging.Logger, collector metrics.Collector) *Loop {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Loop{
		progress:    progress,
		blobs:       blobs,
		credentials: creds,
		callers:     callers,
		lease:       leaseMgr,
		cfg:         cfg,
		logger:      logger,
		metrics:     collector,
		now:         time.Now,
	}
}

// outcome is why Run returned, for callers (the Dispatcher, tests) that
// want to distinguish a clean pause/stop from a completion or failure.
type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomePaused    outcome = "paused"
	outcomeStopped   outcome = "stopped"
)

// Run executes jobID's Row Loop to completion, or until it yields on
// pause or stop. A returned error means the loop could not even start
// (e.g. no credentials); mid-run failures are recorded on the job
// itself via TransitionStatus, not returned.
func (l *Loop) Run(ctx context.Context, jobID string) error {
	rc, err := l.prepare(ctx, jobID)
	if err != nil {
		l.failJob(ctx, jobID, err.Error())
		return err
	}

	start, err := l.reconcileResume(ctx, rc)
	if err != nil {
		l.failJob(ctx, jobID, err.Error())
		return err
	}

	if l.iterate(ctx, rc, start) == outcomeCompleted {
		l.complete(ctx, rc)
	}
	return nil
}

// logBoth writes to the operational logger and duplicates the line
// into the job's append-only Progress Store log, so the log artifact
// assembled at completion matches what operators see in process logs.
func (l *Loop) logBoth(ctx context.Context, jobID string, level model.LogLevel, msg string, args ...any) {
	switch level {
	case model.LogWarn:
		l.logger.Warn(msg, args...)
	case model.LogError:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
	if err := l.progress.AppendJobLog(ctx, jobID, level, msg, l.now()); err != nil {
		l.logger.Warn("append_job_log_failed", "jobId", jobID, "error", err.Error())
	}
}

// failJob transitions jobID to failed unless it is already terminal
// (the late-error-safety rule in the main iteration).
func (l *Loop) failJob(ctx context.Context, jobID, message string) {
	job, err := l.progress.GetJob(ctx, jobID)
	if err != nil {
		l.logger.Error("fail_job_lookup_failed", "jobId", jobID, "error", err.Error())
		return
	}
	if job.Status.Terminal() {
		return
	}
	_, err = l.progress.TransitionStatus(ctx, jobID,
		[]model.JobStatus{model.StatusQueued, model.StatusProcessing, model.StatusPaused},
		model.StatusFailed,
		store.TransitionUpdate{ErrorMessage: message},
	)
	if err != nil {
		l.logger.Error("fail_job_transition_failed", "jobId", jobID, "error", err.Error())
	}
}

// dedupeMetrics accumulates the counters spec'd for the completion summary log.
type dedupeMetrics struct {
	llmCallsMade    int
	cacheHits       int
	inFlightHits    int
	plannedRequests int
}
