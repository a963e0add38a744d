// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher runs the long-running, single-threaded-per-instance
// claim loop: ask the Lease Manager for a job, run it to completion
// (or until it yields on pause/stop), then sleep and repeat. Multiple
// worker processes run in parallel across machines, coordinating
// solely through the Progress Store's conditional updates — this
// package itself holds no cross-instance state, mirroring the single
// ticker-driven poll loop in pkg/watch.
package dispatcher

import (
	"context"
	"time"

	"github.com/dessentialist/rowforge/internal/lease"
	"github.com/dessentialist/rowforge/internal/rowloop"
	"github.com/dessentialist/rowforge/pkg/logging"
)

// Runner executes one job's Row Loop to completion, pause, or stop.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

var _ Runner = (*rowloop.Loop)(nil)

// Dispatcher repeatedly claims and runs jobs, one at a time, until ctx
// is canceled.
type Dispatcher struct {
	lease        *lease.Manager
	runner       Runner
	pollInterval time.Duration
	logger       logging.Logger
}

// New builds a Dispatcher. pollInterval is the idle sleep between
// unsuccessful claim attempts (documented default 3s, set by the
// caller from pkg/config).
func New(leaseMgr *lease.Manager, runner Runner, pollInterval time.Duration, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{lease: leaseMgr, runner: runner, pollInterval: pollInterval, logger: logger}
}

// Run loops until ctx is canceled. Each iteration either runs a claimed
// job to its next yield point or sleeps pollInterval — both of which
// are themselves cancellable, so a canceled ctx is honored promptly
// whether the dispatcher is idle-sleeping or mid-job.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		job, err := d.lease.ClaimNext(ctx)
		if err != nil {
			d.logger.Error("claim_failed", "error", err.Error())
			if !d.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if job == nil {
			if !d.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		d.logger.Info("job_claimed", "jobId", job.JobID)
		start := time.Now()
		err = d.runner.Run(ctx, job.JobID)
		logging.LogDuration(d.logger.With("jobId", job.JobID), start, "job_run")
		if err != nil {
			d.logger.Error("job_run_failed", "jobId", job.JobID, "error", err.Error())
		}
	}
}

// sleep waits pollInterval or until ctx is canceled, reporting which
// happened.
func (d *Dispatcher) sleep(ctx context.Context) bool {
	select {
	case <-time.After(d.pollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}
