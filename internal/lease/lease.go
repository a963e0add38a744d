// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package lease wraps the Progress Store's conditional claim/transition
// operations into the transactional claim/heartbeat cycle that gives
// the Dispatcher crash-recoverable, at-most-one-owner job ownership.
package lease

import (
	"context"
	"math/rand"
	"time"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
)

// Manager claims, heartbeats, and reads the status of leased jobs.
type Manager struct {
	progress store.ProgressStore
	duration time.Duration
}

// New creates a Manager with lease duration L (default 60s at the
// config layer).
func New(progress store.ProgressStore, duration time.Duration) *Manager {
	return &Manager{progress: progress, duration: duration}
}

// ClaimNext finds one queued-or-lease-expired job, atomically
// transitions it to processing, and returns it. Returns (nil, nil) when
// there is nothing to claim.
func (m *Manager) ClaimNext(ctx context.Context) (*model.Job, error) {
	return m.progress.ClaimNextJob(ctx, m.duration)
}

// Heartbeat extends jobID's lease to now + L, plus 0-5% jitter so that
// many workers renewing on the same cadence don't all hit the Progress
// Store in the same instant. Callers must invoke this at least every
// L/2 while processing, and on every row commit and pause/resume wait
// cycle.
func (m *Manager) Heartbeat(ctx context.Context, jobID string) error {
	jittered := m.duration + PacingJitter(m.duration*5/100)
	expires := time.Now().Add(jittered)
	return m.progress.UpdateJobProgress(ctx, jobID, store.ProgressUpdate{
		LeaseExpiresAt: &expires,
	})
}

// ReadStatus returns the current status of jobID.
func (m *Manager) ReadStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	job, err := m.progress.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// PacingJitter returns a uniform random duration in [0, max), used to
// spread heartbeat and poll timing across concurrent workers.
func PacingJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
