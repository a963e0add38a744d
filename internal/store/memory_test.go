// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dessentialist/rowforge/internal/model"
)

func TestClaimNextJobPrefersQueuedOverExpiredProcessing(t *testing.T) {
	ctx := context.Background()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryProgressStore(func() time.Time { return fixedNow })

	expired := fixedNow.Add(-time.Minute)
	s.PutJob(&model.Job{JobID: "stale", Status: model.StatusProcessing, LeaseExpiresAt: &expired, CreatedAt: fixedNow.Add(-time.Hour)})
	s.PutJob(&model.Job{JobID: "fresh", Status: model.StatusQueued, CreatedAt: fixedNow.Add(-time.Minute)})

	job, err := s.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "fresh", job.JobID)
	require.Equal(t, model.StatusProcessing, job.Status)
}

func TestClaimNextJobReturnsNilWhenNothingClaimable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProgressStore(nil)
	s.PutJob(&model.Job{JobID: "done", Status: model.StatusCompleted})

	job, err := s.ClaimNextJob(ctx, time.Minute)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestGetJobReturnsDeepCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProgressStore(nil)
	s.PutJob(&model.Job{JobID: "j1", Status: model.StatusQueued, RowsProcessed: 0})

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	job.RowsProcessed = 999

	reread, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 0, reread.RowsProcessed)
}

func TestGetJobNotFound(t *testing.T) {
	s := NewMemoryProgressStore(nil)
	_, err := s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionStatusOnlyMatchesExpectedFrom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProgressStore(nil)
	s.PutJob(&model.Job{JobID: "j1", Status: model.StatusPaused})

	matched, err := s.TransitionStatus(ctx, "j1", []model.JobStatus{model.StatusProcessing, model.StatusQueued}, model.StatusPaused, TransitionUpdate{})
	require.NoError(t, err)
	require.False(t, matched, "auto-pause must not transition a job already paused")

	matched, err = s.TransitionStatus(ctx, "j1", []model.JobStatus{model.StatusPaused}, model.StatusProcessing, TransitionUpdate{ClearErrorDetails: true})
	require.NoError(t, err)
	require.True(t, matched)

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessing, job.Status)
	require.Nil(t, job.ErrorDetails)
}

func TestAppendAndListJobLogsOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProgressStore(nil)
	s.PutJob(&model.Job{JobID: "j1"})

	t2 := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
	t1 := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)

	require.NoError(t, s.AppendJobLog(ctx, "j1", model.LogInfo, "second", t2))
	require.NoError(t, s.AppendJobLog(ctx, "j1", model.LogInfo, "first", t1))

	logs, err := s.ListJobLogs(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "first", logs[0].Message)
	require.Equal(t, "second", logs[1].Message)
}

func TestMemoryBlobStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobStore()

	require.NoError(t, b.Put(ctx, "enriched/u1/j1_partial.csv", []byte("a,b\n1,2\n"), "text/csv"))

	data, err := b.Get(ctx, "enriched/u1/j1_partial.csv")
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(data))

	paths, err := b.List(ctx, "enriched/u1/")
	require.NoError(t, err)
	require.Equal(t, []string{"enriched/u1/j1_partial.csv"}, paths)

	require.NoError(t, b.Delete(ctx, "enriched/u1/j1_partial.csv"))
	_, err = b.Get(ctx, "enriched/u1/j1_partial.csv")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBlobStoreGetCopyIsIndependent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobStore()
	require.NoError(t, b.Put(ctx, "p", []byte("hello"), ""))

	data, err := b.Get(ctx, "p")
	require.NoError(t, err)
	data[0] = 'H'

	reread, err := b.Get(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, "hello", string(reread))
}
