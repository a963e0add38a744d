// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/dessentialist/rowforge/internal/model"
)

// MemoryProgressStore is an in-process ProgressStore fake for tests. It
// deep-copies every Job it hands out so a caller mutating the returned
// pointer can never corrupt the store's internal state.
type MemoryProgressStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	logs map[string][]model.JobLog
	now  func() time.Time
}

// NewMemoryProgressStore creates an empty store. nowFn defaults to
// time.Now if nil, and exists so tests can control lease expiry.
func NewMemoryProgressStore(nowFn func() time.Time) *MemoryProgressStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryProgressStore{
		jobs: make(map[string]*model.Job),
		logs: make(map[string][]model.JobLog),
		now:  nowFn,
	}
}

// PutJob inserts or overwrites a job, for test fixture setup.
func (s *MemoryProgressStore) PutJob(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = deepcopy.Copy(job).(*model.Job)
}

// InsertJob implements ProgressStore.
func (s *MemoryProgressStore) InsertJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("store: job %s already exists", job.JobID)
	}
	s.jobs[job.JobID] = deepcopy.Copy(job).(*model.Job)
	return nil
}

func (s *MemoryProgressStore) ClaimNextJob(ctx context.Context, leaseDuration time.Duration) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var candidates []*model.Job
	for _, j := range s.jobs {
		if j.Status == model.StatusQueued {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		for _, j := range s.jobs {
			if j.Status == model.StatusProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
				candidates = append(candidates, j)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	claimed := candidates[0]
	claimed.Status = model.StatusProcessing
	expires := now.Add(leaseDuration)
	claimed.LeaseExpiresAt = &expires

	return deepcopy.Copy(claimed).(*model.Job), nil
}

func (s *MemoryProgressStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return deepcopy.Copy(job).(*model.Job), nil
}

func (s *MemoryProgressStore) UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if update.RowsProcessed != nil {
		job.RowsProcessed = *update.RowsProcessed
	}
	if update.ClearCurrentRow {
		job.CurrentRow = nil
	} else if update.CurrentRow != nil {
		job.CurrentRow = update.CurrentRow
	}
	if update.LeaseExpiresAt != nil {
		job.LeaseExpiresAt = update.LeaseExpiresAt
	}
	if update.TotalRows != nil {
		job.TotalRows = *update.TotalRows
	}
	return nil
}

func (s *MemoryProgressStore) TransitionStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, extra TransitionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}

	matched := false
	for _, f := range from {
		if job.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	job.Status = to
	if extra.RowsProcessed != nil {
		job.RowsProcessed = *extra.RowsProcessed
	}
	if extra.ClearCurrentRow {
		job.CurrentRow = nil
	} else if extra.CurrentRow != nil {
		job.CurrentRow = extra.CurrentRow
	}
	if extra.LeaseExpiresAt != nil {
		job.LeaseExpiresAt = extra.LeaseExpiresAt
	}
	if extra.ClearErrorDetails {
		job.ErrorDetails = nil
	} else if extra.ErrorDetails != nil {
		job.ErrorDetails = extra.ErrorDetails
	}
	if extra.ErrorMessage != "" {
		job.ErrorMessage = extra.ErrorMessage
	}
	if extra.EnrichedFilePath != "" {
		job.EnrichedFilePath = extra.EnrichedFilePath
	}
	if extra.FinishedAt != nil {
		job.FinishedAt = extra.FinishedAt
	}

	return true, nil
}

func (s *MemoryProgressStore) AppendJobLog(ctx context.Context, jobID string, level model.LogLevel, message string, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[jobID] = append(s.logs[jobID], model.JobLog{
		LogID:     model.NewLogID(),
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Timestamp: timestamp,
	})
	return nil
}

func (s *MemoryProgressStore) ListJobLogs(ctx context.Context, jobID string) ([]model.JobLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := append([]model.JobLog(nil), s.logs[jobID]...)
	sort.Slice(logs, func(i, k int) bool { return logs[i].Timestamp.Before(logs[k].Timestamp) })
	return logs, nil
}

// MemoryBlobStore is an in-process BlobStore fake for tests.
type MemoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryBlobStore creates an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.data[path] = cp
	return nil
}

func (b *MemoryBlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *MemoryBlobStore) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, path)
	return nil
}

func (b *MemoryBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for p := range b.data {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
