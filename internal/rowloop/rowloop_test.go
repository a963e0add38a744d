// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dessentialist/rowforge/internal/credentials"
	"github.com/dessentialist/rowforge/internal/lease"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providercall"
	"github.com/dessentialist/rowforge/internal/providererr"
	"github.com/dessentialist/rowforge/internal/store"
)

const testInputCSV = "name,country\nAda,US\nGrace,UK\n"

func newHarness(t *testing.T) (*store.MemoryProgressStore, *store.MemoryBlobStore, *credentials.MemoryStore) {
	t.Helper()
	progress := store.NewMemoryProgressStore(nil)
	blobs := store.NewMemoryBlobStore()
	creds := credentials.NewMemoryStore()
	creds.SetKeys("user-1", map[model.Provider]string{model.ProviderOpenAI: "sk-test"})
	return progress, blobs, creds
}

func seedJob(t *testing.T, progress *store.MemoryProgressStore, blobs *store.MemoryBlobStore, job *model.Job, inputCSV string) {
	t.Helper()
	progress.PutJob(job)
	require.NoError(t, blobs.Put(context.Background(), store.InputPath(job.UserID, job.FileID), []byte(inputCSV), "text/csv"))
}

func newLoop(progress *store.MemoryProgressStore, blobs *store.MemoryBlobStore, creds *credentials.MemoryStore, factory CallerFactory, cfg Config) *Loop {
	leaseMgr := lease.New(progress, time.Minute)
	return New(progress, blobs, creds, factory, leaseMgr, cfg, nil, nil)
}

func echoFactory(script providercall.ScriptedFunc) CallerFactory {
	return func(map[model.Provider]string) providercall.Caller {
		return providercall.NewFake(script)
	}
}

func basicJob(jobID string) *model.Job {
	return &model.Job{
		JobID:  jobID,
		UserID: "user-1",
		FileID: "file-1",
		Status: model.StatusQueued,
		PromptsConfig: []model.PromptSpec{
			{PromptText: "hi {{name}}", OutputColumnName: "greeting", Provider: model.ProviderOpenAI, ModelID: "gpt-test"},
		},
		CreatedAt: time.Now(),
	}
}

func TestRunCompletesHappyPath(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-1")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, testInputCSV)

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, echoFactory(providercall.Echo), cfg)

	err := loop.Run(context.Background(), "job-1")
	require.NoError(t, err)

	final, err := progress.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, final.Status)
	require.Equal(t, 2, final.RowsProcessed)
	require.NotEmpty(t, final.EnrichedFilePath)
	require.Nil(t, final.CurrentRow)

	data, err := blobs.Get(context.Background(), final.EnrichedFilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hi Ada")
	require.Contains(t, string(data), "hi Grace")
}

func TestRunSkipsFilledCellsWhenOptionSet(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-2")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, "name,country,greeting\nAda,US,already-there\nGrace,UK,\n")
	require.NoError(t, blobs.Put(context.Background(), store.OptionsPath(job.UserID, job.JobID), []byte(`{"skipIfExistingValue":true}`), "application/json"))

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, echoFactory(providercall.Echo), cfg)

	require.NoError(t, loop.Run(context.Background(), "job-2"))

	final, err := progress.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, final.Status)

	data, err := blobs.Get(context.Background(), final.EnrichedFilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "already-there")
	require.Contains(t, string(data), "hi Grace")
}

func TestRunDeduplicatesIdenticalInvocations(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-3")
	job.Status = model.StatusProcessing
	job.PromptsConfig[0].PromptText = "constant prompt" // identical for every row
	seedJob(t, progress, blobs, job, testInputCSV)

	var fake *providercall.Fake
	factory := func(map[model.Provider]string) providercall.Caller {
		fake = providercall.NewFake(func(_ model.Provider, _, _, userText string) providercall.Result {
			return providercall.Result{Content: "constant-output"}
		})
		return fake
	}

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, factory, cfg)

	require.NoError(t, loop.Run(context.Background(), "job-3"))

	require.NotNil(t, fake)
	require.EqualValues(t, 1, fake.CallCount(), "identical prompt invocation across rows must be deduplicated to a single call")
}

func TestRunAutoPausesOnCriticalError(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-4")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, testInputCSV)

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, echoFactory(providercall.AuthError), cfg)

	require.NoError(t, loop.Run(context.Background(), "job-4"))

	final, err := progress.GetJob(context.Background(), "job-4")
	require.NoError(t, err)
	require.Equal(t, model.StatusPaused, final.Status)
	require.NotNil(t, final.ErrorDetails)
	require.Equal(t, model.ErrorAuth, final.ErrorDetails.Category)
	require.Equal(t, 1, final.ErrorDetails.RowNumber)
}

func TestRunContinuesPastTransientRowFailure(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-5")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, testInputCSV)

	calls := 0
	factory := func(map[model.Provider]string) providercall.Caller {
		return providercall.NewFake(func(_ model.Provider, _, _, userText string) providercall.Result {
			calls++
			if calls == 1 {
				return providercall.Result{Err: providererr.New(providererr.CategoryMalformedResponse, "bad response", "", nil)}
			}
			return providercall.Result{Content: userText}
		})
	}

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, factory, cfg)

	require.NoError(t, loop.Run(context.Background(), "job-5"))

	final, err := progress.GetJob(context.Background(), "job-5")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, final.Status)

	data, err := blobs.Get(context.Background(), final.EnrichedFilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), model.CellLLMError)
}

func TestRunStopsAndWritesPartial(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-6")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, "name,country\nAda,US\nGrace,UK\nAlan,UK\n")

	release := make(chan struct{})
	factory := func(map[model.Provider]string) providercall.Caller {
		return providercall.NewFake(func(_ model.Provider, _, _, userText string) providercall.Result {
			<-release
			return providercall.Result{Content: userText}
		})
	}

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, factory, cfg)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), "job-6") }()

	// Give Run a moment to reach the first row, then flip to stopped
	// before unblocking any provider call.
	time.Sleep(20 * time.Millisecond)
	_, err := progress.TransitionStatus(context.Background(), "job-6",
		[]model.JobStatus{model.StatusProcessing}, model.StatusStopped, store.TransitionUpdate{})
	require.NoError(t, err)
	close(release)

	require.NoError(t, <-done)

	final, err := progress.GetJob(context.Background(), "job-6")
	require.NoError(t, err)
	require.Equal(t, model.StatusStopped, final.Status)
	require.Nil(t, final.CurrentRow)
}

func TestRunFailsWithoutCredentials(t *testing.T) {
	progress, blobs, _ := newHarness(t)
	job := basicJob("job-7")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, testInputCSV)

	cfg := DefaultConfig()
	loop := newLoop(progress, blobs, credentials.NewMemoryStore(), echoFactory(providercall.Echo), cfg)

	err := loop.Run(context.Background(), "job-7")
	require.Error(t, err)

	final, err := progress.GetJob(context.Background(), "job-7")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, final.Status)
}

func TestRunNeverDowngradesAnAlreadyCompletedJob(t *testing.T) {
	progress, blobs, _ := newHarness(t)
	job := basicJob("job-8")
	job.Status = model.StatusCompleted
	seedJob(t, progress, blobs, job, testInputCSV)

	loop := newLoop(progress, blobs, credentials.NewMemoryStore(), echoFactory(providercall.Echo), DefaultConfig())
	err := loop.Run(context.Background(), "job-8")
	require.Error(t, err) // no credentials configured, so prepare fails

	final, err := progress.GetJob(context.Background(), "job-8")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, final.Status, "failJob must never downgrade a terminal job")
}

func TestRunFiltersFullyEmptyRows(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-9")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, "name,country\nAda,US\n,\nGrace,UK\n")

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, echoFactory(providercall.Echo), cfg)

	require.NoError(t, loop.Run(context.Background(), "job-9"))

	final, err := progress.GetJob(context.Background(), "job-9")
	require.NoError(t, err)
	require.Equal(t, 2, final.TotalRows)
	require.Equal(t, 2, final.RowsProcessed)
}

func TestRunRecoversFromRowPanic(t *testing.T) {
	progress, blobs, creds := newHarness(t)
	job := basicJob("job-10")
	job.Status = model.StatusProcessing
	seedJob(t, progress, blobs, job, testInputCSV)

	calls := 0
	factory := func(map[model.Provider]string) providercall.Caller {
		return providercall.NewFake(func(_ model.Provider, _, _, userText string) providercall.Result {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return providercall.Result{Content: userText}
		})
	}

	cfg := DefaultConfig()
	cfg.PauseWait = time.Millisecond
	loop := newLoop(progress, blobs, creds, factory, cfg)

	require.NoError(t, loop.Run(context.Background(), "job-10"))

	final, err := progress.GetJob(context.Background(), "job-10")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, final.Status)

	data, err := blobs.Get(context.Background(), final.EnrichedFilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), model.CellRowError)
}
