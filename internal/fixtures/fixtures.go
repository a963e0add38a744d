// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package fixtures loads YAML-described jobs (prompts, credentials,
// input table) and seeds them into a Progress Store, Blob Store, and
// Credentials Store, for local development runs and tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dessentialist/rowforge/internal/credentials"
	"github.com/dessentialist/rowforge/internal/csvcodec"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
)

// InputTable is a small, literal input table: a header row plus
// string cells, aligned by column index.
type InputTable struct {
	Headers []string   `yaml:"headers"`
	Rows    [][]string `yaml:"rows"`
}

// Fixture describes one job ready to be seeded: its prompts, its
// per-provider API keys, and its input table.
type Fixture struct {
	UserID        string                     `yaml:"userId"`
	FileID        string                     `yaml:"fileId"`
	PromptsConfig []model.PromptSpec         `yaml:"promptsConfig"`
	Options       model.Options              `yaml:"options"`
	Credentials   map[model.Provider]string  `yaml:"credentials"`
	Input         InputTable                 `yaml:"input"`
}

// Load parses a Fixture from YAML bytes.
func Load(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fixtures: invalid YAML: %w", err)
	}
	if len(f.Input.Headers) == 0 {
		return nil, fmt.Errorf("fixtures: input.headers must be non-empty")
	}
	return &f, nil
}

// LoadFile reads and parses a Fixture from a YAML file on disk.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixtures: reading %s: %w", path, err)
	}
	return Load(data)
}

// Seed inserts the fixture's job (status queued), credentials, input
// table, and Job Options into the given stores, returning the new
// job's ID.
func Seed(ctx context.Context, f *Fixture, progress store.ProgressStore, blobs store.BlobStore, creds *credentials.MemoryStore) (string, error) {
	job := &model.Job{
		JobID:         model.NewJobID(),
		UserID:        f.UserID,
		FileID:        f.FileID,
		Status:        model.StatusQueued,
		PromptsConfig: f.PromptsConfig,
		CreatedAt:     time.Now().UTC(),
	}
	if err := progress.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("fixtures: inserting job: %w", err)
	}

	if creds != nil && len(f.Credentials) > 0 {
		creds.SetKeys(f.UserID, f.Credentials)
	}

	rows := toRows(f.Input)
	csvBytes, err := csvcodec.Serialize(f.Input.Headers, rows)
	if err != nil {
		return "", fmt.Errorf("fixtures: serializing input table: %w", err)
	}
	if err := blobs.Put(ctx, store.InputPath(f.UserID, f.FileID), csvBytes, "text/csv"); err != nil {
		return "", fmt.Errorf("fixtures: uploading input table: %w", err)
	}

	optsBytes, err := json.Marshal(f.Options)
	if err != nil {
		return "", fmt.Errorf("fixtures: marshaling options: %w", err)
	}
	if err := blobs.Put(ctx, store.OptionsPath(f.UserID, job.JobID), optsBytes, "application/json"); err != nil {
		return "", fmt.Errorf("fixtures: uploading job options: %w", err)
	}

	return job.JobID, nil
}

func toRows(input InputTable) []model.Row {
	rows := make([]model.Row, len(input.Rows))
	for i, raw := range input.Rows {
		row := make(model.Row, len(input.Headers))
		for j, header := range input.Headers {
			if j < len(raw) {
				row[header] = raw[j]
			}
		}
		rows[i] = row
	}
	return rows
}
