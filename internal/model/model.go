// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package model defines the data shapes shared by the Progress Store,
// the Row Loop, and the control plane.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewJobID generates a new unique job identifier.
func NewJobID() string { return uuid.New().String() }

// NewLogID generates a new unique job-log-entry identifier.
func NewLogID() string { return uuid.New().String() }

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusStopped    JobStatus = "stopped"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether a status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Provider identifies a language-model vendor.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderPerplexity Provider = "perplexity"
	ProviderAnthropic  Provider = "anthropic"
)

// PromptSpec is one element of a Job's promptsConfig.
type PromptSpec struct {
	SystemText       string   `json:"systemText,omitempty" yaml:"systemText,omitempty"`
	PromptText       string   `json:"promptText" yaml:"promptText"`
	OutputColumnName string   `json:"outputColumnName" yaml:"outputColumnName"`
	Provider         Provider `json:"provider" yaml:"provider"`
	ModelID          string   `json:"modelId" yaml:"modelId"`
}

// ErrorCategory classifies an auto-pausing failure (subset of the
// Provider Call taxonomy that is critical enough to halt the job).
type ErrorCategory string

const (
	ErrorAuth            ErrorCategory = "AUTH_ERROR"
	ErrorQuotaExceeded    ErrorCategory = "QUOTA_EXCEEDED"
	ErrorContentFiltered  ErrorCategory = "CONTENT_FILTERED"
)

// ErrorDetails is the structured record attached to a job auto-paused
// on a critical Provider Call failure.
type ErrorDetails struct {
	Category            ErrorCategory  `json:"category"`
	UserMessage          string         `json:"userMessage"`
	TechnicalMessage     string         `json:"technicalMessage"`
	RowNumber            int            `json:"rowNumber"` // 1-based
	PromptIndex          int            `json:"promptIndex"` // 0-based
	PromptOutputColumn   string         `json:"promptOutputColumn"`
	Provider             Provider       `json:"provider"`
	ModelID              string         `json:"modelId,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Job is a row in the Progress Store.
type Job struct {
	JobID            string
	UserID           string
	FileID           string
	Status           JobStatus
	PromptsConfig    []PromptSpec
	TotalRows        int
	RowsProcessed    int
	CurrentRow       *int
	LeaseExpiresAt   *time.Time
	EnrichedFilePath string
	ErrorMessage     string
	ErrorDetails     *ErrorDetails
	FinishedAt       *time.Time
	CreatedAt        time.Time
}

// LogLevel is the severity of a JobLog entry.
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// JobLog is one append-only log entry for a job.
type JobLog struct {
	LogID     string
	JobID     string
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// Options is the per-job controls document (controls/{userId}/{jobId}.json).
type Options struct {
	SkipIfExistingValue bool `json:"skipIfExistingValue"`
}

// DefaultOptions is used when no options blob exists.
func DefaultOptions() Options {
	return Options{SkipIfExistingValue: false}
}

// Row is a single record: header name -> string value.
type Row map[string]string

// FilledExcelErrorLiterals is the list of cell values treated as "not
// filled" even though non-empty.
var FilledExcelErrorLiterals = map[string]bool{
	"LLM_ERROR": true,
	"ROW_ERROR": true,
	"NA":        true,
	"N/A":       true,
	"#N/A":      true,
	"#N/A!":     true,
	"#NA":       true,
	"#VALUE!":   true,
	"#REF!":     true,
	"#DIV/0!":   true,
	"#NUM!":     true,
	"#NAME?":    true,
	"#NULL!":    true,
}

const (
	// CellLLMError marks a per-prompt Provider Call failure.
	CellLLMError = "LLM_ERROR"
	// CellRowError marks an entire row that failed with an unexpected exception.
	CellRowError = "ROW_ERROR"
)
