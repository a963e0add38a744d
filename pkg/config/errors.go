package config

import "errors"

var (
	// ErrMissingProgressStoreDSN is returned when no Progress Store DSN is set.
	ErrMissingProgressStoreDSN = errors.New("progress store DSN is required")

	// ErrInvalidPollInterval is returned when the dispatcher poll interval is invalid.
	ErrInvalidPollInterval = errors.New("poll interval must be greater than 0")

	// ErrInvalidMaxRetries is returned when max retries is invalid.
	ErrInvalidMaxRetries = errors.New("max retries must be greater than or equal to 0")

	// ErrInvalidPartialSaveInterval is returned when the partial-save row stride is invalid.
	ErrInvalidPartialSaveInterval = errors.New("partial save interval must be greater than 0")
)
