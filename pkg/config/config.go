// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the knobs the Dispatcher and Row Loop read at startup.
type Config struct {
	// ProgressStoreDSN is the connection string for the Progress Store.
	ProgressStoreDSN string

	// BlobStoreDSN is the connection string or root path for the Blob Store.
	BlobStoreDSN string

	// PollInterval is how often the Dispatcher scans for queued jobs.
	PollInterval time.Duration

	// LeaseDuration is how long a claimed job's lease is valid before it
	// is eligible for reclaim.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often a running job renews its lease.
	HeartbeatInterval time.Duration

	// PartialSaveInterval is the row-cursor stride at which the Row Loop
	// checkpoints partial output to the Blob Store.
	PartialSaveInterval int

	// MaxRetries is the maximum number of transient-error retries a
	// Provider Call performs before surfacing a row-scoped failure.
	MaxRetries int

	// RetryWaitMin is the minimum backoff between Provider Call retries.
	RetryWaitMin time.Duration

	// RetryWaitMax is the maximum backoff between Provider Call retries.
	RetryWaitMax time.Duration

	// DedupeEnabled toggles the per-job Dedupe Cache.
	DedupeEnabled bool

	// DedupeSecret is the process-wide secret mixed into dedupe fingerprints.
	DedupeSecret string

	// Debug enables verbose logging.
	Debug bool

	// InsecureSkipVerify skips TLS certificate verification on outbound
	// Provider Call requests.
	InsecureSkipVerify bool

	// APIAddr is the listen address for the control-plane HTTP server.
	APIAddr string
}

// NewDefault creates a new configuration with default values.
func NewDefault() *Config {
	return &Config{
		ProgressStoreDSN:    getEnvOrDefault("ROWFORGE_PROGRESS_STORE_DSN", "postgres://localhost:5432/rowforge?sslmode=disable"),
		BlobStoreDSN:        getEnvOrDefault("ROWFORGE_BLOB_STORE_DSN", "file://./data/blobs"),
		PollInterval:        3 * time.Second,
		LeaseDuration:       60 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		PartialSaveInterval: 10,
		MaxRetries:          3,
		RetryWaitMin:        1 * time.Second,
		RetryWaitMax:        30 * time.Second,
		DedupeEnabled:       true,
		DedupeSecret:        getEnvOrDefault("ROWFORGE_DEDUPE_SECRET", ""),
		Debug:               getEnvBoolOrDefault("ROWFORGE_DEBUG", false),
		InsecureSkipVerify:  getEnvBoolOrDefault("ROWFORGE_INSECURE_SKIP_VERIFY", false),
		APIAddr:             getEnvOrDefault("ROWFORGE_API_ADDR", ":8080"),
	}
}

// Load loads configuration from environment variables, overriding any
// value already set on c.
func (c *Config) Load() {
	if dsn := os.Getenv("ROWFORGE_PROGRESS_STORE_DSN"); dsn != "" {
		c.ProgressStoreDSN = dsn
	}

	if dsn := os.Getenv("ROWFORGE_BLOB_STORE_DSN"); dsn != "" {
		c.BlobStoreDSN = dsn
	}

	if poll := os.Getenv("ROWFORGE_POLL_INTERVAL"); poll != "" {
		if d, err := time.ParseDuration(poll); err == nil {
			c.PollInterval = d
		}
	}

	if lease := os.Getenv("ROWFORGE_LEASE_DURATION"); lease != "" {
		if d, err := time.ParseDuration(lease); err == nil {
			c.LeaseDuration = d
		}
	}

	if hb := os.Getenv("ROWFORGE_HEARTBEAT_INTERVAL"); hb != "" {
		if d, err := time.ParseDuration(hb); err == nil {
			c.HeartbeatInterval = d
		}
	}

	if stride := os.Getenv("ROWFORGE_PARTIAL_SAVE_INTERVAL"); stride != "" {
		if i, err := strconv.Atoi(stride); err == nil {
			c.PartialSaveInterval = i
		}
	}

	if maxRetries := os.Getenv("ROWFORGE_MAX_RETRIES"); maxRetries != "" {
		if i, err := strconv.Atoi(maxRetries); err == nil {
			c.MaxRetries = i
		}
	}

	if secret := os.Getenv("ROWFORGE_DEDUPE_SECRET"); secret != "" {
		c.DedupeSecret = secret
	}

	if addr := os.Getenv("ROWFORGE_API_ADDR"); addr != "" {
		c.APIAddr = addr
	}

	c.DedupeEnabled = getEnvBoolOrDefault("ROWFORGE_DEDUPE_ENABLED", c.DedupeEnabled)
	c.Debug = getEnvBoolOrDefault("ROWFORGE_DEBUG", c.Debug)
	c.InsecureSkipVerify = getEnvBoolOrDefault("ROWFORGE_INSECURE_SKIP_VERIFY", c.InsecureSkipVerify)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProgressStoreDSN == "" {
		return ErrMissingProgressStoreDSN
	}

	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.PartialSaveInterval <= 0 {
		return ErrInvalidPartialSaveInterval
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as a boolean or a default value.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
