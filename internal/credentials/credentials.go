// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package credentials abstracts the lookup of a user's configured
// provider API keys, injected into the Row Loop as a pure capability.
package credentials

import (
	"context"

	"github.com/dessentialist/rowforge/internal/model"
)

// Store resolves a user's configured provider API keys.
type Store interface {
	// GetProviderKeys returns the provider→key mapping configured for
	// userID. An empty, non-nil map means the user has no keys
	// configured; the Row Loop treats that as a job-failing condition.
	GetProviderKeys(ctx context.Context, userID string) (map[model.Provider]string, error)
}
