// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dessentialist/rowforge/internal/model"
)

func TestMemoryStoreReturnsConfiguredKeys(t *testing.T) {
	s := NewMemoryStore()
	s.SetKeys("user-1", map[model.Provider]string{
		model.ProviderOpenAI: "sk-openai-1",
	})

	keys, err := s.GetProviderKeys(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "sk-openai-1", keys[model.ProviderOpenAI])
}

func TestMemoryStoreReturnsEmptyMappingForUnknownUser(t *testing.T) {
	s := NewMemoryStore()

	keys, err := s.GetProviderKeys(context.Background(), "missing")
	require.NoError(t, err)
	require.NotNil(t, keys)
	require.Empty(t, keys)
}

func TestMemoryStoreSnapshotsAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	original := map[model.Provider]string{model.ProviderAnthropic: "sk-anthropic-1"}
	s.SetKeys("user-1", original)
	original[model.ProviderAnthropic] = "mutated"

	keys, err := s.GetProviderKeys(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "sk-anthropic-1", keys[model.ProviderAnthropic], "SetKeys must defensively copy its input")

	keys[model.ProviderAnthropic] = "mutated-by-caller"
	again, err := s.GetProviderKeys(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "sk-anthropic-1", again[model.ProviderAnthropic], "GetProviderKeys must return an independent copy")
}
