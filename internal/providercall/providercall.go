// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package providercall abstracts a single language-model invocation:
// given a provider, model, and prompt texts, return a success with
// content or a categorized failure. No direct HTTP library may appear
// outside this package and its implementations.
package providercall

import (
	"context"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providererr"
)

// Options carries the recognized, output-affecting call parameters.
type Options struct {
	TimeoutMs   int
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// Result is the tagged variant a call resolves to: exactly one of
// Content (success) or Err (failure) is set.
type Result struct {
	Content string
	Err     *providererr.CallError
}

// Success reports whether the call produced usable content.
func (r Result) Success() bool { return r.Err == nil }

// Caller executes a single Provider Call invocation.
type Caller interface {
	Call(ctx context.Context, provider model.Provider, modelID, systemText, userText string, opts Options) Result
}

// PacingDelay returns the documented base inter-call delay for a provider.
func PacingDelay(p model.Provider) (base string, ok bool) {
	switch p {
	case model.ProviderOpenAI:
		return "400ms", true
	case model.ProviderGemini:
		return "500ms", true
	case model.ProviderPerplexity:
		return "600ms", true
	case model.ProviderAnthropic:
		return "500ms", true
	default:
		return "500ms", false
	}
}
