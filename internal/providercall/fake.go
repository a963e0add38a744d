// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package providercall

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providererr"
)

// ScriptedFunc computes a deterministic response for a call, used by
// tests to drive canned scenarios (happy path, auto-pause, chained
// prompts, ...).
type ScriptedFunc func(provider model.Provider, modelID, systemText, userText string) Result

// Fake is a deterministic, in-process Caller. It never performs I/O,
// so it is also externally idempotent for a given input, which is the
// property the Dedupe Cache's rebuild-on-resume policy relies on.
type Fake struct {
	mu       sync.Mutex
	script   ScriptedFunc
	calls    int64
	lastArgs []callArgs
}

type callArgs struct {
	Provider   model.Provider
	ModelID    string
	SystemText string
	UserText   string
}

// NewFake builds a Fake driven by the given scripted function.
func NewFake(script ScriptedFunc) *Fake {
	return &Fake{script: script}
}

// Call implements Caller.
func (f *Fake) Call(_ context.Context, provider model.Provider, modelID, systemText, userText string, _ Options) Result {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.lastArgs = append(f.lastArgs, callArgs{provider, modelID, systemText, userText})
	f.mu.Unlock()
	return f.script(provider, modelID, systemText, userText)
}

// CallCount returns the number of Call invocations observed so far.
func (f *Fake) CallCount() int64 { return atomic.LoadInt64(&f.calls) }

// Echo is a ScriptedFunc that returns the user text verbatim, useful
// for exercising chained-prompt substitution.
func Echo(_ model.Provider, _, _, userText string) Result {
	return Result{Content: userText}
}

// ConstantByCountry returns "HI-<COUNTRY>" keyed by a country token
// found in systemText.
func ConstantByCountry(country string) Result {
	return Result{Content: fmt.Sprintf("HI-%s", country)}
}

// AuthError is a ScriptedFunc that always fails critically.
func AuthError(_ model.Provider, _, _, _ string) Result {
	return Result{Err: providererr.New(providererr.CategoryAuth, "invalid API key", "401 from provider", nil)}
}
