// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"time"

	"github.com/dessentialist/rowforge/internal/dedupe"
	"github.com/dessentialist/rowforge/internal/lease"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/providercall"
	"github.com/dessentialist/rowforge/internal/providererr"
)

// stableOptions are the Provider Call options that affect model output
// and therefore must be folded into the dedupe fingerprint.
func stableOptions() map[string]any {
	return map[string]any{"temperature": 0}
}

// dedupeKey derives the per-job HMAC key mixing the process-wide
// dedupe secret with the job's user ID.
func dedupeKey(secret, userID string) []byte {
	return dedupe.DeriveKey(secret, userID)
}

// fingerprintFor computes the canonical dedupe fingerprint for one
// prompt invocation.
func fingerprintFor(key []byte, prompt model.PromptSpec, systemText, userText string) (string, error) {
	return dedupe.Fingerprint(key, prompt.OutputColumnName, prompt.Provider, prompt.ModelID, systemText, userText, stableOptions())
}

// resolveCall consults the Dedupe Cache before invoking Provider Call,
// implementing the Lookup/Register/Resolve/Unregister cycle and
// tallying the dedupe metrics.
func (l *Loop) resolveCall(ctx context.Context, rc *runContext, prompt model.PromptSpec, fingerprint, systemText, userText string) providercall.Result {
	lookup := rc.dedupe.Lookup(prompt.OutputColumnName, fingerprint)
	switch lookup.Kind {
	case dedupe.Resolved:
		rc.metrics.cacheHits++
		l.metrics.RecordCacheHit(prompt.OutputColumnName)
		return providercall.Result{Content: lookup.Content}

	case dedupe.InFlight:
		rc.metrics.inFlightHits++
		l.metrics.RecordCacheHit(prompt.OutputColumnName)
		content, err := lookup.Pending.Wait(ctx)
		if err != nil {
			return providercall.Result{Err: providererr.Wrap(err)}
		}
		return providercall.Result{Content: content}

	default:
		rc.metrics.llmCallsMade++
		l.metrics.RecordCacheMiss(prompt.OutputColumnName)
		rc.dedupe.Register(prompt.OutputColumnName, fingerprint)

		timeoutMs := timeoutForInput(systemText, userText)
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()

		opts := providercall.Options{TimeoutMs: timeoutMs, MaxRetries: l.cfg.MaxRetries}
		result := rc.caller.Call(callCtx, prompt.Provider, prompt.ModelID, systemText, userText, opts)

		if result.Success() {
			rc.dedupe.Resolve(prompt.OutputColumnName, fingerprint, result.Content)
		} else {
			rc.dedupe.Unregister(prompt.OutputColumnName, fingerprint, result.Err)
		}
		return result
	}
}

// pacingSleep honors Provider Call's documented per-provider base delay
// plus 0-150ms of uniform jitter.
func (l *Loop) pacingSleep(ctx context.Context, provider model.Provider) {
	base, _ := providercall.PacingDelay(provider)
	delay, err := time.ParseDuration(base)
	if err != nil {
		delay = 500 * time.Millisecond
	}
	delay += lease.PacingJitter(150 * time.Millisecond)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
