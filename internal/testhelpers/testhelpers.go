// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package testhelpers holds small test utilities shared across package
// test suites.
package testhelpers

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a test context with a generous timeout.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// IntPtr returns a pointer to an int value.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to a string value.
func StringPtr(v string) *string { return &v }

// BoolPtr returns a pointer to a bool value.
func BoolPtr(v bool) *bool { return &v }

// TimePtr returns a pointer to a time.Time value.
func TimePtr(v time.Time) *time.Time { return &v }
