// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"regexp"
	"strings"

	"github.com/dessentialist/rowforge/internal/model"
)

var variableToken = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// substitute expands {{name}} tokens in text against view, substituting
// the empty string for any name not present in view.
func substitute(text string, view model.Row) string {
	return variableToken.ReplaceAllStringFunc(text, func(match string) string {
		name := variableToken.FindStringSubmatch(match)[1]
		return view[name]
	})
}

// timeoutForInput derives Provider Call's timeoutMs as a step function
// of the combined system+user text length.
func timeoutForInput(systemText, userText string) int {
	n := len(systemText) + len(userText)
	switch {
	case n >= 12000:
		return 45000
	case n >= 8000:
		return 30000
	case n >= 4000:
		return 20000
	default:
		return 15000
	}
}

// isFilled reports whether a cell value counts as already filled for
// skip-if-filled purposes: non-empty, non-whitespace, and not one of
// the recognized error/NA literals after trim+uppercase.
func isFilled(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if model.FilledExcelErrorLiterals[strings.ToUpper(trimmed)] {
		return false
	}
	return true
}
