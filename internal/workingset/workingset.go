// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package workingset composes the immutable input rows with a sparse
// output overlay and a stable header order.
package workingset

import "github.com/dessentialist/rowforge/internal/model"

// Stats summarizes the current state of a WorkingSet.
type Stats struct {
	InputRows     int
	OverlayRows   int
	OutputColumns int
}

// WorkingSet is an in-memory, zero-copy-like view over input rows plus
// a sparse write layer for generated outputs.
type WorkingSet struct {
	inputRows     []model.Row
	outputColumns []string
	overlay       map[int]map[string]string
	headers       []string
}

// Construct builds a WorkingSet over inputRows with the given declared
// output columns (order preserved, duplicates dropped). inputHeaders
// carries the input table's header order — a bare []model.Row cannot
// recover it on its own since Go maps are unordered; csvcodec.Parse
// returns it alongside the parsed rows for exactly this purpose.
func Construct(inputHeaders []string, inputRows []model.Row, declaredOutputColumns []string) *WorkingSet {
	ws := &WorkingSet{
		inputRows:     inputRows,
		outputColumns: dedupe(declaredOutputColumns),
		overlay:       make(map[int]map[string]string),
	}
	ws.headers = dedupe(append(append([]string{}, inputHeaders...), ws.outputColumns...))
	return ws
}

func dedupe(cols []string) []string {
	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// MergePartial installs, for every row index present in both partial
// and the input, any declared output column found in partial[i] into
// the overlay. Input columns present in partial are ignored — the
// input is authoritative.
func (ws *WorkingSet) MergePartial(partialRows []model.Row) {
	limit := len(partialRows)
	if len(ws.inputRows) < limit {
		limit = len(ws.inputRows)
	}
	declared := make(map[string]bool, len(ws.outputColumns))
	for _, c := range ws.outputColumns {
		declared[c] = true
	}
	for i := 0; i < limit; i++ {
		for col, val := range partialRows[i] {
			if declared[col] {
				ws.SetOutput(i, col, val)
			}
		}
	}
}

// OverlayRowCount returns the number of row indices with at least one
// overlay value installed — the count MergePartial's caller needs for
// resume reconciliation needs to reconcile the last checkpointed cursor.
func (ws *WorkingSet) OverlayRowCount() int {
	max := -1
	for idx := range ws.overlay {
		if idx > max {
			max = idx
		}
	}
	return max + 1
}

// RowView returns input row i overlaid with any outputs set for i.
func (ws *WorkingSet) RowView(i int) model.Row {
	view := make(model.Row, len(ws.headers))
	if i >= 0 && i < len(ws.inputRows) {
		for k, v := range ws.inputRows[i] {
			view[k] = v
		}
	}
	for k, v := range ws.overlay[i] {
		view[k] = v
	}
	return view
}

// SetOutput installs or replaces an overlay cell. Input rows are never
// mutated by this call.
func (ws *WorkingSet) SetOutput(i int, column, value string) {
	row, ok := ws.overlay[i]
	if !ok {
		row = make(map[string]string)
		ws.overlay[i] = row
	}
	row[column] = value
}

// MaterializeSlice returns rows [0, n) as composed views.
func (ws *WorkingSet) MaterializeSlice(n int) []model.Row {
	if n > len(ws.inputRows) {
		n = len(ws.inputRows)
	}
	out := make([]model.Row, n)
	for i := 0; i < n; i++ {
		out[i] = ws.RowView(i)
	}
	return out
}

// MaterializeAll returns every input row as a composed view.
func (ws *WorkingSet) MaterializeAll() []model.Row {
	return ws.MaterializeSlice(len(ws.inputRows))
}

// Headers returns input headers in order followed by any declared
// output columns not already present, both de-duplicated. The order is
// fixed at Construct/BuildWorkingSet time and never changes afterward.
func (ws *WorkingSet) Headers() []string {
	out := make([]string, len(ws.headers))
	copy(out, ws.headers)
	return out
}

// Stats reports the current size of the WorkingSet.
func (ws *WorkingSet) Stats() Stats {
	return Stats{
		InputRows:     len(ws.inputRows),
		OverlayRows:   ws.OverlayRowCount(),
		OutputColumns: len(ws.outputColumns),
	}
}

// InputRowCount returns the number of input rows.
func (ws *WorkingSet) InputRowCount() int { return len(ws.inputRows) }
