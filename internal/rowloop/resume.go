// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rowloop

import (
	"context"
	"errors"

	"github.com/dessentialist/rowforge/internal/csvcodec"
	"github.com/dessentialist/rowforge/internal/model"
	"github.com/dessentialist/rowforge/internal/store"
)

// reconcileResume computes the row index the main iteration should
// start from, given the persisted rowsProcessed and whatever partial
// output evidence actually exists in the Blob Store.
func (l *Loop) reconcileResume(ctx context.Context, rc *runContext) (int, error) {
	r := rc.job.RowsProcessed
	start := r

	if r > 0 {
		data, err := l.blobs.Get(ctx, store.PartialOutputPath(rc.job.UserID, rc.job.JobID))
		switch {
		case err == nil:
			_, partialRows, parseErr := csvcodec.Parse(data)
			if parseErr != nil {
				start = 0
				l.logBoth(ctx, rc.job.JobID, model.LogWarn, "resume_partial_unparseable_reset_to_zero", "jobId", rc.job.JobID, "error", parseErr.Error())
				break
			}
			rc.ws.MergePartial(partialRows)
			overlay := rc.ws.OverlayRowCount()
			if r > overlay {
				start = overlay
				l.logBoth(ctx, rc.job.JobID, model.LogWarn, "resume_partial_behind_progress", "jobId", rc.job.JobID, "rowsProcessed", r, "overlayRows", overlay)
			} else {
				start = r
			}
		case errors.Is(err, store.ErrNotFound):
			start = 0
			l.logBoth(ctx, rc.job.JobID, model.LogWarn, "resume_partial_missing_reset_to_zero", "jobId", rc.job.JobID, "rowsProcessed", r)
		default:
			return 0, err
		}
	}

	if start > rc.filteredTotal {
		l.logBoth(ctx, rc.job.JobID, model.LogWarn, "resume_clamped_to_filtered_total", "jobId", rc.job.JobID, "rowsProcessed", start, "filteredTotal", rc.filteredTotal)
		start = rc.filteredTotal
	}

	return start, nil
}
