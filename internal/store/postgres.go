// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/dessentialist/rowforge/internal/model"
)

// PostgresProgressStore is the production Progress Store: every lease
// transition is a single conditional UPDATE predicated on the expected
// prior status, so concurrent claimers can't both succeed.
type PostgresProgressStore struct {
	db *sql.DB
}

// OpenPostgresProgressStore opens a connection pool against dsn and
// verifies connectivity.
func OpenPostgresProgressStore(ctx context.Context, dsn string) (*PostgresProgressStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresProgressStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresProgressStore) Close() error { return s.db.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	file_id            TEXT NOT NULL,
	status             TEXT NOT NULL,
	prompts_config     JSONB NOT NULL,
	total_rows         INTEGER NOT NULL DEFAULT 0,
	rows_processed     INTEGER NOT NULL DEFAULT 0,
	current_row        INTEGER,
	lease_expires_at   TIMESTAMPTZ,
	enriched_file_path TEXT,
	error_message      TEXT,
	error_details      JSONB,
	finished_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS job_logs (
	log_id    TEXT PRIMARY KEY,
	job_id    TEXT NOT NULL REFERENCES jobs(job_id),
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the jobs and job_logs tables if they don't exist.
func (s *PostgresProgressStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

const claimQueuedQuery = `
UPDATE jobs
SET status = 'processing', lease_expires_at = $1
WHERE job_id = (
	SELECT job_id FROM jobs
	WHERE status = 'queued'
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING job_id
`

const claimExpiredQuery = `
UPDATE jobs
SET status = 'processing', lease_expires_at = $1
WHERE job_id = (
	SELECT job_id FROM jobs
	WHERE status = 'processing' AND lease_expires_at < $2
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING job_id
`

const selectJobQuery = `
SELECT job_id, user_id, file_id, status, prompts_config, total_rows, rows_processed,
       current_row, lease_expires_at, enriched_file_path, error_message, error_details,
       finished_at, created_at
FROM jobs WHERE job_id = $1
`

// InsertJob implements ProgressStore.
func (s *PostgresProgressStore) InsertJob(ctx context.Context, job *model.Job) error {
	promptsJSON, err := json.Marshal(job.PromptsConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, user_id, file_id, status, prompts_config, total_rows, rows_processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.JobID, job.UserID, job.FileID, string(job.Status), promptsJSON, job.TotalRows, job.RowsProcessed, job.CreatedAt)
	return err
}

func (s *PostgresProgressStore) ClaimNextJob(ctx context.Context, leaseDuration time.Duration) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	expires := now.Add(leaseDuration)

	var jobID string
	err = tx.QueryRowContext(ctx, claimQueuedQuery, expires).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, claimExpiredQuery, expires, now).Scan(&jobID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	job, err := scanJob(tx.QueryRowContext(ctx, selectJobQuery, jobID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresProgressStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobQuery, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *PostgresProgressStore) UpdateJobProgress(ctx context.Context, jobID string, update ProgressUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			rows_processed   = COALESCE($2, rows_processed),
			current_row      = CASE WHEN $3 THEN NULL ELSE COALESCE($4, current_row) END,
			lease_expires_at = COALESCE($5, lease_expires_at),
			total_rows       = COALESCE($6, total_rows)
		WHERE job_id = $1
	`, jobID, update.RowsProcessed, update.ClearCurrentRow, update.CurrentRow, update.LeaseExpiresAt, update.TotalRows)
	return err
}

func (s *PostgresProgressStore) TransitionStatus(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, extra TransitionUpdate) (bool, error) {
	var errorDetailsJSON []byte
	if extra.ErrorDetails != nil {
		var err error
		errorDetailsJSON, err = json.Marshal(extra.ErrorDetails)
		if err != nil {
			return false, err
		}
	}

	fromStatuses := make([]string, len(from))
	for i, f := range from {
		fromStatuses[i] = string(f)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status             = $2,
			rows_processed      = COALESCE($3, rows_processed),
			current_row         = CASE WHEN $4 THEN NULL ELSE COALESCE($5, current_row) END,
			lease_expires_at    = COALESCE($6, lease_expires_at),
			error_details       = CASE WHEN $7 THEN NULL ELSE COALESCE($8, error_details) END,
			error_message       = CASE WHEN $9 <> '' THEN $9 ELSE error_message END,
			enriched_file_path  = CASE WHEN $10 <> '' THEN $10 ELSE enriched_file_path END,
			finished_at         = COALESCE($11, finished_at)
		WHERE job_id = $1 AND status = ANY($12)
	`,
		jobID, string(to), extra.RowsProcessed,
		extra.ClearCurrentRow, extra.CurrentRow,
		extra.LeaseExpiresAt,
		extra.ClearErrorDetails, nullableJSON(errorDetailsJSON),
		extra.ErrorMessage, extra.EnrichedFilePath, extra.FinishedAt,
		pq.Array(fromStatuses),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresProgressStore) AppendJobLog(ctx context.Context, jobID string, level model.LogLevel, message string, timestamp time.Time) error {
	logID := model.NewLogID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (log_id, job_id, level, message, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, logID, jobID, string(level), message, timestamp)
	return err
}

func (s *PostgresProgressStore) ListJobLogs(ctx context.Context, jobID string) ([]model.JobLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, job_id, level, message, timestamp
		FROM job_logs WHERE job_id = $1 ORDER BY timestamp ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.JobLog
	for rows.Next() {
		var l model.JobLog
		if err := rows.Scan(&l.LogID, &l.JobID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                model.Job
		promptsJSON      []byte
		errorDetailsJSON []byte
		enrichedFilePath sql.NullString
		errorMessage     sql.NullString
	)

	err := row.Scan(
		&j.JobID, &j.UserID, &j.FileID, &j.Status, &promptsJSON, &j.TotalRows, &j.RowsProcessed,
		&j.CurrentRow, &j.LeaseExpiresAt, &enrichedFilePath, &errorMessage, &errorDetailsJSON,
		&j.FinishedAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(promptsJSON, &j.PromptsConfig); err != nil {
		return nil, err
	}
	if len(errorDetailsJSON) > 0 {
		j.ErrorDetails = &model.ErrorDetails{}
		if err := json.Unmarshal(errorDetailsJSON, j.ErrorDetails); err != nil {
			return nil, err
		}
	}
	j.EnrichedFilePath = enrichedFilePath.String
	j.ErrorMessage = errorMessage.String

	return &j, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
