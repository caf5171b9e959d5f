package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mlplatform/backend/internal/job"
)

// Storage handles all database operations for jobs and datasets. Status
// writes are single guarded UPDATE statements so concurrent readers always
// observe a consistent row and the state machine cannot move out of a
// terminal state.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, owner_id, dataset_id, job_type, target_format, status,
	progress, task_id, error_message, result_data,
	created_at, updated_at, completed_at
`

// CreateJob inserts a new PENDING job with progress 0.
func (s *Storage) CreateJob(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, owner_id, dataset_id, job_type, target_format,
			status, progress, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
	`

	_, err := s.db.ExecContext(ctx, query,
		j.JobID, j.OwnerID, j.DatasetID, j.JobType, j.TargetFormat, job.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", j.JobID),
		slog.String("job_type", j.JobType),
		slog.String("owner_id", j.OwnerID),
	)

	return nil
}

// GetJob retrieves a job by id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	if err := s.db.GetContext(ctx, &j, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &j, nil
}

// SetTaskID records the task id handed out by the broker at enqueue time.
// Idempotent: an already populated task_id is left alone.
func (s *Storage) SetTaskID(ctx context.Context, jobID, taskID string) error {
	query := `
		UPDATE jobs
		SET task_id = $2, updated_at = NOW()
		WHERE job_id = $1 AND (task_id IS NULL OR task_id = '')
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, taskID); err != nil {
		return fmt.Errorf("failed to set task id: %w", err)
	}

	return nil
}

// ClaimJob flips a PENDING job to PROCESSING and binds the executing task id,
// using an optimistic lock. A redelivered task for a job that is no longer
// PENDING gets ErrJobAlreadyClaimed.
func (s *Storage) ClaimJob(ctx context.Context, jobID, taskID string) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, task_id = $3, updated_at = NOW()
		WHERE job_id = $1 AND status = $4
		RETURNING ` + jobColumns

	var j job.Job
	err := s.db.GetContext(ctx, &j, query, jobID, job.StatusProcessing, taskID, job.StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("task_id", taskID),
			)
			return nil, job.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("task_id", taskID),
		slog.String("job_type", j.JobType),
	)

	return &j, nil
}

// UpdateProgress writes a progress checkpoint. The guard keeps progress
// monotone and only meaningful while PROCESSING.
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	query := `
		UPDATE jobs
		SET progress = $2, updated_at = NOW()
		WHERE job_id = $1 AND status = $3 AND progress <= $2
	`

	res, err := s.db.ExecContext(ctx, query, jobID, progress, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("Progress checkpoint skipped - job not processing or value stale",
			slog.String("job_id", jobID),
			slog.Int("progress", progress),
		)
	}

	return nil
}

// CompleteJob marks a PROCESSING job COMPLETED with its result payload and
// progress 100.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $2, progress = 100, result_data = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, jobID, job.StatusCompleted, resultJSON, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete job %s: %w", jobID, job.ErrInvalidState)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
	)

	return nil
}

// FailJob marks a PROCESSING job terminally FAILED with the captured error text.
func (s *Storage) FailJob(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $2, error_message = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, jobID, job.StatusFailed, errorMessage, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("fail job %s: %w", jobID, job.ErrInvalidState)
	}

	s.logger.Info("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", errorMessage),
	)

	return nil
}

// ReleaseJob returns an interrupted PROCESSING job to the dispatch pool so a
// fresh claim can pick it up. Terminal rows and unclaimed rows are left alone.
func (s *Storage) ReleaseJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $2, task_id = '', progress = 0, updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, jobID, job.StatusPending, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("release job %s: %w", jobID, job.ErrInvalidState)
	}

	s.logger.Info("Job released back to pending",
		slog.String("job_id", jobID),
	)

	return nil
}

// CancelJob moves a PROCESSING job to CANCELLED, leaving progress and result
// untouched. Returns ErrInvalidState when the job is PENDING or terminal, and
// ErrJobNotFound when the id is unknown.
func (s *Storage) CancelJob(ctx context.Context, jobID string) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $1 AND status = $3
		RETURNING ` + jobColumns

	var j job.Job
	err := s.db.GetContext(ctx, &j, query, jobID, job.StatusCancelled, job.StatusProcessing)
	if err == nil {
		s.logger.Info("Job cancelled",
			slog.String("job_id", jobID),
			slog.String("task_id", j.TaskID),
		)
		return &j, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	// Distinguish "wrong state" from "no such job" for the caller.
	if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, job.ErrInvalidState
}

// JobFilter narrows and paginates ListJobs.
type JobFilter struct {
	OwnerID  string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination position (created_at DESC, job_id DESC).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs matching the filter; the extra row
// tells the caller whether a next page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1`
	args := []interface{}{filter.OwnerID}
	argIdx := 2

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
