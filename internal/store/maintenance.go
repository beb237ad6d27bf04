package store

import (
	"context"
	"fmt"
	"time"

	"conveyor/internal/pipeline"
)

// ListStale returns non-terminal jobs that have stopped making progress
// before the cutoff: in-flight jobs whose heartbeat lapsed, and queued
// jobs that have not been touched since then, which catches jobs whose
// queue message was lost. An optional job type narrows the sweep;
// maxJobs caps the batch. Oldest rows come first so the longest-stuck
// jobs are rescued before newer ones.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, jobType string, maxJobs int) ([]*Job, error) {
	ctx = ensureContext(ctx)
	statuses := append(pipeline.ProcessingStatuses(), pipeline.StatusQueued)
	args := make([]any, 0, len(statuses)+4)
	for _, status := range statuses {
		args = append(args, string(status))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status IN (` + makePlaceholders(len(statuses)) + `)
		AND (heartbeat IS NULL OR heartbeat < ?)
		AND updated_at < ?`
	args = append(args, formatTime(cutoff.UTC()), formatTime(cutoff.UTC()))
	if jobType != "" {
		query += " AND job_type = ?"
		args = append(args, jobType)
	}
	query += " ORDER BY updated_at LIMIT ?"
	if maxJobs <= 0 {
		maxJobs = 50
	}
	args = append(args, maxJobs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan stale job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResumeJob restores an interrupted job so it re-runs its current stage:
// status back to queued, error cleared, heartbeat refreshed so the same
// sweep doesn't pick it up twice, in-progress stage records reset, and a
// rescued event appended. The caller re-enqueues the stage afterwards.
// False means the job moved on since the stale sweep saw it.
func (s *Store) ResumeJob(ctx context.Context, job *Job) (bool, error) {
	ctx = ensureContext(ctx)
	resumed, ok := pipeline.ResumeStatus(job.Status)
	if !ok {
		return false, fmt.Errorf("job %s status %s cannot be resumed", job.ID, job.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin resume tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now().UTC())
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_message = NULL, heartbeat = ?, updated_at = ?
		WHERE id = ? AND status = ? AND updated_at = ?`,
		string(resumed), now, now, job.ID, string(job.Status), formatTime(job.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("resume job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resume job %s: rows affected: %w", job.ID, err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE job_stage_records
		SET status = ?, started_at = NULL
		WHERE job_id = ? AND status = ?`,
		string(StagePending), job.ID, string(StageInProgress)); err != nil {
		return false, fmt.Errorf("resume job %s: reset stages: %w", job.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_events (job_id, at, status, message, metadata)
		VALUES (?, ?, ?, ?, NULL)`,
		job.ID, now, EventRescued,
		fmt.Sprintf("rescued from %s, resuming at stage %s", job.Status, job.Stage)); err != nil {
		return false, fmt.Errorf("resume job %s: append event: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("resume job %s: commit: %w", job.ID, err)
	}

	job.Status = resumed
	job.ErrorMessage = ""
	return true, nil
}
