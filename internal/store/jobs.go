package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/pipeline"
	"conveyor/internal/services"
)

const jobColumns = `id, queue, job_type, stage, status, payload, attempt_count,
	max_attempts, priority, heartbeat, result, error_message, requester,
	natural_key, created_at, updated_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.execWithRetry(ctx, `
		INSERT INTO jobs (id, queue, job_type, stage, status, payload,
			attempt_count, max_attempts, priority, heartbeat, result,
			error_message, requester, natural_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Queue, job.JobType, string(job.Stage), string(job.Status),
		nullableJSON(job.Payload), job.AttemptCount, job.MaxAttempts,
		job.Priority, nullableTime(job.Heartbeat), nullableJSON(job.Result),
		nullableString(job.ErrorMessage), nullableString(job.Requester),
		nullableString(job.NaturalKey), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches a job by id. Returns services.ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// FindActiveByNaturalKey returns the newest non-terminal job matching a
// natural key, or nil when no such job exists.
func (s *Store) FindActiveByNaturalKey(ctx context.Context, naturalKey string) (*Job, error) {
	if naturalKey == "" {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE natural_key = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		naturalKey, string(pipeline.StatusCompleted), string(pipeline.StatusFailed))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by natural key: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by optional status and job type, newest first.
func (s *Store) ListJobs(ctx context.Context, status pipeline.Status, jobType string, limit int) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + jobColumns + " FROM jobs"
	var (
		clauses []string
		args    []any
	)
	if status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(status))
	}
	if jobType != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, jobType)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing transitions a job into the stage's in-flight status,
// increments the attempt counter, and stamps the heartbeat. The update is
// guarded so a job that completed or failed concurrently is left alone;
// false means the claim lost.
func (s *Store) MarkProcessing(ctx context.Context, jobID string, stage pipeline.Stage) (bool, error) {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET status = ?, stage = ?, attempt_count = attempt_count + 1,
			heartbeat = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(stage.ProcessingStatus()), string(stage), now, now, jobID,
		string(pipeline.StatusCompleted), string(pipeline.StatusFailed))
	if err != nil {
		return false, fmt.Errorf("mark job %s processing: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job %s processing: rows affected: %w", jobID, err)
	}
	return affected > 0, nil
}

// AdvanceStage moves a job to the next stage, resetting the retry budget
// for the new stage and clearing any prior error.
func (s *Store) AdvanceStage(ctx context.Context, jobID string, next pipeline.Stage) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET stage = ?, status = ?, attempt_count = 0, error_message = NULL,
			heartbeat = NULL, updated_at = ?
		WHERE id = ?`,
		string(next), string(pipeline.StatusQueued), now, jobID)
	if err != nil {
		return fmt.Errorf("advance job %s to %s: %w", jobID, next, err)
	}
	return nil
}

// CompleteJob marks a job finished and records its final result.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET status = ?, result = ?, error_message = NULL, heartbeat = NULL,
			updated_at = ?
		WHERE id = ?`,
		string(pipeline.StatusCompleted), nullableJSON(result), now, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// FailJob marks a job permanently failed with an error message.
func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, heartbeat = NULL, updated_at = ?
		WHERE id = ?`,
		string(pipeline.StatusFailed), nullableString(message), now, jobID)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// RequeueCurrentStage puts a job back to queued at its current stage,
// recording the error that triggered the retry. The attempt counter is
// preserved so the retry budget keeps counting down.
func (s *Store) RequeueCurrentStage(ctx context.Context, jobID, message string) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET status = ?, error_message = ?, heartbeat = NULL, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(pipeline.StatusQueued), nullableString(message), now, jobID,
		string(pipeline.StatusCompleted), string(pipeline.StatusFailed))
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}

// DeferCurrentStage puts a job back to queued at its current stage and
// returns the attempt it consumed, for handlers that report incomplete
// without an error while they wait on external work.
func (s *Store) DeferCurrentStage(ctx context.Context, jobID string) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx, `
		UPDATE jobs
		SET status = ?, attempt_count = MAX(attempt_count - 1, 0),
			heartbeat = NULL, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(pipeline.StatusQueued), now, jobID,
		string(pipeline.StatusCompleted), string(pipeline.StatusFailed))
	if err != nil {
		return fmt.Errorf("defer job %s: %w", jobID, err)
	}
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID string) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now().UTC())
	_, err := s.execWithRetry(ctx,
		"UPDATE jobs SET heartbeat = ?, updated_at = ? WHERE id = ?",
		now, now, jobID)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	return nil
}

// StageCountsByStatus aggregates live job counts per stage for the status
// and orchestrator views.
func (s *Store) StageCountsByStatus(ctx context.Context) (map[pipeline.Stage]StageCounts, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage, status, COUNT(1) FROM jobs GROUP BY stage, status")
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.Stage]StageCounts)
	for rows.Next() {
		var (
			stageStr  string
			statusStr string
			n         int
		)
		if err := rows.Scan(&stageStr, &statusStr, &n); err != nil {
			return nil, fmt.Errorf("scan stage counts: %w", err)
		}
		stage, ok := pipeline.ParseStage(stageStr)
		if !ok {
			continue
		}
		entry := counts[stage]
		entry.Stage = stage
		status, _ := pipeline.ParseStatus(statusStr)
		switch {
		case status == pipeline.StatusQueued:
			entry.Queued += n
		case status.IsProcessing():
			entry.Processing += n
		case status == pipeline.StatusCompleted:
			entry.Completed += n
		case status == pipeline.StatusFailed:
			entry.Failed += n
		}
		counts[stage] = entry
	}
	return counts, rows.Err()
}

// ActiveLeaseCount reports how many jobs are currently in an in-flight
// status, which bounds how many worker slots are occupied.
func (s *Store) ActiveLeaseCount(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	statuses := pipeline.ProcessingStatuses()
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM jobs WHERE status IN ("+makePlaceholders(len(statuses))+")",
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("active lease count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job          Job
		stageStr     string
		statusStr    string
		payload      sql.NullString
		heartbeat    sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
		requester    sql.NullString
		naturalKey   sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&job.ID, &job.Queue, &job.JobType, &stageStr, &statusStr,
		&payload, &job.AttemptCount, &job.MaxAttempts, &job.Priority,
		&heartbeat, &result, &errorMessage, &requester, &naturalKey,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Stage = pipeline.Stage(stageStr)
	job.Status = pipeline.Status(statusStr)
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.ErrorMessage = errorMessage.String
	job.Requester = requester.String
	job.NaturalKey = naturalKey.String

	if heartbeat.Valid && heartbeat.String != "" {
		if t, parseErr := parseTimeString(heartbeat.String); parseErr == nil {
			job.Heartbeat = &t
		}
	}
	if t, parseErr := parseTimeString(createdAt); parseErr == nil {
		job.CreatedAt = t
	}
	if t, parseErr := parseTimeString(updatedAt); parseErr == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}
