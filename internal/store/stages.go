package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"conveyor/internal/pipeline"
)

// InitStageRecords creates the pending per-stage child rows for a new job.
func (s *Store) InitStageRecords(ctx context.Context, jobID string) error {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage records tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stage := range pipeline.Stages() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_stage_records (job_id, stage, status)
			VALUES (?, ?, ?)`,
			jobID, string(stage), string(StagePending)); err != nil {
			return fmt.Errorf("init stage record %s/%s: %w", jobID, stage, err)
		}
	}
	return tx.Commit()
}

// StartStageRecord marks a stage in progress with a start timestamp.
func (s *Store) StartStageRecord(ctx context.Context, jobID string, stage pipeline.Stage) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `
		UPDATE job_stage_records
		SET status = ?, started_at = ?, completed_at = NULL
		WHERE job_id = ? AND stage = ?`,
		string(StageInProgress), formatTime(time.Now().UTC()),
		jobID, string(stage))
	if err != nil {
		return fmt.Errorf("start stage record %s/%s: %w", jobID, stage, err)
	}
	return nil
}

// CompleteStageRecord marks a stage done and stores its output.
func (s *Store) CompleteStageRecord(ctx context.Context, jobID string, stage pipeline.Stage, output json.RawMessage) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `
		UPDATE job_stage_records
		SET status = ?, completed_at = ?, output = ?
		WHERE job_id = ? AND stage = ?`,
		string(StageDone), formatTime(time.Now().UTC()),
		nullableJSON(output), jobID, string(stage))
	if err != nil {
		return fmt.Errorf("complete stage record %s/%s: %w", jobID, stage, err)
	}
	return nil
}

// FailStageRecord marks a stage failed.
func (s *Store) FailStageRecord(ctx context.Context, jobID string, stage pipeline.Stage) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `
		UPDATE job_stage_records
		SET status = ?, completed_at = ?
		WHERE job_id = ? AND stage = ?`,
		string(StageFailed), formatTime(time.Now().UTC()),
		jobID, string(stage))
	if err != nil {
		return fmt.Errorf("fail stage record %s/%s: %w", jobID, stage, err)
	}
	return nil
}

// ResetInProgressStages rolls a job's in-progress stage records back to
// pending so a rescued job re-runs the interrupted stage.
func (s *Store) ResetInProgressStages(ctx context.Context, jobID string) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `
		UPDATE job_stage_records
		SET status = ?, started_at = NULL
		WHERE job_id = ? AND status = ?`,
		string(StagePending), jobID, string(StageInProgress))
	if err != nil {
		return fmt.Errorf("reset in-progress stages %s: %w", jobID, err)
	}
	return nil
}

// StageRecords returns a job's per-stage rows in pipeline order.
func (s *Store) StageRecords(ctx context.Context, jobID string) ([]StageRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, status, started_at, completed_at, output
		FROM job_stage_records WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("stage records %s: %w", jobID, err)
	}
	defer rows.Close()

	byStage := make(map[pipeline.Stage]StageRecord)
	for rows.Next() {
		var (
			record      StageRecord
			stageStr    string
			statusStr   string
			startedAt   sql.NullString
			completedAt sql.NullString
			output      sql.NullString
		)
		if err := rows.Scan(&stageStr, &statusStr, &startedAt, &completedAt, &output); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		record.JobID = jobID
		record.Stage = pipeline.Stage(stageStr)
		record.Status = StageRecordStatus(statusStr)
		if startedAt.Valid {
			if t, parseErr := parseTimeString(startedAt.String); parseErr == nil {
				record.StartedAt = &t
			}
		}
		if completedAt.Valid {
			if t, parseErr := parseTimeString(completedAt.String); parseErr == nil {
				record.CompletedAt = &t
			}
		}
		if output.Valid {
			record.Output = json.RawMessage(output.String)
		}
		byStage[record.Stage] = record
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]StageRecord, 0, len(byStage))
	for _, stage := range pipeline.Stages() {
		if record, ok := byStage[stage]; ok {
			ordered = append(ordered, record)
		}
	}
	return ordered, nil
}
