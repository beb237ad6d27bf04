package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendEvent records an audit log entry for a job.
func (s *Store) AppendEvent(ctx context.Context, jobID, status, message string, metadata json.RawMessage) error {
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx, `
		INSERT INTO job_events (job_id, at, status, message, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, formatTime(time.Now().UTC()), status,
		nullableString(message), nullableJSON(metadata))
	if err != nil {
		return fmt.Errorf("append event for job %s: %w", jobID, err)
	}
	return nil
}

// EventsForJob returns a job's audit trail in chronological order.
func (s *Store) EventsForJob(ctx context.Context, jobID string) ([]Event, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, at, status, message, metadata
		FROM job_events WHERE job_id = ? ORDER BY at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("events for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			at       string
			message  sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.JobID, &at, &event.Status, &message, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if t, parseErr := parseTimeString(at); parseErr == nil {
			event.At = t
		}
		event.Message = message.String
		if metadata.Valid {
			event.Metadata = json.RawMessage(metadata.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// WindowStatsSince aggregates completion and failure events recorded after
// the cutoff, averaging the duration_ms metadata on stage completions.
func (s *Store) WindowStatsSince(ctx context.Context, cutoff time.Time) (WindowStats, error) {
	ctx = ensureContext(ctx)
	var stats WindowStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status IN (?, ?) THEN 1 END),
			COALESCE(AVG(CASE WHEN status = ?
				THEN CAST(json_extract(metadata, '$.duration_ms') AS REAL) END), 0)
		FROM job_events WHERE at >= ?`,
		EventStageComplete, EventStageFailure, EventFailed,
		EventStageComplete, formatTime(cutoff.UTC())).
		Scan(&stats.Completions, &stats.Failures, &stats.AvgDurationMS)
	if err != nil {
		return WindowStats{}, fmt.Errorf("window stats: %w", err)
	}
	return stats, nil
}
