package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"conveyor/internal/pipeline"
	"conveyor/internal/store"
)

// SQLiteBackend stores messages in the queue_messages table of the job
// database. Visibility is a timestamp comparison: a claim pushes
// visible_at into the future and expiry needs no sweeper.
type SQLiteBackend struct {
	store *store.Store
	db    *sql.DB
}

// NewSQLiteBackend wraps the job store's database as a queue.
func NewSQLiteBackend(st *store.Store) *SQLiteBackend {
	return &SQLiteBackend{store: st, db: st.DB()}
}

// Enqueue implements Backend.
func (b *SQLiteBackend) Enqueue(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	var res sql.Result
	err := b.store.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = b.db.ExecContext(ctx, `
			INSERT INTO queue_messages (queue, job_id, stage, payload, priority, visible_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.Queue, msg.JobID, string(msg.Stage), string(msg.Payload),
			msg.Priority, formatQueueTime(now.Add(msg.Delay)), formatQueueTime(now))
		return execErr
	})
	if err != nil {
		return fmt.Errorf("enqueue message for job %s: %w", msg.JobID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("enqueue message for job %s: last insert id: %w", msg.JobID, err)
	}
	msg.ID = strconv.FormatInt(id, 10)
	msg.EnqueuedAt = now
	return nil
}

// DequeueBatch implements Backend. The claim is a single guarded UPDATE
// with a RETURNING clause, so concurrent workers never receive the same
// message twice within a visibility window. A claim that loses the write
// lock retries; the loser of the race gets an empty batch, not an error.
func (b *SQLiteBackend) DequeueBatch(ctx context.Context, queueName string, stage pipeline.Stage, visibility time.Duration, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	leaseUntil := formatQueueTime(now.Add(visibility))

	query := `
		UPDATE queue_messages
		SET visible_at = ?, delivery_count = delivery_count + 1
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue = ? AND visible_at <= ?`
	args := []any{leaseUntil, queueName, formatQueueTime(now)}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	query += `
			ORDER BY priority DESC, created_at, id
			LIMIT ?
		)
		RETURNING id, queue, job_id, stage, payload, priority, delivery_count, created_at`
	args = append(args, limit)

	var messages []*Message
	claim := func() error {
		messages = nil
		rows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				msg       Message
				id        int64
				stageStr  string
				payload   sql.NullString
				createdAt string
			)
			if err := rows.Scan(&id, &msg.Queue, &msg.JobID, &stageStr, &payload,
				&msg.Priority, &msg.DeliveryCount, &createdAt); err != nil {
				return fmt.Errorf("scan dequeued message: %w", err)
			}
			msg.ID = strconv.FormatInt(id, 10)
			msg.Stage = pipeline.Stage(stageStr)
			if payload.Valid {
				msg.Payload = json.RawMessage(payload.String)
			}
			if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
				msg.EnqueuedAt = t
			}
			messages = append(messages, &msg)
		}
		return rows.Err()
	}
	if err := b.store.RetryOnBusy(ctx, claim); err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", queueName, err)
	}
	return messages, nil
}

// Extend implements Backend.
func (b *SQLiteBackend) Extend(ctx context.Context, msg *Message, visibility time.Duration) error {
	err := b.store.RetryOnBusy(ctx, func() error {
		_, execErr := b.db.ExecContext(ctx,
			"UPDATE queue_messages SET visible_at = ? WHERE id = ?",
			formatQueueTime(time.Now().UTC().Add(visibility)), msg.ID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("extend message %s: %w", msg.ID, err)
	}
	return nil
}

// Archive implements Backend.
func (b *SQLiteBackend) Archive(ctx context.Context, msg *Message) error {
	err := b.store.RetryOnBusy(ctx, func() error {
		_, execErr := b.db.ExecContext(ctx, "DELETE FROM queue_messages WHERE id = ?", msg.ID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("archive message %s: %w", msg.ID, err)
	}
	return nil
}

// Depth implements Backend.
func (b *SQLiteBackend) Depth(ctx context.Context, queueName string) (int, error) {
	var depth int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM queue_messages WHERE queue = ? AND visible_at <= ?",
		queueName, formatQueueTime(time.Now().UTC())).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", queueName, err)
	}
	return depth, nil
}

// DepthByStage implements Backend.
func (b *SQLiteBackend) DepthByStage(ctx context.Context, queueName string) (map[pipeline.Stage]int, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT stage, COUNT(1) FROM queue_messages
		WHERE queue = ? AND visible_at <= ?
		GROUP BY stage`,
		queueName, formatQueueTime(time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("queue depth by stage %s: %w", queueName, err)
	}
	defer rows.Close()

	depths := make(map[pipeline.Stage]int)
	for rows.Next() {
		var (
			stageStr string
			n        int
		)
		if err := rows.Scan(&stageStr, &n); err != nil {
			return nil, fmt.Errorf("scan stage depth: %w", err)
		}
		if stage, ok := pipeline.ParseStage(stageStr); ok {
			depths[stage] = n
		}
	}
	return depths, rows.Err()
}

// Close implements Backend. The shared database handle belongs to the
// job store, so there is nothing to release here.
func (b *SQLiteBackend) Close() error {
	return nil
}

// queueTimeFormat keeps trailing fractional zeros so visible_at compares
// correctly as a string in SQL.
const queueTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatQueueTime(t time.Time) string {
	return t.UTC().Format(queueTimeFormat)
}
