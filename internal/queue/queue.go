package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
	"conveyor/internal/store"
)

// Message is one unit of stage work in flight between intake, the stage
// runner, and the next stage.
type Message struct {
	ID            string
	Queue         string
	JobID         string
	Stage         pipeline.Stage
	Payload       json.RawMessage
	Priority      int
	DeliveryCount int
	EnqueuedAt    time.Time

	// Delay postpones first visibility, used for retry backoff.
	Delay time.Duration
}

// Backend is the durable queue contract shared by the SQLite and Redis
// implementations.
type Backend interface {
	// Enqueue makes a message immediately visible. Higher priority
	// messages are claimed before lower ones; ties go oldest first.
	Enqueue(ctx context.Context, msg *Message) error

	// DequeueBatch claims up to limit visible messages for the queue,
	// optionally narrowed to one stage, and hides each claimed message
	// for the visibility window. An empty result is not an error.
	DequeueBatch(ctx context.Context, queueName string, stage pipeline.Stage, visibility time.Duration, limit int) ([]*Message, error)

	// Extend pushes a claimed message's visibility further out, keeping
	// the lease alive while its job still heartbeats.
	Extend(ctx context.Context, msg *Message, visibility time.Duration) error

	// Archive acknowledges a message, removing it permanently.
	Archive(ctx context.Context, msg *Message) error

	// Depth counts currently visible messages, the queue's backlog.
	Depth(ctx context.Context, queueName string) (int, error)

	// DepthByStage breaks the visible backlog down per stage.
	DepthByStage(ctx context.Context, queueName string) (map[pipeline.Stage]int, error)

	Close() error
}

// New builds the queue backend selected by configuration. The SQLite
// backend shares the job store's database handle.
func New(cfg *config.Config, st *store.Store) (Backend, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendSQLite:
		return NewSQLiteBackend(st), nil
	case config.QueueBackendRedis:
		return NewRedisBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
