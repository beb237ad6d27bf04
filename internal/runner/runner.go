package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/store"
)

// Runner drains stage work from the queue and applies job transitions.
type Runner struct {
	cfg      *config.Config
	store    *store.Store
	backend  queue.Backend
	registry *stage.Registry
	logger   *slog.Logger

	visibility time.Duration
	heartbeat  time.Duration
}

// New constructs a runner over the given store, queue, and handlers.
func New(cfg *config.Config, st *store.Store, backend queue.Backend, registry *stage.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		store:      st,
		backend:    backend,
		registry:   registry,
		logger:     logging.NewComponentLogger(logger, "runner"),
		visibility: time.Duration(cfg.Pipeline.VisibilitySeconds) * time.Second,
		heartbeat:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
	}
}

// ClaimUpTo takes at most limit visible messages for a stage without
// processing them. A non-positive limit uses the configured batch size.
func (r *Runner) ClaimUpTo(ctx context.Context, stageName pipeline.Stage, limit int) ([]*queue.Message, error) {
	if limit <= 0 {
		limit = r.cfg.Pipeline.BatchSize
	}
	messages, err := r.backend.DequeueBatch(ctx, r.cfg.Pipeline.Queue, stageName,
		r.visibility, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	return messages, nil
}

// Claim takes up to the configured batch size of visible messages for a
// stage without processing them.
func (r *Runner) Claim(ctx context.Context, stageName pipeline.Stage) ([]*queue.Message, error) {
	return r.ClaimUpTo(ctx, stageName, 0)
}

// ProcessMessages runs claimed messages sequentially. One message's
// failure never aborts the rest of the batch.
func (r *Runner) ProcessMessages(ctx context.Context, messages []*queue.Message) error {
	for _, msg := range messages {
		if ctx.Err() != nil {
			// Remaining claims redeliver after the visibility window.
			return ctx.Err()
		}
		r.processMessage(ctx, msg)
	}
	return nil
}

// ProcessBatch claims a batch for a stage and processes it. The count
// of claimed messages is returned so callers can tell an empty poll
// from productive work.
func (r *Runner) ProcessBatch(ctx context.Context, stageName pipeline.Stage) (int, error) {
	messages, err := r.Claim(ctx, stageName)
	if err != nil {
		return 0, err
	}
	return len(messages), r.ProcessMessages(ctx, messages)
}

func (r *Runner) processMessage(ctx context.Context, msg *queue.Message) {
	ctx = services.WithJobID(ctx, msg.JobID)
	ctx = services.WithStage(ctx, string(msg.Stage))
	logger := logging.WithContext(ctx, r.logger)

	job, err := r.store.GetJob(ctx, msg.JobID)
	if err != nil {
		// A message without a job is an orphan; drop it so it stops
		// redelivering.
		logger.Warn("dropping message for unknown job", logging.Error(err))
		r.archive(ctx, msg, logger)
		return
	}

	if job.IsTerminal() {
		logger.Info("dropping message for finished job",
			logging.String("status", string(job.Status)))
		r.archive(ctx, msg, logger)
		return
	}

	if msg.Stage != job.Stage {
		r.forward(ctx, msg, job, logger)
		return
	}

	claimed, err := r.store.MarkProcessing(ctx, job.ID, msg.Stage)
	if err != nil {
		logger.Error("claim failed, leaving message for redelivery", logging.Error(err))
		return
	}
	if !claimed {
		r.archive(ctx, msg, logger)
		return
	}
	attempt := job.AttemptCount + 1

	if attempt > job.MaxAttempts {
		r.failJob(ctx, msg, job, attempt,
			fmt.Sprintf("retry budget exhausted after %d attempts", attempt-1), logger)
		return
	}

	envelope, err := pipeline.DecodePayload(msg.Stage, msg.Payload)
	if err != nil {
		r.failJob(ctx, msg, job, attempt, services.Message(err), logger)
		return
	}

	handler, err := r.registry.Handler(msg.Stage)
	if err != nil {
		r.failJob(ctx, msg, job, attempt, err.Error(), logger)
		return
	}

	if err := r.store.StartStageRecord(ctx, job.ID, msg.Stage); err != nil {
		logger.Warn("start stage record failed", logging.Error(err))
	}
	r.appendEvent(ctx, job.ID, store.EventProcessing,
		fmt.Sprintf("stage %s attempt %d", msg.Stage, attempt), nil, logger)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", attempt),
		logging.Int("delivery_count", msg.DeliveryCount))

	started := time.Now()
	result, execErr := r.executeWithHeartbeat(ctx, msg, handler, &stage.Request{
		JobID:    job.ID,
		Stage:    msg.Stage,
		Envelope: envelope,
		Attempt:  attempt,
	})
	elapsed := time.Since(started)

	switch {
	case execErr != nil:
		r.handleFailure(ctx, msg, job, attempt, elapsed, execErr, logger)
	case !result.Complete:
		r.deferStage(ctx, msg, job, logger)
	default:
		r.handleSuccess(ctx, msg, job, elapsed, result, logger)
	}
}

// executeWithHeartbeat runs the handler while a ticker refreshes the job
// heartbeat and extends the queue lease, so long stage work outlives the
// visibility window without being redelivered.
func (r *Runner) executeWithHeartbeat(ctx context.Context, msg *queue.Message, handler stage.Handler, req *stage.Request) (stage.Result, error) {
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		logger := logging.WithContext(hbCtx, r.logger)
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := r.store.UpdateHeartbeat(hbCtx, req.JobID); err != nil {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
				if err := r.backend.Extend(hbCtx, msg, r.visibility); err != nil {
					logger.Warn("lease extension failed", logging.Error(err))
				}
			}
		}
	}()

	result, err := handler.Execute(ctx, req)
	cancel()
	<-done
	return result, err
}

func (r *Runner) handleSuccess(ctx context.Context, msg *queue.Message, job *store.Job, elapsed time.Duration, result stage.Result, logger *slog.Logger) {
	if err := r.store.CompleteStageRecord(ctx, job.ID, msg.Stage, result.Output); err != nil {
		logger.Warn("complete stage record failed", logging.Error(err))
	}
	metadata, _ := json.Marshal(map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"stage":       string(msg.Stage),
	})
	r.appendEvent(ctx, job.ID, store.EventStageComplete,
		fmt.Sprintf("stage %s completed", msg.Stage), metadata, logger)

	next, hasNext := msg.Stage.Next()
	if !hasNext {
		if err := r.store.CompleteJob(ctx, job.ID, result.Output); err != nil {
			logger.Error("persist job completion failed, leaving message for redelivery", logging.Error(err))
			return
		}
		r.appendEvent(ctx, job.ID, store.EventCompleted, "job completed", nil, logger)
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("elapsed", elapsed),
			logging.Bool("job_finished", true))
		r.archive(ctx, msg, logger)
		return
	}

	if err := r.store.AdvanceStage(ctx, job.ID, next); err != nil {
		logger.Error("advance stage failed, leaving message for redelivery", logging.Error(err))
		return
	}
	if err := r.backend.Enqueue(ctx, &queue.Message{
		Queue:    msg.Queue,
		JobID:    job.ID,
		Stage:    next,
		Payload:  result.NextPayload,
		Priority: job.Priority,
	}); err != nil {
		// The job row says queued at the next stage; rescue will
		// re-enqueue it once it goes stale.
		logger.Error("enqueue next stage failed", logging.Error(err))
		return
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", elapsed),
		logging.String("next_stage", string(next)))
	r.archive(ctx, msg, logger)
}

func (r *Runner) handleFailure(ctx context.Context, msg *queue.Message, job *store.Job, attempt int, elapsed time.Duration, execErr error, logger *slog.Logger) {
	// A failed attempt emits exactly one failure event: EventFailed when
	// terminal, EventStageFailure when it will retry. The health window
	// counts both kinds, so emitting both here would double-count.
	if services.IsPermanent(execErr) || attempt >= job.MaxAttempts {
		r.failJob(ctx, msg, job, attempt, services.Message(execErr), logger)
		return
	}

	metadata, _ := json.Marshal(map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"attempt":     attempt,
	})
	r.appendEvent(ctx, job.ID, store.EventStageFailure, services.Message(execErr), metadata, logger)

	delay := r.retryBackoff(attempt)
	if err := r.store.RequeueCurrentStage(ctx, job.ID, services.Message(execErr)); err != nil {
		logger.Error("requeue transition failed, leaving message for redelivery", logging.Error(err))
		return
	}
	if err := r.backend.Enqueue(ctx, &queue.Message{
		Queue:    msg.Queue,
		JobID:    job.ID,
		Stage:    msg.Stage,
		Payload:  msg.Payload,
		Priority: job.Priority,
		Delay:    delay,
	}); err != nil {
		logger.Error("enqueue retry failed", logging.Error(err))
		return
	}
	r.appendEvent(ctx, job.ID, store.EventRequeued,
		fmt.Sprintf("retry %d/%d in %s", attempt, job.MaxAttempts, delay), nil, logger)

	logger.Warn("stage failed, retrying",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Int("attempt", attempt),
		logging.Duration("backoff", delay),
		logging.Error(execErr))
	r.archive(ctx, msg, logger)
}

func (r *Runner) failJob(ctx context.Context, msg *queue.Message, job *store.Job, attempt int, message string, logger *slog.Logger) {
	if err := r.store.FailJob(ctx, job.ID, message); err != nil {
		logger.Error("persist job failure failed, leaving message for redelivery", logging.Error(err))
		return
	}
	if err := r.store.FailStageRecord(ctx, job.ID, msg.Stage); err != nil {
		logger.Warn("fail stage record failed", logging.Error(err))
	}
	r.appendEvent(ctx, job.ID, store.EventFailed, message, nil, logger)

	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failure"),
		logging.Int("attempt", attempt),
		logging.String("error_message", message))
	r.archive(ctx, msg, logger)
}

func (r *Runner) forward(ctx context.Context, msg *queue.Message, job *store.Job, logger *slog.Logger) {
	// The job advanced past this message's stage, usually after a lease
	// expired mid-handoff. Point a fresh message at the job's actual
	// stage rather than dropping the work.
	payload := msg.Payload
	if job.Stage != msg.Stage {
		payload = job.Payload
	}
	if job.Status == pipeline.StatusQueued {
		if err := r.backend.Enqueue(ctx, &queue.Message{
			Queue:    msg.Queue,
			JobID:    job.ID,
			Stage:    job.Stage,
			Payload:  payload,
			Priority: job.Priority,
		}); err != nil {
			logger.Error("forward enqueue failed, leaving message for redelivery", logging.Error(err))
			return
		}
		r.appendEvent(ctx, job.ID, store.EventForwarded,
			fmt.Sprintf("message for stage %s forwarded to %s", msg.Stage, job.Stage), nil, logger)
	}
	logger.Info("message forwarded",
		logging.String("message_stage", string(msg.Stage)),
		logging.String("job_stage", string(job.Stage)))
	r.archive(ctx, msg, logger)
}

func (r *Runner) deferStage(ctx context.Context, msg *queue.Message, job *store.Job, logger *slog.Logger) {
	// Incomplete without an error means the handler is waiting on
	// external work; hand the attempt back and check again later.
	if err := r.store.DeferCurrentStage(ctx, job.ID); err != nil {
		logger.Error("defer transition failed, leaving message for redelivery", logging.Error(err))
		return
	}
	if err := r.backend.Enqueue(ctx, &queue.Message{
		Queue:    msg.Queue,
		JobID:    job.ID,
		Stage:    msg.Stage,
		Payload:  msg.Payload,
		Priority: job.Priority,
		Delay:    time.Duration(r.cfg.Workflow.ErrorRetryInterval) * time.Second,
	}); err != nil {
		logger.Error("defer enqueue failed", logging.Error(err))
		return
	}
	logger.Info("stage deferred", logging.String("stage", string(msg.Stage)))
	r.archive(ctx, msg, logger)
}

func (r *Runner) retryBackoff(attempt int) time.Duration {
	base := time.Duration(r.cfg.Pipeline.RetryBackoffSeconds) * time.Second
	max := time.Duration(r.cfg.Pipeline.RetryBackoffMaxSeconds) * time.Second
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (r *Runner) archive(ctx context.Context, msg *queue.Message, logger *slog.Logger) {
	if err := r.backend.Archive(ctx, msg); err != nil {
		logger.Warn("archive message failed", logging.Error(err))
	}
}

func (r *Runner) appendEvent(ctx context.Context, jobID, status, message string, metadata json.RawMessage, logger *slog.Logger) {
	if err := r.store.AppendEvent(ctx, jobID, status, message, metadata); err != nil {
		logger.Warn("append event failed",
			logging.String(logging.FieldEventType, status),
			logging.Error(err))
	}
}
