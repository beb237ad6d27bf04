package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

func newSQLiteBackend(t *testing.T) queue.Backend {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend, err := queue.New(cfg, st)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func enqueue(t *testing.T, backend queue.Backend, jobID string, stage pipeline.Stage, priority int) *queue.Message {
	t.Helper()
	msg := &queue.Message{
		Queue:    "content_pipeline",
		JobID:    jobID,
		Stage:    stage,
		Payload:  json.RawMessage(`{"title":"t"}`),
		Priority: priority,
	}
	if err := backend.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return msg
}

func TestDequeueHidesMessageForVisibilityWindow(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-1", pipeline.StageResearch, 0)

	first, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageResearch, time.Minute, 5)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 message, got %d", len(first))
	}
	if first[0].DeliveryCount != 1 {
		t.Fatalf("expected delivery_count 1, got %d", first[0].DeliveryCount)
	}

	second, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageResearch, time.Minute, 5)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("claimed message must be invisible, got %d", len(second))
	}
}

func TestConcurrentDequeueSingleWinner(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-contested", pipeline.StageResearch, 0)

	type claim struct {
		count int
		err   error
	}
	start := make(chan struct{})
	results := make(chan claim, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageResearch, time.Minute, 5)
			results <- claim{count: len(claimed), err: err}
		}()
	}
	close(start)

	total := 0
	for i := 0; i < 2; i++ {
		result := <-results
		if result.err != nil {
			t.Fatalf("loser of a concurrent claim must get an empty batch, not an error: %v", result.err)
		}
		total += result.count
	}
	if total != 1 {
		t.Fatalf("expected exactly one delivery across both claimers, got %d", total)
	}
}

func TestExpiredLeaseRedelivers(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-1", pipeline.StageOutline, 0)

	claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageOutline, 50*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(claimed))
	}

	time.Sleep(80 * time.Millisecond)

	redelivered, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageOutline, time.Minute, 1)
	if err != nil {
		t.Fatalf("DequeueBatch after expiry: %v", err)
	}
	if len(redelivered) != 1 {
		t.Fatalf("expected redelivery after lease expiry, got %d", len(redelivered))
	}
	if redelivered[0].DeliveryCount != 2 {
		t.Fatalf("expected delivery_count 2, got %d", redelivered[0].DeliveryCount)
	}
}

func TestArchiveRemovesPermanently(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-1", pipeline.StageDraft, 0)

	claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageDraft, 50*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if err := backend.Archive(ctx, claimed[0]); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	after, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageDraft, time.Minute, 1)
	if err != nil {
		t.Fatalf("DequeueBatch after archive: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("archived message must not redeliver, got %d", len(after))
	}
}

func TestPriorityOrdering(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-low", pipeline.StageResearch, 0)
	enqueue(t, backend, "job-high", pipeline.StageResearch, 10)

	claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageResearch, time.Minute, 2)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(claimed))
	}
	if claimed[0].JobID != "job-high" {
		t.Fatalf("expected high priority first, got %s", claimed[0].JobID)
	}
}

func TestStageFilterAndDepth(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-r", pipeline.StageResearch, 0)
	enqueue(t, backend, "job-d1", pipeline.StageDraft, 0)
	enqueue(t, backend, "job-d2", pipeline.StageDraft, 0)

	claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageDraft, time.Minute, 10)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected only the 2 draft messages, got %d", len(claimed))
	}

	depth, err := backend.Depth(ctx, "content_pipeline")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected backlog of 1 visible message, got %d", depth)
	}

	byStage, err := backend.DepthByStage(ctx, "content_pipeline")
	if err != nil {
		t.Fatalf("DepthByStage: %v", err)
	}
	if byStage[pipeline.StageResearch] != 1 {
		t.Fatalf("expected 1 research message, got %d", byStage[pipeline.StageResearch])
	}
	if byStage[pipeline.StageDraft] != 0 {
		t.Fatalf("claimed draft messages should not count, got %d", byStage[pipeline.StageDraft])
	}
}

func TestExtendKeepsLeaseAlive(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	enqueue(t, backend, "job-1", pipeline.StageExport, 0)

	claimed, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageExport, 50*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if err := backend.Extend(ctx, claimed[0], time.Minute); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	after, err := backend.DequeueBatch(ctx, "content_pipeline", pipeline.StageExport, time.Minute, 1)
	if err != nil {
		t.Fatalf("DequeueBatch after extend: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("extended lease must still hide the message, got %d", len(after))
	}
}
