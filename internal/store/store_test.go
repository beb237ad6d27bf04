package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"conveyor/internal/pipeline"
	"conveyor/internal/services"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

func TestCreateAndGetJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Testing Strategies")

	fetched, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Stage != pipeline.StageResearch {
		t.Fatalf("expected stage research, got %s", fetched.Stage)
	}
	if fetched.Status != pipeline.StatusQueued {
		t.Fatalf("expected status queued, got %s", fetched.Status)
	}
	if fetched.NaturalKey != job.NaturalKey {
		t.Fatalf("natural key mismatch: %q vs %q", fetched.NaturalKey, job.NaturalKey)
	}
	if len(fetched.Payload) == 0 {
		t.Fatal("expected payload to round-trip")
	}
}

func TestGetJobNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := st.GetJob(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindActiveByNaturalKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Duplicate Intake")

	found, err := st.FindActiveByNaturalKey(ctx, job.NaturalKey)
	if err != nil {
		t.Fatalf("FindActiveByNaturalKey: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("expected to find active job %s, got %+v", job.ID, found)
	}

	if err := st.CompleteJob(ctx, job.ID, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	found, err = st.FindActiveByNaturalKey(ctx, job.NaturalKey)
	if err != nil {
		t.Fatalf("FindActiveByNaturalKey after complete: %v", err)
	}
	if found != nil {
		t.Fatalf("terminal job should not match natural key lookup, got %s", found.ID)
	}
}

func TestMarkProcessingGuardsTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Claim Guard")

	claimed, err := st.MarkProcessing(ctx, job.ID, pipeline.StageResearch)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if !claimed {
		t.Fatal("expected claim to succeed")
	}

	fetched, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Status != pipeline.StatusResearching {
		t.Fatalf("expected researching, got %s", fetched.Status)
	}
	if fetched.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", fetched.AttemptCount)
	}
	if fetched.Heartbeat == nil {
		t.Fatal("expected heartbeat timestamp after claim")
	}

	if err := st.FailJob(ctx, job.ID, "broken"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	claimed, err = st.MarkProcessing(ctx, job.ID, pipeline.StageResearch)
	if err != nil {
		t.Fatalf("MarkProcessing on failed job: %v", err)
	}
	if claimed {
		t.Fatal("failed job must not be claimable")
	}
}

func TestAdvanceStageResetsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Advance")
	if _, err := st.MarkProcessing(ctx, job.ID, pipeline.StageResearch); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, pipeline.StageOutline); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}

	fetched, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Stage != pipeline.StageOutline {
		t.Fatalf("expected stage outline, got %s", fetched.Stage)
	}
	if fetched.Status != pipeline.StatusQueued {
		t.Fatalf("expected queued, got %s", fetched.Status)
	}
	if fetched.AttemptCount != 0 {
		t.Fatalf("expected attempt_count reset, got %d", fetched.AttemptCount)
	}
	if fetched.Heartbeat != nil {
		t.Fatal("heartbeat should clear on advance")
	}
}

func TestRequeuePreservesAttemptCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Requeue")
	if _, err := st.MarkProcessing(ctx, job.ID, pipeline.StageResearch); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.RequeueCurrentStage(ctx, job.ID, "transient upstream error"); err != nil {
		t.Fatalf("RequeueCurrentStage: %v", err)
	}

	fetched, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fetched.Status != pipeline.StatusQueued {
		t.Fatalf("expected queued, got %s", fetched.Status)
	}
	if fetched.AttemptCount != 1 {
		t.Fatalf("attempt count must survive requeue, got %d", fetched.AttemptCount)
	}
	if fetched.ErrorMessage != "transient upstream error" {
		t.Fatalf("unexpected error message %q", fetched.ErrorMessage)
	}
}

func TestStageRecordsLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Stage Records")

	records, err := st.StageRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("StageRecords: %v", err)
	}
	if len(records) != len(pipeline.Stages()) {
		t.Fatalf("expected %d records, got %d", len(pipeline.Stages()), len(records))
	}
	for _, record := range records {
		if record.Status != store.StagePending {
			t.Fatalf("stage %s should start pending, got %s", record.Stage, record.Status)
		}
	}

	if err := st.StartStageRecord(ctx, job.ID, pipeline.StageResearch); err != nil {
		t.Fatalf("StartStageRecord: %v", err)
	}
	if err := st.CompleteStageRecord(ctx, job.ID, pipeline.StageResearch, json.RawMessage(`{"notes":"done"}`)); err != nil {
		t.Fatalf("CompleteStageRecord: %v", err)
	}

	records, err = st.StageRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("StageRecords: %v", err)
	}
	if records[0].Status != store.StageDone {
		t.Fatalf("expected research done, got %s", records[0].Status)
	}
	if records[0].CompletedAt == nil {
		t.Fatal("expected completed_at on done stage")
	}
}

func TestListStaleAndResume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Stale Job")
	if _, err := st.MarkProcessing(ctx, job.ID, pipeline.StageDraft); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := st.StartStageRecord(ctx, job.ID, pipeline.StageDraft); err != nil {
		t.Fatalf("StartStageRecord: %v", err)
	}

	// A cutoff in the future makes the fresh heartbeat look stale.
	stale, err := st.ListStale(ctx, time.Now().Add(time.Hour), "", 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("expected the drafting job to be stale, got %d rows", len(stale))
	}

	// A cutoff in the past should see nothing.
	fresh, err := st.ListStale(ctx, time.Now().Add(-time.Hour), "", 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected no stale jobs with past cutoff, got %d", len(fresh))
	}

	resumedOK, err := st.ResumeJob(ctx, stale[0])
	if err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if !resumedOK {
		t.Fatal("expected resume to win")
	}

	resumed, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if resumed.Status != pipeline.StatusQueued {
		t.Fatalf("expected queued after resume, got %s", resumed.Status)
	}
	if resumed.Stage != pipeline.StageDraft {
		t.Fatalf("resume must keep the current stage, got %s", resumed.Stage)
	}

	records, err := st.StageRecords(ctx, job.ID)
	if err != nil {
		t.Fatalf("StageRecords: %v", err)
	}
	for _, record := range records {
		if record.Stage == pipeline.StageDraft && record.Status != store.StagePending {
			t.Fatalf("draft record should reset to pending, got %s", record.Status)
		}
	}

	events, err := st.EventsForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EventsForJob: %v", err)
	}
	var rescued bool
	for _, event := range events {
		if event.Status == store.EventRescued {
			rescued = true
		}
	}
	if !rescued {
		t.Fatal("expected a rescued event in the audit trail")
	}
}

func TestWindowStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, st, cfg, "Stats")
	if err := st.AppendEvent(ctx, job.ID, store.EventStageComplete, "research done",
		json.RawMessage(`{"duration_ms": 1200}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := st.AppendEvent(ctx, job.ID, store.EventStageComplete, "outline done",
		json.RawMessage(`{"duration_ms": 800}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := st.AppendEvent(ctx, job.ID, store.EventStageFailure, "draft failed", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	stats, err := st.WindowStatsSince(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("WindowStatsSince: %v", err)
	}
	if stats.Completions != 2 {
		t.Fatalf("expected 2 completions, got %d", stats.Completions)
	}
	if stats.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", stats.Failures)
	}
	if stats.AvgDurationMS != 1000 {
		t.Fatalf("expected avg duration 1000, got %v", stats.AvgDurationMS)
	}
	if got := stats.FailureRate(); got < 0.33 || got > 0.34 {
		t.Fatalf("unexpected failure rate %v", got)
	}
}
