package rescue_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/rescue"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	backend queue.Backend
	svc     *rescue.Service
	queue   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend, err := queue.New(cfg, st)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return &fixture{
		cfg:     cfg,
		store:   st,
		backend: backend,
		svc:     rescue.NewService(cfg, st, backend, nil),
		queue:   cfg.Pipeline.Queue,
	}
}

func markStuck(t *testing.T, fix *fixture, title string, stageName pipeline.Stage) *store.Job {
	t.Helper()
	job := testsupport.NewJob(t, fix.store, fix.cfg, title)
	ctx := context.Background()
	if stageName != pipeline.FirstStage() {
		if err := fix.store.AdvanceStage(ctx, job.ID, stageName); err != nil {
			t.Fatalf("AdvanceStage: %v", err)
		}
	}
	if _, err := fix.store.MarkProcessing(ctx, job.ID, stageName); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := fix.store.StartStageRecord(ctx, job.ID, stageName); err != nil {
		t.Fatalf("StartStageRecord: %v", err)
	}
	return job
}

func TestRescueResumesStalledJob(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	job := markStuck(t, fix, "Stalled Draft", pipeline.StageDraft)

	// MinAge below zero is clamped to config; use a tiny explicit age so
	// the just-written heartbeat counts as stale.
	summary, err := fix.svc.Rescue(ctx, rescue.Options{MinAge: -time.Hour})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 0 {
		t.Fatalf("clamped min age must use config default, rescued %d", summary.RescuedJobs)
	}

	summary, err = fix.svc.Rescue(ctx, rescue.Options{MinAge: time.Nanosecond})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 1 {
		t.Fatalf("expected 1 rescued job, got %d", summary.RescuedJobs)
	}
	if summary.JobIDs[0] != job.ID {
		t.Fatalf("unexpected rescued id %s", summary.JobIDs[0])
	}

	resumed, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if resumed.Status != pipeline.StatusQueued {
		t.Fatalf("expected queued, got %s", resumed.Status)
	}
	if resumed.Stage != pipeline.StageDraft {
		t.Fatalf("rescue must resume at the interrupted stage, got %s", resumed.Stage)
	}

	depths, err := fix.backend.DepthByStage(ctx, fix.queue)
	if err != nil {
		t.Fatalf("DepthByStage: %v", err)
	}
	if depths[pipeline.StageDraft] != 1 {
		t.Fatalf("expected re-enqueued draft message, got %d", depths[pipeline.StageDraft])
	}
}

func TestRescueFiltersByJobType(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	markStuck(t, fix, "Article Job", pipeline.StageResearch)

	summary, err := fix.svc.Rescue(ctx, rescue.Options{
		JobType: "newsletter",
		MinAge:  time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 0 {
		t.Fatalf("type filter should exclude the article job, rescued %d", summary.RescuedJobs)
	}

	summary, err = fix.svc.Rescue(ctx, rescue.Options{
		JobType: "article",
		MinAge:  time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 1 {
		t.Fatalf("expected the article job rescued, got %d", summary.RescuedJobs)
	}
}

func TestRescueHonorsMaxJobs(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	markStuck(t, fix, "First", pipeline.StageResearch)
	markStuck(t, fix, "Second", pipeline.StageResearch)
	markStuck(t, fix, "Third", pipeline.StageResearch)

	summary, err := fix.svc.Rescue(ctx, rescue.Options{
		MinAge:  time.Nanosecond,
		MaxJobs: 2,
	})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 2 {
		t.Fatalf("expected cap of 2, rescued %d", summary.RescuedJobs)
	}
}

func TestRescueSkipsHealthyJobs(t *testing.T) {
	fix := newFixture(t)
	ctx := context.Background()

	job := markStuck(t, fix, "Healthy", pipeline.StageResearch)
	if err := fix.store.UpdateHeartbeat(ctx, job.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	summary, err := fix.svc.Rescue(ctx, rescue.Options{MinAge: time.Hour})
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if summary.RescuedJobs != 0 {
		t.Fatalf("fresh heartbeat must not be rescued, got %d", summary.RescuedJobs)
	}
}
