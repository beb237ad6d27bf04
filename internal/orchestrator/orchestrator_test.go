package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/orchestrator"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/runner"
	"conveyor/internal/stages"
	"conveyor/internal/testsupport"
)

func TestRunDrainsBacklog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend, err := queue.New(cfg, st)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	r := runner.New(cfg, st, backend, stages.NewRegistry(cfg, nil), nil)
	orch := orchestrator.New(cfg, backend, r, nil)

	jobs := make([]string, 0, 3)
	for _, title := range []string{"First Topic", "Second Topic", "Third Topic"} {
		job := testsupport.NewJob(t, st, cfg, title)
		jobs = append(jobs, job.ID)
		if err := backend.Enqueue(context.Background(), &queue.Message{
			Queue:   cfg.Pipeline.Queue,
			JobID:   job.ID,
			Stage:   job.Stage,
			Payload: job.Payload,
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summary, err := orch.Run(ctx, orchestrator.Options{
		MaxWorkers:      4,
		WorkersPerStage: 2,
		DurationMinutes: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Cycles == 0 {
		t.Fatal("expected at least one cycle")
	}
	if summary.WorkersLaunched == 0 {
		t.Fatal("expected workers launched")
	}

	for _, id := range jobs {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status != pipeline.StatusCompleted {
			t.Fatalf("job %s not completed: %s (%s)", id, job.Status, job.ErrorMessage)
		}
	}

	depth, err := backend.Depth(context.Background(), cfg.Pipeline.Queue)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected drained queue, got %d", depth)
	}

	research := summary.StageStats[pipeline.StageResearch]
	if research.WorkersLaunched == 0 {
		t.Fatal("expected research workers in stage stats")
	}
	if research.MaxBacklog != 3 {
		t.Fatalf("expected research max backlog 3, got %d", research.MaxBacklog)
	}
}

func TestRunStopsImmediatelyWhenIdle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	backend, err := queue.New(cfg, st)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	r := runner.New(cfg, st, backend, stages.NewRegistry(cfg, nil), nil)
	orch := orchestrator.New(cfg, backend, r, nil)

	started := time.Now()
	summary, err := orch.Run(context.Background(), orchestrator.Options{DurationMinutes: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Cycles != 1 {
		t.Fatalf("expected a single probe cycle, got %d", summary.Cycles)
	}
	if summary.WorkersLaunched != 0 {
		t.Fatalf("idle queue must launch no workers, got %d", summary.WorkersLaunched)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("idle run should return quickly, took %s", elapsed)
	}
}

func TestPoolRefusesBeyondCapacity(t *testing.T) {
	pool := orchestrator.NewPool(2)
	release := make(chan struct{})

	task := func(context.Context) { <-release }
	if !pool.Launch(context.Background(), task) {
		t.Fatal("first launch should be accepted")
	}
	if !pool.Launch(context.Background(), task) {
		t.Fatal("second launch should be accepted")
	}
	if pool.Launch(context.Background(), task) {
		t.Fatal("third launch should be refused at capacity")
	}
	if pool.Active() != 2 {
		t.Fatalf("expected 2 active, got %d", pool.Active())
	}

	close(release)
	pool.Wait()
	if pool.Active() != 0 {
		t.Fatalf("expected idle pool after wait, got %d", pool.Active())
	}
}
