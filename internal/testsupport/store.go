package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
	"conveyor/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob creates a queued job at the first pipeline stage with its stage
// records initialized.
func NewJob(t testing.TB, st *store.Store, cfg *config.Config, title string) *store.Job {
	t.Helper()

	payload, err := json.Marshal(pipeline.ResearchPayload{
		Title:    title,
		Keywords: []string{"testing"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		Queue:       cfg.Pipeline.Queue,
		JobType:     "article",
		Stage:       pipeline.FirstStage(),
		Status:      pipeline.StatusQueued,
		Payload:     payload,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		NaturalKey:  "article:" + title,
	}
	ctx := context.Background()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	if err := st.InitStageRecords(ctx, job.ID); err != nil {
		t.Fatalf("store.InitStageRecords: %v", err)
	}
	return job
}
