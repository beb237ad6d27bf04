package stage_test

import (
	"context"
	"testing"

	"conveyor/internal/pipeline"
	"conveyor/internal/stage"
)

type stubHandler struct {
	name string
}

func (h stubHandler) Execute(context.Context, *stage.Request) (stage.Result, error) {
	return stage.Result{Complete: true}, nil
}

func (h stubHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.name)
}

func TestRegistryLookup(t *testing.T) {
	registry := stage.NewRegistry()
	registry.Register(pipeline.StageDraft, stubHandler{name: "draft"})

	handler, err := registry.Handler(pipeline.StageDraft)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if handler == nil {
		t.Fatal("expected a handler")
	}

	if _, err := registry.Handler(pipeline.StageExport); err == nil {
		t.Fatal("expected error for unregistered stage")
	}
}

func TestRegistryStagesInPipelineOrder(t *testing.T) {
	registry := stage.NewRegistry()
	registry.Register(pipeline.StageExport, stubHandler{name: "export"})
	registry.Register(pipeline.StageResearch, stubHandler{name: "research"})
	registry.Register(pipeline.StageDraft, stubHandler{name: "draft"})

	stages := registry.Stages()
	want := []pipeline.Stage{pipeline.StageResearch, pipeline.StageDraft, pipeline.StageExport}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], stages[i])
		}
	}
}

func TestHealthChecks(t *testing.T) {
	registry := stage.NewRegistry()
	registry.Register(pipeline.StageResearch, stubHandler{name: "research"})
	registry.Register(pipeline.StageOutline, stubHandler{name: "outline"})

	checks := registry.HealthChecks(context.Background())
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	for _, check := range checks {
		if !check.Ready {
			t.Fatalf("expected %s ready", check.Name)
		}
	}
}
