package pipeline_test

import (
	"encoding/json"
	"errors"
	"testing"

	"conveyor/internal/pipeline"
	"conveyor/internal/services"
)

func TestStageOrdering(t *testing.T) {
	stages := pipeline.Stages()
	if len(stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(stages))
	}
	if pipeline.FirstStage() != pipeline.StageResearch {
		t.Fatalf("expected research first, got %s", pipeline.FirstStage())
	}

	next, ok := pipeline.StageResearch.Next()
	if !ok || next != pipeline.StageOutline {
		t.Fatalf("expected outline after research, got %s (ok=%v)", next, ok)
	}
	if _, ok := pipeline.StageComplete.Next(); ok {
		t.Fatal("expected no stage after complete")
	}
	if !pipeline.StageComplete.IsLast() {
		t.Fatal("expected complete to be the last stage")
	}
}

func TestProcessingStatusPerStage(t *testing.T) {
	cases := map[pipeline.Stage]pipeline.Status{
		pipeline.StageResearch: pipeline.StatusResearching,
		pipeline.StageOutline:  pipeline.StatusOutlining,
		pipeline.StageDraft:    pipeline.StatusDrafting,
		pipeline.StageExport:   pipeline.StatusExporting,
		pipeline.StageComplete: pipeline.StatusCompleting,
	}
	for stage, want := range cases {
		if got := stage.ProcessingStatus(); got != want {
			t.Errorf("%s: expected %s, got %s", stage, want, got)
		}
		if !want.IsProcessing() {
			t.Errorf("%s should be a processing status", want)
		}
	}
}

func TestResumeStatusExcludesTerminal(t *testing.T) {
	for _, status := range []pipeline.Status{pipeline.StatusCompleted, pipeline.StatusFailed} {
		if _, ok := pipeline.ResumeStatus(status); ok {
			t.Errorf("expected no resume mapping for terminal status %s", status)
		}
	}
	resumed, ok := pipeline.ResumeStatus(pipeline.StatusDrafting)
	if !ok || resumed != pipeline.StatusQueued {
		t.Fatalf("expected drafting to resume as queued, got %s (ok=%v)", resumed, ok)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := pipeline.ParseStatus(" Researching "); !ok || status != pipeline.StatusResearching {
		t.Fatalf("expected to parse researching, got %s (ok=%v)", status, ok)
	}
	if _, ok := pipeline.ParseStatus("paused"); ok {
		t.Fatal("expected unknown status to fail parsing")
	}
}

func TestDecodePayloadValidates(t *testing.T) {
	raw := json.RawMessage(`{"title":"AI in Marketing","keywords":["ai","marketing"]}`)
	env, err := pipeline.DecodePayload(pipeline.StageResearch, raw)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if env.Research == nil || env.Research.Title != "AI in Marketing" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	encoded, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var roundTrip pipeline.ResearchPayload
	if err := json.Unmarshal(encoded, &roundTrip); err != nil {
		t.Fatalf("round trip decode failed: %v", err)
	}
	if roundTrip.Title != "AI in Marketing" {
		t.Fatalf("unexpected round trip payload: %+v", roundTrip)
	}
}

func TestDecodePayloadRejectsMissingFields(t *testing.T) {
	_, err := pipeline.DecodePayload(pipeline.StageResearch, json.RawMessage(`{"title":"no keywords"}`))
	if err == nil {
		t.Fatal("expected validation error for missing keywords")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDecodePayloadRejectsEmpty(t *testing.T) {
	_, err := pipeline.DecodePayload(pipeline.StageOutline, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty payload, got %v", err)
	}
}
