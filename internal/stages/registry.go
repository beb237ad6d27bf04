package stages

import (
	"log/slog"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
	"conveyor/internal/stage"
)

// NewRegistry wires the built-in handlers for every pipeline stage.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *stage.Registry {
	registry := stage.NewRegistry()
	registry.Register(pipeline.StageResearch, NewResearch(logger))
	registry.Register(pipeline.StageOutline, NewOutline(logger))
	registry.Register(pipeline.StageDraft, NewDraft(logger))
	registry.Register(pipeline.StageExport, NewExport(cfg, logger))
	registry.Register(pipeline.StageComplete, NewComplete(logger))
	return registry
}
