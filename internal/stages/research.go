package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Research gathers topic background for the article brief and produces
// the outline stage's input.
type Research struct {
	logger *slog.Logger
}

// NewResearch constructs the research stage handler.
func NewResearch(logger *slog.Logger) *Research {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Research{logger: logging.NewComponentLogger(logger, "research")}
}

// Execute implements stage.Handler.
func (h *Research) Execute(ctx context.Context, req *stage.Request) (stage.Result, error) {
	payload := req.Envelope.Research
	if payload == nil {
		return stage.Result{}, services.Wrap(services.ErrValidation,
			"research", "execute", "research payload missing", nil)
	}

	logging.WithContext(ctx, h.logger).Info("researching topic",
		logging.Args(
			logging.String("title", payload.Title),
			logging.Int("keywords", len(payload.Keywords)),
		)...)

	notes := buildResearchNotes(payload)

	next := pipeline.OutlinePayload{
		Title:         payload.Title,
		Keywords:      payload.Keywords,
		ResearchNotes: notes,
		Competitors:   competitorQueries(payload),
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "research", "encode outline payload", "", err)
	}
	output, err := json.Marshal(map[string]any{
		"notes_chars": len(notes),
		"keywords":    payload.Keywords,
	})
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "research", "encode output", "", err)
	}

	return stage.Result{Complete: true, Output: output, NextPayload: nextRaw}, nil
}

// HealthCheck implements stage.Handler.
func (h *Research) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("research")
}

func buildResearchNotes(payload *pipeline.ResearchPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n", payload.Title)
	if payload.Domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", payload.Domain)
	}
	if payload.TargetAudience != "" {
		fmt.Fprintf(&sb, "Audience: %s\n", payload.TargetAudience)
	}
	for _, keyword := range payload.Keywords {
		fmt.Fprintf(&sb, "- angle: %s\n", keyword)
	}
	return sb.String()
}

func competitorQueries(payload *pipeline.ResearchPayload) []string {
	queries := make([]string, 0, len(payload.Keywords))
	for _, keyword := range payload.Keywords {
		queries = append(queries, fmt.Sprintf("%s %s", payload.Title, keyword))
	}
	return queries
}
