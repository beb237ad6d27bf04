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

// Draft assembles the planned sections into a markdown article body.
type Draft struct {
	logger *slog.Logger
}

// NewDraft constructs the draft stage handler.
func NewDraft(logger *slog.Logger) *Draft {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Draft{logger: logging.NewComponentLogger(logger, "draft")}
}

// Execute implements stage.Handler.
func (h *Draft) Execute(ctx context.Context, req *stage.Request) (stage.Result, error) {
	payload := req.Envelope.Draft
	if payload == nil {
		return stage.Result{}, services.Wrap(services.ErrValidation,
			"draft", "execute", "draft payload missing", nil)
	}

	body := renderBody(payload)
	logging.WithContext(ctx, h.logger).Info("draft assembled",
		logging.Args(
			logging.String("title", payload.Title),
			logging.Int("body_chars", len(body)),
		)...)

	next := pipeline.ExportPayload{
		Title:  payload.Title,
		Body:   body,
		Format: "markdown",
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "draft", "encode export payload", "", err)
	}
	output, err := json.Marshal(map[string]any{
		"body_chars": len(body),
		"sections":   len(payload.Sections),
	})
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "draft", "encode output", "", err)
	}

	return stage.Result{Complete: true, Output: output, NextPayload: nextRaw}, nil
}

// HealthCheck implements stage.Handler.
func (h *Draft) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("draft")
}

func renderBody(payload *pipeline.DraftPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", payload.Title)
	for _, section := range payload.Sections {
		fmt.Fprintf(&sb, "\n## %s\n", section)
	}
	return sb.String()
}
