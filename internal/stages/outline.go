package stages

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Outline turns research notes into an ordered section plan for drafting.
type Outline struct {
	logger *slog.Logger
	titler cases.Caser
}

// NewOutline constructs the outline stage handler.
func NewOutline(logger *slog.Logger) *Outline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Outline{
		logger: logging.NewComponentLogger(logger, "outline"),
		titler: cases.Title(language.English),
	}
}

// Execute implements stage.Handler.
func (h *Outline) Execute(ctx context.Context, req *stage.Request) (stage.Result, error) {
	payload := req.Envelope.Outline
	if payload == nil {
		return stage.Result{}, services.Wrap(services.ErrValidation,
			"outline", "execute", "outline payload missing", nil)
	}

	sections := h.planSections(payload)
	logging.WithContext(ctx, h.logger).Info("outline planned",
		logging.Args(
			logging.String("title", payload.Title),
			logging.Int("sections", len(sections)),
		)...)

	next := pipeline.DraftPayload{
		Title:    payload.Title,
		Sections: sections,
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "outline", "encode draft payload", "", err)
	}
	output, err := json.Marshal(map[string]any{"sections": sections})
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "outline", "encode output", "", err)
	}

	return stage.Result{Complete: true, Output: output, NextPayload: nextRaw}, nil
}

// HealthCheck implements stage.Handler.
func (h *Outline) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("outline")
}

func (h *Outline) planSections(payload *pipeline.OutlinePayload) []string {
	sections := []string{"Introduction"}
	for _, keyword := range payload.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		sections = append(sections, h.titler.String(keyword))
	}
	sections = append(sections, "Conclusion")
	return sections
}
