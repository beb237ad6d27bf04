package stages

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Complete is the terminal stage. It records the final result the job
// carries into its completed state.
type Complete struct {
	logger *slog.Logger
}

// NewComplete constructs the complete stage handler.
func NewComplete(logger *slog.Logger) *Complete {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Complete{logger: logging.NewComponentLogger(logger, "complete")}
}

// Execute implements stage.Handler.
func (h *Complete) Execute(ctx context.Context, req *stage.Request) (stage.Result, error) {
	payload := req.Envelope.Complete
	if payload == nil {
		return stage.Result{}, services.Wrap(services.ErrValidation,
			"complete", "execute", "complete payload missing", nil)
	}

	logging.WithContext(ctx, h.logger).Info("pipeline finished",
		logging.Args(
			logging.String("title", payload.Title),
			logging.String("export_ref", payload.ExportRef),
		)...)

	output, err := json.Marshal(map[string]any{
		"title":        payload.Title,
		"export_ref":   payload.ExportRef,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "complete", "encode output", "", err)
	}

	return stage.Result{Complete: true, Output: output}, nil
}

// HealthCheck implements stage.Handler.
func (h *Complete) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("complete")
}
