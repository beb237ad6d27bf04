package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"conveyor/internal/config"
	"conveyor/internal/fileutil"
	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Export writes the finished article to the export directory under the
// data dir. The write goes through a temp file rename so a crash never
// leaves a half-written document behind.
type Export struct {
	logger    *slog.Logger
	exportDir string
}

// NewExport constructs the export stage handler.
func NewExport(cfg *config.Config, logger *slog.Logger) *Export {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Export{
		logger:    logging.NewComponentLogger(logger, "export"),
		exportDir: filepath.Join(cfg.Paths.DataDir, "exports"),
	}
}

// Execute implements stage.Handler.
func (h *Export) Execute(ctx context.Context, req *stage.Request) (stage.Result, error) {
	payload := req.Envelope.Export
	if payload == nil {
		return stage.Result{}, services.Wrap(services.ErrValidation,
			"export", "execute", "export payload missing", nil)
	}

	destination := payload.Destination
	if destination == "" {
		destination = filepath.Join(h.exportDir, exportFilename(req.JobID, payload))
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return stage.Result{}, services.Wrap(nil, "export", "create export dir", "", err)
	}
	if err := fileutil.WriteFileAtomic(destination, []byte(payload.Body), 0o644); err != nil {
		return stage.Result{}, services.Wrap(nil, "export", "write document", "", err)
	}

	logging.WithContext(ctx, h.logger).Info("document exported",
		logging.Args(
			logging.String("title", payload.Title),
			logging.String("destination", destination),
		)...)

	next := pipeline.CompletePayload{
		Title:     payload.Title,
		ExportRef: destination,
	}
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "export", "encode complete payload", "", err)
	}
	output, err := json.Marshal(map[string]any{
		"destination": destination,
		"bytes":       len(payload.Body),
	})
	if err != nil {
		return stage.Result{}, services.Wrap(nil, "export", "encode output", "", err)
	}

	return stage.Result{Complete: true, Output: output, NextPayload: nextRaw}, nil
}

// HealthCheck implements stage.Handler. The export directory must be
// creatable and writable.
func (h *Export) HealthCheck(context.Context) stage.Health {
	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		return stage.Unhealthy("export", fmt.Sprintf("export dir: %v", err))
	}
	probe := filepath.Join(h.exportDir, ".probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return stage.Unhealthy("export", fmt.Sprintf("export dir not writable: %v", err))
	}
	_ = os.Remove(probe)
	return stage.Healthy("export")
}

func exportFilename(jobID string, payload *pipeline.ExportPayload) string {
	slug := strings.ToLower(payload.Title)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "article"
	}
	ext := ".md"
	if payload.Format == "html" {
		ext = ".html"
	}
	return fmt.Sprintf("%s-%s%s", slug, jobID, ext)
}
