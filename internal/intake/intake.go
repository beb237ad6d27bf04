package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

// Request is a submission for a new pipeline job.
type Request struct {
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   *int            `json:"priority,omitempty"`
	Requester  string          `json:"requester,omitempty"`
	NaturalKey string          `json:"natural_key,omitempty"`
}

// Result reports the accepted job. Reused is true when an active job
// with the same natural key already existed and no new job was created.
type Result struct {
	JobID  string          `json:"job_id"`
	Status pipeline.Status `json:"status"`
	Stage  pipeline.Stage  `json:"stage"`
	Reused bool            `json:"reused"`
}

// Service validates submissions, deduplicates them by natural key, and
// seeds accepted jobs onto the first pipeline stage.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	backend queue.Backend
	logger  *slog.Logger
}

// NewService constructs the intake service.
func NewService(cfg *config.Config, st *store.Store, backend queue.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "intake"),
	}
}

// Submit accepts a job request. Submitting the same natural key while an
// earlier job for it is still live returns that job instead of creating
// a duplicate, making intake idempotent for callers that retry.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobType) == "" {
		return Result{}, services.Wrap(services.ErrValidation,
			"intake", "submit", "job_type is required", nil)
	}

	envelope, err := pipeline.DecodePayload(pipeline.FirstStage(), req.Payload)
	if err != nil {
		return Result{}, err
	}

	naturalKey := strings.TrimSpace(req.NaturalKey)
	if naturalKey == "" {
		naturalKey = deriveNaturalKey(req.JobType, envelope.Research)
	}

	if existing, err := s.store.FindActiveByNaturalKey(ctx, naturalKey); err != nil {
		return Result{}, err
	} else if existing != nil {
		logging.WithContext(ctx, s.logger).Info("reusing active job",
			logging.Args(
				logging.String(logging.FieldJobID, existing.ID),
				logging.String("natural_key", naturalKey),
			)...)
		return Result{
			JobID:  existing.ID,
			Status: existing.Status,
			Stage:  existing.Stage,
			Reused: true,
		}, nil
	}

	priority := s.cfg.Pipeline.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		Queue:       s.cfg.Pipeline.Queue,
		JobType:     req.JobType,
		Stage:       pipeline.FirstStage(),
		Status:      pipeline.StatusQueued,
		Payload:     req.Payload,
		MaxAttempts: s.cfg.Pipeline.MaxAttempts,
		Priority:    priority,
		Requester:   strings.TrimSpace(req.Requester),
		NaturalKey:  naturalKey,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return Result{}, err
	}
	if err := s.store.InitStageRecords(ctx, job.ID); err != nil {
		return Result{}, err
	}
	if err := s.store.AppendEvent(ctx, job.ID, store.EventCreated,
		fmt.Sprintf("job created by %s", orUnknown(job.Requester)), nil); err != nil {
		logging.WithContext(ctx, s.logger).Warn("append created event failed", logging.Error(err))
	}

	if err := s.backend.Enqueue(ctx, &queue.Message{
		Queue:    job.Queue,
		JobID:    job.ID,
		Stage:    job.Stage,
		Payload:  job.Payload,
		Priority: job.Priority,
	}); err != nil {
		// The job row exists but never reached the queue; rescue picks
		// it up once it goes stale rather than losing it.
		logging.WithContext(ctx, s.logger).Error("enqueue first stage failed",
			logging.Args(
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)...)
		return Result{}, fmt.Errorf("enqueue first stage: %w", err)
	}

	logging.WithContext(ctx, s.logger).Info("job accepted",
		logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String("job_type", job.JobType),
			logging.Int("priority", job.Priority),
		)...)

	return Result{JobID: job.ID, Status: job.Status, Stage: job.Stage}, nil
}

func deriveNaturalKey(jobType string, payload *pipeline.ResearchPayload) string {
	slug := strings.ToLower(strings.TrimSpace(payload.Title))
	slug = strings.Join(strings.Fields(slug), "-")
	return fmt.Sprintf("%s:%s", jobType, slug)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
