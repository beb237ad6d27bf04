// Package rescue recovers jobs abandoned mid-stage. A job whose
// heartbeat has gone stale is resumed at its current stage with a fresh
// queue message, never restarted from the beginning.
package rescue

import (
	"context"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/store"
)

// Options narrows one rescue sweep.
type Options struct {
	// JobType limits the sweep to one job type; empty means all.
	JobType string
	// MinAge is how stale a heartbeat must be to qualify.
	MinAge time.Duration
	// MaxJobs caps the batch; zero uses the configured default.
	MaxJobs int
}

// Summary reports what a sweep recovered.
type Summary struct {
	RescuedJobs int      `json:"rescued_jobs"`
	JobIDs      []string `json:"job_ids"`
}

// Service sweeps for stale jobs and puts them back on the queue.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	backend queue.Backend
	logger  *slog.Logger
}

// NewService constructs the rescue service.
func NewService(cfg *config.Config, st *store.Store, backend queue.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "rescue"),
	}
}

// Rescue finds in-flight jobs whose heartbeat is older than the minimum
// age, resumes each at its current stage, and re-enqueues that stage. A
// single job's failure is logged and skipped so one bad row never
// blocks the sweep.
func (s *Service) Rescue(ctx context.Context, opts Options) (Summary, error) {
	minAge := opts.MinAge
	if minAge <= 0 {
		minAge = time.Duration(s.cfg.Workflow.RescueMinAgeMinutes) * time.Minute
	}
	maxJobs := opts.MaxJobs
	if maxJobs <= 0 {
		maxJobs = s.cfg.Workflow.RescueMaxJobs
	}
	cutoff := time.Now().Add(-minAge)

	stale, err := s.store.ListStale(ctx, cutoff, opts.JobType, maxJobs)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{JobIDs: make([]string, 0, len(stale))}
	for _, job := range stale {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		jobCtx := logging.WithContext(ctx, s.logger)
		resumed, err := s.store.ResumeJob(ctx, job)
		if err != nil {
			jobCtx.Warn("resume failed, skipping job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		if !resumed {
			// The job moved on between the sweep and the resume.
			continue
		}
		if err := s.backend.Enqueue(ctx, &queue.Message{
			Queue:    job.Queue,
			JobID:    job.ID,
			Stage:    job.Stage,
			Payload:  job.Payload,
			Priority: job.Priority,
		}); err != nil {
			jobCtx.Warn("re-enqueue failed, job stays queued for next sweep",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		summary.RescuedJobs++
		summary.JobIDs = append(summary.JobIDs, job.ID)
		jobCtx.Info("job rescued",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, string(job.Stage)))
	}

	if summary.RescuedJobs > 0 {
		s.logger.Info("rescue sweep finished",
			logging.Int("rescued", summary.RescuedJobs),
			logging.Int("stale_seen", len(stale)))
	}
	return summary, nil
}
