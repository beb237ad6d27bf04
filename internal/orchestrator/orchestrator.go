// Package orchestrator scales stage workers in proportion to queue
// backlog. Each control cycle measures the visible backlog per stage,
// computes how many workers each stage deserves, scales the total down
// to the slots actually free, and launches the winners on an in-process
// worker pool.
package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/runner"
)

// Options overrides the configured limits for one run.
type Options struct {
	MaxWorkers      int `json:"maxWorkers"`
	WorkersPerStage int `json:"workersPerStage"`
	DurationMinutes int `json:"durationMinutes"`
}

// StageStats aggregates one stage's activity across a run.
type StageStats struct {
	WorkersLaunched int `json:"workersLaunched"`
	MessagesClaimed int `json:"messagesClaimed"`
	MaxBacklog      int `json:"maxBacklog"`
}

// RunSummary reports a finished orchestrator run.
type RunSummary struct {
	Cycles          int                           `json:"cycles"`
	WorkersLaunched int                           `json:"workersLaunched"`
	StageStats      map[pipeline.Stage]StageStats `json:"stageStats"`
}

// Orchestrator drives the backlog-proportional scaling loop.
type Orchestrator struct {
	cfg     *config.Config
	backend queue.Backend
	runner  *runner.Runner
	logger  *slog.Logger
}

// New constructs an orchestrator over the queue and stage runner.
func New(cfg *config.Config, backend queue.Backend, r *runner.Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		backend: backend,
		runner:  r,
		logger:  logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// Run executes control cycles until the queue drains, the duration
// elapses, or the context is cancelled. Launched workers are always
// waited for before returning.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunSummary, error) {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = o.cfg.Orchestrator.MaxWorkers
	}
	perStage := opts.WorkersPerStage
	if perStage <= 0 {
		perStage = o.cfg.Orchestrator.WorkersPerStage
	}
	duration := time.Duration(opts.DurationMinutes) * time.Minute
	if opts.DurationMinutes <= 0 {
		duration = time.Duration(o.cfg.Orchestrator.DurationMinutes) * time.Minute
	}
	cycleInterval := time.Duration(o.cfg.Orchestrator.CycleInterval) * time.Second
	jobsPerWorker := o.cfg.Orchestrator.JobsPerWorker
	if jobsPerWorker <= 0 {
		jobsPerWorker = 1
	}

	pool := NewPool(maxWorkers)
	defer pool.Wait()

	summary := RunSummary{StageStats: make(map[pipeline.Stage]StageStats)}
	claimed := make(chan stageClaim, maxWorkers)
	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		drainClaims(claimed, &summary)

		depths, err := o.backend.DepthByStage(ctx, o.cfg.Pipeline.Queue)
		if err != nil {
			return summary, err
		}
		summary.Cycles++

		backlog := 0
		for _, n := range depths {
			backlog += n
		}
		if backlog == 0 && pool.Active() == 0 {
			o.logger.Info("queue drained, stopping",
				logging.Int("cycles", summary.Cycles))
			break
		}

		launched := o.scaleCycle(ctx, pool, claimed, depths, perStage, jobsPerWorker, &summary)
		o.logger.Info("cycle complete",
			logging.Int("cycle", summary.Cycles),
			logging.Int("backlog", backlog),
			logging.Int("launched", launched),
			logging.Int("active", pool.Active()))

		select {
		case <-ctx.Done():
		case <-time.After(cycleInterval):
		}
	}

	pool.Wait()
	drainClaims(claimed, &summary)
	return summary, ctx.Err()
}

type stageClaim struct {
	stage pipeline.Stage
	count int
}

func drainClaims(claims chan stageClaim, summary *RunSummary) {
	for {
		select {
		case claim := <-claims:
			stats := summary.StageStats[claim.stage]
			stats.MessagesClaimed += claim.count
			summary.StageStats[claim.stage] = stats
		default:
			return
		}
	}
}

// scaleCycle sizes each stage's worker demand from its backlog, then
// scales the whole allocation down to the free pool slots. Demand is
// ceil(backlog / jobsPerWorker) capped per stage; when total demand
// exceeds free slots every stage keeps the same proportional share.
func (o *Orchestrator) scaleCycle(ctx context.Context, pool *Pool, claims chan stageClaim, depths map[pipeline.Stage]int, perStage, jobsPerWorker int, summary *RunSummary) int {
	desired := make(map[pipeline.Stage]int)
	idealTotal := 0
	for _, stage := range pipeline.Stages() {
		backlog := depths[stage]
		if backlog == 0 {
			continue
		}
		want := int(math.Ceil(float64(backlog) / float64(jobsPerWorker)))
		if want > perStage {
			want = perStage
		}
		desired[stage] = want
		idealTotal += want

		stats := summary.StageStats[stage]
		if backlog > stats.MaxBacklog {
			stats.MaxBacklog = backlog
		}
		summary.StageStats[stage] = stats
	}
	if idealTotal == 0 {
		return 0
	}

	available := cap(pool.slots) - pool.Active()
	scale := 1.0
	if available < idealTotal {
		scale = float64(available) / float64(idealTotal)
	}

	launched := 0
	for _, stage := range pipeline.Stages() {
		want := int(math.Floor(float64(desired[stage]) * scale))
		for i := 0; i < want; i++ {
			stage := stage
			ok := pool.Launch(ctx, func(workerCtx context.Context) {
				n, err := o.runner.ProcessBatch(workerCtx, stage)
				if err != nil && workerCtx.Err() == nil {
					o.logger.Warn("worker batch failed",
						logging.String(logging.FieldStage, string(stage)),
						logging.Error(err))
				}
				if n > 0 {
					claims <- stageClaim{stage: stage, count: n}
				}
			})
			if !ok {
				return launched
			}
			launched++
			summary.WorkersLaunched++
			stats := summary.StageStats[stage]
			stats.WorkersLaunched++
			summary.StageStats[stage] = stats
		}
	}
	return launched
}
