package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"conveyor/internal/config"
	"conveyor/internal/health"
	"conveyor/internal/intake"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/orchestrator"
	"conveyor/internal/pipeline"
	"conveyor/internal/queue"
	"conveyor/internal/rescue"
	"conveyor/internal/runner"
	"conveyor/internal/stage"
	"conveyor/internal/store"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	backend queue.Backend

	runner    *runner.Runner
	intakeSvc *intake.Service
	rescueSvc *rescue.Service
	monitor   *health.Monitor
	orch      *orchestrator.Orchestrator

	api *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                          `json:"running"`
	PID          int                           `json:"pid"`
	StorePath    string                        `json:"store_path"`
	LockFilePath string                        `json:"lock_file_path"`
	QueueBackend string                        `json:"queue_backend"`
	QueueDepth   int                           `json:"queue_depth"`
	ActiveLeases int                           `json:"active_leases"`
	Stages       map[pipeline.Stage]StageCount `json:"stages"`
}

// StageCount summarizes job counts for one stage.
type StageCount struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// New constructs a daemon and wires the services it hosts.
func New(cfg *config.Config, st *store.Store, backend queue.Backend, registry *stage.Registry, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || backend == nil || registry == nil {
		return nil, errors.New("daemon requires config, store, queue backend, and stage registry")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)
	run := runner.New(cfg, st, backend, registry, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "conveyord.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		backend:   backend,
		runner:    run,
		intakeSvc: intake.NewService(cfg, st, backend, logger),
		rescueSvc: rescue.NewService(cfg, st, backend, logger),
		monitor:   health.NewMonitor(cfg, st, backend, notifier, logger),
		orch:      orchestrator.New(cfg, backend, run, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the API server and
// background loops.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	d.spawn(d.rescueLoop)
	if d.cfg.Orchestrator.Enabled {
		d.spawn(d.orchestratorLoop)
	}
	if d.cfg.Health.WebhookURL != "" {
		d.spawn(d.healthLoop)
	}

	d.running.Store(true)
	d.logger.Info("conveyor daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels background work, drains in-flight tasks, and releases
// the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.tasks.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.backend != nil {
		if err := d.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound API address, or empty when the server is
// not listening.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status collects runtime information for the status endpoint.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StorePath:    d.store.Path(),
		LockFilePath: d.lockPath,
		QueueBackend: d.cfg.Queue.Backend,
		Stages:       make(map[pipeline.Stage]StageCount),
	}
	if depth, err := d.backend.Depth(ctx, d.cfg.Pipeline.Queue); err == nil {
		status.QueueDepth = depth
	}
	if leases, err := d.store.ActiveLeaseCount(ctx); err == nil {
		status.ActiveLeases = leases
	}
	counts, err := d.store.StageCountsByStatus(ctx)
	if err != nil {
		d.logger.Warn("stage counts unavailable", logging.Error(err))
		return status
	}
	for stageName, c := range counts {
		status.Stages[stageName] = StageCount{
			Queued:     c.Queued,
			Processing: c.Processing,
			Completed:  c.Completed,
			Failed:     c.Failed,
		}
	}
	return status
}

// spawn runs fn on the daemon context, tracked so Stop can drain it.
func (d *Daemon) spawn(fn func(ctx context.Context)) {
	ctx := d.ctx
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		fn(ctx)
	}()
}

func (d *Daemon) rescueLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Workflow.RescueInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.rescueSvc.Rescue(ctx, rescue.Options{}); err != nil && ctx.Err() == nil {
				d.logger.Error("rescue sweep failed", logging.Error(err))
			}
		}
	}
}

func (d *Daemon) orchestratorLoop(ctx context.Context) {
	pause := time.Duration(d.cfg.Orchestrator.CycleInterval) * time.Second
	for ctx.Err() == nil {
		summary, err := d.orch.Run(ctx, orchestrator.Options{})
		if err != nil && ctx.Err() == nil {
			d.logger.Error("orchestrator run failed", logging.Error(err))
		}
		d.logger.Info("orchestrator run finished",
			logging.Int("cycles", summary.Cycles),
			logging.Int("workers", summary.WorkersLaunched))

		select {
		case <-ctx.Done():
		case <-time.After(pause):
		}
	}
}

func (d *Daemon) healthLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.Health.WindowMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.monitor.Check(ctx, health.Thresholds{})
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error("health check failed", logging.Error(err))
				}
				continue
			}
			if !report.Healthy {
				d.logger.Warn("pipeline unhealthy",
					logging.Int("alerts", len(report.Alerts)),
					logging.Float64("failure_rate", report.FailureRate))
			}
		}
	}
}
