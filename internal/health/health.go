// Package health evaluates pipeline throughput against configured
// thresholds: average stage duration, failure rate over a trailing
// window, and visible queue backlog. Violations become alerts pushed to
// the configured webhook.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/notifications"
	"conveyor/internal/queue"
	"conveyor/internal/store"
)

// Alert type names reported to the webhook and API clients.
const (
	AlertStageDuration = "stage_duration"
	AlertErrorRate     = "error_rate"
	AlertQueueDepth    = "queue_depth"
)

// Thresholds override the configured limits for one check. Zero values
// fall back to configuration.
type Thresholds struct {
	DurationMS float64
	ErrorRate  float64
	QueueDepth int
	Window     time.Duration
	// SkipAlert suppresses webhook publication for this check only.
	SkipAlert bool
}

// AppliedThresholds echoes the limits a report was evaluated against.
type AppliedThresholds struct {
	DurationMS float64 `json:"duration_ms"`
	ErrorRate  float64 `json:"error_rate"`
	QueueDepth int     `json:"queue_depth"`
}

// Report is the outcome of one health evaluation.
type Report struct {
	Healthy       bool                  `json:"healthy"`
	CheckedAt     time.Time             `json:"checked_at"`
	WindowMinutes int                   `json:"window_minutes"`
	Completions   int                   `json:"completions"`
	Failures      int                   `json:"failures"`
	FailureRate   float64               `json:"failure_rate"`
	AvgDurationMS float64               `json:"avg_duration_ms"`
	QueueDepth    int                   `json:"queue_depth"`
	Alerts        []notifications.Alert `json:"alerts,omitempty"`

	// Thresholds travel in the response envelope, not inline.
	Thresholds AppliedThresholds `json:"-"`
}

// Monitor runs health evaluations over the store and queue.
type Monitor struct {
	cfg      *config.Config
	store    *store.Store
	backend  queue.Backend
	notifier notifications.Service
	logger   *slog.Logger
}

// NewMonitor constructs a health monitor. A nil notifier disables alert
// delivery without disabling evaluation.
func NewMonitor(cfg *config.Config, st *store.Store, backend queue.Backend, notifier notifications.Service, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Monitor{
		cfg:      cfg,
		store:    st,
		backend:  backend,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "health"),
	}
}

// Check evaluates the trailing window and queue backlog against the
// thresholds, publishing any alerts before returning the report.
// Publishing failures are logged, not returned; a broken webhook must
// not make the pipeline look unhealthy.
func (m *Monitor) Check(ctx context.Context, overrides Thresholds) (Report, error) {
	durationThreshold := overrides.DurationMS
	if durationThreshold <= 0 {
		durationThreshold = float64(m.cfg.Health.DurationThresholdMS)
	}
	errorRateThreshold := overrides.ErrorRate
	if errorRateThreshold <= 0 {
		errorRateThreshold = m.cfg.Health.ErrorRateThreshold
	}
	depthThreshold := overrides.QueueDepth
	if depthThreshold <= 0 {
		depthThreshold = m.cfg.Health.QueueDepthThreshold
	}
	window := overrides.Window
	if window <= 0 {
		window = time.Duration(m.cfg.Health.WindowMinutes) * time.Minute
	}

	now := time.Now().UTC()
	stats, err := m.store.WindowStatsSince(ctx, now.Add(-window))
	if err != nil {
		return Report{}, err
	}
	depth, err := m.backend.Depth(ctx, m.cfg.Pipeline.Queue)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Healthy:       true,
		CheckedAt:     now,
		WindowMinutes: int(window / time.Minute),
		Completions:   stats.Completions,
		Failures:      stats.Failures,
		FailureRate:   stats.FailureRate(),
		AvgDurationMS: stats.AvgDurationMS,
		QueueDepth:    depth,
		Thresholds: AppliedThresholds{
			DurationMS: durationThreshold,
			ErrorRate:  errorRateThreshold,
			QueueDepth: depthThreshold,
		},
	}

	if stats.Completions > 0 && stats.AvgDurationMS > durationThreshold {
		report.addAlert(notifications.Alert{
			Type:      AlertStageDuration,
			Severity:  "warning",
			Message:   fmt.Sprintf("average stage duration %.0fms exceeds %.0fms", stats.AvgDurationMS, durationThreshold),
			Value:     stats.AvgDurationMS,
			Threshold: durationThreshold,
			At:        now,
		})
	}
	if rate := stats.FailureRate(); rate > errorRateThreshold {
		report.addAlert(notifications.Alert{
			Type:      AlertErrorRate,
			Severity:  "critical",
			Message:   fmt.Sprintf("failure rate %.2f exceeds %.2f", rate, errorRateThreshold),
			Value:     rate,
			Threshold: errorRateThreshold,
			At:        now,
		})
	}
	if depth > depthThreshold {
		report.addAlert(notifications.Alert{
			Type:      AlertQueueDepth,
			Severity:  "warning",
			Message:   fmt.Sprintf("queue depth %d exceeds %d", depth, depthThreshold),
			Value:     float64(depth),
			Threshold: float64(depthThreshold),
			At:        now,
		})
	}

	if len(report.Alerts) > 0 {
		for _, alert := range report.Alerts {
			m.logger.Warn("health threshold exceeded",
				logging.Alert(alert.Type),
				logging.String("message", alert.Message))
		}
		if !overrides.SkipAlert {
			if err := m.notifier.PublishAlerts(ctx, report.Alerts); err != nil {
				m.logger.Warn("alert delivery failed", logging.Error(err))
			}
		}
	}

	return report, nil
}

func (r *Report) addAlert(alert notifications.Alert) {
	r.Healthy = false
	r.Alerts = append(r.Alerts, alert)
}
