package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timing knobs are shrunk so tests exercising heartbeats and rescue sweeps
// run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.VisibilitySeconds = 2
	cfg.Pipeline.RetryBackoffSeconds = 1
	cfg.Pipeline.RetryBackoffMaxSeconds = 2
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 2
	cfg.Workflow.RescueInterval = 1
	cfg.Workflow.RescueMinAgeMinutes = 60
	cfg.Orchestrator.CycleInterval = 1
	cfg.Orchestrator.DurationMinutes = 1
	// The daemon's background scaling loop would race with tests that
	// drive workers explicitly; tests opt in when they need it.
	cfg.Orchestrator.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return &cfg
}

// WithQueueBackend overrides the queue backend on the test config.
func WithQueueBackend(backend string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Backend = backend
	}
}

// WithMaxAttempts overrides the per-stage retry budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxAttempts = n
	}
}
