package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Pipeline contains per-stage queue tuning.
type Pipeline struct {
	Queue                  string `toml:"queue"`
	VisibilitySeconds      int    `toml:"visibility_seconds"`
	BatchSize              int    `toml:"batch_size"`
	MaxAttempts            int    `toml:"max_attempts"`
	DefaultPriority        int    `toml:"default_priority"`
	RetryBackoffSeconds    int    `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int    `toml:"retry_backoff_max_seconds"`
}

// Queue selects and configures the durable queue backend.
type Queue struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// Workflow contains daemon timing and rescue intervals.
type Workflow struct {
	HeartbeatInterval   int `toml:"heartbeat_interval"`
	HeartbeatTimeout    int `toml:"heartbeat_timeout"`
	RescueInterval      int `toml:"rescue_interval"`
	RescueMinAgeMinutes int `toml:"rescue_min_age_minutes"`
	RescueMaxJobs       int `toml:"rescue_max_jobs"`
	ErrorRetryInterval  int `toml:"error_retry_interval"`
}

// Orchestrator contains autoscaler loop configuration.
type Orchestrator struct {
	Enabled         bool `toml:"enabled"`
	JobsPerWorker   int  `toml:"jobs_per_worker"`
	WorkersPerStage int  `toml:"workers_per_stage"`
	MaxWorkers      int  `toml:"max_workers"`
	CycleInterval   int  `toml:"cycle_interval"`
	DurationMinutes int  `toml:"duration_minutes"`
}

// Health contains monitor thresholds and alert delivery settings.
type Health struct {
	DurationThresholdMS int     `toml:"duration_threshold_ms"`
	ErrorRateThreshold  float64 `toml:"error_rate_threshold"`
	QueueDepthThreshold int     `toml:"queue_depth_threshold"`
	WindowMinutes       int     `toml:"window_minutes"`
	WebhookURL          string  `toml:"webhook_url"`
	WebhookTimeout      int     `toml:"webhook_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for conveyor.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Pipeline: visibility timeout, batch size, retry budget
//   - Queue: durable queue backend selection (sqlite or redis)
//   - Workflow: heartbeat and rescue timing
//   - Orchestrator: backlog-proportional worker scaling
//   - Health: monitor thresholds and webhook alerting
//   - Logging: log format and level
type Config struct {
	Paths        Paths        `toml:"paths"`
	Pipeline     Pipeline     `toml:"pipeline"`
	Queue        Queue        `toml:"queue"`
	Workflow     Workflow     `toml:"workflow"`
	Orchestrator Orchestrator `toml:"orchestrator"`
	Health       Health       `toml:"health"`
	Logging      Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded, defaults applied, and environment
// overrides layered on top.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conveyor.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the configured data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return abs, nil
}
