package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides mirrors the environment variables documented for deployments.
// A zero value means the variable was unset and the file/default wins.
type envOverrides struct {
	QueueVisibility  int    `env:"CONVEYOR_QUEUE_VISIBILITY"`
	QueueBatchSize   int    `env:"CONVEYOR_QUEUE_BATCH_SIZE"`
	StageMaxAttempts int    `env:"CONVEYOR_STAGE_MAX_ATTEMPTS"`
	APIBind          string `env:"CONVEYOR_API_BIND"`
	APIToken         string `env:"CONVEYOR_API_TOKEN"`
	QueueBackend     string `env:"CONVEYOR_QUEUE_BACKEND"`
	RedisAddr        string `env:"CONVEYOR_REDIS_ADDR"`
	RedisPassword    string `env:"CONVEYOR_REDIS_PASSWORD"`
	LogLevel         string `env:"CONVEYOR_LOG_LEVEL"`
	LogFormat        string `env:"CONVEYOR_LOG_FORMAT"`
}

func (c *Config) applyEnvOverrides() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	if overrides.QueueVisibility > 0 {
		c.Pipeline.VisibilitySeconds = overrides.QueueVisibility
	}
	if overrides.QueueBatchSize > 0 {
		c.Pipeline.BatchSize = overrides.QueueBatchSize
	}
	if overrides.StageMaxAttempts > 0 {
		c.Pipeline.MaxAttempts = overrides.StageMaxAttempts
	}
	if overrides.APIBind != "" {
		c.Paths.APIBind = overrides.APIBind
	}
	if overrides.APIToken != "" {
		c.Paths.APIToken = overrides.APIToken
	}
	if overrides.QueueBackend != "" {
		c.Queue.Backend = overrides.QueueBackend
	}
	if overrides.RedisAddr != "" {
		c.Queue.RedisAddr = overrides.RedisAddr
	}
	if overrides.RedisPassword != "" {
		c.Queue.RedisPassword = overrides.RedisPassword
	}
	if overrides.LogLevel != "" {
		c.Logging.Level = overrides.LogLevel
	}
	if overrides.LogFormat != "" {
		c.Logging.Format = overrides.LogFormat
	}
	return nil
}
