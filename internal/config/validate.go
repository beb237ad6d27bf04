package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateOrchestrator(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Queue == "" {
		return errors.New("pipeline.queue must be set")
	}
	if c.Pipeline.VisibilitySeconds <= 0 {
		return errors.New("pipeline.visibility_seconds must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline.batch_size must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return errors.New("pipeline.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueBackendSQLite:
		return nil
	case QueueBackendRedis:
		if c.Queue.RedisAddr == "" {
			return errors.New("queue.redis_addr must be set when queue.backend is \"redis\"")
		}
		return nil
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (expected \"sqlite\" or \"redis\")", c.Queue.Backend)
	}
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.RescueMinAgeMinutes <= 0 {
		return errors.New("workflow.rescue_min_age_minutes must be positive")
	}
	if c.Workflow.RescueMaxJobs <= 0 {
		return errors.New("workflow.rescue_max_jobs must be positive")
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	if !c.Orchestrator.Enabled {
		return nil
	}
	if c.Orchestrator.JobsPerWorker <= 0 {
		return errors.New("orchestrator.jobs_per_worker must be positive")
	}
	if c.Orchestrator.WorkersPerStage <= 0 {
		return errors.New("orchestrator.workers_per_stage must be positive")
	}
	if c.Orchestrator.MaxWorkers <= 0 {
		return errors.New("orchestrator.max_workers must be positive")
	}
	if c.Orchestrator.CycleInterval <= 0 {
		return errors.New("orchestrator.cycle_interval must be positive")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.ErrorRateThreshold < 0 || c.Health.ErrorRateThreshold > 1 {
		return errors.New("health.error_rate_threshold must be between 0 and 1")
	}
	if c.Health.QueueDepthThreshold < 0 {
		return errors.New("health.queue_depth_threshold must not be negative")
	}
	if c.Health.WindowMinutes <= 0 {
		return errors.New("health.window_minutes must be positive")
	}
	return nil
}
