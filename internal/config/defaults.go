package config

// Supported queue backend names.
const (
	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"
)

const (
	defaultDataDir = "~/.local/share/conveyor"
	defaultLogDir  = "~/.local/share/conveyor/logs"
	defaultAPIBind = "127.0.0.1:8571"

	defaultQueueName         = "content_pipeline"
	defaultVisibilitySeconds = 300
	defaultBatchSize         = 5
	defaultMaxAttempts       = 3
	defaultRetryBackoff      = 30
	defaultRetryBackoffMax   = 900

	defaultQueueBackend = QueueBackendSQLite

	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 300
	defaultRescueInterval      = 300
	defaultRescueMinAgeMinutes = 15
	defaultRescueMaxJobs       = 50
	defaultErrorRetryInterval  = 5

	defaultJobsPerWorker   = 5
	defaultWorkersPerStage = 3
	defaultMaxWorkers      = 10
	defaultCycleInterval   = 30
	defaultDurationMinutes = 5

	defaultDurationThresholdMS = 600000
	defaultErrorRateThreshold  = 0.25
	defaultQueueDepthThreshold = 100
	defaultHealthWindowMinutes = 60
	defaultWebhookTimeout      = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			Queue:                  defaultQueueName,
			VisibilitySeconds:      defaultVisibilitySeconds,
			BatchSize:              defaultBatchSize,
			MaxAttempts:            defaultMaxAttempts,
			RetryBackoffSeconds:    defaultRetryBackoff,
			RetryBackoffMaxSeconds: defaultRetryBackoffMax,
		},
		Queue: Queue{
			Backend: defaultQueueBackend,
		},
		Workflow: Workflow{
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			RescueInterval:      defaultRescueInterval,
			RescueMinAgeMinutes: defaultRescueMinAgeMinutes,
			RescueMaxJobs:       defaultRescueMaxJobs,
			ErrorRetryInterval:  defaultErrorRetryInterval,
		},
		Orchestrator: Orchestrator{
			Enabled:         true,
			JobsPerWorker:   defaultJobsPerWorker,
			WorkersPerStage: defaultWorkersPerStage,
			MaxWorkers:      defaultMaxWorkers,
			CycleInterval:   defaultCycleInterval,
			DurationMinutes: defaultDurationMinutes,
		},
		Health: Health{
			DurationThresholdMS: defaultDurationThresholdMS,
			ErrorRateThreshold:  defaultErrorRateThreshold,
			QueueDepthThreshold: defaultQueueDepthThreshold,
			WindowMinutes:       defaultHealthWindowMinutes,
			WebhookTimeout:      defaultWebhookTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
