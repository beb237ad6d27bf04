package main

import (
	"encoding/json"
	"time"
)

// Request and response documents mirrored from the daemon API. The CLI
// keeps its own copies so its wire contract is explicit.

type intakeRequest struct {
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   *int            `json:"priority,omitempty"`
	Requester  string          `json:"requester,omitempty"`
	NaturalKey string          `json:"natural_key,omitempty"`
}

type intakeResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Stage  string `json:"stage"`
	Reused bool   `json:"reused"`
}

type daemonStatus struct {
	Running      bool                  `json:"running"`
	PID          int                   `json:"pid"`
	StorePath    string                `json:"store_path"`
	LockFilePath string                `json:"lock_file_path"`
	QueueBackend string                `json:"queue_backend"`
	QueueDepth   int                   `json:"queue_depth"`
	ActiveLeases int                   `json:"active_leases"`
	Stages       map[string]stageCount `json:"stages"`
}

type stageCount struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type jobDocument struct {
	ID           string          `json:"id"`
	JobType      string          `json:"job_type"`
	Stage        string          `json:"stage"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	NaturalKey   string          `json:"natural_key,omitempty"`
	Requester    string          `json:"requester,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Heartbeat    *time.Time      `json:"heartbeat,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type jobListDocument struct {
	Jobs []jobDocument `json:"jobs"`
}

type stageRecordDocument struct {
	Stage       string          `json:"stage"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
}

type eventDocument struct {
	At       time.Time       `json:"at"`
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type jobDetailDocument struct {
	Job    jobDocument           `json:"job"`
	Stages []stageRecordDocument `json:"stages"`
	Events []eventDocument       `json:"events"`
}

type workersRequest struct {
	BatchSize int `json:"batchSize"`
}

type workersDocument struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type rescueRequest struct {
	JobType       string `json:"job_type,omitempty"`
	MinAgeMinutes int    `json:"min_age_minutes,omitempty"`
	MaxJobs       int    `json:"max_jobs,omitempty"`
}

type rescueSummary struct {
	RescuedJobs int      `json:"rescued_jobs"`
	JobIDs      []string `json:"job_ids"`
}

type healthAlert struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

type healthThresholds struct {
	DurationMS float64 `json:"duration_ms"`
	ErrorRate  float64 `json:"error_rate"`
	QueueDepth int     `json:"queue_depth"`
}

type healthReport struct {
	Healthy       bool          `json:"healthy"`
	CheckedAt     time.Time     `json:"checked_at"`
	WindowMinutes int           `json:"window_minutes"`
	Completions   int           `json:"completions"`
	Failures      int           `json:"failures"`
	FailureRate   float64       `json:"failure_rate"`
	AvgDurationMS float64       `json:"avg_duration_ms"`
	QueueDepth    int           `json:"queue_depth"`
	Alerts        []healthAlert `json:"alerts,omitempty"`
}

type healthDocument struct {
	Health     healthReport     `json:"health"`
	Thresholds healthThresholds `json:"thresholds"`
}

type orchestrateRequest struct {
	MaxWorkers      int `json:"maxWorkers,omitempty"`
	WorkersPerStage int `json:"workersPerStage,omitempty"`
	DurationMinutes int `json:"durationMinutes,omitempty"`
}

type stageStatsDocument struct {
	WorkersLaunched int `json:"workersLaunched"`
	MessagesClaimed int `json:"messagesClaimed"`
	MaxBacklog      int `json:"maxBacklog"`
}

type runSummary struct {
	Cycles          int                           `json:"cycles"`
	WorkersLaunched int                           `json:"workersLaunched"`
	StageStats      map[string]stageStatsDocument `json:"stageStats"`
}
