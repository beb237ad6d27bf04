package store

import (
	"encoding/json"
	"time"

	"conveyor/internal/pipeline"
)

// Job is a unit of multi-stage work persisted in the jobs table.
type Job struct {
	ID           string
	Queue        string
	JobType      string
	Stage        pipeline.Stage
	Status       pipeline.Status
	Payload      json.RawMessage
	AttemptCount int
	MaxAttempts  int
	Priority     int
	Heartbeat    *time.Time
	Result       json.RawMessage
	ErrorMessage string
	Requester    string
	NaturalKey   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the job has finished processing.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Event is an append-only audit log entry for a job.
type Event struct {
	ID       int64
	JobID    string
	At       time.Time
	Status   string
	Message  string
	Metadata json.RawMessage
}

// Event status values written by the core components.
const (
	EventCreated       = "created"
	EventProcessing    = "processing"
	EventStageComplete = "stage_complete"
	EventStageFailure  = "stage_failure"
	EventCompleted     = "completed"
	EventFailed        = "failed"
	EventRequeued      = "requeued"
	EventForwarded     = "forwarded"
	EventRescued       = "rescued"
)

// StageRecordStatus tracks a job's progress through one stage.
type StageRecordStatus string

const (
	StagePending    StageRecordStatus = "pending"
	StageInProgress StageRecordStatus = "in_progress"
	StageDone       StageRecordStatus = "done"
	StageFailed     StageRecordStatus = "failed"
)

// StageRecord is the per-(job, stage) child row created at intake.
type StageRecord struct {
	JobID       string
	Stage       pipeline.Stage
	Status      StageRecordStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Output      json.RawMessage
}

// StageCounts aggregates job counts for one stage.
type StageCounts struct {
	Stage      pipeline.Stage
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

// WindowStats aggregates event-derived rates over a trailing window.
type WindowStats struct {
	Completions   int
	Failures      int
	AvgDurationMS float64
}

// FailureRate returns failures over total outcomes in the window.
func (w WindowStats) FailureRate() float64 {
	total := w.Completions + w.Failures
	if total == 0 {
		return 0
	}
	return float64(w.Failures) / float64(total)
}
