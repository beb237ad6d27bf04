package pipeline

import "strings"

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusResearching Status = "researching"
	StatusOutlining   Status = "outlining"
	StatusDrafting    Status = "drafting"
	StatusExporting   Status = "exporting"
	StatusCompleting  Status = "completing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusResearching,
	StatusOutlining,
	StatusDrafting,
	StatusExporting,
	StatusCompleting,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusResearching: {},
	StatusOutlining:   {},
	StatusDrafting:    {},
	StatusExporting:   {},
	StatusCompleting:  {},
}

// resumeTransitions maps an interrupted status to the value rescue restores.
// A job abandoned mid-stage resumes at that stage, never from the start; the
// stage column is left untouched so the re-enqueued message targets it.
var resumeTransitions = map[Status]Status{
	StatusResearching: StatusQueued,
	StatusOutlining:   StatusQueued,
	StatusDrafting:    StatusQueued,
	StatusExporting:   StatusQueued,
	StatusCompleting:  StatusQueued,
	StatusQueued:      StatusQueued,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing reports whether a status reflects an in-flight stage.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// ProcessingStatuses returns the statuses that indicate a held lease.
func ProcessingStatuses() []Status {
	out := make([]Status, 0, len(processingStatuses))
	for _, status := range allStatuses {
		if _, ok := processingStatuses[status]; ok {
			out = append(out, status)
		}
	}
	return out
}

// ResumeStatus maps an interrupted status to the value rescue should
// restore, returning false for statuses that must not be rescued.
func ResumeStatus(status Status) (Status, bool) {
	resumed, ok := resumeTransitions[status]
	return resumed, ok
}
