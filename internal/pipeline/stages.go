package pipeline

import "strings"

// Stage is one step in the fixed content pipeline sequence.
type Stage string

const (
	StageResearch Stage = "research"
	StageOutline  Stage = "outline"
	StageDraft    Stage = "draft"
	StageExport   Stage = "export"
	StageComplete Stage = "complete"
)

var stageOrder = []Stage{
	StageResearch,
	StageOutline,
	StageDraft,
	StageExport,
	StageComplete,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(stageOrder))
	for _, stage := range stageOrder {
		set[stage] = struct{}{}
	}
	return set
}()

// Stages returns the ordered list of pipeline stages.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// FirstStage returns the stage new jobs enter.
func FirstStage() Stage {
	return stageOrder[0]
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// Next returns the stage following s, or false when s is the last stage.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// IsLast reports whether s is the final pipeline stage.
func (s Stage) IsLast() bool {
	return s == stageOrder[len(stageOrder)-1]
}

// ProcessingStatus returns the in-progress status label for a stage.
func (s Stage) ProcessingStatus() Status {
	switch s {
	case StageResearch:
		return StatusResearching
	case StageOutline:
		return StatusOutlining
	case StageDraft:
		return StatusDrafting
	case StageExport:
		return StatusExporting
	case StageComplete:
		return StatusCompleting
	default:
		return StatusQueued
	}
}
