package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"conveyor/internal/services"
)

// ResearchPayload seeds the pipeline: the article brief supplied at intake.
type ResearchPayload struct {
	Title          string   `json:"title"`
	Keywords       []string `json:"keywords"`
	Domain         string   `json:"domain,omitempty"`
	TargetAudience string   `json:"target_audience,omitempty"`
	Tone           string   `json:"tone,omitempty"`
}

// OutlinePayload carries research findings into outline generation.
type OutlinePayload struct {
	Title         string   `json:"title"`
	Keywords      []string `json:"keywords"`
	ResearchNotes string   `json:"research_notes"`
	Competitors   []string `json:"competitors,omitempty"`
}

// DraftPayload carries the approved outline into drafting.
type DraftPayload struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
	Tone     string   `json:"tone,omitempty"`
}

// ExportPayload carries the finished draft into distribution.
type ExportPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Format      string `json:"format,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// CompletePayload finalizes the job: where the content ended up.
type CompletePayload struct {
	Title     string `json:"title"`
	ExportRef string `json:"export_ref,omitempty"`
}

// Envelope is the schema-tagged payload variant crossing the stage-handler
// boundary. Exactly one variant matching Stage is populated after Decode.
type Envelope struct {
	Stage    Stage            `json:"stage"`
	Research *ResearchPayload `json:"research,omitempty"`
	Outline  *OutlinePayload  `json:"outline,omitempty"`
	Draft    *DraftPayload    `json:"draft,omitempty"`
	Export   *ExportPayload   `json:"export,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
}

// DecodePayload parses raw stage input into the variant for the given stage
// and validates it. Validation failures are tagged services.ErrValidation so
// the runner fails the job without consuming its retry budget.
func DecodePayload(stage Stage, raw json.RawMessage) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, services.Wrap(services.ErrValidation, string(stage), "decode payload", "payload is empty", nil)
	}

	env := &Envelope{Stage: stage}
	var target any
	switch stage {
	case StageResearch:
		env.Research = &ResearchPayload{}
		target = env.Research
	case StageOutline:
		env.Outline = &OutlinePayload{}
		target = env.Outline
	case StageDraft:
		env.Draft = &DraftPayload{}
		target = env.Draft
	case StageExport:
		env.Export = &ExportPayload{}
		target = env.Export
	case StageComplete:
		env.Complete = &CompletePayload{}
		target = env.Complete
	default:
		return nil, services.Wrap(services.ErrValidation, string(stage), "decode payload", "unknown stage", nil)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, services.Wrap(services.ErrValidation, string(stage), "decode payload", "malformed JSON", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks the variant matching the envelope's stage.
func (e *Envelope) Validate() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, string(e.Stage), "validate payload", msg, nil)
	}
	switch e.Stage {
	case StageResearch:
		if e.Research == nil {
			return fail("research payload missing")
		}
		if strings.TrimSpace(e.Research.Title) == "" {
			return fail("title is required")
		}
		if len(e.Research.Keywords) == 0 {
			return fail("at least one keyword is required")
		}
	case StageOutline:
		if e.Outline == nil {
			return fail("outline payload missing")
		}
		if strings.TrimSpace(e.Outline.Title) == "" {
			return fail("title is required")
		}
		if strings.TrimSpace(e.Outline.ResearchNotes) == "" {
			return fail("research notes are required")
		}
	case StageDraft:
		if e.Draft == nil {
			return fail("draft payload missing")
		}
		if strings.TrimSpace(e.Draft.Title) == "" {
			return fail("title is required")
		}
		if len(e.Draft.Sections) == 0 {
			return fail("outline sections are required")
		}
	case StageExport:
		if e.Export == nil {
			return fail("export payload missing")
		}
		if strings.TrimSpace(e.Export.Title) == "" {
			return fail("title is required")
		}
		if strings.TrimSpace(e.Export.Body) == "" {
			return fail("body is required")
		}
	case StageComplete:
		if e.Complete == nil {
			return fail("complete payload missing")
		}
		if strings.TrimSpace(e.Complete.Title) == "" {
			return fail("title is required")
		}
	default:
		return fail(fmt.Sprintf("unknown stage %q", e.Stage))
	}
	return nil
}

// Encode serializes the envelope's active variant back to raw JSON.
func (e *Envelope) Encode() (json.RawMessage, error) {
	var target any
	switch e.Stage {
	case StageResearch:
		target = e.Research
	case StageOutline:
		target = e.Outline
	case StageDraft:
		target = e.Draft
	case StageExport:
		target = e.Export
	case StageComplete:
		target = e.Complete
	default:
		return nil, fmt.Errorf("encode payload: unknown stage %q", e.Stage)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
