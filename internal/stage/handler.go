package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"conveyor/internal/pipeline"
)

// Request is the unit of work handed to a stage handler.
type Request struct {
	JobID    string
	Stage    pipeline.Stage
	Envelope *pipeline.Envelope
	Attempt  int
}

// Result reports what a handler produced. Complete false without an error
// asks the runner to re-enqueue the same stage without consuming a retry,
// for handlers that poll long-running external work.
type Result struct {
	Complete    bool
	Output      json.RawMessage
	NextPayload json.RawMessage
}

// Handler describes the contract the stage runner needs from each stage.
type Handler interface {
	Execute(context.Context, *Request) (Result, error)
	HealthCheck(context.Context) Health
}

// Registry maps pipeline stages to their handlers.
type Registry struct {
	handlers map[pipeline.Stage]Handler
}

// NewRegistry builds an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[pipeline.Stage]Handler)}
}

// Register binds a handler to a stage, replacing any previous binding.
func (r *Registry) Register(stage pipeline.Stage, handler Handler) {
	r.handlers[stage] = handler
}

// Handler returns the handler bound to a stage.
func (r *Registry) Handler(stage pipeline.Stage) (Handler, error) {
	handler, ok := r.handlers[stage]
	if !ok {
		return nil, fmt.Errorf("no handler registered for stage %q", stage)
	}
	return handler, nil
}

// Stages returns the registered stages in pipeline order.
func (r *Registry) Stages() []pipeline.Stage {
	stages := make([]pipeline.Stage, 0, len(r.handlers))
	for stage := range r.handlers {
		stages = append(stages, stage)
	}
	order := make(map[pipeline.Stage]int, len(stages))
	for i, stage := range pipeline.Stages() {
		order[stage] = i
	}
	sort.Slice(stages, func(i, j int) bool {
		return order[stages[i]] < order[stages[j]]
	})
	return stages
}

// HealthChecks runs every registered handler's health check.
func (r *Registry) HealthChecks(ctx context.Context) []Health {
	checks := make([]Health, 0, len(r.handlers))
	for _, stage := range r.Stages() {
		checks = append(checks, r.handlers[stage].HealthCheck(ctx))
	}
	return checks
}
