package wizard

import (
	"context"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
)

// AuthStep is the name of the step every wizard starts with.
const AuthStep = "auth"

// Step is one named stage of a wizard.
type Step interface {
	// Name is unique within a flow.
	Name() string
	// Schema describes the input Process expects.
	Schema() *schema.Schema
	// Process runs the step with a payload that already passed Schema and a
	// copy of the accumulated session data.
	Process(ctx context.Context, payload map[string]any, session map[string]any) (StepResult, error)
}

// StepResult is what a step hands back to the engine.
type StepResult struct {
	// NextStep names the following step. It must be empty when IsComplete.
	NextStep string
	// IsComplete ends the wizard with FinalConfig.
	IsComplete  bool
	FinalConfig map[string]any
	// SessionUpdates are merged into the session data at the top level.
	SessionUpdates map[string]any
	// Options are choices offered for the next step, such as the stations
	// fetched from the vendor.
	Options map[string]any
}

// Next returns a result that continues with step.
func Next(step string, updates map[string]any, options map[string]any) StepResult {
	return StepResult{NextStep: step, SessionUpdates: updates, Options: options}
}

// Complete returns a result that finishes the wizard.
func Complete(config map[string]any) StepResult {
	return StepResult{IsComplete: true, FinalConfig: config}
}

// TypedStep is a Step whose payload is decoded into T before Handle runs.
type TypedStep[T any] struct {
	StepName string
	Input    *schema.Schema
	Handle   func(ctx context.Context, in T, session map[string]any) (StepResult, error)
}

var _ Step = TypedStep[struct{}]{}

// Name implements Step.
func (s TypedStep[T]) Name() string {
	return s.StepName
}

// Schema implements Step.
func (s TypedStep[T]) Schema() *schema.Schema {
	return s.Input
}

// Process implements Step.
func (s TypedStep[T]) Process(ctx context.Context, payload map[string]any, session map[string]any) (StepResult, error) {
	var in T
	if err := schema.Decode(payload, &in); err != nil {
		return StepResult{}, fmt.Errorf("failed to decode %s payload: %w", s.StepName, err)
	}
	return s.Handle(ctx, in, session)
}
