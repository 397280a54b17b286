package wizard

import (
	"errors"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
)

type flowStep struct {
	step      Step
	validator *schema.Validator
}

// Flow is the ordered set of steps of one vendor's wizard. Steps reference
// each other by name at runtime through StepResult.NextStep.
type Flow struct {
	vendor types.Vendor
	order  []string
	steps  map[string]flowStep
}

// NewFlow compiles the input schema of every step. The first step is the
// entry point.
func NewFlow(vendor types.Vendor, steps ...Step) (*Flow, error) {
	if len(steps) == 0 {
		return nil, errors.New("wizard flow has no steps")
	}
	f := &Flow{
		vendor: vendor,
		order:  make([]string, 0, len(steps)),
		steps:  make(map[string]flowStep, len(steps)),
	}
	for _, s := range steps {
		name := s.Name()
		if name == "" {
			return nil, fmt.Errorf("wizard flow %s has a step without a name", vendor)
		}
		if _, ok := f.steps[name]; ok {
			return nil, fmt.Errorf("wizard flow %s has duplicate step %q", vendor, name)
		}
		v, err := schema.Compile(fmt.Sprintf("%s/%s", vendor, name), s.Schema())
		if err != nil {
			return nil, fmt.Errorf("wizard flow %s: %w", vendor, err)
		}
		f.order = append(f.order, name)
		f.steps[name] = flowStep{step: s, validator: v}
	}
	return f, nil
}

// MustNewFlow is like NewFlow but panics on error.
func MustNewFlow(vendor types.Vendor, steps ...Step) *Flow {
	f, err := NewFlow(vendor, steps...)
	if err != nil {
		panic(err)
	}
	return f
}

// First returns the entry step.
func (f *Flow) First() Step {
	return f.steps[f.order[0]].step
}

// Step looks up a step by name.
func (f *Flow) Step(name string) (Step, bool) {
	s, ok := f.steps[name]
	return s.step, ok
}

// Names returns the step names in declaration order.
func (f *Flow) Names() []string {
	return append([]string(nil), f.order...)
}

func (f *Flow) validator(name string) *schema.Validator {
	return f.steps[name].validator
}
