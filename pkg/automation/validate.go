package automation

import (
	"fmt"

	"github.com/tombee/autoflow/pkg/errors"
)

// Warning is a finding that does not stop an automation from running.
type Warning struct {
	StepID  string `json:"stepId"`
	Message string `json:"message"`
}

// Validate checks the structure of a before it runs. Unknown kinds are
// reported as UnknownStepKind; every other problem is a ValidationError.
// All problems are joined into the returned error.
func (e *Engine) Validate(a *Automation) ([]Warning, error) {
	if a == nil {
		return nil, &errors.ValidationError{Field: "automation", Message: "automation is required"}
	}
	v := &validator{engine: e, seen: make(map[string]bool)}
	v.trigger(a.Trigger)
	v.steps(a.Steps, "steps")
	return v.warnings, errors.Join(v.errs...)
}

type validator struct {
	engine   *Engine
	seen     map[string]bool
	warnings []Warning
	errs     []error
}

func (v *validator) invalid(field, format string, args ...any) {
	v.errs = append(v.errs, &errors.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) lookup(id StepID, stepID string) (*StepDefinition, bool) {
	def, err := v.engine.registry.Lookup(id)
	if err != nil {
		v.errs = append(v.errs, classify(stepID, err))
		return nil, false
	}
	if def.Deprecated {
		v.warnings = append(v.warnings, Warning{
			StepID:  stepID,
			Message: fmt.Sprintf("%s is deprecated", id),
		})
	}
	return def, true
}

func (v *validator) trigger(t Trigger) {
	def, ok := v.lookup(t.StepID, t.ID)
	if !ok {
		return
	}
	if def.Type != StepTypeTrigger {
		v.invalid("trigger", "%s is not a trigger", t.StepID)
		return
	}
	if t.ID != "" {
		v.seen[t.ID] = true
	}
	if t.Inputs == nil {
		v.invalid("trigger.inputs", "trigger %q has no inputs", t.ID)
		return
	}
	if t.Inputs.Kind() != t.StepID {
		v.invalid("trigger.inputs", "trigger %q declares %s but carries %s inputs", t.ID, t.StepID, t.Inputs.Kind())
		return
	}

	var filters *SearchFilters
	switch in := t.Inputs.(type) {
	case RowSavedTriggerInputs:
		filters = in.Filters
	case RowUpdatedTriggerInputs:
		filters = in.Filters
	}
	if filters != nil {
		v.expression("trigger.inputs.filters", filters.Expression)
	}
}

func (v *validator) steps(steps []Step, where string) {
	for i, step := range steps {
		field := fmt.Sprintf("%s[%d]", where, i)

		if step.ID == "" {
			v.invalid(field+".id", "step has no id")
		} else if v.seen[step.ID] {
			v.invalid(field+".id", "duplicate step id %q", step.ID)
		} else {
			v.seen[step.ID] = true
		}

		def, ok := v.lookup(step.StepID, step.ID)
		if !ok {
			continue
		}
		if def.Type == StepTypeTrigger {
			v.invalid(field+".stepId", "%s is a trigger and cannot be used as a step", step.StepID)
			continue
		}
		if step.Inputs == nil {
			v.invalid(field+".inputs", "step %q has no inputs", step.ID)
			continue
		}
		if step.Inputs.Kind() != step.StepID {
			v.invalid(field+".inputs", "step %q declares %s but carries %s inputs", step.ID, step.StepID, step.Inputs.Kind())
			continue
		}
		if step.Retry != nil && step.Retry.MaxAttempts < 0 {
			v.invalid(field+".retry.maxAttempts", "must not be negative")
		}

		switch in := step.Inputs.(type) {
		case LoopInputs:
			v.loopTarget(steps, i, field)
		case BranchInputs:
			v.branch(in, field)
		}
	}
}

// loopTarget checks the step a loop wraps.
func (v *validator) loopTarget(steps []Step, i int, field string) {
	if i+1 >= len(steps) {
		v.invalid(field, "loop %q has no step to run", steps[i].ID)
		return
	}
	next := steps[i+1]
	if IsLoopStep(next) || IsBranchStep(next) {
		v.invalid(field, "loop %q cannot wrap %s", steps[i].ID, next.StepID)
		return
	}
	def, err := v.engine.registry.Lookup(next.StepID)
	if err != nil {
		// Reported when the next step is visited.
		return
	}
	if !def.HasFeature(FeatureLooping) {
		v.invalid(field, "loop %q cannot wrap %s, which does not support looping", steps[i].ID, next.StepID)
	}
}

func (v *validator) branch(in BranchInputs, field string) {
	ids := make(map[string]bool, len(in.Branches))
	for bi, b := range in.Branches {
		bf := fmt.Sprintf("%s.inputs.branches[%d]", field, bi)
		if b.ID == "" {
			v.invalid(bf+".id", "branch has no id")
			continue
		}
		if ids[b.ID] {
			v.invalid(bf+".id", "duplicate branch id %q", b.ID)
			continue
		}
		ids[b.ID] = true
		v.expression(bf+".condition.expression", b.Condition.Expression)
	}
	for id, children := range in.Children {
		if !ids[id] {
			v.invalid(field+".inputs.children", "children given for unknown branch %q", id)
			continue
		}
		v.steps(children, fmt.Sprintf("%s.inputs.children[%s]", field, id))
	}
}

func (v *validator) expression(field, expr string) {
	if expr == "" {
		return
	}
	if err := v.engine.conditions.Validate(expr); err != nil {
		v.invalid(field, "%v", err)
	}
}
