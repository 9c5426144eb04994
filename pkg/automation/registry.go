package automation

import (
	"fmt"
	"sync"
)

// Registry holds the definition of every kind. It is populated once and is
// read-only afterwards, so lookups need no locking.
type Registry struct {
	defs     map[StepID]*StepDefinition
	actions  []*StepDefinition
	triggers []*StepDefinition
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry built from the builtin
// definition table.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry builds a registry from the builtin definitions. It panics if the
// definition table and the kind tables disagree, which is a programming error.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[StepID]*StepDefinition)}
	for _, def := range builtinDefinitions() {
		d := def
		if _, dup := r.defs[d.StepID]; dup {
			panic(fmt.Sprintf("automation: duplicate definition for %s", d.StepID))
		}
		if _, err := lookupKind(d.StepID); err != nil {
			panic(fmt.Sprintf("automation: definition %s has no input/output shape", d.StepID))
		}
		r.defs[d.StepID] = &d
		if d.Type == StepTypeTrigger {
			r.triggers = append(r.triggers, &d)
		} else {
			r.actions = append(r.actions, &d)
		}
	}
	for _, id := range actionStepIDs {
		if _, ok := r.defs[id]; !ok {
			panic(fmt.Sprintf("automation: missing definition for %s", id))
		}
	}
	for _, id := range triggerStepIDs {
		if _, ok := r.defs[id]; !ok {
			panic(fmt.Sprintf("automation: missing definition for %s", id))
		}
	}
	return r
}

// Lookup returns the definition for id. The result must not be modified.
func (r *Registry) Lookup(id StepID) (*StepDefinition, error) {
	def, ok := r.defs[id]
	if !ok {
		return nil, &StepError{Code: ErrUnknownStepKind, Message: fmt.Sprintf("unknown step kind %q", id)}
	}
	return def, nil
}

// Actions lists action and logic definitions in table order.
func (r *Registry) Actions() []*StepDefinition {
	return append([]*StepDefinition(nil), r.actions...)
}

// Triggers lists trigger definitions in table order.
func (r *Registry) Triggers() []*StepDefinition {
	return append([]*StepDefinition(nil), r.triggers...)
}
