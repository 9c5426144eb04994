package automation

import (
	"context"
	"fmt"
	"sync"
)

// Action executes one step kind. Expected failures are returned as
// *ActionFailure; any other error, or a panic, is recorded as StepCrashed.
type Action interface {
	Execute(ctx context.Context, inputs Inputs, rc *RunContext) (Outputs, error)
}

// ActionFunc adapts a function over the concrete input and output types of a
// kind to Action.
type ActionFunc[I Inputs, O Outputs] func(ctx context.Context, inputs I, rc *RunContext) (O, error)

// Execute implements Action.
func (f ActionFunc[I, O]) Execute(ctx context.Context, inputs Inputs, rc *RunContext) (Outputs, error) {
	typed, ok := inputs.(I)
	if !ok {
		return nil, fmt.Errorf("action for %T received %T", *new(I), inputs)
	}
	out, err := f(ctx, typed, rc)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Actions maps kinds to implementations. Registration happens at startup;
// lookups afterwards are concurrent reads.
type Actions struct {
	mu     sync.RWMutex
	byKind map[StepID]Action
}

// NewActions creates an empty action set.
func NewActions() *Actions {
	return &Actions{byKind: make(map[StepID]Action)}
}

// Register binds fn to the kind of I. The output type must be the one the
// kind declares.
func Register[I Inputs, O Outputs](a *Actions, fn ActionFunc[I, O]) error {
	var zeroIn I
	k, err := lookupKind(zeroIn.Kind())
	if err != nil {
		return err
	}
	var zeroOut O
	if !k.ownsOutputs(zeroOut) {
		want, _ := k.decodeOutputs(nil)
		return fmt.Errorf("action for %s must return %T, not %T", k.id, want, zeroOut)
	}
	a.Set(k.id, fn)
	return nil
}

// MustRegister is Register that panics on a mismatched output type.
func MustRegister[I Inputs, O Outputs](a *Actions, fn ActionFunc[I, O]) {
	if err := Register(a, fn); err != nil {
		panic(err)
	}
}

// Set binds an untyped action to a kind.
func (a *Actions) Set(id StepID, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byKind[id] = action
}

// Get returns the action bound to id.
func (a *Actions) Get(id StepID) (Action, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	act, ok := a.byKind[id]
	return act, ok
}

// Kinds lists the kinds with a bound action.
func (a *Actions) Kinds() []StepID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]StepID, 0, len(a.byKind))
	for id := range a.byKind {
		out = append(out, id)
	}
	return out
}
