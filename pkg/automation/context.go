package automation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
)

// LoopState is the current item of the innermost loop.
type LoopState struct {
	CurrentItem any `json:"currentItem"`
	Index       int `json:"index"`
}

// RunContext is the state of one run: trigger outputs, step outputs, run
// variables and the emitter. A new context is created for every run and is
// never shared between runs.
type RunContext struct {
	runID        string
	automationID string
	depth        int
	logger       *slog.Logger
	emitter      *EventEmitter
	env          map[string]string

	mu        sync.RWMutex
	ctx       context.Context
	trigger   map[string]any
	outputs   map[string]Outputs
	positions map[int]string
	variables map[string]any
	loop      *LoopState
	collected any
}

// NewRunContext creates an empty context. The engine builds its own; this is
// exported for action tests.
func NewRunContext(runID, automationID string, trigger map[string]any) *RunContext {
	if trigger == nil {
		trigger = map[string]any{}
	}
	return &RunContext{
		runID:        runID,
		automationID: automationID,
		logger:       slog.Default(),
		ctx:          context.Background(),
		trigger:      trigger,
		outputs:      make(map[string]Outputs),
		positions:    make(map[int]string),
		variables:    make(map[string]any),
	}
}

func (c *RunContext) RunID() string        { return c.runID }
func (c *RunContext) AutomationID() string { return c.automationID }

// Depth is the nesting level of TRIGGER_AUTOMATION_RUN calls, 0 for a run
// started by a trigger.
func (c *RunContext) Depth() int { return c.depth }

// Logger returns a logger carrying the run fields.
func (c *RunContext) Logger() *slog.Logger { return c.logger }

// Trigger returns the trigger outputs the run was seeded with.
func (c *RunContext) Trigger() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trigger
}

// GetOutput returns the outputs recorded for a step id.
func (c *RunContext) GetOutput(stepID string) (Outputs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[stepID]
	return out, ok
}

// SetOutput records the outputs of a step. The engine calls it only after a
// step succeeded.
func (c *RunContext) SetOutput(stepID string, out Outputs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = out
}

func (c *RunContext) GetVariable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

func (c *RunContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Loop returns the innermost loop item, if a loop is running.
func (c *RunContext) Loop() (LoopState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loop == nil {
		return LoopState{}, false
	}
	return *c.loop, true
}

// Collected returns the value recorded by the last COLLECT step.
func (c *RunContext) Collected() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collected
}

// Emit publishes a progress event for this run without waiting for
// listeners.
func (c *RunContext) Emit(eventType EventType, stepID string, data map[string]any) {
	c.emitter.Emit(c.ctx, &Event{
		Type:         eventType,
		RunID:        c.runID,
		AutomationID: c.automationID,
		StepID:       stepID,
		Data:         data,
	})
}

func (c *RunContext) bindPosition(pos int, stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[pos] = stepID
}

func (c *RunContext) setLoop(state *LoopState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = state
}

func (c *RunContext) setCollected(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected = v
}

// Scope returns the bindings namespace:
//
//	trigger      trigger outputs
//	steps        outputs by position, "0" is the trigger
//	stepsById    outputs by step id
//	vars         run variables
//	loop         current loop item and index
//	env          environment values exposed to the engine
func (c *RunContext) Scope() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID := make(map[string]any, len(c.outputs))
	for id, out := range c.outputs {
		byID[id] = toMap(out)
	}
	byPos := map[string]any{"0": c.trigger}
	for pos, id := range c.positions {
		if v, ok := byID[id]; ok {
			byPos[strconv.Itoa(pos)] = v
		}
	}
	vars := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	env := make(map[string]any, len(c.env))
	for k, v := range c.env {
		env[k] = v
	}

	scope := map[string]any{
		"trigger":   c.trigger,
		"steps":     byPos,
		"stepsById": byID,
		"vars":      vars,
		"env":       env,
	}
	if c.loop != nil {
		scope["loop"] = map[string]any{
			"currentItem": c.loop.CurrentItem,
			"index":       c.loop.Index,
		}
	}
	return scope
}

// toMap converts a typed value to its JSON object form.
func toMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
