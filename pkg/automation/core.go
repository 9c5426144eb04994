package automation

import (
	"context"
	"fmt"
	"math"
	"time"
)

// runFilter compares the resolved field and value. A false result is not a
// failure; the walker turns it into a successful early stop.
func (e *Engine) runFilter(_ context.Context, in FilterInputs, _ *RunContext) (FilterOutputs, error) {
	ok, err := CompareFilter(in.Field, in.Condition, in.Value)
	if err != nil {
		return FilterOutputs{}, &StepError{Code: ErrInvalidInput, Message: err.Error(), Cause: err}
	}
	return FilterOutputs{
		Success:         true,
		Result:          ok,
		RefValue:        in.Field,
		ComparisonValue: in.Value,
	}, nil
}

// maxDelayMs is the longest delay a time.Duration can hold.
const maxDelayMs = float64(math.MaxInt64 / int64(time.Millisecond))

// runDelay pauses for in.Time milliseconds.
func (e *Engine) runDelay(ctx context.Context, in DelayInputs, _ *RunContext) (DelayOutputs, error) {
	ms, ok := asNumber(in.Time)
	if !ok || math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return DelayOutputs{}, &StepError{
			Code:    ErrInvalidInput,
			Message: fmt.Sprintf("delay time must be a non-negative number of milliseconds, got %v", in.Time),
		}
	}
	if ms > maxDelayMs {
		return DelayOutputs{}, &StepError{
			Code:    ErrInvalidInput,
			Message: fmt.Sprintf("delay time %v ms exceeds the maximum of %d ms", in.Time, int64(maxDelayMs)),
		}
	}

	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return DelayOutputs{}, Failf("delay interrupted: %v", ctx.Err())
	case <-timer.C:
		return DelayOutputs{Success: true}, nil
	}
}

// triggerAutomationRun runs another automation as a nested run and returns
// the value it collected.
func (e *Engine) triggerAutomationRun(ctx context.Context, in TriggerAutomationRunInputs, rc *RunContext) (TriggerAutomationRunOutputs, error) {
	if in.Automation == nil || in.Automation.AutomationID == "" {
		return TriggerAutomationRunOutputs{}, &StepError{Code: ErrInvalidInput, Message: "automation id is required"}
	}
	id := in.Automation.AutomationID

	depth := rc.Depth() + 1
	if depth > e.opts.MaxTriggerDepth {
		return TriggerAutomationRunOutputs{}, Failf("automation %q not started: nesting depth %d exceeds %d", id, depth, e.opts.MaxTriggerDepth)
	}

	child, err := e.loader.LoadAutomation(ctx, id)
	if err != nil {
		return TriggerAutomationRunOutputs{}, Failf("load automation %q: %v", id, err)
	}

	if in.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	fields := in.Automation.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	result, err := e.Run(ctx, child, map[string]any{"fields": fields}, withDepth(depth))
	if err != nil {
		return TriggerAutomationRunOutputs{}, Failf("automation %q could not start: %v", id, err)
	}

	switch {
	case result.StopReason == StopCancelled && ctx.Err() != nil:
		return TriggerAutomationRunOutputs{}, Failf("automation %q timed out", id)
	case result.Status == RunFailed:
		return TriggerAutomationRunOutputs{}, Failf("automation %q failed: %s", id, result.StopReason)
	}
	return TriggerAutomationRunOutputs{
		Success: result.Status == RunSuccess,
		Value:   result.Collected,
	}, nil
}
