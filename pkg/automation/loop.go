package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/autoflow/internal/log"
)

// loop runs target once per item of the loop step's binding. The target is
// consumed by the loop and never dispatched on its own.
func (w *walker) loop(ctx context.Context, step, target Step, pos int, path string) bool {
	e := w.engine
	rc := w.rc
	start := time.Now()
	logger := log.WithStepContext(rc.logger, step.ID, string(StepLoop))

	outcome := StepOutcome{
		StepID:   step.ID,
		Kind:     StepLoop,
		Position: pos,
		Path:     path,
		Attempts: 1,
	}

	in, items, serr := e.loopItems(ctx, rc, step)
	if serr != nil {
		outcome.Status = StepFailure
		outcome.Error = serr
		outcome.Duration = time.Since(start)
		w.record(ctx, outcome)
		return w.fail(StopFailure)
	}

	prev, hadPrev := rc.Loop()
	defer func() {
		if hadPrev {
			rc.setLoop(&prev)
		} else {
			rc.setLoop(nil)
		}
	}()

	out := LoopOutputs{Success: true, Items: []any{}}
	var failure *StepError
	cancelled := false

	for i, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if matchesFailure(item, in.Failure) {
			failure = newStepError(ErrActionFailure, step.ID, "item %d matched the loop failure value", i)
			outcome.Iterations = append(outcome.Iterations, IterationOutcome{
				Index:  i,
				Item:   item,
				Status: StepFailure,
				Error:  failure,
			})
			out.Success = false
			break
		}

		rc.setLoop(&LoopState{CurrentItem: item, Index: i})
		result, attempts, serr := e.execute(ctx, rc, target)
		outcome.Attempts = max(outcome.Attempts, attempts)

		iteration := IterationOutcome{Index: i, Item: item}
		if serr != nil {
			iteration.Status = StepFailure
			iteration.Error = serr
			out.Success = false
			outcome.Iterations = append(outcome.Iterations, iteration)
			rc.Emit(EventLoopIteration, step.ID, map[string]any{"index": i, "status": string(StepFailure)})
			logger.Warn("loop iteration failed", slog.Int("index", i), log.Error(serr))

			if e.opts.LoopFailure == LoopFailFast {
				failure = serr
				break
			}
			continue
		}

		iteration.Status = StepSuccess
		iteration.Outputs = result
		outcome.Iterations = append(outcome.Iterations, iteration)
		out.Items = append(out.Items, result)
		rc.Emit(EventLoopIteration, step.ID, map[string]any{"index": i, "status": string(StepSuccess)})
	}
	out.Iterations = len(outcome.Iterations)
	outcome.Duration = time.Since(start)

	if cancelled {
		outcome.Status = StepFailure
		outcome.Error = newStepError(ErrActionFailure, step.ID, "loop cancelled after %d iterations", out.Iterations)
		w.record(ctx, outcome)
		w.result.Status = RunFailed
		w.result.StopReason = StopCancelled
		return false
	}

	if failure != nil {
		outcome.Status = StepFailure
		outcome.Error = failure
		outcome.Outputs = out
		w.record(ctx, outcome)
		logger.Warn("loop failed", slog.Int("iterations", out.Iterations))
		return w.fail(StopLoopFailure)
	}

	outcome.Status = StepSuccess
	outcome.Outputs = out
	rc.SetOutput(step.ID, out)
	rc.SetOutput(target.ID, out)
	w.record(ctx, outcome)
	logger.Debug("loop completed", slog.Int("iterations", out.Iterations), slog.Bool("success", out.Success))

	if !out.Success && w.result.Status == RunSuccess {
		// Errors were collected; the run continues but is no longer clean.
		w.result.Status = RunPartial
	}
	return true
}

// loopItems resolves the loop inputs and splits the binding into items,
// capped by Iterations and the engine's MaxLoopIterations.
func (e *Engine) loopItems(ctx context.Context, rc *RunContext, step Step) (LoopInputs, []any, *StepError) {
	def, err := e.registry.Lookup(StepLoop)
	if err != nil {
		return LoopInputs{}, nil, classify(step.ID, err)
	}
	inputs, serr := e.prepareInputs(ctx, rc, step, def)
	if serr != nil {
		return LoopInputs{}, nil, serr
	}
	in := inputs.(LoopInputs)

	var items []any
	switch in.Option {
	case LoopString:
		text, ok := in.Binding.(string)
		if !ok {
			text = stringify(in.Binding)
		}
		for _, part := range strings.Split(text, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case LoopArray, "":
		items, err = arrayItems(in.Binding)
		if err != nil {
			return in, nil, &StepError{Code: ErrInvalidInput, StepID: step.ID, Message: err.Error(), Cause: err}
		}
	default:
		return in, nil, newStepError(ErrInvalidInput, step.ID, "unknown loop option %q", in.Option)
	}

	limit := e.opts.MaxLoopIterations
	if in.Iterations != nil && *in.Iterations >= 0 && *in.Iterations < limit {
		limit = *in.Iterations
	}
	if len(items) > limit {
		if in.Iterations == nil || *in.Iterations > limit {
			rc.logger.Warn("loop truncated",
				slog.String(log.StepIDKey, step.ID),
				slog.Int("items", len(items)),
				slog.Int("limit", limit))
		}
		items = items[:limit]
	}
	return in, items, nil
}

// arrayItems accepts a list or the JSON text of one.
func arrayItems(binding any) ([]any, error) {
	switch b := binding.(type) {
	case []any:
		return b, nil
	case string:
		var items []any
		if err := json.Unmarshal([]byte(b), &items); err != nil {
			return nil, fmt.Errorf("loop binding is not an array: %w", err)
		}
		return items, nil
	case nil:
		return nil, fmt.Errorf("loop binding is empty")
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("loop binding is not an array: %w", err)
		}
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("loop binding is not an array: %T", binding)
		}
		return items, nil
	}
}

func matchesFailure(item, failure any) bool {
	if isMissing(failure) {
		return false
	}
	return looseEqual(flattenOperand(item), flattenOperand(failure))
}
