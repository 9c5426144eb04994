package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/autoflow/internal/log"
)

const (
	branchTakenStatus   = "branch taken"
	branchNoMatchStatus = "No branch condition met"
)

// branch evaluates the groups in declared order and walks the children of
// the first group whose condition holds.
func (w *walker) branch(ctx context.Context, step Step, pos int, path string) bool {
	e := w.engine
	rc := w.rc
	start := time.Now()
	logger := log.WithStepContext(rc.logger, step.ID, string(StepBranch))

	outcome := StepOutcome{
		StepID:   step.ID,
		Kind:     StepBranch,
		Position: pos,
		Path:     path,
		Attempts: 1,
	}

	in, _ := step.Inputs.(BranchInputs)
	chosen, serr := e.chooseBranch(ctx, rc, step.ID, in.Branches)
	outcome.Duration = time.Since(start)
	if serr != nil {
		outcome.Status = StepFailure
		outcome.Error = serr
		w.record(ctx, outcome)
		logger.Warn("branch evaluation failed", log.Error(serr))
		return w.fail(StopFailure)
	}

	if chosen == nil {
		out := BranchOutputs{Status: branchNoMatchStatus}
		outcome.Outputs = out
		if e.opts.BranchNoMatch == BranchFallThrough {
			outcome.Status = StepSuccess
			rc.SetOutput(step.ID, out)
			w.record(ctx, outcome)
			logger.Info("no branch matched, continuing")
			return true
		}
		outcome.Status = StepStopped
		w.record(ctx, outcome)
		w.result.StopReason = StopBranchNoMatch
		logger.Info("no branch matched, stopping run")
		return false
	}

	out := BranchOutputs{
		BranchName: chosen.Name,
		BranchID:   chosen.ID,
		Status:     branchTakenStatus,
		Success:    true,
	}
	outcome.Status = StepSuccess
	outcome.Outputs = out
	rc.SetOutput(step.ID, out)
	w.record(ctx, outcome)
	rc.Emit(EventBranchTaken, step.ID, map[string]any{"branchId": chosen.ID, "branchName": chosen.Name})
	logger.Debug("branch taken", slog.String("branch_id", chosen.ID))

	return w.walk(ctx, in.Children[chosen.ID], path+"/branch:"+chosen.ID, false)
}

// chooseBranch returns the first branch whose condition holds, or nil.
func (e *Engine) chooseBranch(ctx context.Context, rc *RunContext, stepID string, branches []Branch) (*Branch, *StepError) {
	scope := rc.Scope()
	r := &resolver{ctx: ctx, scope: scope, stepID: stepID}

	for i := range branches {
		cond, err := resolveFilters(r, branches[i].Condition)
		if err != nil {
			return nil, classify(stepID, err)
		}
		ok, err := cond.Match(nil, e.conditions, scope)
		if err != nil {
			return nil, &StepError{Code: ErrInvalidInput, StepID: stepID, Message: err.Error(), Cause: err}
		}
		if ok {
			return &branches[i], nil
		}
	}
	return nil, nil
}

// resolveFilters substitutes bindings in each filter's field and value. The
// expression reads the scope directly and is left as written.
func resolveFilters(r *resolver, f SearchFilters) (SearchFilters, error) {
	out := f
	out.Groups = make([]FilterGroup, len(f.Groups))
	for gi, g := range f.Groups {
		group := g
		group.Filters = make([]SearchFilter, len(g.Filters))
		for fi, sf := range g.Filters {
			field, err := r.resolve(sf.Field)
			if err != nil {
				return SearchFilters{}, err
			}
			value, err := r.resolve(sf.Value)
			if err != nil {
				return SearchFilters{}, err
			}
			group.Filters[fi] = SearchFilter{Field: field, Operator: sf.Operator, Value: value}
		}
		out.Groups[gi] = group
	}
	return out, nil
}
