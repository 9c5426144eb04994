package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/automation/expression"
	"github.com/tombee/autoflow/pkg/errors"
)

const tracerName = "github.com/tombee/autoflow/pkg/automation"

// Engine dispatches the steps of an automation. An Engine holds no run
// state; every call to Run builds its own RunContext, so one Engine serves
// any number of concurrent runs.
type Engine struct {
	registry   *Registry
	actions    *Actions
	core       map[StepID]Action
	opts       Options
	observer   Observer
	loader     Loader
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    Metrics
	emitter    *EventEmitter
	conditions *expression.Evaluator
}

// NewEngine creates an engine over the given action set. FILTER and DELAY
// are built in; TRIGGER_AUTOMATION_RUN is built in when a Loader is set.
func NewEngine(actions *Actions, opts ...Option) *Engine {
	e := &Engine{
		registry:   DefaultRegistry(),
		actions:    actions,
		opts:       DefaultOptions(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		metrics:    noopMetrics{},
		conditions: expression.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.actions == nil {
		e.actions = NewActions()
	}
	if e.emitter == nil {
		e.emitter = NewEventEmitter(e.logger)
	}
	if e.opts.MaxLoopIterations <= 0 {
		e.opts.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if e.opts.MaxTriggerDepth <= 0 {
		e.opts.MaxTriggerDepth = DefaultMaxTriggerDepth
	}
	if e.opts.BranchNoMatch == "" {
		e.opts.BranchNoMatch = BranchTerminate
	}
	if e.opts.LoopFailure == "" {
		e.opts.LoopFailure = LoopFailFast
	}

	e.core = map[StepID]Action{
		StepFilter: ActionFunc[FilterInputs, FilterOutputs](e.runFilter),
		StepDelay:  ActionFunc[DelayInputs, DelayOutputs](e.runDelay),
	}
	if e.loader != nil {
		e.core[StepTriggerAutomationRun] = ActionFunc[TriggerAutomationRunInputs, TriggerAutomationRunOutputs](e.triggerAutomationRun)
	}
	return e
}

// Emitter returns the emitter every run publishes to.
func (e *Engine) Emitter() *EventEmitter { return e.emitter }

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) action(id StepID) (Action, bool) {
	if a, ok := e.core[id]; ok {
		return a, true
	}
	return e.actions.Get(id)
}

// Run executes a to completion and returns its result. The error is non-nil
// only when the run could not start: a nil or disabled automation, a
// validation failure, or a payload that does not fit the trigger. Step
// failures are reported in the result.
func (e *Engine) Run(ctx context.Context, a *Automation, payload map[string]any, opts ...RunOption) (*RunResult, error) {
	if a == nil {
		return nil, &errors.ValidationError{Field: "automation", Message: "automation is required"}
	}
	if a.Disabled {
		return nil, &errors.ValidationError{
			Field:   "disabled",
			Message: fmt.Sprintf("automation %q is disabled", a.ID),
		}
	}

	warnings, err := e.Validate(a)
	if err != nil {
		return nil, err
	}

	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	trigger, err := seedTrigger(a.Trigger, payload)
	if err != nil {
		return nil, err
	}

	logger := log.WithRunContext(e.logger, cfg.runID, a.ID)
	for _, w := range warnings {
		logger.Warn(w.Message, slog.String(log.StepIDKey, w.StepID))
	}

	ctx, span := e.tracer.Start(ctx, "automation.run", trace.WithAttributes(
		attribute.String("automation.id", a.ID),
		attribute.String("run.id", cfg.runID),
		attribute.String("trigger.kind", string(a.Trigger.StepID)),
		attribute.Int("run.depth", cfg.depth),
	))
	defer span.End()

	rc := NewRunContext(cfg.runID, a.ID, trigger)
	rc.depth = cfg.depth
	rc.logger = logger
	rc.emitter = e.emitter
	rc.env = e.opts.Env
	rc.ctx = ctx

	result := &RunResult{
		RunID:          cfg.runID,
		AutomationID:   a.ID,
		Status:         RunSuccess,
		TriggerOutputs: trigger,
		StartedAt:      time.Now(),
	}

	if o, ok := e.observer.(RunStartObserver); ok {
		o.OnRunStarted(ctx, cfg.runID, a, trigger)
	}
	rc.Emit(EventRunStarted, "", map[string]any{"trigger": string(a.Trigger.StepID)})
	logger.Info("run started", slog.String("trigger", string(a.Trigger.StepID)), slog.Int("steps", len(a.Steps)))

	w := &walker{engine: e, rc: rc, result: result}
	w.walk(ctx, a.Steps, "", true)

	result.Collected = rc.Collected()
	result.CompletedAt = time.Now()

	span.SetAttributes(attribute.String("run.status", string(result.Status)))
	if result.Status == RunFailed {
		span.SetStatus(codes.Error, string(result.StopReason))
	}
	e.metrics.RunCompleted(a.ID, result.Status, result.Duration())

	done := context.WithoutCancel(ctx)
	if e.observer != nil {
		e.observer.OnRunCompleted(done, cfg.runID, result)
	}
	rc.Emit(EventRunCompleted, "", map[string]any{
		"status":     string(result.Status),
		"stopReason": string(result.StopReason),
	})
	logger.Info("run completed",
		slog.String("status", string(result.Status)),
		slog.String("stop_reason", string(result.StopReason)),
		log.DurationMs(result.Duration().Milliseconds()),
	)
	return result, nil
}

// seedTrigger checks payload against the trigger's output shape and returns
// the map exposed as the trigger binding. Keys the shape does not declare
// are kept.
func seedTrigger(t Trigger, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &StepError{Code: ErrInvalidInput, StepID: t.ID, Message: "trigger payload is not JSON", Cause: err}
	}
	out, err := DecodeOutputs(t.StepID, data)
	if err != nil {
		return nil, &StepError{
			Code:    ErrInvalidInput,
			StepID:  t.ID,
			Message: fmt.Sprintf("payload does not match %s outputs", t.StepID),
			Cause:   err,
		}
	}
	if cron, ok := out.(CronTriggerOutputs); ok && cron.Timestamp == 0 {
		cron.Timestamp = time.Now().UnixMilli()
		out = cron
	}

	seeded := toMap(out)
	if seeded == nil {
		seeded = map[string]any{}
	}
	for k, v := range payload {
		if _, ok := seeded[k]; !ok {
			seeded[k] = v
		}
	}
	return seeded, nil
}

// walker carries the state of one Run through nested step lists.
type walker struct {
	engine *Engine
	rc     *RunContext
	result *RunResult
}

// walk dispatches steps in order and reports whether the run may continue.
// Top-level steps are bound to their 1-based position for steps.N bindings.
func (w *walker) walk(ctx context.Context, steps []Step, prefix string, top bool) bool {
	for i := 0; i < len(steps); i++ {
		step := steps[i]
		pos := i + 1
		path := joinPath(prefix, fmt.Sprint(pos))

		if ctx.Err() != nil {
			w.result.Status = RunFailed
			w.result.StopReason = StopCancelled
			w.rc.logger.Warn("run cancelled", slog.String(log.StepIDKey, step.ID))
			return false
		}
		if top {
			w.rc.bindPosition(pos, step.ID)
		}

		switch {
		case IsLoopStep(step):
			// Validation guarantees the loop has a following step.
			target := steps[i+1]
			if top {
				w.rc.bindPosition(pos+1, target.ID)
			}
			i++
			if !w.loop(ctx, step, target, pos, path) {
				return false
			}
		case IsBranchStep(step):
			if !w.branch(ctx, step, pos, path) {
				return false
			}
		default:
			if !w.step(ctx, step, pos, path) {
				return false
			}
		}
	}
	return true
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

func (w *walker) step(ctx context.Context, step Step, pos int, path string) bool {
	outcome := w.engine.dispatch(ctx, w.rc, step)
	outcome.Position = pos
	outcome.Path = path

	if outcome.Status == StepSuccess && IsFilterStep(step) {
		if out, ok := outcome.Outputs.(FilterOutputs); ok && !out.Result {
			outcome.Status = StepStopped
			w.record(ctx, outcome)
			w.result.StopReason = StopFilter
			w.rc.logger.Info("filter did not pass, stopping run", slog.String(log.StepIDKey, step.ID))
			return false
		}
	}

	w.record(ctx, outcome)
	if outcome.Status == StepFailure {
		return w.fail(StopFailure)
	}
	return true
}

// record appends an outcome and reports it to the metrics and the observer.
func (w *walker) record(ctx context.Context, outcome StepOutcome) {
	w.result.Steps = append(w.result.Steps, outcome)
	w.engine.metrics.StepCompleted(outcome.Kind, outcome.Status, outcome.Duration)
	if w.engine.observer != nil {
		w.engine.observer.OnStepCompleted(context.WithoutCancel(ctx), w.rc.runID, outcome)
	}
}

// fail marks a step failure and reports whether the run continues.
func (w *walker) fail(reason StopReason) bool {
	if w.engine.opts.StopOnFailure {
		w.result.Status = RunFailed
		w.result.StopReason = reason
		return false
	}
	w.result.Status = RunPartial
	return true
}

// dispatch runs one step and stores its outputs on success.
func (e *Engine) dispatch(ctx context.Context, rc *RunContext, step Step) StepOutcome {
	start := time.Now()
	logger := log.WithStepContext(rc.logger, step.ID, string(step.StepID))

	ctx, span := e.tracer.Start(ctx, "automation.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.kind", string(step.StepID)),
	))
	defer span.End()

	rc.Emit(EventStepStarted, step.ID, map[string]any{"kind": string(step.StepID)})
	logger.Debug("step started")

	out, attempts, serr := e.execute(ctx, rc, step)
	outcome := StepOutcome{
		StepID:   step.ID,
		Kind:     step.StepID,
		Attempts: attempts,
		Duration: time.Since(start),
	}

	if serr != nil {
		outcome.Status = StepFailure
		outcome.Error = serr
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Message)
		logger.Warn("step failed",
			slog.String("code", string(serr.Code)),
			log.Error(serr),
			slog.Int("attempts", attempts),
			log.DurationMs(outcome.Duration.Milliseconds()),
		)
		rc.Emit(EventStepFailed, step.ID, map[string]any{
			"code":    string(serr.Code),
			"message": serr.Message,
		})
		return outcome
	}

	outcome.Status = StepSuccess
	outcome.Outputs = out
	rc.SetOutput(step.ID, out)
	if collected, ok := out.(CollectOutputs); ok {
		rc.setCollected(collected.Value)
	}
	logger.Debug("step completed", slog.Int("attempts", attempts), log.DurationMs(outcome.Duration.Milliseconds()))
	rc.Emit(EventStepCompleted, step.ID, map[string]any{"kind": string(step.StepID)})
	return outcome
}

// execute checks availability, resolves inputs and invokes the action with
// the step's retry policy. It returns the number of attempts made.
func (e *Engine) execute(ctx context.Context, rc *RunContext, step Step) (Outputs, int, *StepError) {
	def, err := e.registry.Lookup(step.StepID)
	if err != nil {
		return nil, 0, classify(step.ID, err)
	}
	if err := e.opts.Capabilities.Allows(def); err != nil {
		return nil, 0, classify(step.ID, err)
	}
	action, ok := e.action(step.StepID)
	if !ok {
		return nil, 0, newStepError(ErrStepUnavailable, step.ID, "no action registered for %s", step.StepID)
	}

	inputs, serr := e.prepareInputs(ctx, rc, step, def)
	if serr != nil {
		return nil, 0, serr
	}

	maxAttempts := 1
	var backoff time.Duration
	multiplier := 1.0
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 1 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = time.Duration(step.Retry.BackoffMs) * time.Millisecond
		if step.Retry.Multiplier > 1 {
			multiplier = step.Retry.Multiplier
		}
	}

	for attempt := 1; ; attempt++ {
		out, serr := e.invoke(ctx, rc, step, action, inputs)
		if serr == nil {
			return out, attempt, nil
		}
		if attempt >= maxAttempts || !serr.IsRetryable() || ctx.Err() != nil {
			return nil, attempt, serr
		}

		rc.logger.Info("retrying step",
			slog.String(log.StepIDKey, step.ID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			log.Error(serr),
		)
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt, serr
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * multiplier)
		}
	}
}

// prepareInputs resolves bindings, checks required fields and decodes the
// result into the kind's input type.
func (e *Engine) prepareInputs(ctx context.Context, rc *RunContext, step Step, def *StepDefinition) (Inputs, *StepError) {
	raw := toMap(step.Inputs)
	if raw == nil {
		raw = map[string]any{}
	}

	r := &resolver{ctx: ctx, scope: rc.Scope(), stepID: step.ID}
	resolved, err := r.resolve(raw)
	if err != nil {
		return nil, classify(step.ID, err)
	}
	fields, _ := resolved.(map[string]any)

	for _, name := range def.Schema.Inputs.Required {
		if isMissing(fields[name]) {
			return nil, newStepError(ErrInvalidInput, step.ID, "required input %q is missing", name)
		}
	}

	// A binding resolves to the native type of what it points at; string
	// properties take its text form.
	for name, prop := range def.Schema.Inputs.Properties {
		if prop.Type != TypeString {
			continue
		}
		switch v := fields[name].(type) {
		case float64, int, int64, bool, json.Number:
			fields[name] = stringify(v)
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &StepError{Code: ErrInvalidInput, StepID: step.ID, Message: "inputs are not JSON", Cause: err}
	}
	inputs, err := DecodeInputs(step.StepID, data)
	if err != nil {
		return nil, &StepError{
			Code:    ErrInvalidInput,
			StepID:  step.ID,
			Message: fmt.Sprintf("inputs do not match %s: %v", step.StepID, err),
			Cause:   err,
		}
	}
	return inputs, nil
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

// invoke calls the action once. The action sees a context bounded by the
// step timeout. An expired step is reported as a timeout, but invoke only
// returns once the action has, so no retry or later step overlaps with it.
func (e *Engine) invoke(ctx context.Context, rc *RunContext, step Step, action Action, inputs Inputs) (Outputs, *StepError) {
	timeout := e.opts.StepTimeout
	if step.TimeoutMs > 0 {
		timeout = time.Duration(step.TimeoutMs) * time.Millisecond
	}

	callCtx := ctx
	var expired <-chan time.Time
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	type result struct {
		out Outputs
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: newStepError(ErrStepCrashed, step.ID, "action panicked: %v", r)}
			}
		}()
		out, err := action.Execute(callCtx, inputs, rc)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-expired:
		<-done
		rc.logger.Warn("action returned after step timeout",
			slog.String(log.StepIDKey, step.ID),
			slog.Duration("timeout", timeout),
		)
		return nil, &StepError{
			Code:    ErrTimeout,
			StepID:  step.ID,
			Message: fmt.Sprintf("step did not finish within %s", timeout),
			Cause:   context.DeadlineExceeded,
		}
	}

	if res.err != nil {
		return nil, classify(step.ID, res.err)
	}
	k, err := lookupKind(step.StepID)
	if err != nil {
		return nil, classify(step.ID, err)
	}
	if res.out == nil || !k.ownsOutputs(res.out) {
		return nil, newStepError(ErrStepCrashed, step.ID, "action returned %T, not the outputs of %s", res.out, step.StepID)
	}
	return res.out, nil
}

// classify maps an action error onto the step error taxonomy.
func classify(stepID string, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		if se.StepID == "" {
			copied := *se
			copied.StepID = stepID
			return &copied
		}
		return se
	}
	var failure *ActionFailure
	if errors.As(err, &failure) {
		return &StepError{
			Code:    ErrActionFailure,
			StepID:  stepID,
			Message: failure.Message,
			Status:  failure.Status,
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StepError{Code: ErrTimeout, StepID: stepID, Message: err.Error(), Cause: err}
	}
	return &StepError{Code: ErrStepCrashed, StepID: stepID, Message: err.Error(), Cause: err}
}
