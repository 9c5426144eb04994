package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/errors"
)

// logRecorder is a SERVER_LOG action that remembers every text it logged.
type logRecorder struct {
	mu    sync.Mutex
	texts []string
	fail  func(text string) error
}

func (r *logRecorder) action(ctx context.Context, in ServerLogInputs, rc *RunContext) (ServerLogOutputs, error) {
	r.mu.Lock()
	r.texts = append(r.texts, in.Text)
	r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(in.Text); err != nil {
			return ServerLogOutputs{}, err
		}
	}
	return ServerLogOutputs{Success: true, Message: in.Text}, nil
}

func (r *logRecorder) logged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func newTestEngine(t *testing.T, rec *logRecorder, opts ...Option) *Engine {
	t.Helper()
	actions := NewActions()
	if rec != nil {
		MustRegister(actions, ActionFunc[ServerLogInputs, ServerLogOutputs](rec.action))
	}
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	return NewEngine(actions, opts...)
}

func logStep(id, text string) Step {
	return NewStep(id, ServerLogInputs{Text: text})
}

func webhookAutomation(steps ...Step) *Automation {
	return &Automation{
		ID:      "auto-1",
		Name:    "test",
		Trigger: NewTrigger("trigger", WebhookTriggerInputs{}),
		Steps:   steps,
	}
}

func body(fields map[string]any) map[string]any {
	return map[string]any{"body": fields}
}

func TestRun_LinearSteps(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	a := webhookAutomation(
		logStep("first", "hello"),
		logStep("second", "{{ steps.1.message }} {{ trigger.body.name }}"),
		logStep("third", "{{ stepsById.second.message }}!"),
	)

	res, err := e.Run(context.Background(), a, body(map[string]any{"name": "ada"}))
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, StopNone, res.StopReason)
	assert.Equal(t, []string{"hello", "hello ada", "hello ada!"}, rec.logged())
	require.Len(t, res.Steps, 3)
	for i, s := range res.Steps {
		assert.Equal(t, StepSuccess, s.Status)
		assert.Equal(t, i+1, s.Position)
		assert.Equal(t, 1, s.Attempts)
	}
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, map[string]any{"name": "ada"}, res.TriggerOutputs["body"])
}

func TestRun_TriggerIsPositionZero(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	res, err := e.Run(context.Background(), webhookAutomation(logStep("s", "{{ steps.0.body.id }}")), body(map[string]any{"id": "x1"}))
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, []string{"x1"}, rec.logged())
}

func TestRun_BindingStringifiesScalarsForStringInputs(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	res, err := e.Run(context.Background(), webhookAutomation(logStep("s", "{{ trigger.body.count }}")), body(map[string]any{"count": 3}))
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, []string{"3"}, rec.logged())
}

func TestRun_MissingReference(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	a := webhookAutomation(logStep("s1", "{{ steps.5.message }}"), logStep("s2", "never"))
	res, err := e.Run(context.Background(), a, nil)
	require.NoError(t, err)

	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, StopFailure, res.StopReason)
	require.Len(t, res.Steps, 1)
	require.NotNil(t, res.Steps[0].Error)
	assert.Equal(t, ErrMissingRef, res.Steps[0].Error.Code)
	assert.Equal(t, "s1", res.Steps[0].Error.StepID)
	assert.Empty(t, rec.logged())
}

func TestRun_RequiredInputMissing(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	res, err := e.Run(context.Background(), webhookAutomation(logStep("s1", "")), nil)
	require.NoError(t, err)

	require.Len(t, res.Steps, 1)
	assert.Equal(t, ErrInvalidInput, res.Steps[0].Error.Code)
	assert.Contains(t, res.Steps[0].Error.Message, `"text"`)
	assert.Empty(t, rec.logged())
}

func TestRun_FailedStepLeavesNoOutput(t *testing.T) {
	rec := &logRecorder{fail: func(text string) error {
		if text == "boom" {
			return Failf("refused")
		}
		return nil
	}}
	e := newTestEngine(t, rec, WithStopOnFailure(false))

	a := webhookAutomation(
		logStep("bad", "boom"),
		logStep("probe", "{{ stepsById.bad.message }}"),
		logStep("ok", "fine"),
	)
	res, err := e.Run(context.Background(), a, nil)
	require.NoError(t, err)

	assert.Equal(t, RunPartial, res.Status)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, ErrActionFailure, res.Steps[0].Error.Code)
	assert.Equal(t, ErrMissingRef, res.Steps[1].Error.Code)
	assert.Equal(t, StepSuccess, res.Steps[2].Status)
}

func TestRun_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		fail       func(string) error
		wantCode   ErrorCode
		wantStatus int
	}{
		{
			name:       "action failure keeps status",
			fail:       func(string) error { return &ActionFailure{Message: "bad gateway", Status: 502} },
			wantCode:   ErrActionFailure,
			wantStatus: 502,
		},
		{
			name:     "plain error is a crash",
			fail:     func(string) error { return fmt.Errorf("connection reset") },
			wantCode: ErrStepCrashed,
		},
		{
			name:     "panic is a crash",
			fail:     func(string) error { panic("nil map") },
			wantCode: ErrStepCrashed,
		},
		{
			name:     "step error passes through",
			fail:     func(string) error { return &StepError{Code: ErrInvalidInput, Message: "bad url"} },
			wantCode: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &logRecorder{fail: tt.fail})

			res, err := e.Run(context.Background(), webhookAutomation(logStep("s1", "x")), nil)
			require.NoError(t, err)

			assert.Equal(t, RunFailed, res.Status)
			require.Len(t, res.Steps, 1)
			serr := res.Steps[0].Error
			require.NotNil(t, serr)
			assert.Equal(t, tt.wantCode, serr.Code)
			assert.Equal(t, tt.wantStatus, serr.Status)
			assert.Equal(t, "s1", serr.StepID)
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	actions := NewActions()
	MustRegister(actions, ActionFunc[ServerLogInputs, ServerLogOutputs](
		func(ctx context.Context, in ServerLogInputs, rc *RunContext) (ServerLogOutputs, error) {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			return ServerLogOutputs{Success: true}, nil
		}))
	e := NewEngine(actions, WithLogger(log.Discard()))

	step := logStep("slow", "x")
	step.TimeoutMs = 20

	start := time.Now()
	res, err := e.Run(context.Background(), webhookAutomation(step), nil)
	require.NoError(t, err)

	// The run waits for the action to return before it ends.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, ErrTimeout, res.Steps[0].Error.Code)
}

func TestRun_TimedOutAttemptsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	actions := NewActions()
	MustRegister(actions, ActionFunc[ServerLogInputs, ServerLogOutputs](
		func(ctx context.Context, in ServerLogInputs, rc *RunContext) (ServerLogOutputs, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			calls.Add(1)
			if in.Text == "slow" {
				// Ignores ctx on purpose.
				time.Sleep(80 * time.Millisecond)
			}
			return ServerLogOutputs{Success: true, Message: in.Text}, nil
		}))
	e := NewEngine(actions, WithLogger(log.Discard()), WithStopOnFailure(false))

	slow := logStep("slow", "slow")
	slow.TimeoutMs = 20
	slow.Retry = &RetryPolicy{MaxAttempts: 3}

	res, err := e.Run(context.Background(), webhookAutomation(slow, logStep("next", "next")), nil)
	require.NoError(t, err)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, ErrTimeout, res.Steps[0].Error.Code)
	assert.Equal(t, 3, res.Steps[0].Attempts)
	assert.Equal(t, StepSuccess, res.Steps[1].Status)
	assert.EqualValues(t, 4, calls.Load())
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestRun_EngineStepTimeout(t *testing.T) {
	actions := NewActions()
	MustRegister(actions, ActionFunc[ServerLogInputs, ServerLogOutputs](
		func(ctx context.Context, in ServerLogInputs, rc *RunContext) (ServerLogOutputs, error) {
			<-ctx.Done()
			return ServerLogOutputs{}, ctx.Err()
		}))
	e := NewEngine(actions, WithLogger(log.Discard()), WithStepTimeout(10*time.Millisecond))

	res, err := e.Run(context.Background(), webhookAutomation(logStep("slow", "x")), nil)
	require.NoError(t, err)
	assert.Equal(t, ErrTimeout, res.Steps[0].Error.Code)
}

func TestRun_Retry(t *testing.T) {
	var calls atomic.Int32
	rec := &logRecorder{fail: func(string) error {
		if calls.Add(1) < 3 {
			return Failf("try again")
		}
		return nil
	}}
	e := newTestEngine(t, rec)

	step := logStep("flaky", "x")
	step.Retry = &RetryPolicy{MaxAttempts: 3, BackoffMs: 1, Multiplier: 2}

	res, err := e.Run(context.Background(), webhookAutomation(step), nil)
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, 3, res.Steps[0].Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_RetrySkipsCrashes(t *testing.T) {
	var calls atomic.Int32
	rec := &logRecorder{fail: func(string) error {
		calls.Add(1)
		return fmt.Errorf("unexpected")
	}}
	e := newTestEngine(t, rec)

	step := logStep("broken", "x")
	step.Retry = &RetryPolicy{MaxAttempts: 5}

	res, err := e.Run(context.Background(), webhookAutomation(step), nil)
	require.NoError(t, err)

	assert.Equal(t, ErrStepCrashed, res.Steps[0].Error.Code)
	assert.Equal(t, 1, res.Steps[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_IndependentContexts(t *testing.T) {
	var mu sync.Mutex
	var sawVariable []bool

	actions := NewActions()
	MustRegister(actions, ActionFunc[ServerLogInputs, ServerLogOutputs](
		func(ctx context.Context, in ServerLogInputs, rc *RunContext) (ServerLogOutputs, error) {
			_, had := rc.GetVariable("marker")
			_, hadOutput := rc.GetOutput("second")
			mu.Lock()
			sawVariable = append(sawVariable, had || hadOutput)
			mu.Unlock()
			rc.SetVariable("marker", rc.RunID())
			return ServerLogOutputs{Success: true, Message: in.Text}, nil
		}))
	e := NewEngine(actions, WithLogger(log.Discard()))

	a := webhookAutomation(
		logStep("first", "{{ trigger.body.n }}"),
		NewStep("wait", DelayInputs{Time: 5}),
		logStep("second", "done"),
	)
	payload := body(map[string]any{"n": "1"})

	results := make([]*RunResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Run(context.Background(), a, payload)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, RunSuccess, results[0].Status)
	assert.Equal(t, RunSuccess, results[1].Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sawVariable, 4)
	falses := 0
	for _, saw := range sawVariable {
		if !saw {
			falses++
		}
	}
	// Only the first step of each run starts from an empty context.
	assert.Equal(t, 2, falses)
}

func TestRun_Cancelled(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, webhookAutomation(logStep("s1", "x")), nil)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, StopCancelled, res.StopReason)
	assert.Empty(t, res.Steps)
	assert.Empty(t, rec.logged())
}

func TestRun_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &logRecorder{fail: func(text string) error {
		if text == "first" {
			cancel()
		}
		return nil
	}}
	e := newTestEngine(t, rec)

	res, err := e.Run(ctx, webhookAutomation(logStep("s1", "first"), logStep("s2", "second")), nil)
	require.NoError(t, err)

	// The in-flight step completes; the next one is never dispatched.
	assert.Equal(t, []string{"first"}, rec.logged())
	assert.Equal(t, StopCancelled, res.StopReason)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepSuccess, res.Steps[0].Status)
}

func TestRun_RejectsDisabledAndNil(t *testing.T) {
	e := newTestEngine(t, &logRecorder{})

	_, err := e.Run(context.Background(), nil, nil)
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)

	a := webhookAutomation(logStep("s", "x"))
	a.Disabled = true
	_, err = e.Run(context.Background(), a, nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "disabled", verr.Field)
}

func TestRun_PayloadMustFitTrigger(t *testing.T) {
	e := newTestEngine(t, &logRecorder{})

	_, err := e.Run(context.Background(), webhookAutomation(logStep("s", "x")), map[string]any{"body": "not an object"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidInput))
}

func TestRun_CronTimestampDefaulted(t *testing.T) {
	rec := &logRecorder{}
	e := newTestEngine(t, rec)

	a := &Automation{
		ID:      "cron",
		Trigger: NewTrigger("t", CronTriggerInputs{Cron: "* * * * *"}),
		Steps:   []Step{logStep("s", "{{ trigger.timestamp }}")},
	}
	res, err := e.Run(context.Background(), a, nil)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	require.Len(t, rec.logged(), 1)
	assert.NotEqual(t, "0", rec.logged()[0])
}

func TestRun_Capabilities(t *testing.T) {
	actions := NewActions()
	MustRegister(actions, ActionFunc[ExecuteBashInputs, ExecuteBashOutputs](
		func(ctx context.Context, in ExecuteBashInputs, rc *RunContext) (ExecuteBashOutputs, error) {
			return ExecuteBashOutputs{Success: true}, nil
		}))
	MustRegister(actions, ActionFunc[PromptLLMInputs, TextOutputs](
		func(ctx context.Context, in PromptLLMInputs, rc *RunContext) (TextOutputs, error) {
			return TextOutputs{Success: true, Response: "hi"}, nil
		}))

	bash := webhookAutomation(NewStep("bash", ExecuteBashInputs{Code: "echo hi"}))
	llm := webhookAutomation(NewStep("llm", PromptLLMInputs{Prompt: "say hi"}))

	tests := []struct {
		name string
		caps Capabilities
		a    *Automation
		want StepStatus
	}{
		{"bash on cloud", Capabilities{Hosting: HostingCloud, BashEnabled: true}, bash, StepFailure},
		{"bash self-hosted but disabled", Capabilities{Hosting: HostingSelf}, bash, StepFailure},
		{"bash self-hosted enabled", Capabilities{Hosting: HostingSelf, BashEnabled: true}, bash, StepSuccess},
		{"ai disabled", Capabilities{Hosting: HostingCloud}, llm, StepFailure},
		{"ai enabled", Capabilities{Hosting: HostingCloud, AIEnabled: true}, llm, StepSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(actions, WithLogger(log.Discard()), WithCapabilities(tt.caps))
			res, err := e.Run(context.Background(), tt.a, nil)
			require.NoError(t, err)
			require.Len(t, res.Steps, 1)
			assert.Equal(t, tt.want, res.Steps[0].Status)
			if tt.want == StepFailure {
				assert.Equal(t, ErrStepUnavailable, res.Steps[0].Error.Code)
			}
		})
	}
}

func TestRun_UnregisteredAction(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Run(context.Background(), webhookAutomation(NewStep("q", QueryRowsInputs{TableID: "t1"})), nil)
	require.NoError(t, err)
	assert.Equal(t, ErrStepUnavailable, res.Steps[0].Error.Code)
}

func TestRun_CollectSetsResult(t *testing.T) {
	actions := NewActions()
	MustRegister(actions, ActionFunc[CollectInputs, CollectOutputs](
		func(ctx context.Context, in CollectInputs, rc *RunContext) (CollectOutputs, error) {
			return CollectOutputs{Success: true, Value: in.Collection}, nil
		}))
	e := NewEngine(actions, WithLogger(log.Discard()))

	a := webhookAutomation(NewStep("c", CollectInputs{Collection: "{{ trigger.body }}"}))
	res, err := e.Run(context.Background(), a, body(map[string]any{"total": 12.0}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": 12.0}, res.Collected)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	steps    []string
	finished []RunStatus
}

func (o *recordingObserver) OnRunStarted(ctx context.Context, runID string, a *Automation, trigger map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, runID)
}

func (o *recordingObserver) OnStepCompleted(ctx context.Context, runID string, outcome StepOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, outcome.StepID)
}

func (o *recordingObserver) OnRunCompleted(ctx context.Context, runID string, result *RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, result.Status)
}

func TestRun_ObserverAndEvents(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, &logRecorder{}, WithObserver(obs))

	var mu sync.Mutex
	seen := map[EventType]int{}
	e.Emitter().OnAny(func(ctx context.Context, ev *Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.Type]++
		return nil
	})

	res, err := e.Run(context.Background(), webhookAutomation(logStep("a", "1"), logStep("b", "2")), nil, WithRunID("run-fixed"))
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", res.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Emitter().Wait(ctx))

	assert.Equal(t, []string{"run-fixed"}, obs.started)
	assert.Equal(t, []string{"a", "b"}, obs.steps)
	assert.Equal(t, []RunStatus{RunSuccess}, obs.finished)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[EventRunStarted])
	assert.Equal(t, 2, seen[EventStepStarted])
	assert.Equal(t, 2, seen[EventStepCompleted])
	assert.Equal(t, 1, seen[EventRunCompleted])
}

// sampleValue returns a non-empty value that decodes into a property of
// type t.
func sampleValue(t IOType) any {
	switch t {
	case TypeNumber:
		return 1
	case TypeBoolean:
		return true
	case TypeObject, TypeJSON:
		return map[string]any{"k": "v"}
	case TypeArray:
		return []any{map[string]any{"k": "v"}}
	default:
		return "x"
	}
}

func TestPrepareInputs_RequiredFieldsAreExactlyTheInvalidInputs(t *testing.T) {
	e := newTestEngine(t, nil)
	rc := NewRunContext("run", "auto", nil)

	for _, def := range e.Registry().Actions() {
		t.Run(string(def.StepID), func(t *testing.T) {
			full := map[string]any{}
			for _, name := range def.Schema.Inputs.Required {
				full[name] = sampleValue(def.Schema.Inputs.Properties[name].Type)
			}

			step := stepFromFields(t, def.StepID, full)
			_, serr := e.prepareInputs(context.Background(), rc, step, def)
			require.Nil(t, serr, "all required inputs present")

			for _, name := range def.Schema.Inputs.Required {
				partial := map[string]any{}
				for k, v := range full {
					if k != name {
						partial[k] = v
					}
				}
				step := stepFromFields(t, def.StepID, partial)
				_, serr := e.prepareInputs(context.Background(), rc, step, def)
				require.NotNil(t, serr, "missing %s", name)
				assert.Equal(t, ErrInvalidInput, serr.Code, "missing %s", name)
			}
		})
	}
}

func stepFromFields(t *testing.T, id StepID, fields map[string]any) Step {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	inputs, err := DecodeInputs(id, data)
	require.NoError(t, err)
	return Step{ID: "s", StepID: id, Inputs: inputs}
}
