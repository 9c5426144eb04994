package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// BranchNoMatchPolicy decides what happens when no branch group passes.
type BranchNoMatchPolicy string

const (
	// BranchTerminate ends the run successfully. This is the default.
	BranchTerminate BranchNoMatchPolicy = "terminate"
	// BranchFallThrough continues with the step after the branch.
	BranchFallThrough BranchNoMatchPolicy = "fall_through"
)

// LoopFailurePolicy decides what happens when a loop iteration fails.
type LoopFailurePolicy string

const (
	// LoopFailFast stops at the first failed iteration. This is the default.
	LoopFailFast LoopFailurePolicy = "fail_fast"
	// LoopCollectErrors runs every iteration and records the failures.
	LoopCollectErrors LoopFailurePolicy = "collect_errors"
)

const (
	DefaultMaxLoopIterations = 1000
	DefaultMaxTriggerDepth   = 5
)

// Capabilities gate kinds that depend on the deployment.
type Capabilities struct {
	Hosting   Hosting
	AIEnabled bool
	// BashEnabled must also be set for EXECUTE_BASH on self-hosted installs.
	BashEnabled bool
}

// Allows returns a StepUnavailable error when def cannot run under c.
func (c Capabilities) Allows(def *StepDefinition) error {
	if def.Hosting != "" && def.Hosting != c.Hosting {
		return &StepError{
			Code:    ErrStepUnavailable,
			Message: fmt.Sprintf("%s is only available when hosting is %q", def.StepID, def.Hosting),
		}
	}
	if def.StepID == StepExecuteBash && !c.BashEnabled {
		return &StepError{Code: ErrStepUnavailable, Message: "bash steps are disabled"}
	}
	if def.HasFeature(FeatureAI) && !c.AIEnabled {
		return &StepError{Code: ErrStepUnavailable, Message: fmt.Sprintf("%s requires AI features to be enabled", def.StepID)}
	}
	return nil
}

// Observer receives outcomes for persistence. Calls happen on the run
// goroutine and should return quickly.
type Observer interface {
	OnStepCompleted(ctx context.Context, runID string, outcome StepOutcome)
	OnRunCompleted(ctx context.Context, runID string, result *RunResult)
}

// RunStartObserver is optionally implemented by an Observer that also wants
// to know when a run begins.
type RunStartObserver interface {
	OnRunStarted(ctx context.Context, runID string, a *Automation, trigger map[string]any)
}

// Loader fetches automations by id for TRIGGER_AUTOMATION_RUN.
type Loader interface {
	LoadAutomation(ctx context.Context, id string) (*Automation, error)
}

// Metrics records run and step measurements.
type Metrics interface {
	RunCompleted(automationID string, status RunStatus, d time.Duration)
	StepCompleted(kind StepID, status StepStatus, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RunCompleted(string, RunStatus, time.Duration)   {}
func (noopMetrics) StepCompleted(StepID, StepStatus, time.Duration) {}

// Options configures an Engine.
type Options struct {
	StopOnFailure     bool
	BranchNoMatch     BranchNoMatchPolicy
	LoopFailure       LoopFailurePolicy
	StepTimeout       time.Duration
	MaxLoopIterations int
	MaxTriggerDepth   int
	Capabilities      Capabilities
	Env               map[string]string
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		StopOnFailure:     true,
		BranchNoMatch:     BranchTerminate,
		LoopFailure:       LoopFailFast,
		MaxLoopIterations: DefaultMaxLoopIterations,
		MaxTriggerDepth:   DefaultMaxTriggerDepth,
		Capabilities:      Capabilities{Hosting: HostingCloud},
	}
}

// Option customises an Engine.
type Option func(*Engine)

func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o }
}

func WithStopOnFailure(stop bool) Option {
	return func(e *Engine) { e.opts.StopOnFailure = stop }
}

func WithBranchNoMatch(p BranchNoMatchPolicy) Option {
	return func(e *Engine) { e.opts.BranchNoMatch = p }
}

func WithLoopFailure(p LoopFailurePolicy) Option {
	return func(e *Engine) { e.opts.LoopFailure = p }
}

func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opts.StepTimeout = d }
}

func WithMaxLoopIterations(n int) Option {
	return func(e *Engine) { e.opts.MaxLoopIterations = n }
}

func WithMaxTriggerDepth(n int) Option {
	return func(e *Engine) { e.opts.MaxTriggerDepth = n }
}

func WithCapabilities(c Capabilities) Option {
	return func(e *Engine) { e.opts.Capabilities = c }
}

// WithEnv exposes values under the env binding namespace.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.opts.Env = env }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLoader(l Loader) Option {
	return func(e *Engine) { e.loader = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithEmitter shares an emitter between engines, e.g. to attach listeners
// once in a server.
func WithEmitter(em *EventEmitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// RunOption customises a single run.
type RunOption func(*runConfig)

type runConfig struct {
	runID string
	depth int
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

func withDepth(depth int) RunOption {
	return func(c *runConfig) { c.depth = depth }
}
