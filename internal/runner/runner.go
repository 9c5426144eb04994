// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runner executes automation runs in the background with bounded
// concurrency. Trigger ingress hands runs to StartRun and returns
// immediately; synchronous callers such as app actions use RunSync.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// DefaultMaxConcurrentRuns is used when Config leaves the limit unset.
const DefaultMaxConcurrentRuns = 10

// ErrDraining is returned by StartRun and RunSync once shutdown has begun.
var ErrDraining = errors.New("runner is draining, not accepting new runs")

// Metrics tracks queue depth and active runs. *tracing.Metrics implements
// it.
type Metrics interface {
	Queued()
	Dequeued()
	RunStarted()
	RunFinished()
}

type noopMetrics struct{}

func (noopMetrics) Queued()      {}
func (noopMetrics) Dequeued()    {}
func (noopMetrics) RunStarted()  {}
func (noopMetrics) RunFinished() {}

// Config configures a Runner.
type Config struct {
	MaxConcurrentRuns int
	Logger            *slog.Logger
	Metrics           Metrics

	// OnComplete is called after every background run, with the result or
	// the error that kept the run from starting.
	OnComplete func(runID string, result *automation.RunResult, err error)
}

// Runner schedules runs on an engine.
type Runner struct {
	engine     *automation.Engine
	logger     *slog.Logger
	metrics    Metrics
	onComplete func(string, *automation.RunResult, error)

	sem      chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool
	active   atomic.Int64

	base     context.Context
	stopBase context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a runner for engine.
func New(engine *automation.Engine, cfg Config) *Runner {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		engine:     engine,
		logger:     log.WithComponent(cfg.Logger, "runner"),
		metrics:    cfg.Metrics,
		onComplete: cfg.OnComplete,
		sem:        make(chan struct{}, cfg.MaxConcurrentRuns),
		base:       base,
		stopBase:   stop,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// StartRun validates a and starts a run in the background. It returns the
// run id without waiting for a slot. Runs outlive ctx; use Cancel or Stop
// to end them.
func (r *Runner) StartRun(ctx context.Context, a *automation.Automation, payload map[string]any) (string, error) {
	if err := r.admit(a); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(r.base)
	r.track(runID, cancel)

	r.metrics.Queued()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(runID)
		res, err := r.execute(runCtx, runID, a, payload)
		if r.onComplete != nil {
			r.onComplete(runID, res, err)
		}
	}()

	r.logger.Debug("run queued",
		slog.String(log.RunIDKey, runID),
		slog.String(log.AutomationIDKey, a.ID))
	return runID, nil
}

// RunSync runs a and waits for the result. Cancelling ctx cancels the run.
func (r *Runner) RunSync(ctx context.Context, a *automation.Automation, payload map[string]any) (*automation.RunResult, error) {
	if err := r.admit(a); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.base, cancel)
	defer stop()
	r.track(runID, cancel)
	defer r.untrack(runID)

	r.metrics.Queued()
	r.wg.Add(1)
	defer r.wg.Done()
	return r.execute(runCtx, runID, a, payload)
}

// admit rejects runs that must never start.
func (r *Runner) admit(a *automation.Automation) error {
	if r.draining.Load() {
		return ErrDraining
	}
	if a == nil {
		return &errors.ValidationError{Field: "automation", Message: "automation is required"}
	}
	if a.Disabled {
		return &errors.ValidationError{
			Field:      "disabled",
			Message:    fmt.Sprintf("automation %q is disabled", a.ID),
			Suggestion: "enable the automation before starting runs",
		}
	}
	if _, err := r.engine.Validate(a); err != nil {
		return err
	}
	return nil
}

// execute waits for a slot and runs. The caller has already counted the run
// as queued.
func (r *Runner) execute(ctx context.Context, runID string, a *automation.Automation, payload map[string]any) (*automation.RunResult, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.metrics.Dequeued()
		return nil, errors.Wrap(ctx.Err(), "waiting for a run slot")
	}
	defer func() { <-r.sem }()

	r.metrics.Dequeued()
	r.metrics.RunStarted()
	r.active.Add(1)
	defer func() {
		r.active.Add(-1)
		r.metrics.RunFinished()
	}()

	logger := log.WithRunContext(r.logger, runID, a.ID)
	start := time.Now()
	res, err := r.engine.Run(ctx, a, payload, automation.WithRunID(runID))
	if err != nil {
		logger.Error("run did not start", log.Error(err))
		return nil, err
	}
	logger.Info("run finished",
		slog.String("status", string(res.Status)),
		slog.String("stop_reason", string(res.StopReason)),
		log.DurationMs(time.Since(start).Milliseconds()))
	return res, nil
}

func (r *Runner) track(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(runID string) {
	r.mu.Lock()
	if cancel, ok := r.cancels[runID]; ok {
		cancel()
		delete(r.cancels, runID)
	}
	r.mu.Unlock()
}

// Cancel stops a queued or running run.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return &errors.NotFoundError{Resource: "run", ID: runID}
	}
	cancel()
	return nil
}

// ActiveRunCount returns the number of runs holding a slot.
func (r *Runner) ActiveRunCount() int {
	return int(r.active.Load())
}

// PendingRunCount returns queued and running runs.
func (r *Runner) PendingRunCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// StartDraining stops the runner from accepting new runs.
func (r *Runner) StartDraining() {
	r.draining.Store(true)
}

// IsDraining returns true if the runner is in draining mode.
func (r *Runner) IsDraining() bool {
	return r.draining.Load()
}

// WaitForDrain waits for queued and running runs to finish, up to timeout.
func (r *Runner) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)
	for {
		if r.PendingRunCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			if remaining := r.PendingRunCount(); remaining > 0 {
				return fmt.Errorf("drain timeout: %d run(s) still pending", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels every run and waits for their goroutines to exit.
func (r *Runner) Stop(ctx context.Context) error {
	r.draining.Store(true)
	r.stopBase()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %d run(s) still running after cancellation", r.ActiveRunCount())
	}
}
