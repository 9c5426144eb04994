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

// Package daemon hosts the long-running side of autoflow: the run queue, the
// cron scheduler, the row feed, the automations directory watcher and the
// HTTP ingress.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/autoflow/internal/loader"
	internallog "github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/runner"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/internal/triggers"
	"github.com/tombee/autoflow/pkg/automation"
)

// Store is what the daemon reads automations and rows from.
type Store interface {
	store.AutomationStore
	store.RowStore
}

// Config holds the daemon settings.
type Config struct {
	Addr            string
	WebhookSecret   string
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	// Watch reloads the automations directory when it changes.
	Watch bool

	MaxConcurrentRuns int
	Version           string
}

// Deps are the collaborators the daemon is built from.
type Deps struct {
	Engine *automation.Engine
	Store  Store

	// Loader is optional. Without it the daemon serves whatever the store
	// already holds.
	Loader *loader.Loader

	Metrics        runner.Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Daemon is the autoflow server.
type Daemon struct {
	cfg       Config
	logger    *slog.Logger
	store     Store
	loader    *loader.Loader
	runner    *runner.Runner
	scheduler *triggers.Scheduler
	feed      *triggers.RowFeed
	ingress   *triggers.HTTPHandler
	metrics   http.Handler

	server    *http.Server
	ln        net.Listener
	errCh     chan error
	stopWatch context.CancelFunc
	watchDone chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// New creates a daemon. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Daemon, error) {
	if deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("daemon needs an engine and a store")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = internallog.WithComponent(logger, "daemon")

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		store:   deps.Store,
		loader:  deps.Loader,
		metrics: deps.MetricsHandler,
		errCh:   make(chan error, 1),
		ctx:     context.Background(),
	}

	d.runner = runner.New(deps.Engine, runner.Config{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		Logger:            logger,
		Metrics:           deps.Metrics,
		OnComplete:        d.runCompleted,
	})
	d.scheduler = triggers.NewScheduler(deps.Store, d.runner, triggers.SchedulerConfig{Logger: logger})
	d.feed = triggers.NewRowFeed(deps.Store, deps.Store, d.runner, triggers.RowFeedConfig{Logger: logger})
	d.ingress = triggers.NewHTTPHandler(deps.Store, d.runner, deps.Store, triggers.HTTPConfig{
		Secret: cfg.WebhookSecret,
		Logger: logger,
	})
	return d, nil
}

// Start loads automations, starts the triggers and begins serving HTTP. It
// returns once the listener is bound. Serve failures arrive on Errors.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("daemon already started")
	}
	d.ctx = ctx

	if d.loader != nil {
		if _, err := d.loader.Load(ctx); err != nil {
			return fmt.Errorf("load automations: %w", err)
		}
	}

	ln, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Addr, err)
	}
	d.ln = ln

	if err := d.scheduler.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.feed.Start(ctx)

	if d.loader != nil && d.cfg.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		d.stopWatch = cancel
		d.watchDone = make(chan struct{})
		go func() {
			defer close(d.watchDone)
			if err := d.loader.Watch(watchCtx, loader.DefaultDebounce, d.reloaded); err != nil {
				d.logger.Error("automations watcher stopped", internallog.Error(err))
			}
		}()
	}

	d.server = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.errCh <- err
		}
	}()

	d.started = true
	d.logger.Info("daemon started",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", d.cfg.Version),
		slog.Int("cron_entries", len(d.scheduler.Entries())))
	return nil
}

// Addr is the bound listen address, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Errors reports fatal serve errors.
func (d *Daemon) Errors() <-chan error { return d.errCh }

// Runner exposes the run queue.
func (d *Daemon) Runner() *runner.Runner { return d.runner }

// Shutdown drains in-flight runs, stops the triggers and closes the server.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false

	d.logger.Info("graceful shutdown initiated",
		slog.Int("active_runs", d.runner.ActiveRunCount()),
		slog.Int("pending_runs", d.runner.PendingRunCount()))

	// New runs are refused with 503 from here on.
	d.runner.StartDraining()
	d.server.SetKeepAlivesEnabled(false)

	if d.stopWatch != nil {
		d.stopWatch()
		<-d.watchDone
	}
	d.feed.Stop()
	cronDone := d.scheduler.Stop()

	drainCtx, drainCancel := context.WithTimeout(ctx, d.cfg.DrainTimeout)
	defer drainCancel()
	if err := d.runner.WaitForDrain(drainCtx, d.cfg.DrainTimeout); err != nil {
		d.logger.Warn("drain timeout exceeded",
			slog.Int("remaining_runs", d.runner.PendingRunCount()),
			slog.Duration("drain_timeout", d.cfg.DrainTimeout))
	} else {
		d.logger.Info("all runs completed during drain")
	}

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
	}

	var errs []error
	shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := d.runner.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	d.logger.Info("daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) reloaded(report *loader.Report) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()

	if err := d.scheduler.Sync(ctx); err != nil {
		d.logger.Error("cron schedule not refreshed", internallog.Error(err))
		return
	}
	d.logger.Info("automations reloaded",
		slog.Int("loaded", len(report.Loaded)),
		slog.Int("removed", len(report.Removed)),
		slog.Int("failed", len(report.Failed)))
}

func (d *Daemon) runCompleted(runID string, res *automation.RunResult, err error) {
	logger := d.logger.With(slog.String(internallog.RunIDKey, runID))
	if err != nil {
		logger.Error("run did not complete", internallog.Error(err))
		return
	}
	logger.Info("run completed",
		slog.String(internallog.AutomationIDKey, res.AutomationID),
		slog.String("status", string(res.Status)),
		internallog.DurationMs(res.Duration().Milliseconds()))
}
