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

// Package serve implements the serve command, which keeps automations
// running on their triggers.
package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/daemon"
	"github.com/tombee/autoflow/internal/log"
)

type options struct {
	addr           string
	automationsDir string
	watch          bool
}

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use: "serve",
		Annotations: map[string]string{
			"group": "server",
		},
		Short: "Serve triggers until interrupted",
		Long: `Serve loads the automations directory and runs automations when their
triggers fire: cron schedules, row events, webhooks, app actions and row
actions.

HTTP endpoints:
  POST /api/webhooks/trigger/{id}                      webhook trigger
  POST /api/automations/{id}/trigger                   app action trigger
  POST /api/tables/{table}/actions/{action}/trigger    row action trigger
  GET  /api/cron                                       scheduled automations
  POST /api/cron/{id}/fire                             run a cron automation now
  GET  /healthz                                        liveness and queue depth
  GET  /metrics                                        Prometheus metrics

SIGINT or SIGTERM stops new runs, waits for in-flight runs up to the drain
timeout, then exits.`,
		Example: `  # Serve a directory and reload it on change
  autoflow serve --automations-dir ./automations --watch

  # Listen on all interfaces
  autoflow serve --addr 0.0.0.0:8470`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			// Only an explicit --watch overrides the config file.
			return runServe(ctx, cmd.OutOrStdout(), opts, cmd.Flags().Changed("watch"), nil)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.automationsDir, "automations-dir", "", "Directory of automation documents (overrides automations.dir)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the automations directory when files change")

	return cmd
}

// runServe blocks until ctx is done or the server fails. ready, when set, is
// called with the bound address once the server accepts requests.
func runServe(ctx context.Context, out io.Writer, opts options, watchSet bool, ready func(addr string)) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.automationsDir != "" {
		cfg.Automations.Dir = opts.automationsDir
	}
	if watchSet {
		cfg.Automations.Watch = opts.watch
	}

	rt, err := shared.NewRuntime(ctx, cfg, shared.RuntimeOptions{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			rt.Logger.Warn("runtime did not close cleanly", log.Error(err))
		}
	}()

	l, err := rt.NewLoader()
	if err != nil {
		return err
	}

	version, _, _ := shared.GetVersion()
	d, err := daemon.New(daemon.Config{
		Addr:              cfg.Server.Addr,
		WebhookSecret:     cfg.Server.WebhookSecret,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		DrainTimeout:      cfg.Server.DrainTimeout,
		Watch:             cfg.Automations.Watch,
		MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
		Version:           version,
	}, daemon.Deps{
		Engine:         rt.Engine,
		Store:          rt.Store,
		Loader:         l,
		Metrics:        rt.Tracing.Metrics(),
		MetricsHandler: rt.Tracing.MetricsHandler(),
		Logger:         rt.Logger,
	})
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if !shared.GetQuiet() {
		fmt.Fprintf(out, "autoflow %s listening on http://%s\n", version, d.Addr())
	}
	if ready != nil {
		ready(d.Addr())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		rt.Logger.Info("shutdown signal received")
	case serveErr = <-d.Errors():
		rt.Logger.Error("server failed", log.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout+cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Error("shutdown incomplete", log.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
