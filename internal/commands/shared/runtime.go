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

package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tombee/autoflow/internal/config"
	"github.com/tombee/autoflow/internal/datasource"
	"github.com/tombee/autoflow/internal/featureflags"
	"github.com/tombee/autoflow/internal/loader"
	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/internal/store/sqlite"
	"github.com/tombee/autoflow/internal/tracing"
	"github.com/tombee/autoflow/pkg/actions"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/httpclient"
	"github.com/tombee/autoflow/pkg/llm"
	"github.com/tombee/autoflow/pkg/llm/providers"
)

// EnvBindingPrefix marks environment variables exposed to automations under
// the env binding namespace, with the prefix removed.
const EnvBindingPrefix = "AUTOFLOW_ENV_"

// Store is everything the runtime persists.
type Store interface {
	store.AutomationStore
	store.RunLog
	store.RowStore
}

// RuntimeOptions tune NewRuntime.
type RuntimeOptions struct {
	// Stderr receives logs. Defaults to os.Stderr.
	Stderr io.Writer
	// Stdout receives spans when the stdout exporter is configured.
	Stdout io.Writer
}

// Runtime is the engine and its collaborators, built from configuration.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Flags   *featureflags.Flags
	Store   Store
	Tracing *tracing.Provider
	Actions *automation.Actions
	Engine  *automation.Engine

	closers []func(context.Context) error
}

// LoadConfig loads the file named by --config, or the default one.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// NewLogger builds the command logger. --verbose and --quiet override the
// configured level, and an interactive stderr gets text output unless a
// format was chosen through LOG_FORMAT.
func NewLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	lc := cfg.LogSettings()
	lc.Output = stderr
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	if f, ok := stderr.(*os.File); ok && os.Getenv("LOG_FORMAT") == "" && IsTTY(f) {
		lc.Format = log.FormatText
	}
	return log.New(lc)
}

// NewRuntime wires the store, tracing, actions and engine described by cfg.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (rt *Runtime, err error) {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	rt = &Runtime{Config: cfg, Logger: NewLogger(cfg, opts.Stderr)}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.Flags = featureflags.Load()
	cfg.ApplyFlags(rt.Flags)

	version, _, _ := GetVersion()
	rt.Tracing, err = tracing.New(ctx, cfg.TracingSettings(version), tracing.Options{Output: opts.Stdout})
	if err != nil {
		return nil, NewConfigError("failed to start tracing", err)
	}
	rt.closers = append(rt.closers, rt.Tracing.Shutdown)

	if err := rt.openStore(); err != nil {
		return nil, err
	}

	deps, err := rt.actionDeps()
	if err != nil {
		return nil, err
	}
	rt.Actions, err = actions.New(deps)
	if err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}

	rt.Engine = automation.NewEngine(rt.Actions,
		automation.WithOptions(cfg.EngineOptions(rt.Flags.Capabilities())),
		automation.WithEnv(envBindings(os.Environ())),
		automation.WithLogger(rt.Logger),
		automation.WithObserver(rt.Store),
		automation.WithLoader(rt.Store),
		automation.WithTracer(rt.Tracing.Tracer("github.com/tombee/autoflow/pkg/automation")),
		automation.WithMetrics(rt.Tracing.Metrics()),
	)
	return rt, nil
}

func (rt *Runtime) openStore() error {
	s, closeStore, err := OpenStore(rt.Config, rt.Logger)
	if err != nil {
		return err
	}
	rt.Store = s
	rt.closers = append(rt.closers, func(context.Context) error { return closeStore() })
	return nil
}

// OpenStore opens the configured store without the rest of the runtime.
func OpenStore(cfg *config.Config, logger *slog.Logger) (Store, func() error, error) {
	if cfg.Storage.Driver == "memory" {
		return memory.New(), func() error { return nil }, nil
	}
	if err := config.EnsureDir(cfg.Storage.Path); err != nil {
		return nil, nil, NewConfigError("failed to create database directory", err)
	}
	s, err := sqlite.New(sqlite.Config{
		Path:   cfg.Storage.Path,
		WAL:    cfg.Storage.WAL,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, s.Close, nil
}

func (rt *Runtime) actionDeps() (actions.Deps, error) {
	cfg := rt.Config
	client, err := httpclient.New(cfg.HTTPClientConfig(rt.Logger))
	if err != nil {
		return actions.Deps{}, NewConfigError("invalid http settings", err)
	}

	deps := actions.Deps{
		Logger:        rt.Logger,
		HTTPClient:    client,
		Rows:          rt.Store,
		ScriptTimeout: cfg.Scripts.Timeout,
		Shell:         cfg.Scripts.Shell,
		WorkDir:       cfg.Scripts.WorkDir,
	}

	if len(cfg.Data.Queries) > 0 {
		queries, err := datasource.NewRunner(cfg.Data, client, rt.Logger)
		if err != nil {
			return actions.Deps{}, NewConfigError("invalid datasources", err)
		}
		deps.Queries = queries
		rt.closers = append(rt.closers, func(context.Context) error { return queries.Close() })
	}

	if cfg.SMTP.Host != "" {
		deps.Mailer = actions.NewSMTPMailer(actions.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			Timeout:            cfg.SMTP.Timeout,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
	}

	if cfg.LLM.Configured() {
		p, err := providers.New(providers.Config{
			Provider:   cfg.LLM.Provider,
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			HTTPClient: client,
		})
		if err != nil {
			return actions.Deps{}, NewConfigError("invalid llm settings", err)
		}
		deps.LLM = llm.Instrument(p, rt.Tracing.Metrics(), rt.Logger, cfg.LLM.Model)
	}
	return deps, nil
}

// NewLoader returns the directory loader for the configured automations
// directory, or nil when none is configured.
func (rt *Runtime) NewLoader() (*loader.Loader, error) {
	if rt.Config.Automations.Dir == "" {
		return nil, nil
	}
	l, err := loader.New(rt.Store, loader.Config{
		Dir:       rt.Config.Automations.Dir,
		Pattern:   rt.Config.Automations.Pattern,
		Validator: rt.Engine,
		Logger:    rt.Logger,
	})
	if err != nil {
		return nil, NewConfigError("invalid automations settings", err)
	}
	return l, nil
}

// Close releases what NewRuntime opened, most recent first.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close runtime: %v", errs)
	}
	return nil
}

// envBindings picks the AUTOFLOW_ENV_ variables out of environ.
func envBindings(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvBindingPrefix) {
			continue
		}
		if key := strings.TrimPrefix(name, EnvBindingPrefix); key != "" {
			out[key] = value
		}
	}
	return out
}
