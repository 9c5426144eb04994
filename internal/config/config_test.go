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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/autoflow/internal/datasource"
	"github.com/tombee/autoflow/internal/featureflags"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, key := range []string{
		"AUTOFLOW_ADDR", "AUTOFLOW_DB", "AUTOFLOW_MAX_CONCURRENT_RUNS", "AUTOFLOW_LLM_API_KEY",
		"OPENAI_API_KEY", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE", "AUTOFLOW_TRACING_EXPORTER",
		featureflags.EnvHosting, featureflags.EnvAIEnabled, featureflags.EnvBashEnabled,
	} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	isolateEnv(t)
	cfg := Default()

	if cfg.Server.Addr != "127.0.0.1:8470" {
		t.Errorf("expected addr 127.0.0.1:8470, got %q", cfg.Server.Addr)
	}
	if !cfg.Engine.StopOnFailure {
		t.Error("expected stop_on_failure to default to true")
	}
	if cfg.Engine.MaxLoopIterations != automation.DefaultMaxLoopIterations {
		t.Errorf("expected max loop iterations %d, got %d", automation.DefaultMaxLoopIterations, cfg.Engine.MaxLoopIterations)
	}
	if !strings.HasSuffix(cfg.Storage.Path, filepath.Join("autoflow", "autoflow.db")) {
		t.Errorf("expected database under the data dir, got %q", cfg.Storage.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TEST_SMTP_PASSWORD", "hunter2")
	t.Setenv("AUTOFLOW_MAX_CONCURRENT_RUNS", "3")

	path := filepath.Join(t.TempDir(), "autoflow.yaml")
	data := `
server:
  addr: ":9000"
storage:
  driver: memory
engine:
  branch_no_match: fall_through
  step_timeout: 45s
hosting: self
features:
  bash: true
smtp:
  host: smtp.example.com
  password: ${TEST_SMTP_PASSWORD}
log:
  level: debug
datasources:
  - id: local
    type: sqlite
    dsn: /tmp/app.db
queries:
  - id: qu_users
    datasource: local
    sql: SELECT * FROM users
    read: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected addr :9000, got %q", cfg.Server.Addr)
	}
	if cfg.Engine.StepTimeout != 45*time.Second {
		t.Errorf("expected step timeout 45s, got %v", cfg.Engine.StepTimeout)
	}
	if cfg.Engine.MaxConcurrentRuns != 3 {
		t.Errorf("expected env to set max concurrent runs to 3, got %d", cfg.Engine.MaxConcurrentRuns)
	}
	if !cfg.Engine.StopOnFailure {
		t.Error("unset keys should keep their defaults")
	}
	if cfg.SMTP.Password != "hunter2" {
		t.Errorf("expected expanded smtp password, got %q", cfg.SMTP.Password)
	}
	if len(cfg.Data.Queries) != 1 || cfg.Data.Queries[0].ID != "qu_users" {
		t.Errorf("expected one saved query, got %+v", cfg.Data.Queries)
	}

	opts := cfg.EngineOptions(automation.Capabilities{Hosting: automation.HostingSelf})
	if opts.BranchNoMatch != automation.BranchFallThrough {
		t.Errorf("expected fall_through, got %q", opts.BranchNoMatch)
	}

	flags := featureflags.Load()
	cfg.ApplyFlags(flags)
	caps := flags.Capabilities()
	if caps.Hosting != automation.HostingSelf || !caps.BashEnabled {
		t.Errorf("expected self hosting with bash, got %+v", caps)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	isolateEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *errors.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cerr.Key != "config_file" {
		t.Errorf("expected key config_file, got %q", cerr.Key)
	}
}

func TestValidate(t *testing.T) {
	isolateEnv(t)
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad glob", func(c *Config) { c.Automations.Pattern = "[" }, "automations.pattern"},
		{"bad branch policy", func(c *Config) { c.Engine.BranchNoMatch = "skip" }, "engine.branch_no_match"},
		{"bad loop policy", func(c *Config) { c.Engine.LoopFailure = "retry" }, "engine.loop_failure"},
		{"zero concurrency", func(c *Config) { c.Engine.MaxConcurrentRuns = 0 }, "engine.max_concurrent_runs"},
		{"bad hosting", func(c *Config) { c.Hosting = "edge" }, "hosting"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "llama" }, "llm.provider"},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp-http" }, "tracing"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad datasource", func(c *Config) {
			c.Data.Queries = append(c.Data.Queries, datasourceQuery("q", "nope"))
		}, "unknown datasource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := ConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join("/tmp/xdg", "autoflow", "config.yaml") {
		t.Errorf("unexpected config path %q", path)
	}
}

func datasourceQuery(id, source string) datasource.Query {
	return datasource.Query{ID: id, Datasource: source, SQL: "SELECT 1"}
}
