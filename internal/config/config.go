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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tombee/autoflow/internal/datasource"
	"github.com/tombee/autoflow/internal/featureflags"
	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/tracing"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
	"github.com/tombee/autoflow/pkg/httpclient"
)

// Config represents the complete autoflow configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Automations AutomationsConfig `yaml:"automations"`
	Engine      EngineConfig      `yaml:"engine"`

	// Hosting is "self" or "cloud". Environment: AUTOFLOW_HOSTING
	Hosting  string         `yaml:"hosting,omitempty"`
	Features FeaturesConfig `yaml:"features"`

	HTTP    HTTPConfig    `yaml:"http"`
	LLM     LLMConfig     `yaml:"llm"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Scripts ScriptsConfig `yaml:"scripts"`
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`

	// Datasources and the queries saved against them, at the top level of
	// the file as "datasources:" and "queries:".
	Data datasource.Config `yaml:",inline"`
}

// ServerConfig configures the HTTP ingress started by "autoflow serve".
type ServerConfig struct {
	// Addr is the listen address. Environment: AUTOFLOW_ADDR
	Addr string `yaml:"addr"`

	// WebhookSecret, when set, requires webhook and app action callers to
	// send an HS256 bearer token signed with it.
	// Environment: AUTOFLOW_WEBHOOK_SECRET
	WebhookSecret string `yaml:"webhook_secret,omitempty"`

	// ShutdownTimeout bounds closing the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// DrainTimeout is how long in-flight runs may finish after a shutdown
	// signal.
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
}

// StorageConfig selects where automations, runs and rows are kept.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Environment: AUTOFLOW_DB
	Path string `yaml:"path"`

	WAL bool `yaml:"wal"`
}

// AutomationsConfig configures the directory loader.
type AutomationsConfig struct {
	// Dir is scanned for automation documents. Empty disables the loader.
	// Environment: AUTOFLOW_AUTOMATIONS_DIR
	Dir string `yaml:"dir,omitempty"`

	// Pattern is a doublestar glob relative to Dir.
	Pattern string `yaml:"pattern,omitempty"`

	// Watch reloads documents when files change.
	Watch bool `yaml:"watch"`
}

// EngineConfig maps onto automation.Options.
type EngineConfig struct {
	StopOnFailure bool `yaml:"stop_on_failure"`

	// BranchNoMatch is "terminate" or "fall_through".
	BranchNoMatch string `yaml:"branch_no_match"`

	// LoopFailure is "fail_fast" or "collect_errors".
	LoopFailure string `yaml:"loop_failure"`

	// StepTimeout applies to steps without their own timeout. Zero is none.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	MaxLoopIterations int `yaml:"max_loop_iterations"`
	MaxTriggerDepth   int `yaml:"max_trigger_depth"`

	// MaxConcurrentRuns bounds runs executing at once.
	// Environment: AUTOFLOW_MAX_CONCURRENT_RUNS
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
}

// FeaturesConfig turns on deployment dependent step kinds. The
// AUTOFLOW_AI_ENABLED and AUTOFLOW_BASH_ENABLED variables take precedence.
type FeaturesConfig struct {
	AI   bool `yaml:"ai"`
	Bash bool `yaml:"bash"`
}

// HTTPConfig configures the client used by the webhook steps, REST
// datasources and file downloads.
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`

	// RateLimit is requests per second per host. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst,omitempty"`
}

// LLMConfig configures the provider behind the AI steps.
type LLMConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// BaseURL points at an OpenAI compatible server. Environment: AUTOFLOW_LLM_BASE_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates with the provider. Environment: AUTOFLOW_LLM_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	Model string `yaml:"model,omitempty"`
}

// Configured reports whether AI steps can be bound.
func (c LLMConfig) Configured() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

// SMTPConfig configures the SEND_EMAIL_SMTP relay. Email steps stay
// unbound while Host is empty.
type SMTPConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`

	// Password. Environment: AUTOFLOW_SMTP_PASSWORD
	Password string `yaml:"password,omitempty"`

	Timeout            time.Duration `yaml:"timeout,omitempty"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
}

// ScriptsConfig configures EXECUTE_SCRIPT and EXECUTE_BASH.
type ScriptsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Shell   string        `yaml:"shell,omitempty"`
	WorkDir string        `yaml:"work_dir,omitempty"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, stdout, otlp-http or otlp-grpc.
	Exporter   string            `yaml:"exporter"`
	Endpoint   string            `yaml:"endpoint,omitempty"`
	Insecure   bool              `yaml:"insecure,omitempty"`
	SampleRate float64           `yaml:"sample_rate"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error. Environment: LOG_LEVEL
	Level string `yaml:"level"`

	// Format is json or text. Environment: LOG_FORMAT
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8470",
			ShutdownTimeout: 10 * time.Second,
			DrainTimeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   defaultDBPath(),
			WAL:    true,
		},
		Automations: AutomationsConfig{
			Pattern: "**/*.{yaml,yml}",
		},
		Engine: EngineConfig{
			StopOnFailure:     true,
			BranchNoMatch:     string(automation.BranchTerminate),
			LoopFailure:       string(automation.LoopFailFast),
			MaxLoopIterations: automation.DefaultMaxLoopIterations,
			MaxTriggerDepth:   automation.DefaultMaxTriggerDepth,
			MaxConcurrentRuns: 10,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			RetryAttempts: 2,
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
		Scripts: ScriptsConfig{
			Timeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   tracing.ExporterNone,
			SampleRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from configPath, applies environment overrides
// and validates the result. An empty path loads the default path when that
// file exists.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if p, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment references like ${SMTP_PASSWORD} are expanded before
	// parsing so secrets stay out of the file.
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("AUTOFLOW_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("AUTOFLOW_WEBHOOK_SECRET"); val != "" {
		c.Server.WebhookSecret = val
	}
	if val := os.Getenv("AUTOFLOW_DB"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("AUTOFLOW_AUTOMATIONS_DIR"); val != "" {
		c.Automations.Dir = val
	}
	if val := os.Getenv("AUTOFLOW_MAX_CONCURRENT_RUNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxConcurrentRuns = n
		}
	}
	if val := os.Getenv("AUTOFLOW_STEP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Engine.StepTimeout = d
		}
	}

	if val := os.Getenv("AUTOFLOW_LLM_PROVIDER"); val != "" {
		c.LLM.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("AUTOFLOW_LLM_BASE_URL"); val != "" {
		c.LLM.BaseURL = val
	}
	if val := os.Getenv("AUTOFLOW_LLM_API_KEY"); val != "" {
		c.LLM.APIKey = val
	} else if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if val := os.Getenv("AUTOFLOW_LLM_MODEL"); val != "" {
		c.LLM.Model = val
	}
	if val := os.Getenv("AUTOFLOW_SMTP_PASSWORD"); val != "" {
		c.SMTP.Password = val
	}

	if val := os.Getenv("AUTOFLOW_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
}

// Validate checks that the configuration is valid. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be one of [sqlite, memory], got %q", c.Storage.Driver))
	}

	if c.Automations.Pattern != "" && !doublestar.ValidatePattern(c.Automations.Pattern) {
		errs = append(errs, fmt.Sprintf("automations.pattern %q is not a valid glob", c.Automations.Pattern))
	}

	switch automation.BranchNoMatchPolicy(c.Engine.BranchNoMatch) {
	case automation.BranchTerminate, automation.BranchFallThrough:
	default:
		errs = append(errs, fmt.Sprintf("engine.branch_no_match must be one of [terminate, fall_through], got %q", c.Engine.BranchNoMatch))
	}
	switch automation.LoopFailurePolicy(c.Engine.LoopFailure) {
	case automation.LoopFailFast, automation.LoopCollectErrors:
	default:
		errs = append(errs, fmt.Sprintf("engine.loop_failure must be one of [fail_fast, collect_errors], got %q", c.Engine.LoopFailure))
	}
	if c.Engine.StepTimeout < 0 {
		errs = append(errs, "engine.step_timeout must not be negative")
	}
	if c.Engine.MaxLoopIterations < 1 {
		errs = append(errs, fmt.Sprintf("engine.max_loop_iterations must be at least 1, got %d", c.Engine.MaxLoopIterations))
	}
	if c.Engine.MaxTriggerDepth < 1 {
		errs = append(errs, fmt.Sprintf("engine.max_trigger_depth must be at least 1, got %d", c.Engine.MaxTriggerDepth))
	}
	if c.Engine.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Sprintf("engine.max_concurrent_runs must be at least 1, got %d", c.Engine.MaxConcurrentRuns))
	}

	switch automation.Hosting(c.Hosting) {
	case "", automation.HostingSelf, automation.HostingCloud:
	default:
		errs = append(errs, fmt.Sprintf("hosting must be one of [self, cloud], got %q", c.Hosting))
	}

	httpCfg := c.HTTPClientConfig(nil)
	if err := httpCfg.Validate(); err != nil {
		errs = append(errs, "http: "+err.Error())
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider must be one of [openai, anthropic], got %q", c.LLM.Provider))
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("smtp.port must be between 0 and 65535, got %d", c.SMTP.Port))
	}
	if c.Scripts.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("scripts.timeout must be positive, got %v", c.Scripts.Timeout))
	}

	if err := c.TracingSettings("").Validate(); err != nil {
		errs = append(errs, "tracing: "+err.Error())
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if err := c.Data.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &errors.ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
		}
	}
	return nil
}

// EngineOptions builds engine options for the given capabilities.
func (c *Config) EngineOptions(caps automation.Capabilities) automation.Options {
	opts := automation.DefaultOptions()
	opts.StopOnFailure = c.Engine.StopOnFailure
	opts.BranchNoMatch = automation.BranchNoMatchPolicy(c.Engine.BranchNoMatch)
	opts.LoopFailure = automation.LoopFailurePolicy(c.Engine.LoopFailure)
	opts.StepTimeout = c.Engine.StepTimeout
	opts.MaxLoopIterations = c.Engine.MaxLoopIterations
	opts.MaxTriggerDepth = c.Engine.MaxTriggerDepth
	opts.Capabilities = caps
	return opts
}

// ApplyFlags copies hosting and feature settings onto f unless the
// corresponding environment variable already set them.
func (c *Config) ApplyFlags(f *featureflags.Flags) {
	if c.Hosting != "" && os.Getenv(featureflags.EnvHosting) == "" {
		f.SetHosting(automation.Hosting(c.Hosting))
	}
	if c.Features.AI && os.Getenv(featureflags.EnvAIEnabled) == "" {
		f.SetAIEnabled(true)
	}
	if c.Features.Bash && os.Getenv(featureflags.EnvBashEnabled) == "" {
		f.SetBashEnabled(true)
	}
}

// HTTPClientConfig returns the outgoing HTTP client settings.
func (c *Config) HTTPClientConfig(logger *slog.Logger) httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Logger = logger
	if c.HTTP.Timeout > 0 {
		cfg.Timeout = c.HTTP.Timeout
	}
	cfg.RetryAttempts = c.HTTP.RetryAttempts
	cfg.RateLimit = c.HTTP.RateLimit
	cfg.RateBurst = c.HTTP.RateBurst
	return cfg
}

// TracingSettings returns the tracing provider settings.
func (c *Config) TracingSettings(version string) tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Exporter = c.Tracing.Exporter
	cfg.Endpoint = c.Tracing.Endpoint
	cfg.Insecure = c.Tracing.Insecure
	cfg.SampleRate = c.Tracing.SampleRate
	cfg.Headers = c.Tracing.Headers
	return cfg
}

// LogSettings returns the logger configuration.
func (c *Config) LogSettings() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = log.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}

func defaultDBPath() string {
	if dir, err := DataDir(); err == nil {
		return filepath.Join(dir, "autoflow.db")
	}
	return "autoflow.db"
}
