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

// Package datasource runs the saved queries behind EXECUTE_QUERY and
// API_REQUEST steps. A query belongs to a datasource: a SQL database
// (postgres or sqlite) or a REST API, optionally behind OAuth2 client
// credentials or AWS SigV4 signing.
package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"

	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// Datasource types.
const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeREST     = "rest"
)

// Config lists datasources and the queries saved against them.
type Config struct {
	Datasources []Datasource `yaml:"datasources" json:"datasources"`
	Queries     []Query      `yaml:"queries" json:"queries"`
}

// Datasource is one external system.
type Datasource struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type" json:"type"`

	// DSN is the connection string for SQL datasources.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// BaseURL, Headers and OAuth2 configure REST datasources.
	BaseURL string            `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	OAuth2  *OAuth2           `yaml:"oauth2,omitempty" json:"oauth2,omitempty"`
	AWS     *AWSSigV4         `yaml:"aws_sigv4,omitempty" json:"aws_sigv4,omitempty"`
}

// OAuth2 holds client credentials for a REST datasource.
type OAuth2 struct {
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// AWSSigV4 signs REST requests for an AWS service. Credentials come from the
// default AWS chain: environment, shared config files, then instance roles.
type AWSSigV4 struct {
	Service string `yaml:"service" json:"service"`
	Region  string `yaml:"region" json:"region"`
}

// Query is a saved query. SQL queries bind Parameters positionally in the
// order they are listed; REST queries substitute {{name}} placeholders in
// Path, Query values and Body.
type Query struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	Datasource string   `yaml:"datasource" json:"datasource"`
	Parameters []string `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Defaults fill parameters the step does not pass.
	Defaults map[string]any `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	// SQL is the statement for SQL datasources. Read selects rows; otherwise
	// the statement is executed and the affected row count returned.
	SQL  string `yaml:"sql,omitempty" json:"sql,omitempty"`
	Read bool   `yaml:"read,omitempty" json:"read,omitempty"`

	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
}

// Result is what a query run returns to the step.
type Result struct {
	Response any
	Info     map[string]any
}

// Validate checks references and required fields.
func (c *Config) Validate() error {
	sources := make(map[string]Datasource, len(c.Datasources))
	for i, ds := range c.Datasources {
		field := fmt.Sprintf("datasources[%d]", i)
		if ds.ID == "" {
			return &errors.ConfigError{Key: field + ".id", Reason: "id is required"}
		}
		if _, dup := sources[ds.ID]; dup {
			return &errors.ConfigError{Key: field + ".id", Reason: fmt.Sprintf("duplicate datasource %q", ds.ID)}
		}
		switch ds.Type {
		case TypePostgres, TypeSQLite:
			if ds.DSN == "" {
				return &errors.ConfigError{Key: field + ".dsn", Reason: "dsn is required for SQL datasources"}
			}
		case TypeREST:
			if ds.BaseURL == "" {
				return &errors.ConfigError{Key: field + ".base_url", Reason: "base_url is required for REST datasources"}
			}
			if o := ds.OAuth2; o != nil && (o.TokenURL == "" || o.ClientID == "") {
				return &errors.ConfigError{Key: field + ".oauth2", Reason: "token_url and client_id are required"}
			}
			if a := ds.AWS; a != nil {
				if ds.OAuth2 != nil {
					return &errors.ConfigError{Key: field + ".aws_sigv4", Reason: "oauth2 and aws_sigv4 cannot both be set"}
				}
				if a.Service == "" || a.Region == "" {
					return &errors.ConfigError{Key: field + ".aws_sigv4", Reason: "service and region are required"}
				}
			}
		default:
			return &errors.ConfigError{Key: field + ".type", Reason: fmt.Sprintf("unknown datasource type %q", ds.Type)}
		}
		sources[ds.ID] = ds
	}

	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		field := fmt.Sprintf("queries[%d]", i)
		if q.ID == "" {
			return &errors.ConfigError{Key: field + ".id", Reason: "id is required"}
		}
		if seen[q.ID] {
			return &errors.ConfigError{Key: field + ".id", Reason: fmt.Sprintf("duplicate query %q", q.ID)}
		}
		seen[q.ID] = true
		ds, ok := sources[q.Datasource]
		if !ok {
			return &errors.ConfigError{Key: field + ".datasource", Reason: fmt.Sprintf("unknown datasource %q", q.Datasource)}
		}
		if ds.Type != TypeREST && q.SQL == "" {
			return &errors.ConfigError{Key: field + ".sql", Reason: "sql is required for SQL datasources"}
		}
	}
	return nil
}

// Runner executes saved queries. SQL connections are opened on first use.
type Runner struct {
	logger  *slog.Logger
	client  *http.Client
	sources map[string]Datasource
	queries map[string]Query

	mu   sync.Mutex
	sql  map[string]*sqlSource
	rest map[string]*restSource
}

// NewRunner validates cfg and builds a runner. client sends REST queries.
func NewRunner(cfg Config, client *http.Client, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	r := &Runner{
		logger:  logger.With(slog.String("component", "datasource")),
		client:  client,
		sources: make(map[string]Datasource, len(cfg.Datasources)),
		queries: make(map[string]Query, len(cfg.Queries)),
		sql:     make(map[string]*sqlSource),
		rest:    make(map[string]*restSource),
	}
	for _, ds := range cfg.Datasources {
		r.sources[ds.ID] = ds
	}
	for _, q := range cfg.Queries {
		r.queries[q.ID] = q
	}
	return r, nil
}

// Run executes the query ref points at.
func (r *Runner) Run(ctx context.Context, ref automation.QueryRef) (*Result, error) {
	q, ok := r.queries[ref.QueryID]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "query", ID: ref.QueryID}
	}
	params := make(map[string]any, len(q.Defaults)+len(ref.Parameters))
	for k, v := range q.Defaults {
		params[k] = v
	}
	for k, v := range ref.Parameters {
		params[k] = v
	}

	ds := r.sources[q.Datasource]
	r.logger.Debug("running query",
		slog.String("query_id", q.ID),
		slog.String("datasource", ds.ID),
		slog.String("type", ds.Type))

	switch ds.Type {
	case TypeREST:
		src, err := r.restSource(ds)
		if err != nil {
			return nil, err
		}
		return src.run(ctx, q, params)
	default:
		src, err := r.sqlSource(ds)
		if err != nil {
			return nil, err
		}
		return src.run(ctx, q, params)
	}
}

// Kind reports the datasource type behind a saved query.
func (r *Runner) Kind(queryID string) (string, bool) {
	q, ok := r.queries[queryID]
	if !ok {
		return "", false
	}
	return r.sources[q.Datasource].Type, true
}

// Close releases SQL connections.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, src := range r.sql {
		if err := src.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close datasource %s: %w", id, err))
		}
		delete(r.sql, id)
	}
	return errors.Join(errs...)
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// interpolate replaces {{name}} with the text of params[name]. Unknown names
// become empty strings.
func interpolate(s string, params map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}
