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

// Package loader keeps an automation store in step with a directory of YAML
// automation documents.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// DefaultPattern matches YAML documents at any depth.
const DefaultPattern = "**/*.{yaml,yml}"

// Store receives the loaded automations. store.AutomationStore implements it.
type Store interface {
	SaveAutomation(ctx context.Context, a *automation.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
}

// Validator checks a document before it is stored. *automation.Engine
// implements it.
type Validator interface {
	Validate(a *automation.Automation) ([]automation.Warning, error)
}

// Config configures a Loader.
type Config struct {
	Dir     string
	Pattern string

	// Validator, when set, keeps documents that fail validation out of the
	// store.
	Validator Validator
	Logger    *slog.Logger
}

// Report is the outcome of one load pass.
type Report struct {
	// Loaded are the ids saved, ordered.
	Loaded []string
	// Removed are ids whose documents disappeared since the last pass.
	Removed []string
	// Failed maps a document path, relative to the directory, to the reason
	// it was skipped.
	Failed map[string]error
}

// Loader reads automation documents from a directory into a Store.
type Loader struct {
	store     Store
	dir       string
	pattern   string
	validator Validator
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]string // automation id -> relative path
}

// New creates a loader for cfg.Dir.
func New(store Store, cfg Config) (*Loader, error) {
	if cfg.Dir == "" {
		return nil, &errors.ConfigError{Key: "automations.dir", Reason: "directory is required"}
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, &errors.ConfigError{Key: "automations.pattern", Reason: fmt.Sprintf("%q is not a valid glob", cfg.Pattern)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:     store,
		dir:       cfg.Dir,
		pattern:   cfg.Pattern,
		validator: cfg.Validator,
		logger:    log.WithComponent(logger, "loader").With(slog.String("dir", cfg.Dir)),
		loaded:    make(map[string]string),
	}, nil
}

// Dir returns the watched directory.
func (l *Loader) Dir() string { return l.dir }

// Discover lists the documents matching the pattern, relative to the
// directory and sorted.
func (l *Loader) Discover() ([]string, error) {
	return Glob(l.dir, l.pattern)
}

// Glob lists the files under dir matching pattern, relative to dir and
// sorted.
func Glob(dir, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Matches reports whether rel, a slash-separated path relative to the
// directory, is a document the loader reads.
func (l *Loader) Matches(rel string) bool {
	ok, err := doublestar.Match(l.pattern, rel)
	return err == nil && ok
}

// ReadFile parses one document. A document without an id takes its file
// name, without extension, as the id.
func ReadFile(fsys fs.FS, rel string) (*automation.Automation, error) {
	data, err := fs.ReadFile(fsys, rel)
	if err != nil {
		return nil, err
	}
	a, err := automation.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if a.ID == "" {
		base := path.Base(rel)
		a.ID = strings.TrimSuffix(base, path.Ext(base))
	}
	return a, nil
}

// Load reads every document and saves it. Documents that fail to parse or
// validate are reported and leave the stored copy untouched. Automations
// loaded by an earlier pass whose documents are gone are deleted.
func (l *Loader) Load(ctx context.Context) (*Report, error) {
	files, err := l.Discover()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	report := &Report{Failed: make(map[string]error)}
	fsys := os.DirFS(l.dir)
	seen := make(map[string]string, len(files))

	for _, rel := range files {
		a, err := ReadFile(fsys, rel)
		if err != nil {
			report.Failed[rel] = err
			continue
		}
		if prev, dup := seen[a.ID]; dup {
			report.Failed[rel] = fmt.Errorf("automation id %q is already defined in %s", a.ID, prev)
			continue
		}
		// Keep the id claimed even if the document is invalid, so the stored
		// copy from an earlier pass is not deleted below.
		seen[a.ID] = rel

		if l.validator != nil {
			warnings, err := l.validator.Validate(a)
			if err != nil {
				report.Failed[rel] = err
				continue
			}
			for _, w := range warnings {
				l.logger.Warn("automation warning",
					slog.String(log.AutomationIDKey, a.ID),
					slog.String(log.StepIDKey, w.StepID),
					slog.String("message", w.Message))
			}
		}

		if err := l.store.SaveAutomation(ctx, a); err != nil {
			report.Failed[rel] = fmt.Errorf("save: %w", err)
			continue
		}
		report.Loaded = append(report.Loaded, a.ID)
	}

	for id := range l.loaded {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := l.store.DeleteAutomation(ctx, id); err != nil && !errors.IsNotFound(err) {
			l.logger.Error("failed to remove automation", slog.String(log.AutomationIDKey, id), log.Error(err))
			continue
		}
		report.Removed = append(report.Removed, id)
	}
	l.loaded = seen

	sort.Strings(report.Loaded)
	sort.Strings(report.Removed)
	for rel, err := range report.Failed {
		l.logger.Warn("automation document skipped", slog.String("file", rel), log.Error(err))
	}
	l.logger.Info("automations loaded",
		slog.Int("loaded", len(report.Loaded)),
		slog.Int("removed", len(report.Removed)),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

func statDir(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
