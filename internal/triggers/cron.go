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

package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/automation"
)

// cronParser accepts five-field expressions and descriptors such as
// "@hourly" or "@every 5m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a CRON trigger expression.
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Location is the time zone expressions are evaluated in. Defaults to
	// time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Entry describes one scheduled automation.
type Entry struct {
	AutomationID string
	Cron         string
	Next         time.Time
	Prev         time.Time
}

type scheduled struct {
	id   cron.EntryID
	spec string
}

// Scheduler fires CRON-triggered automations.
type Scheduler struct {
	catalog Catalog
	starter Starter
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]scheduled
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(catalog Catalog, starter Starter, cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "cron")
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	cl := cronLogger{logger}
	return &Scheduler{
		catalog: catalog,
		starter: starter,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		now:     time.Now,
		ctx:     context.Background(),
		entries: make(map[string]scheduled),
	}
}

// Start schedules the current CRON automations and starts the clock. Runs
// fired later inherit ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("cron scheduler started", slog.Int("entries", len(s.Entries())))
	return nil
}

// Stop halts the clock. The returned context is done once jobs that were
// already firing have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sync reconciles the schedule with the catalog. New automations are added,
// changed expressions are rescheduled and removed or disabled automations are
// dropped. An automation with an invalid expression is logged and skipped.
func (s *Scheduler) Sync(ctx context.Context) error {
	autos, err := listByKind(ctx, s.catalog, automation.TriggerCron)
	if err != nil {
		return fmt.Errorf("list cron automations: %w", err)
	}

	want := make(map[string]string, len(autos))
	for _, a := range autos {
		in, ok := a.Trigger.Inputs.(automation.CronTriggerInputs)
		if !ok || in.Cron == "" {
			s.logger.Warn("cron trigger has no expression", slog.String(log.AutomationIDKey, a.ID))
			continue
		}
		want[a.ID] = in.Cron
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cur := range s.entries {
		if spec, ok := want[id]; !ok || spec != cur.spec {
			s.cron.Remove(cur.id)
			delete(s.entries, id)
		}
	}

	for id, spec := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		automationID := id
		entryID, err := s.cron.AddFunc(spec, func() { s.fire(automationID) })
		if err != nil {
			s.logger.Warn("skipping automation with invalid cron expression",
				slog.String(log.AutomationIDKey, id),
				slog.String("cron", spec),
				log.Error(err))
			continue
		}
		s.entries[id] = scheduled{id: entryID, spec: spec}
		s.logger.Debug("scheduled automation", slog.String(log.AutomationIDKey, id), slog.String("cron", spec))
	}
	return nil
}

// Entries lists the scheduled automations ordered by id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for id, sc := range s.entries {
		e := s.cron.Entry(sc.id)
		out = append(out, Entry{AutomationID: id, Cron: sc.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutomationID < out[j].AutomationID })
	return out
}

// Fire starts one run of a CRON automation now, as the clock would.
func (s *Scheduler) Fire(ctx context.Context, automationID string) (string, error) {
	a, err := s.catalog.LoadAutomation(ctx, automationID)
	if err != nil {
		return "", err
	}
	if a.Trigger.StepID != automation.TriggerCron {
		return "", fmt.Errorf("automation %s is not triggered by cron", automationID)
	}
	return s.starter.StartRun(ctx, a, map[string]any{"timestamp": s.now().UnixMilli()})
}

func (s *Scheduler) fire(automationID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	runID, err := s.Fire(ctx, automationID)
	if err != nil {
		s.logger.Error("cron run not started", slog.String(log.AutomationIDKey, automationID), log.Error(err))
		return
	}
	s.logger.Info("cron run started", slog.String(log.AutomationIDKey, automationID), slog.String(log.RunIDKey, runID))
}

// cronLogger adapts slog to the cron package's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{log.Error(err)}, keysAndValues...)...)
}
