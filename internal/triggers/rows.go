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
	"sync"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/automation/expression"
)

// DefaultRowFeedBuffer is how many row events may wait for matching.
const DefaultRowFeedBuffer = 256

// RowSource publishes committed row writes. store.RowStore implements it.
type RowSource interface {
	Subscribe(fn func(store.RowEvent)) (unsubscribe func())
}

// RowFeedConfig configures a RowFeed.
type RowFeedConfig struct {
	// Evaluator runs filter expressions. Defaults to expression.New().
	Evaluator automation.ConditionEvaluator
	Buffer    int
	Logger    *slog.Logger
}

// RowFeed starts ROW_SAVED, ROW_UPDATED and ROW_DELETED automations from row
// writes. Events are matched on the feed's own goroutine so writers are never
// held up by catalog lookups.
type RowFeed struct {
	source  RowSource
	catalog Catalog
	starter Starter
	eval    automation.ConditionEvaluator
	logger  *slog.Logger

	events chan store.RowEvent
	stop   chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	started     bool
	unsubscribe func()
}

// NewRowFeed creates a feed. Call Start to begin following source.
func NewRowFeed(source RowSource, catalog Catalog, starter Starter, cfg RowFeedConfig) *RowFeed {
	if cfg.Evaluator == nil {
		cfg.Evaluator = expression.New()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultRowFeedBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RowFeed{
		source:  source,
		catalog: catalog,
		starter: starter,
		eval:    cfg.Evaluator,
		logger:  log.WithComponent(cfg.Logger, "row-feed"),
		events:  make(chan store.RowEvent, cfg.Buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the source. Runs started from events inherit ctx, and
// the feed stops when ctx is done.
func (f *RowFeed) Start(ctx context.Context) {
	f.mu.Lock()
	f.started = true
	f.unsubscribe = f.source.Subscribe(f.enqueue)
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case ev := <-f.events:
				if _, err := f.Handle(ctx, ev); err != nil {
					f.logger.Error("row event not handled",
						slog.String("table_id", ev.TableID),
						slog.String(log.EventKey, string(ev.Type)),
						log.Error(err))
				}
			}
		}
	}()
}

// Stop unsubscribes and waits for the matching goroutine to exit. Events
// still queued are dropped.
func (f *RowFeed) Stop() {
	f.mu.Lock()
	started := f.started
	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	f.mu.Unlock()

	if started {
		<-f.done
	}
}

func (f *RowFeed) enqueue(ev store.RowEvent) {
	select {
	case f.events <- ev:
	case <-f.stop:
	}
}

// Handle starts every automation that ev triggers and returns their run ids.
func (f *RowFeed) Handle(ctx context.Context, ev store.RowEvent) ([]string, error) {
	kind, ok := triggerKindFor(ev.Type)
	if !ok {
		return nil, fmt.Errorf("unknown row event type %q", ev.Type)
	}
	autos, err := listByKind(ctx, f.catalog, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s automations: %w", kind, err)
	}

	var runIDs []string
	for _, a := range autos {
		logger := f.logger.With(slog.String(log.AutomationIDKey, a.ID))
		match, err := f.matches(a.Trigger.Inputs, ev)
		if err != nil {
			logger.Warn("row trigger filter failed", log.Error(err))
			continue
		}
		if !match {
			continue
		}
		runID, err := f.starter.StartRun(ctx, a, rowPayload(ev))
		if err != nil {
			logger.Error("row-triggered run not started", log.Error(err))
			continue
		}
		logger.Debug("row-triggered run started", slog.String(log.RunIDKey, runID), slog.String(log.EventKey, string(ev.Type)))
		runIDs = append(runIDs, runID)
	}
	return runIDs, nil
}

// matches applies the trigger's table and filters. An update with filters
// only fires when the row moves into the filtered set: the new row matches
// and the old row did not.
func (f *RowFeed) matches(inputs automation.Inputs, ev store.RowEvent) (bool, error) {
	var (
		tableID string
		filters *automation.SearchFilters
	)
	switch in := inputs.(type) {
	case automation.RowSavedTriggerInputs:
		tableID, filters = in.TableID, in.Filters
	case automation.RowUpdatedTriggerInputs:
		tableID, filters = in.TableID, in.Filters
	case automation.RowDeletedTriggerInputs:
		tableID = in.TableID
	default:
		return false, fmt.Errorf("unexpected trigger inputs %T", inputs)
	}

	if tableID == "" || tableID != ev.TableID {
		return false, nil
	}
	if filters == nil || filters.IsEmpty() {
		return true, nil
	}

	ok, err := filters.MatchRow(ev.Row, f.eval)
	if err != nil || !ok {
		return false, err
	}
	if ev.Type == store.RowUpdated && ev.OldRow != nil {
		was, err := filters.MatchRow(ev.OldRow, f.eval)
		if err != nil {
			return false, err
		}
		return !was, nil
	}
	return true, nil
}

func triggerKindFor(t store.RowEventType) (automation.StepID, bool) {
	switch t {
	case store.RowCreated:
		return automation.TriggerRowSaved, true
	case store.RowUpdated:
		return automation.TriggerRowUpdated, true
	case store.RowDeleted:
		return automation.TriggerRowDeleted, true
	}
	return "", false
}

func rowPayload(ev store.RowEvent) map[string]any {
	row := store.CopyRow(ev.Row)
	if ev.Type == store.RowDeleted {
		return map[string]any{"row": row}
	}
	payload := map[string]any{
		"row":      row,
		"id":       ev.Row[store.RowIDKey],
		"revision": ev.Row[store.RowRevisionKey],
	}
	if ev.Type == store.RowUpdated {
		payload["oldRow"] = store.CopyRow(ev.OldRow)
	}
	return payload
}
