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

// Package memory provides an in-memory store for tests and the CLI.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/automation/expression"
	"github.com/tombee/autoflow/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.AutomationStore = (*Store)(nil)
	_ store.RunLog          = (*Store)(nil)
	_ store.RowStore        = (*Store)(nil)
	_ automation.Loader     = (*Store)(nil)
)

// Store keeps everything in maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	automations map[string][]byte
	runs        map[string]*store.Run
	steps       map[string][]*store.StepResult
	tables      map[string]map[string]store.Row
	order       map[string][]string

	feed store.Feed
	eval *expression.Evaluator
}

// New creates an empty store.
func New() *Store {
	return &Store{
		automations: make(map[string][]byte),
		runs:        make(map[string]*store.Run),
		steps:       make(map[string][]*store.StepResult),
		tables:      make(map[string]map[string]store.Row),
		order:       make(map[string][]string),
		eval:        expression.New(),
	}
}

// SaveAutomation stores a copy of a. Documents are kept encoded so callers
// cannot mutate the stored value.
func (s *Store) SaveAutomation(_ context.Context, a *automation.Automation) error {
	if a == nil || a.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "automation id is required"}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode automation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.automations[a.ID] = data
	return nil
}

// LoadAutomation implements automation.Loader.
func (s *Store) LoadAutomation(_ context.Context, id string) (*automation.Automation, error) {
	s.mu.RLock()
	data, ok := s.automations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "automation", ID: id}
	}
	return automation.ParseJSON(data)
}

// ListAutomations returns every automation ordered by id.
func (s *Store) ListAutomations(ctx context.Context) ([]*automation.Automation, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.automations))
	for id := range s.automations {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*automation.Automation, 0, len(ids))
	for _, id := range ids {
		a, err := s.LoadAutomation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DeleteAutomation removes an automation.
func (s *Store) DeleteAutomation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.automations[id]; !ok {
		return &errors.NotFoundError{Resource: "automation", ID: id}
	}
	delete(s.automations, id)
	return nil
}

// OnRunStarted implements automation.RunStartObserver.
func (s *Store) OnRunStarted(_ context.Context, runID string, a *automation.Automation, trigger map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = store.NewRun(runID, a, trigger)
}

// OnStepCompleted implements automation.Observer.
func (s *Store) OnStepCompleted(_ context.Context, runID string, outcome automation.StepOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := len(s.steps[runID])
	s.steps[runID] = append(s.steps[runID], store.NewStepResult(runID, seq, outcome))
}

// OnRunCompleted implements automation.Observer.
func (s *Store) OnRunCompleted(_ context.Context, runID string, result *automation.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = &store.Run{ID: runID}
		s.runs[runID] = run
	}
	run.Complete(result)
}

// GetRun returns a copy of the run record.
func (s *Store) GetRun(_ context.Context, id string) (*store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(_ context.Context, filter store.RunFilter) ([]*store.Run, error) {
	s.mu.RLock()
	var out []*store.Run
	for _, run := range s.runs {
		if filter.AutomationID != "" && run.AutomationID != filter.AutomationID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListStepResults returns the step results of a run in completion order.
func (s *Store) ListStepResults(_ context.Context, runID string) ([]*store.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.StepResult, len(s.steps[runID]))
	copy(out, s.steps[runID])
	return out, nil
}

// CreateRow inserts a row, assigning an id when none is given.
func (s *Store) CreateRow(_ context.Context, tableID string, row store.Row) (store.Row, error) {
	if tableID == "" {
		return nil, &errors.ValidationError{Field: "tableId", Message: "table id is required"}
	}
	saved := store.CopyRow(row)
	id, _ := saved[store.RowIDKey].(string)
	if id == "" {
		id = store.NewRowID()
	}
	saved[store.RowIDKey] = id
	saved[store.RowTableKey] = tableID
	saved[store.RowRevisionKey] = store.NextRevision("")

	s.mu.Lock()
	table := s.table(tableID)
	if _, exists := table[id]; exists {
		s.mu.Unlock()
		return nil, &errors.ConflictError{Resource: "row", ID: id}
	}
	table[id] = saved
	s.order[tableID] = append(s.order[tableID], id)
	s.mu.Unlock()

	s.feed.Publish(store.RowEvent{Type: store.RowCreated, TableID: tableID, Row: store.CopyRow(saved)})
	return store.CopyRow(saved), nil
}

// UpdateRow merges patch into an existing row.
func (s *Store) UpdateRow(_ context.Context, tableID, id string, patch store.Row) (store.Row, error) {
	s.mu.Lock()
	tableID, old, ok := s.find(tableID, id)
	if !ok {
		s.mu.Unlock()
		return nil, &errors.NotFoundError{Resource: "row", ID: id}
	}
	if rev, _ := patch[store.RowRevisionKey].(string); rev != "" && rev != old[store.RowRevisionKey] {
		s.mu.Unlock()
		return nil, &errors.ConflictError{Resource: "row", ID: id, Revision: rev}
	}
	updated := store.MergeRow(old, patch)
	updated[store.RowRevisionKey] = store.NextRevision(old[store.RowRevisionKey].(string))
	s.tables[tableID][id] = updated
	s.mu.Unlock()

	s.feed.Publish(store.RowEvent{Type: store.RowUpdated, TableID: tableID, Row: store.CopyRow(updated), OldRow: store.CopyRow(old)})
	return store.CopyRow(updated), nil
}

// GetRow returns a copy of a row.
func (s *Store) GetRow(_ context.Context, tableID, id string) (store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, row, ok := s.find(tableID, id)
	if !ok {
		return nil, &errors.NotFoundError{Resource: "row", ID: id}
	}
	return store.CopyRow(row), nil
}

// DeleteRow removes a row and returns it.
func (s *Store) DeleteRow(_ context.Context, tableID, id, rev string) (store.Row, error) {
	s.mu.Lock()
	tableID, row, ok := s.find(tableID, id)
	if !ok {
		s.mu.Unlock()
		return nil, &errors.NotFoundError{Resource: "row", ID: id}
	}
	if rev != "" && rev != row[store.RowRevisionKey] {
		s.mu.Unlock()
		return nil, &errors.ConflictError{Resource: "row", ID: id, Revision: rev}
	}
	delete(s.tables[tableID], id)
	order := s.order[tableID]
	for i, rid := range order {
		if rid == id {
			s.order[tableID] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.feed.Publish(store.RowEvent{Type: store.RowDeleted, TableID: tableID, Row: store.CopyRow(row)})
	return store.CopyRow(row), nil
}

// QueryRows returns the matching rows of a table in insertion order unless
// a sort column is given.
func (s *Store) QueryRows(_ context.Context, q store.RowQuery) ([]store.Row, error) {
	s.mu.RLock()
	rows := make([]store.Row, 0, len(s.order[q.TableID]))
	for _, id := range s.order[q.TableID] {
		rows = append(rows, store.CopyRow(s.tables[q.TableID][id]))
	}
	s.mu.RUnlock()
	return store.SelectRows(rows, q, s.eval)
}

// Subscribe implements store.RowStore.
func (s *Store) Subscribe(fn func(store.RowEvent)) func() {
	return s.feed.Subscribe(fn)
}

// table returns the table map, creating it. Callers hold the write lock.
func (s *Store) table(id string) map[string]store.Row {
	t, ok := s.tables[id]
	if !ok {
		t = make(map[string]store.Row)
		s.tables[id] = t
	}
	return t
}

// find locates a row, searching every table when tableID is empty.
func (s *Store) find(tableID, id string) (string, store.Row, bool) {
	if tableID != "" {
		row, ok := s.tables[tableID][id]
		return tableID, row, ok
	}
	for tid, t := range s.tables {
		if row, ok := t[id]; ok {
			return tid, row, true
		}
	}
	return "", nil, false
}
