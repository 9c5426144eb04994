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

// Package storetest holds the behaviour every store implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// Store is the full surface a backend provides.
type Store interface {
	store.AutomationStore
	store.RunLog
	store.RowStore
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Automations", func(t *testing.T) { testAutomations(t, newStore(t)) })
	t.Run("RunLog", func(t *testing.T) { testRunLog(t, newStore(t)) })
	t.Run("RowCRUD", func(t *testing.T) { testRowCRUD(t, newStore(t)) })
	t.Run("RowRevisions", func(t *testing.T) { testRowRevisions(t, newStore(t)) })
	t.Run("QueryRows", func(t *testing.T) { testQueryRows(t, newStore(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, newStore(t)) })
}

func sample(id string) *automation.Automation {
	return &automation.Automation{
		ID:      id,
		Name:    "notify " + id,
		Trigger: automation.NewTrigger("trigger", automation.WebhookTriggerInputs{}),
		Steps: []automation.Step{
			automation.NewStep("wait", automation.DelayInputs{Time: 0.0}),
		},
	}
}

func testAutomations(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.SaveAutomation(ctx, sample("b")))
	require.NoError(t, s.SaveAutomation(ctx, sample("a")))

	got, err := s.LoadAutomation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "notify a", got.Name)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, automation.StepDelay, got.Steps[0].StepID)

	updated := sample("a")
	updated.Disabled = true
	require.NoError(t, s.SaveAutomation(ctx, updated))
	got, err = s.LoadAutomation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	list, err := s.ListAutomations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, s.DeleteAutomation(ctx, "a"))
	_, err = s.LoadAutomation(ctx, "a")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(s.DeleteAutomation(ctx, "a")))

	var verr *errors.ValidationError
	assert.ErrorAs(t, s.SaveAutomation(ctx, &automation.Automation{}), &verr)
}

func testRunLog(t *testing.T, s Store) {
	ctx := context.Background()
	engine := automation.NewEngine(nil,
		automation.WithLogger(log.Discard()),
		automation.WithObserver(s),
	)

	a := sample("auto-1")
	a.Steps = append(a.Steps, automation.NewStep("stop", automation.FilterInputs{
		Field:     "{{ trigger.body.kind }}",
		Condition: automation.ConditionEqual,
		Value:     "keep",
	}))

	first, err := engine.Run(ctx, a, map[string]any{"body": map[string]any{"kind": "keep"}}, automation.WithRunID("run-1"))
	require.NoError(t, err)
	require.Equal(t, automation.RunSuccess, first.Status)

	second, err := engine.Run(ctx, a, map[string]any{"body": map[string]any{"kind": "drop"}}, automation.WithRunID("run-2"))
	require.NoError(t, err)
	require.Equal(t, automation.StopFilter, second.StopReason)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "auto-1", run.AutomationID)
	assert.Equal(t, string(automation.RunSuccess), run.Status)
	assert.Equal(t, map[string]any{"kind": "keep"}, run.Trigger["body"])
	require.NotNil(t, run.CompletedAt)
	assert.False(t, run.StartedAt.IsZero())

	run, err = s.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, string(automation.StopFilter), run.StopReason)

	steps, err := s.ListStepResults(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "wait", steps[0].StepID)
	assert.Equal(t, 0, steps[0].Seq)
	assert.Equal(t, "stop", steps[1].StepID)
	assert.Equal(t, 1, steps[1].Seq)
	assert.Equal(t, string(automation.StepStopped), steps[1].Status)
	assert.Equal(t, string(automation.StepFilter), steps[1].Kind)

	runs, err := s.ListRuns(ctx, store.RunFilter{AutomationID: "auto-1"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "newest first")

	runs, err = s.ListRuns(ctx, store.RunFilter{AutomationID: "auto-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	runs, err = s.ListRuns(ctx, store.RunFilter{AutomationID: "other"})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func testRowCRUD(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.CreateRow(ctx, "", store.Row{"name": "x"})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)

	created, err := s.CreateRow(ctx, "ta_people", store.Row{"name": "ada", "age": 36.0})
	require.NoError(t, err)
	id, _ := created[store.RowIDKey].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "ta_people", created[store.RowTableKey])
	assert.NotEmpty(t, created[store.RowRevisionKey])

	got, err := s.GetRow(ctx, "ta_people", id)
	require.NoError(t, err)
	assert.Equal(t, "ada", got["name"])

	updated, err := s.UpdateRow(ctx, "", id, store.Row{"age": 37.0, store.RowIDKey: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, id, updated[store.RowIDKey])
	assert.Equal(t, 37.0, updated["age"])
	assert.Equal(t, "ada", updated["name"])
	assert.NotEqual(t, created[store.RowRevisionKey], updated[store.RowRevisionKey])

	_, err = s.CreateRow(ctx, "ta_people", store.Row{store.RowIDKey: id})
	var cerr *errors.ConflictError
	assert.ErrorAs(t, err, &cerr)

	deleted, err := s.DeleteRow(ctx, "ta_people", id, "")
	require.NoError(t, err)
	assert.Equal(t, 37.0, deleted["age"])

	_, err = s.GetRow(ctx, "ta_people", id)
	assert.True(t, errors.IsNotFound(err))
	_, err = s.UpdateRow(ctx, "ta_people", id, store.Row{"age": 1.0})
	assert.True(t, errors.IsNotFound(err))
	_, err = s.DeleteRow(ctx, "ta_people", id, "")
	assert.True(t, errors.IsNotFound(err))
}

func testRowRevisions(t *testing.T, s Store) {
	ctx := context.Background()

	created, err := s.CreateRow(ctx, "ta_tasks", store.Row{"title": "write"})
	require.NoError(t, err)
	id := created[store.RowIDKey].(string)
	rev := created[store.RowRevisionKey].(string)

	_, err = s.UpdateRow(ctx, "ta_tasks", id, store.Row{"title": "stale", store.RowRevisionKey: "0-stale"})
	var cerr *errors.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "0-stale", cerr.Revision)

	updated, err := s.UpdateRow(ctx, "ta_tasks", id, store.Row{"title": "review", store.RowRevisionKey: rev})
	require.NoError(t, err)

	_, err = s.DeleteRow(ctx, "ta_tasks", id, rev)
	require.ErrorAs(t, err, &cerr)

	_, err = s.DeleteRow(ctx, "ta_tasks", id, updated[store.RowRevisionKey].(string))
	require.NoError(t, err)
}

func testQueryRows(t *testing.T, s Store) {
	ctx := context.Background()

	for _, r := range []store.Row{
		{"name": "ada", "score": 9.0, "team": "red"},
		{"name": "bob", "score": 4.0, "team": "blue"},
		{"name": "cy", "score": 7.0, "team": "red"},
		{"name": "dee", "score": 1.0, "team": "red"},
	} {
		_, err := s.CreateRow(ctx, "ta_players", r)
		require.NoError(t, err)
	}
	_, err := s.CreateRow(ctx, "ta_other", store.Row{"name": "eve", "team": "red"})
	require.NoError(t, err)

	names := func(rows []store.Row) []any {
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = r["name"]
		}
		return out
	}

	all, err := s.QueryRows(ctx, store.RowQuery{TableID: "ta_players"})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "bob", "cy", "dee"}, names(all), "insertion order")

	red := &automation.SearchFilters{Groups: []automation.FilterGroup{{
		Filters: []automation.SearchFilter{{Field: "team", Operator: automation.OpEqual, Value: "red"}},
	}}}
	rows, err := s.QueryRows(ctx, store.RowQuery{
		TableID:    "ta_players",
		Filters:    red,
		SortColumn: "score",
		SortOrder:  store.SortDescending,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "cy"}, names(rows))

	rows, err = s.QueryRows(ctx, store.RowQuery{
		TableID:    "ta_players",
		Filters:    &automation.SearchFilters{Expression: "row.score < 5"},
		SortColumn: "score",
		SortOrder:  store.SortAscending,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"dee", "bob"}, names(rows))

	rows, err = s.QueryRows(ctx, store.RowQuery{TableID: "ta_missing"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type eventLog struct {
	mu     sync.Mutex
	events []store.RowEvent
}

func (l *eventLog) add(ev store.RowEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func testSubscribe(t *testing.T, s Store) {
	ctx := context.Background()
	events := &eventLog{}
	unsubscribe := s.Subscribe(events.add)

	created, err := s.CreateRow(ctx, "ta_feed", store.Row{"n": 1.0})
	require.NoError(t, err)
	id := created[store.RowIDKey].(string)
	_, err = s.UpdateRow(ctx, "ta_feed", id, store.Row{"n": 2.0})
	require.NoError(t, err)
	_, err = s.DeleteRow(ctx, "ta_feed", id, "")
	require.NoError(t, err)

	unsubscribe()
	_, err = s.CreateRow(ctx, "ta_feed", store.Row{"n": 3.0})
	require.NoError(t, err)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 3)
	assert.Equal(t, store.RowCreated, events.events[0].Type)
	assert.Equal(t, "ta_feed", events.events[0].TableID)
	assert.Equal(t, store.RowUpdated, events.events[1].Type)
	assert.Equal(t, 2.0, events.events[1].Row["n"])
	assert.Equal(t, 1.0, events.events[1].OldRow["n"])
	assert.Equal(t, store.RowDeleted, events.events[2].Type)
	assert.Equal(t, id, events.events[2].Row[store.RowIDKey])
}
