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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
)

func statusIs(v string) *automation.SearchFilters {
	return &automation.SearchFilters{Groups: []automation.FilterGroup{{
		Filters: []automation.SearchFilter{{Field: "status", Operator: automation.OpEqual, Value: v}},
	}}}
}

func rowFeedFixture(t *testing.T) (*memory.Store, *fakeStarter, *RowFeed) {
	t.Helper()
	s := memory.New()
	saveAutomations(t, s,
		withTrigger("saved-any", automation.RowSavedTriggerInputs{TableID: "ta_tasks"}),
		withTrigger("saved-open", automation.RowSavedTriggerInputs{TableID: "ta_tasks", Filters: statusIs("open")}),
		withTrigger("updated-done", automation.RowUpdatedTriggerInputs{TableID: "ta_tasks", Filters: statusIs("done")}),
		withTrigger("updated-any", automation.RowUpdatedTriggerInputs{TableID: "ta_tasks"}),
		withTrigger("deleted", automation.RowDeletedTriggerInputs{TableID: "ta_tasks"}),
		withTrigger("other-table", automation.RowSavedTriggerInputs{TableID: "ta_people"}),
	)
	starter := &fakeStarter{}
	return s, starter, NewRowFeed(s, s, starter, RowFeedConfig{Logger: log.Discard()})
}

func TestRowFeed_Handle(t *testing.T) {
	tests := []struct {
		name string
		ev   store.RowEvent
		want []string
	}{
		{
			name: "created row matching filter",
			ev:   store.RowEvent{Type: store.RowCreated, TableID: "ta_tasks", Row: store.Row{"_id": "r1", "status": "open"}},
			want: []string{"saved-any", "saved-open"},
		},
		{
			name: "created row outside filter",
			ev:   store.RowEvent{Type: store.RowCreated, TableID: "ta_tasks", Row: store.Row{"_id": "r1", "status": "closed"}},
			want: []string{"saved-any"},
		},
		{
			name: "update into filtered set",
			ev: store.RowEvent{
				Type: store.RowUpdated, TableID: "ta_tasks",
				Row:    store.Row{"_id": "r1", "status": "done"},
				OldRow: store.Row{"_id": "r1", "status": "open"},
			},
			want: []string{"updated-any", "updated-done"},
		},
		{
			name: "update already in filtered set",
			ev: store.RowEvent{
				Type: store.RowUpdated, TableID: "ta_tasks",
				Row:    store.Row{"_id": "r1", "status": "done", "title": "renamed"},
				OldRow: store.Row{"_id": "r1", "status": "done"},
			},
			want: []string{"updated-any"},
		},
		{
			name: "deleted row",
			ev:   store.RowEvent{Type: store.RowDeleted, TableID: "ta_tasks", Row: store.Row{"_id": "r1"}},
			want: []string{"deleted"},
		},
		{
			name: "table without automations",
			ev:   store.RowEvent{Type: store.RowCreated, TableID: "ta_unknown", Row: store.Row{"_id": "r1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, starter, feed := rowFeedFixture(t)
			runIDs, err := feed.Handle(context.Background(), tt.ev)
			require.NoError(t, err)
			assert.Len(t, runIDs, len(tt.want))
			assert.ElementsMatch(t, tt.want, starter.started())
		})
	}
}

func TestRowFeed_Payloads(t *testing.T) {
	_, starter, feed := rowFeedFixture(t)
	ctx := context.Background()

	_, err := feed.Handle(ctx, store.RowEvent{
		Type: store.RowUpdated, TableID: "ta_tasks",
		Row:    store.Row{"_id": "r1", "_rev": "2-abc", "status": "open"},
		OldRow: store.Row{"_id": "r1", "_rev": "1-abc", "status": "new"},
	})
	require.NoError(t, err)

	calls := starter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "updated-any", calls[0].AutomationID)
	assert.Equal(t, map[string]any{
		"row":      store.Row{"_id": "r1", "_rev": "2-abc", "status": "open"},
		"oldRow":   store.Row{"_id": "r1", "_rev": "1-abc", "status": "new"},
		"id":       "r1",
		"revision": "2-abc",
	}, calls[0].Payload)

	_, err = feed.Handle(ctx, store.RowEvent{Type: "archived", TableID: "ta_tasks"})
	assert.ErrorContains(t, err, "unknown row event type")
}

func TestRowFeed_FollowsStore(t *testing.T) {
	s, starter, feed := rowFeedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed.Start(ctx)
	row, err := s.CreateRow(ctx, "ta_tasks", store.Row{"status": "open"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(starter.Calls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	for _, c := range starter.Calls() {
		assert.Equal(t, row[store.RowIDKey], c.Payload["id"])
	}

	feed.Stop()
	_, err = s.CreateRow(ctx, "ta_tasks", store.Row{"status": "open"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, starter.Calls(), 2)
}

func TestRowFeed_StopWithoutStart(t *testing.T) {
	_, _, feed := rowFeedFixture(t)
	feed.Stop()
	feed.Stop()
}
