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

package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/autoflow/pkg/automation"
)

// Row is a table row. System fields use the keys below.
type Row = map[string]any

const (
	RowIDKey       = "_id"
	RowRevisionKey = "_rev"
	RowTableKey    = "tableId"
)

// RowEventType says what happened to a row.
type RowEventType string

const (
	RowCreated RowEventType = "created"
	RowUpdated RowEventType = "updated"
	RowDeleted RowEventType = "deleted"
)

// RowEvent is published after a row write commits. OldRow is set for
// updates.
type RowEvent struct {
	Type    RowEventType
	TableID string
	Row     Row
	OldRow  Row
}

// Sort orders for RowQuery.SortOrder.
const (
	SortAscending  = "ascending"
	SortDescending = "descending"
)

// RowQuery selects rows of one table. Nil Filters match every row.
type RowQuery struct {
	TableID    string
	Filters    *automation.SearchFilters
	SortColumn string
	SortOrder  string
	Limit      int
}

// NewRowID returns a fresh row id.
func NewRowID() string {
	return "ro_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NextRevision returns the revision that follows rev, in the form
// "<n>-<hash>".
func NextRevision(rev string) string {
	n := 0
	if rev != "" {
		_, _ = fmt.Sscanf(rev, "%d-", &n)
	}
	return fmt.Sprintf("%d-%s", n+1, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// CopyRow returns a shallow copy of r.
func CopyRow(r Row) Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MergeRow applies patch over base, keeping the system fields of base.
func MergeRow(base, patch Row) Row {
	out := CopyRow(base)
	for k, v := range patch {
		switch k {
		case RowIDKey, RowRevisionKey, RowTableKey:
			continue
		}
		out[k] = v
	}
	return out
}

// SelectRows filters, sorts and limits rows in memory. Both stores use it so
// query semantics stay identical.
func SelectRows(rows []Row, q RowQuery, eval automation.ConditionEvaluator) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if q.Filters != nil {
			ok, err := q.Filters.MatchRow(r, eval)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
	}

	if q.SortColumn != "" {
		desc := q.SortOrder == SortDescending
		sort.SliceStable(out, func(i, j int) bool {
			c := automation.CompareValues(out[i][q.SortColumn], out[j][q.SortColumn])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Feed fans row events out to subscribers. Subscribers run on the writer's
// goroutine after the write commits and should hand work off quickly.
type Feed struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(RowEvent)
}

// Subscribe registers fn and returns its removal function.
func (f *Feed) Subscribe(fn func(RowEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(RowEvent))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish delivers ev to every subscriber.
func (f *Feed) Publish(ev RowEvent) {
	f.mu.RLock()
	subs := make([]func(RowEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
