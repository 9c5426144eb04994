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

package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type sqlSource struct {
	db *sql.DB
}

// sqlDriver maps a datasource type to its database/sql driver name.
func sqlDriver(kind string) string {
	if kind == TypeSQLite {
		return "sqlite"
	}
	return "postgres"
}

func (r *Runner) sqlSource(ds Datasource) (*sqlSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.sql[ds.ID]; ok {
		return src, nil
	}

	db, err := sql.Open(sqlDriver(ds.Type), ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("open datasource %s: %w", ds.ID, err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	src := &sqlSource{db: db}
	r.sql[ds.ID] = src
	return src, nil
}

func (s *sqlSource) run(ctx context.Context, q Query, params map[string]any) (*Result, error) {
	args := make([]any, len(q.Parameters))
	for i, name := range q.Parameters {
		args[i] = params[name]
	}

	if !q.Read {
		res, err := s.db.ExecContext(ctx, q.SQL, args...)
		if err != nil {
			return nil, &QueryError{QueryID: q.ID, Cause: err}
		}
		info := map[string]any{}
		if n, err := res.RowsAffected(); err == nil {
			info["rowsAffected"] = n
		}
		return &Result{Response: []map[string]any{}, Info: info}, nil
	}

	rows, err := s.db.QueryContext(ctx, q.SQL, args...)
	if err != nil {
		return nil, &QueryError{QueryID: q.ID, Cause: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{QueryID: q.ID, Cause: err}
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, &QueryError{QueryID: q.ID, Cause: err}
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{QueryID: q.ID, Cause: err}
	}

	return &Result{
		Response: results,
		Info:     map[string]any{"rows": len(results), "columns": columns},
	}, nil
}

// normalizeValue converts driver values into JSON friendly ones.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// QueryError is a query the datasource rejected.
type QueryError struct {
	QueryID string
	Status  int
	Cause   error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("query %s failed with status %d: %v", e.QueryID, e.Status, e.Cause)
	}
	return fmt.Sprintf("query %s failed: %v", e.QueryID, e.Cause)
}

func (e *QueryError) Unwrap() error { return e.Cause }
