package actions

import (
	"context"

	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// rows implements the table row steps over a RowStore.
type rows struct {
	store store.RowStore
}

// create inserts in.Row into the table named by its tableId field.
func (r *rows) create(ctx context.Context, in automation.CreateRowInputs, _ *automation.RunContext) (automation.RowOutputs, error) {
	tableID, _ := in.Row[store.RowTableKey].(string)
	if tableID == "" {
		return automation.RowOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "row.tableId is required"}
	}
	row := store.CopyRow(in.Row)
	delete(row, store.RowRevisionKey)

	saved, err := r.store.CreateRow(ctx, tableID, row)
	if err != nil {
		return automation.RowOutputs{}, rowFailure("create row", err)
	}
	return rowOutputs(saved), nil
}

// update merges in.Row into the row with id in.RowID. Empty strings are
// treated as "not set" unless meta.fields.<name>.clear is true.
func (r *rows) update(ctx context.Context, in automation.UpdateRowInputs, _ *automation.RunContext) (automation.RowOutputs, error) {
	tableID, _ := in.Row[store.RowTableKey].(string)
	patch := make(store.Row, len(in.Row))
	for k, v := range in.Row {
		if s, ok := v.(string); ok && s == "" && !clearField(in.Meta, k) {
			continue
		}
		patch[k] = v
	}

	saved, err := r.store.UpdateRow(ctx, tableID, in.RowID, patch)
	if err != nil {
		return automation.RowOutputs{}, rowFailure("update row", err)
	}
	return rowOutputs(saved), nil
}

func (r *rows) delete(ctx context.Context, in automation.DeleteRowInputs, _ *automation.RunContext) (automation.RowOutputs, error) {
	removed, err := r.store.DeleteRow(ctx, in.TableID, in.ID, in.Revision)
	if err != nil {
		return automation.RowOutputs{}, rowFailure("delete row", err)
	}
	return rowOutputs(removed), nil
}

func (r *rows) query(ctx context.Context, in automation.QueryRowsInputs, _ *automation.RunContext) (automation.QueryRowsOutputs, error) {
	var filters *automation.SearchFilters
	if in.Filters != nil {
		f := *in.Filters
		if f.OnEmptyFilter == "" {
			f.OnEmptyFilter = in.OnEmptyFilter
		}
		filters = &f
	}
	if (filters == nil || filters.IsEmpty()) && in.OnEmptyFilter == "none" {
		return automation.QueryRowsOutputs{Rows: []map[string]any{}, Success: true}, nil
	}

	q := store.RowQuery{
		TableID:    in.TableID,
		Filters:    filters,
		SortColumn: in.SortColumn,
		SortOrder:  in.SortOrder,
	}
	if in.Limit != nil {
		if *in.Limit < 0 {
			return automation.QueryRowsOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "limit must not be negative"}
		}
		q.Limit = *in.Limit
	}

	found, err := r.store.QueryRows(ctx, q)
	if err != nil {
		return automation.QueryRowsOutputs{}, rowFailure("query rows", err)
	}
	out := make([]map[string]any, len(found))
	for i, row := range found {
		out[i] = row
	}
	return automation.QueryRowsOutputs{Rows: out, Success: true}, nil
}

func rowOutputs(row store.Row) automation.RowOutputs {
	id, _ := row[store.RowIDKey].(string)
	rev, _ := row[store.RowRevisionKey].(string)
	return automation.RowOutputs{
		Row:      row,
		Response: row,
		ID:       id,
		Revision: rev,
		Success:  true,
	}
}

// rowFailure turns the store errors a user can cause into ActionFailures.
func rowFailure(op string, err error) error {
	var validation *errors.ValidationError
	switch {
	case errors.IsNotFound(err):
		return &automation.ActionFailure{Message: op + ": " + err.Error(), Status: 404}
	case errors.IsConflict(err):
		return &automation.ActionFailure{Message: op + ": " + err.Error(), Status: 409}
	case errors.As(err, &validation):
		return &automation.ActionFailure{Message: op + ": " + err.Error(), Status: 400}
	}
	return errors.Wrap(err, op)
}

func clearField(meta map[string]any, name string) bool {
	fields, _ := meta["fields"].(map[string]any)
	field, _ := fields[name].(map[string]any)
	v, _ := field["clear"].(bool)
	return v
}
