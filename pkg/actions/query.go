package actions

import (
	"context"
	"fmt"

	"github.com/tombee/autoflow/internal/datasource"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// QueryRunner executes saved queries. *datasource.Runner implements it.
type QueryRunner interface {
	Run(ctx context.Context, ref automation.QueryRef) (*datasource.Result, error)
	// Kind reports the datasource type a query runs against.
	Kind(queryID string) (string, bool)
}

type queries struct {
	runner QueryRunner
}

func (q *queries) executeQuery(ctx context.Context, in automation.ExecuteQueryInputs, _ *automation.RunContext) (automation.QueryOutputs, error) {
	return q.run(ctx, in.Query, "")
}

// apiRequest only runs queries saved against REST datasources.
func (q *queries) apiRequest(ctx context.Context, in automation.APIRequestInputs, _ *automation.RunContext) (automation.QueryOutputs, error) {
	return q.run(ctx, in.Query, datasource.TypeREST)
}

func (q *queries) run(ctx context.Context, ref *automation.QueryRef, wantKind string) (automation.QueryOutputs, error) {
	if ref == nil || ref.QueryID == "" {
		return automation.QueryOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "query.queryId is required"}
	}
	kind, ok := q.runner.Kind(ref.QueryID)
	if !ok {
		return automation.QueryOutputs{}, &automation.ActionFailure{Message: fmt.Sprintf("query %q not found", ref.QueryID), Status: 404}
	}
	if wantKind != "" && kind != wantKind {
		return automation.QueryOutputs{}, &automation.StepError{
			Code:    automation.ErrInvalidInput,
			Message: fmt.Sprintf("query %q runs against a %s datasource, not %s", ref.QueryID, kind, wantKind),
		}
	}

	res, err := q.runner.Run(ctx, *ref)
	if err != nil {
		var qerr *datasource.QueryError
		switch {
		case errors.As(err, &qerr):
			return automation.QueryOutputs{}, &automation.ActionFailure{Message: qerr.Error(), Status: qerr.Status}
		case errors.IsNotFound(err):
			return automation.QueryOutputs{}, &automation.ActionFailure{Message: err.Error(), Status: 404}
		}
		return automation.QueryOutputs{}, err
	}
	return automation.QueryOutputs{Response: res.Response, Info: res.Info, Success: true}, nil
}
