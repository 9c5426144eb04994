package actions

import (
	"context"

	"github.com/tombee/autoflow/internal/jq"
	"github.com/tombee/autoflow/pkg/automation"
)

type collector struct {
	jq *jq.Executor
}

// collect returns the resolved collection, narrowed by the optional jq
// transform. The engine records the value as the run's collected result.
func (c *collector) collect(ctx context.Context, in automation.CollectInputs, _ *automation.RunContext) (automation.CollectOutputs, error) {
	value := in.Collection
	if in.Transform != "" {
		out, err := c.jq.Execute(ctx, in.Transform, value)
		if err != nil {
			return automation.CollectOutputs{}, automation.Failf("collect transform: %v", err)
		}
		value = out
	}
	return automation.CollectOutputs{Success: true, Value: value}, nil
}
