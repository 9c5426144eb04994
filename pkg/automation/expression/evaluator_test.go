package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Scope(t *testing.T) {
	e := New()
	scope := map[string]any{
		"trigger": map[string]any{
			"row": map[string]any{"status": "open", "priority": 3},
		},
		"stepsById": map[string]any{
			"lookup": map[string]any{"rows": []any{"a", "b"}},
		},
		"vars": map[string]any{"tags": []any{"urgent", "billing"}},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty expression is true", "", true},
		{"field equality", `trigger.row.status == "open"`, true},
		{"numeric comparison", `trigger.row.priority > 5`, false},
		{"length of step output", `length(stepsById.lookup.rows) == 2`, true},
		{"has finds element", `has(vars.tags, "urgent")`, true},
		{"includes is alias for has", `includes(vars.tags, "sales")`, false},
		{"in operator", `"billing" in vars.tags`, true},
		{"isEmpty on missing", `isEmpty(vars.missing)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := New()

	_, err := e.Evaluate(`trigger.row.status ==`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile expression")

	assert.Error(t, e.Validate(`1 +`))
	assert.NoError(t, e.Validate(`vars.x == 1`))
}

func TestEvaluator_Cache(t *testing.T) {
	e := New()
	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(`vars.n > 1`, map[string]any{"vars": map[string]any{"n": i}})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.CacheSize())
}
