package automation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// FilterCondition is the comparison applied by a FILTER step.
type FilterCondition string

const (
	ConditionEqual       FilterCondition = "EQUAL"
	ConditionNotEqual    FilterCondition = "NOT_EQUAL"
	ConditionGreaterThan FilterCondition = "GREATER_THAN"
	ConditionLessThan    FilterCondition = "LESS_THAN"
)

// FilterConditions lists the accepted FILTER conditions.
var FilterConditions = []FilterCondition{
	ConditionEqual, ConditionNotEqual, ConditionGreaterThan, ConditionLessThan,
}

// CompareFilter evaluates field <condition> value the way the FILTER step
// does. Objects and arrays compare by their JSON text; two numeric operands
// compare as numbers and two timestamps compare as instants.
func CompareFilter(field any, condition FilterCondition, value any) (bool, error) {
	a, b := flattenOperand(field), flattenOperand(value)

	switch condition {
	case ConditionEqual:
		return looseEqual(a, b), nil
	case ConditionNotEqual:
		return !looseEqual(a, b), nil
	case ConditionGreaterThan:
		return compareOperands(a, b) > 0, nil
	case ConditionLessThan:
		return compareOperands(a, b) < 0, nil
	default:
		return false, fmt.Errorf("unknown filter condition %q", condition)
	}
}

// LogicalOperator joins the filters of a group, or the groups of a
// SearchFilters value.
type LogicalOperator string

const (
	LogicalAll LogicalOperator = "all"
	LogicalAny LogicalOperator = "any"
)

// SearchOperator is a per-filter comparison in a branch or row filter.
type SearchOperator string

const (
	OpEqual       SearchOperator = "equal"
	OpNotEqual    SearchOperator = "notEqual"
	OpEmpty       SearchOperator = "empty"
	OpNotEmpty    SearchOperator = "notEmpty"
	OpString      SearchOperator = "string"
	OpFuzzy       SearchOperator = "fuzzy"
	OpRange       SearchOperator = "range"
	OpLessThan    SearchOperator = "lessThan"
	OpGreaterThan SearchOperator = "greaterThan"
	OpOneOf       SearchOperator = "oneOf"
	OpContains    SearchOperator = "contains"
	OpNotContains SearchOperator = "notContains"
	OpContainsAny SearchOperator = "containsAny"
)

// SearchFilter compares one field against a value. In branch conditions
// Field is usually a binding resolved before evaluation; in row trigger
// filters it names a column of the row.
type SearchFilter struct {
	Field    any            `json:"field" yaml:"field"`
	Operator SearchOperator `json:"operator" yaml:"operator"`
	Value    any            `json:"value,omitempty" yaml:"value,omitempty"`
}

// FilterGroup is a list of filters joined by LogicalOperator (default all).
type FilterGroup struct {
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	Filters         []SearchFilter  `json:"filters" yaml:"filters"`
}

// SearchFilters is the condition of a branch group and of row triggers.
// Groups are joined by LogicalOperator (default all). Expression, when set,
// must also hold.
type SearchFilters struct {
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	// OnEmptyFilter decides the result when there are no filters at all:
	// "all" (default) matches, "none" does not.
	OnEmptyFilter string        `json:"onEmptyFilter,omitempty" yaml:"onEmptyFilter,omitempty"`
	Groups        []FilterGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
	Expression    string        `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// ConditionEvaluator evaluates an expression against a bindings scope.
type ConditionEvaluator interface {
	Evaluate(expression string, scope map[string]any) (bool, error)
}

// IsEmpty reports whether there is nothing to evaluate.
func (f SearchFilters) IsEmpty() bool {
	if f.Expression != "" {
		return false
	}
	for _, g := range f.Groups {
		if len(g.Filters) > 0 {
			return false
		}
	}
	return true
}

// Match evaluates the filters. field maps a filter's Field to the value being
// tested; a nil field uses the Field value itself.
func (f SearchFilters) Match(field func(any) any, eval ConditionEvaluator, scope map[string]any) (bool, error) {
	if f.IsEmpty() {
		return f.OnEmptyFilter != "none", nil
	}
	if field == nil {
		field = func(v any) any { return v }
	}

	groupsOK := true
	if len(f.Groups) > 0 {
		results := make([]bool, 0, len(f.Groups))
		for _, g := range f.Groups {
			ok, err := g.match(field)
			if err != nil {
				return false, err
			}
			results = append(results, ok)
		}
		groupsOK = join(f.LogicalOperator, results)
	}
	if !groupsOK {
		return false, nil
	}

	if f.Expression != "" {
		if eval == nil {
			return false, fmt.Errorf("expression condition given but no evaluator configured")
		}
		return eval.Evaluate(f.Expression, scope)
	}
	return true, nil
}

// MatchRow applies the filters to a table row. Each filter's Field names a
// column; the expression sees the row under "row".
func (f SearchFilters) MatchRow(row map[string]any, eval ConditionEvaluator) (bool, error) {
	column := func(field any) any { return row[stringify(field)] }
	return f.Match(column, eval, map[string]any{"row": row})
}

// CompareValues orders two values the way range filters do: numerically,
// then chronologically, then as text.
func CompareValues(a, b any) int {
	return compareOperands(a, b)
}

func (g FilterGroup) match(field func(any) any) (bool, error) {
	if len(g.Filters) == 0 {
		return true, nil
	}
	results := make([]bool, 0, len(g.Filters))
	for _, sf := range g.Filters {
		ok, err := sf.match(field(sf.Field))
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	return join(g.LogicalOperator, results), nil
}

func join(op LogicalOperator, results []bool) bool {
	if op == LogicalAny {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func (sf SearchFilter) match(actual any) (bool, error) {
	switch sf.Operator {
	case OpEqual:
		return looseEqual(flattenOperand(actual), flattenOperand(sf.Value)), nil
	case OpNotEqual:
		return !looseEqual(flattenOperand(actual), flattenOperand(sf.Value)), nil
	case OpEmpty:
		return isEmptyValue(actual), nil
	case OpNotEmpty:
		return !isEmptyValue(actual), nil
	case OpString:
		return strings.HasPrefix(strings.ToLower(stringify(actual)), strings.ToLower(stringify(sf.Value))), nil
	case OpFuzzy:
		return strings.Contains(strings.ToLower(stringify(actual)), strings.ToLower(stringify(sf.Value))), nil
	case OpLessThan:
		return !isEmptyValue(actual) && compareOperands(flattenOperand(actual), flattenOperand(sf.Value)) < 0, nil
	case OpGreaterThan:
		return !isEmptyValue(actual) && compareOperands(flattenOperand(actual), flattenOperand(sf.Value)) > 0, nil
	case OpRange:
		return matchRange(actual, sf.Value)
	case OpOneOf:
		for _, candidate := range listOf(sf.Value) {
			if looseEqual(flattenOperand(actual), flattenOperand(candidate)) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		return containsAll(actual, listOf(sf.Value)), nil
	case OpNotContains:
		return !containsAll(actual, listOf(sf.Value)), nil
	case OpContainsAny:
		for _, v := range listOf(sf.Value) {
			if containsAll(actual, []any{v}) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown search operator %q", sf.Operator)
	}
}

func matchRange(actual, bounds any) (bool, error) {
	m, ok := bounds.(map[string]any)
	if !ok {
		return false, fmt.Errorf("range filter value must be an object with low and/or high")
	}
	if isEmptyValue(actual) {
		return false, nil
	}
	a := flattenOperand(actual)
	if low, ok := m["low"]; ok && low != nil && compareOperands(a, flattenOperand(low)) < 0 {
		return false, nil
	}
	if high, ok := m["high"]; ok && high != nil && compareOperands(a, flattenOperand(high)) > 0 {
		return false, nil
	}
	return true, nil
}

func containsAll(actual any, wanted []any) bool {
	if s, ok := actual.(string); ok {
		for _, w := range wanted {
			if !strings.Contains(strings.ToLower(s), strings.ToLower(stringify(w))) {
				return false
			}
		}
		return true
	}
	have := listOf(actual)
	for _, w := range wanted {
		found := false
		for _, h := range have {
			if looseEqual(flattenOperand(h), flattenOperand(w)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// listOf turns an array, a JSON array string or a comma separated string into
// a list of values.
func listOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		var arr []any
		if strings.HasPrefix(strings.TrimSpace(t), "[") && json.Unmarshal([]byte(t), &arr) == nil {
			return arr
		}
		parts := strings.Split(t, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out
		}
		return []any{v}
	}
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// flattenOperand replaces objects and arrays by their JSON encoding so they
// compare structurally.
func flattenOperand(v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(time.Time); ok {
		return v
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareOperands(a, b) == 0
}

// compareOperands orders two scalars: numerically when both are numbers,
// chronologically when both are timestamps, otherwise lexically.
func compareOperands(a, b any) int {
	if x, ok := asNumber(a); ok {
		if y, ok := asNumber(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if s, ok := flattenOperand(v).(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
