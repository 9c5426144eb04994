package automation

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

var (
	bindingPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
	jsPattern      = regexp.MustCompile(`^js\s+"([A-Za-z0-9+/=]*)"$`)
)

// jsBindingTimeout bounds one {{ js "..." }} evaluation.
const jsBindingTimeout = 5 * time.Second

// resolver substitutes {{ ... }} bindings against a scope snapshot.
type resolver struct {
	ctx    context.Context
	scope  map[string]any
	stepID string
}

// Resolve substitutes bindings in v, which may be a string, a map or a slice
// of those. A string that is exactly one binding yields the bound value with
// its own type; bindings embedded in text are formatted as strings.
func Resolve(ctx context.Context, v any, scope map[string]any) (any, error) {
	r := &resolver{ctx: ctx, scope: scope}
	return r.resolve(v)
}

func (r *resolver) resolve(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.resolveString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := r.resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := r.resolve(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *resolver) resolveString(s string) (any, error) {
	matches := bindingPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 {
		m := matches[0]
		if strings.TrimSpace(s[:m[0]]) == "" && strings.TrimSpace(s[m[1]:]) == "" {
			return r.evaluate(s[m[2]:m[3]])
		}
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, err := r.evaluate(s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (r *resolver) evaluate(expr string) (any, error) {
	if m := jsPattern.FindStringSubmatch(expr); m != nil {
		return r.runJS(m[1])
	}
	v, ok := lookupPath(r.scope, expr)
	if !ok {
		return nil, &StepError{
			Code:    ErrMissingRef,
			StepID:  r.stepID,
			Message: fmt.Sprintf("unresolved reference %q", expr),
		}
	}
	return v, nil
}

func (r *resolver) runJS(encoded string) (any, error) {
	code, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &StepError{Code: ErrInvalidInput, StepID: r.stepID, Message: "js binding is not valid base64", Cause: err}
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("$", func(path string) any {
		v, _ := lookupPath(r.scope, path)
		return v
	}); err != nil {
		return nil, err
	}

	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, jsBindingTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("js binding interrupted") })
	defer stop()

	value, err := vm.RunString("(function(){\n" + string(code) + "\n})()")
	if err != nil {
		return nil, &StepError{Code: ErrInvalidInput, StepID: r.stepID, Message: "js binding failed: " + err.Error(), Cause: err}
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

// Lookup resolves a binding path such as "steps.1.rows" against a scope
// built by RunContext.Scope.
func Lookup(scope map[string]any, path string) (any, bool) {
	return lookupPath(scope, path)
}

// lookupPath walks a dotted path such as steps.1.rows[0].name or
// trigger.row["first name"] through nested maps and slices.
func lookupPath(root map[string]any, path string) (any, bool) {
	segments, ok := splitPath(path)
	if !ok || len(segments) == 0 {
		return nil, false
	}
	var cur any = root
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		case []map[string]any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) ([]string, bool) {
	var segs []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, false
			}
			inner := strings.Trim(path[i+1:i+end], `"'`)
			segs = append(segs, inner)
			i += end
		case ' ', '\t':
			if cur.Len() > 0 {
				cur.WriteByte(c)
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segs, true
}
