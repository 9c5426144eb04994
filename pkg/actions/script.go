package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/tombee/autoflow/pkg/automation"
)

// scripts runs EXECUTE_SCRIPT and EXECUTE_SCRIPT_V2 code in a fresh goja
// runtime per call. The code is the body of a function; its return value is
// the step value.
type scripts struct {
	timeout time.Duration
}

// executeV1 exposes the run scope as globals: trigger, steps, stepsById,
// vars, env and loop.
func (s *scripts) executeV1(ctx context.Context, in automation.ExecuteScriptInputs, rc *automation.RunContext) (automation.ScriptOutputs, error) {
	scope := rc.Scope()
	value, err := s.run(ctx, in.Code, rc, func(vm *goja.Runtime) error {
		for name, v := range scope {
			if err := vm.Set(name, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return automation.ScriptOutputs{}, err
	}
	return automation.ScriptOutputs{Success: true, Value: value}, nil
}

// executeV2 exposes the scope as globals and adds $("path") for binding
// style lookups, e.g. $("steps.1.rows").
func (s *scripts) executeV2(ctx context.Context, in automation.ExecuteScriptV2Inputs, rc *automation.RunContext) (automation.ScriptOutputs, error) {
	scope := rc.Scope()
	value, err := s.run(ctx, in.Code, rc, func(vm *goja.Runtime) error {
		for name, v := range scope {
			if err := vm.Set(name, v); err != nil {
				return err
			}
		}
		return vm.Set("$", func(path string) any {
			v, _ := automation.Lookup(scope, strings.TrimSpace(path))
			return v
		})
	})
	if err != nil {
		return automation.ScriptOutputs{}, err
	}
	return automation.ScriptOutputs{Success: true, Value: value}, nil
}

func (s *scripts) run(ctx context.Context, code string, rc *automation.RunContext, setup func(*goja.Runtime) error) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	logger := rc.Logger().With(slog.String("source", "script"))
	console := vm.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"debug": slog.LevelDebug,
	} {
		lvl := level
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logger.Log(ctx, lvl, strings.Join(parts, " "))
			return goja.Undefined()
		}); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}
	if err := setup(vm); err != nil {
		return nil, fmt.Errorf("prepare script runtime: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() { vm.Interrupt("script interrupted") })
	defer stop()

	result, err := vm.RunString("(function() {\n" + code + "\n})()")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return nil, automation.Failf("script cancelled: %v", ctx.Err())
			}
			return nil, &automation.StepError{
				Code:    automation.ErrTimeout,
				Message: fmt.Sprintf("script timed out after %s", s.timeout),
				Cause:   context.DeadlineExceeded,
			}
		}
		return nil, automation.Failf("script error: %v", err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}
