// Package jq runs jq programs over step values for the collect and extract
// steps.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single program run.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest JSON encoding of an input (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor compiles and runs jq programs with a timeout and input size
// limit. Compiled programs are cached by source text.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExecutor creates an executor. Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize <= 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		cache:        make(map[string]*gojq.Code),
	}
}

// Execute runs program against data. An empty program returns data
// unchanged. A program that emits one value returns it; several values are
// returned as a slice and none as nil.
func (e *Executor) Execute(ctx context.Context, program string, data any) (any, error) {
	if program == "" {
		return data, nil
	}

	input, err := e.normalize(data)
	if err != nil {
		return nil, err
	}

	code, err := e.compile(program)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	iter := code.RunWithContext(runCtx, input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if runCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("jq program timed out after %v", e.timeout)
			}
			return nil, err
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate compiles program without running it.
func (e *Executor) Validate(program string) error {
	if program == "" {
		return nil
	}
	_, err := e.compile(program)
	return err
}

func (e *Executor) compile(program string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[program]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("invalid jq program: %w", err)
	}
	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}

	e.mu.Lock()
	e.cache[program] = code
	e.mu.Unlock()
	return code, nil
}

// normalize converts data to the plain maps, slices and float64s gojq
// accepts, checking the size limit on the way.
func (e *Executor) normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("jq input is not JSON: %w", err)
	}
	if int64(len(raw)) > e.maxInputSize {
		return nil, fmt.Errorf("jq input size (%d bytes) exceeds maximum (%d bytes)", len(raw), e.maxInputSize)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
