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

// Package store defines persistence for automations, run history and table
// rows.
//
// # Interface Hierarchy
//
//   - AutomationStore: automation documents. It satisfies automation.Loader,
//     so TRIGGER_AUTOMATION_RUN can fetch nested automations from it.
//   - RunLog: run and step history. It satisfies automation.Observer and is
//     fed by the engine as steps complete.
//   - RowStore: table rows for the row steps and the row triggers. Writes are
//     published to subscribers as RowEvents.
//
// The memory and sqlite subpackages implement all three.
package store

import (
	"context"
	"time"

	"github.com/tombee/autoflow/pkg/automation"
)

// AutomationStore persists automation documents.
type AutomationStore interface {
	SaveAutomation(ctx context.Context, a *automation.Automation) error
	LoadAutomation(ctx context.Context, id string) (*automation.Automation, error)
	ListAutomations(ctx context.Context) ([]*automation.Automation, error)
	DeleteAutomation(ctx context.Context, id string) error
}

// RunLog records the history of runs.
type RunLog interface {
	automation.Observer
	automation.RunStartObserver

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	ListStepResults(ctx context.Context, runID string) ([]*StepResult, error)
}

// RowStore holds table rows.
type RowStore interface {
	CreateRow(ctx context.Context, tableID string, row Row) (Row, error)
	// UpdateRow merges patch into the stored row. An empty tableID finds the
	// row by id alone.
	UpdateRow(ctx context.Context, tableID, id string, patch Row) (Row, error)
	GetRow(ctx context.Context, tableID, id string) (Row, error)
	// DeleteRow removes a row. A non-empty rev must match the current
	// revision.
	DeleteRow(ctx context.Context, tableID, id, rev string) (Row, error)
	QueryRows(ctx context.Context, q RowQuery) ([]Row, error)
	// Subscribe registers fn for every committed write and returns a
	// function that removes it.
	Subscribe(fn func(RowEvent)) (unsubscribe func())
}

// Run is the stored record of one run.
type Run struct {
	ID           string         `json:"id"`
	AutomationID string         `json:"automation_id"`
	Status       string         `json:"status"`
	StopReason   string         `json:"stop_reason,omitempty"`
	Trigger      map[string]any `json:"trigger,omitempty"`
	Collected    any            `json:"collected,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// RunStatusRunning marks a run that has started but not completed.
const RunStatusRunning = "running"

// RunFilter narrows ListRuns.
type RunFilter struct {
	AutomationID string
	Status       string
	Limit        int
	Offset       int
}

// StepResult is the stored outcome of one step.
type StepResult struct {
	RunID      string        `json:"run_id"`
	Seq        int           `json:"seq"`
	StepID     string        `json:"step_id"`
	Kind       string        `json:"kind"`
	Path       string        `json:"path"`
	Status     string        `json:"status"`
	Outputs    any           `json:"outputs,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Iterations int           `json:"iterations,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewRun builds the record written when a run starts.
func NewRun(runID string, a *automation.Automation, trigger map[string]any) *Run {
	return &Run{
		ID:           runID,
		AutomationID: a.ID,
		Status:       RunStatusRunning,
		Trigger:      trigger,
		StartedAt:    time.Now().UTC(),
	}
}

// Complete copies the final state of result onto r.
func (r *Run) Complete(result *automation.RunResult) {
	completed := result.CompletedAt.UTC()
	r.Status = string(result.Status)
	r.StopReason = string(result.StopReason)
	r.Collected = result.Collected
	r.CompletedAt = &completed
	if r.StartedAt.IsZero() {
		r.StartedAt = result.StartedAt.UTC()
	}
	if r.AutomationID == "" {
		r.AutomationID = result.AutomationID
	}
}

// NewStepResult converts an engine outcome into a stored step result.
func NewStepResult(runID string, seq int, o automation.StepOutcome) *StepResult {
	sr := &StepResult{
		RunID:      runID,
		Seq:        seq,
		StepID:     o.StepID,
		Kind:       string(o.Kind),
		Path:       o.Path,
		Status:     string(o.Status),
		Outputs:    o.Outputs,
		Attempts:   o.Attempts,
		Iterations: len(o.Iterations),
		Duration:   o.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	if o.Error != nil {
		sr.ErrorCode = string(o.Error.Code)
		sr.Error = o.Error.Error()
	}
	return sr
}
