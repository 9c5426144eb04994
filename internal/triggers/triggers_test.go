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

package triggers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
)

type startCall struct {
	AutomationID string
	Payload      map[string]any
	Sync         bool
}

// fakeStarter records runs instead of executing them.
type fakeStarter struct {
	mu     sync.Mutex
	calls  []startCall
	err    error
	result *automation.RunResult

	// failFor makes StartRun fail for one automation id.
	failFor map[string]error
}

func (f *fakeStarter) StartRun(_ context.Context, a *automation.Automation, payload map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if err := f.failFor[a.ID]; err != nil {
		return "", err
	}
	f.calls = append(f.calls, startCall{AutomationID: a.ID, Payload: payload})
	return fmt.Sprintf("run-%d", len(f.calls)), nil
}

func (f *fakeStarter) RunSync(_ context.Context, a *automation.Automation, payload map[string]any) (*automation.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, startCall{AutomationID: a.ID, Payload: payload, Sync: true})
	if f.result != nil {
		return f.result, nil
	}
	return &automation.RunResult{RunID: "sync-run", AutomationID: a.ID, Status: automation.RunSuccess}, nil
}

func (f *fakeStarter) Calls() []startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]startCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeStarter) started() []string {
	var ids []string
	for _, c := range f.Calls() {
		ids = append(ids, c.AutomationID)
	}
	return ids
}

func logStep() automation.Step {
	return automation.NewStep("log", automation.ServerLogInputs{Text: "fired"})
}

func saveAutomations(t *testing.T, s *memory.Store, autos ...*automation.Automation) {
	t.Helper()
	for _, a := range autos {
		if len(a.Steps) == 0 {
			a.Steps = []automation.Step{logStep()}
		}
		require.NoError(t, s.SaveAutomation(context.Background(), a))
	}
}

func withTrigger[I automation.Inputs](id string, in I) *automation.Automation {
	return &automation.Automation{ID: id, Trigger: automation.NewTrigger("trigger", in)}
}
