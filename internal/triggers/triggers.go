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

// Package triggers turns outside events into automation runs.
//
// Each ingress finds the automations whose trigger matches the event, builds
// the trigger payload for that kind and hands it to a Starter:
//
//   - Scheduler fires CRON triggers.
//   - RowFeed follows row writes for ROW_SAVED, ROW_UPDATED and ROW_DELETED.
//   - HTTPHandler receives WEBHOOK posts, APP invocations and ROW_ACTION
//     clicks.
package triggers

import (
	"context"

	"github.com/tombee/autoflow/pkg/automation"
)

// Catalog is where triggers look up automations.
type Catalog interface {
	ListAutomations(ctx context.Context) ([]*automation.Automation, error)
	LoadAutomation(ctx context.Context, id string) (*automation.Automation, error)
}

// Starter runs automations. *runner.Runner implements it.
type Starter interface {
	StartRun(ctx context.Context, a *automation.Automation, payload map[string]any) (string, error)
	RunSync(ctx context.Context, a *automation.Automation, payload map[string]any) (*automation.RunResult, error)
}

// listByKind returns the enabled automations whose trigger is of kind.
func listByKind(ctx context.Context, catalog Catalog, kind automation.StepID) ([]*automation.Automation, error) {
	all, err := catalog.ListAutomations(ctx)
	if err != nil {
		return nil, err
	}
	var out []*automation.Automation
	for _, a := range all {
		if a == nil || a.Disabled || a.Trigger.StepID != kind {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
