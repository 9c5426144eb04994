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

package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
)

const (
	storeTimeout = 500 * time.Millisecond
	maxRuns      = 50
)

// SafeCompletionWrapper recovers from panics in fn and never returns a nil
// list.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// CompleteStepKinds completes action and trigger kinds with their names.
func CompleteStepKinds(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		reg := automation.DefaultRegistry()
		defs := append(reg.Triggers(), reg.Actions()...)
		out := make([]string, 0, len(defs))
		for _, d := range defs {
			out = append(out, fmt.Sprintf("%s\t%s", d.StepID, d.Name))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteRunStatus completes --status values.
func CompleteRunStatus(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return []string{
			string(automation.RunSuccess) + "\tEvery step succeeded or the run stopped cleanly",
			string(automation.RunFailed) + "\tA step failed and ended the run",
			string(automation.RunPartial) + "\tSome steps failed but the run continued",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteAutomationFiles completes YAML files and directories.
func CompleteAutomationFiles(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
}

// CompleteRunIDs completes recent run ids from the configured store.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		cfg, err := shared.LoadConfig()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		s, closeStore, err := shared.OpenStore(cfg, log.Discard())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		return runCompletions(ctx, s), cobra.ShellCompDirectiveNoFileComp
	})
}

func runCompletions(ctx context.Context, runs store.RunLog) []string {
	list, err := runs.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, fmt.Sprintf("%s\t%s (%s)", r.ID, r.AutomationID, r.Status))
	}
	return out
}
