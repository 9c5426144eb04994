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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
)

func firstFields(completions []string) []string {
	out := make([]string, 0, len(completions))
	for _, c := range completions {
		out = append(out, strings.SplitN(c, "\t", 2)[0])
	}
	return out
}

func TestCompleteStepKinds(t *testing.T) {
	completions, directive := CompleteStepKinds(nil, nil, "")

	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	kinds := firstFields(completions)
	assert.Contains(t, kinds, "CRON")
	assert.Contains(t, kinds, "DELAY")
	reg := automation.DefaultRegistry()
	assert.Len(t, completions, len(reg.Actions())+len(reg.Triggers()))
}

func TestCompleteRunStatus(t *testing.T) {
	completions, _ := CompleteRunStatus(nil, nil, "")
	assert.Equal(t, []string{"success", "failed", "partial"}, firstFields(completions))
}

func TestCompleteAutomationFiles(t *testing.T) {
	exts, directive := CompleteAutomationFiles(nil, nil, "")
	assert.Equal(t, []string{"yaml", "yml"}, exts)
	assert.Equal(t, cobra.ShellCompDirectiveFilterFileExt, directive)
}

func TestRunCompletions(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := &automation.Automation{ID: "nightly", Trigger: automation.Trigger{ID: "t", StepID: automation.TriggerCron}}
	s.OnRunStarted(ctx, "run-1", a, nil)
	s.OnRunCompleted(ctx, "run-1", &automation.RunResult{RunID: "run-1", AutomationID: "nightly", Status: automation.RunFailed})

	got := runCompletions(ctx, s)
	require.Len(t, got, 1)
	assert.Equal(t, "run-1\tnightly (failed)", got[0])
}

func TestSafeCompletionWrapper(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, results)
	assert.NotNil(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	results, _ = SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.NotNil(t, results)
}

func TestCommand_Scripts(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			root := &cobra.Command{Use: "autoflow"}
			root.AddCommand(NewCommand())
			var out bytes.Buffer
			root.SetOut(&out)
			root.SetArgs([]string{"completion", shell})

			require.NoError(t, root.Execute())
			assert.Contains(t, out.String(), "autoflow")
		})
	}
}

func TestCommand_RejectsUnknownShell(t *testing.T) {
	root := &cobra.Command{Use: "autoflow"}
	root.AddCommand(NewCommand())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"completion", "tcsh"})

	assert.Error(t, root.Execute())
}
