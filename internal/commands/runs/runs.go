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

// Package runs implements the runs command group, which reads the run log.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/commands/completion"
	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

const queryTimeout = 30 * time.Second

type listResponse struct {
	shared.JSONResponse
	Runs []*store.Run `json:"runs"`
}

type showResponse struct {
	shared.JSONResponse
	Run   *store.Run          `json:"run"`
	Steps []*store.StepResult `json:"steps"`
}

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "runs",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Inspect recorded runs",
		Long: `Commands for listing and viewing runs recorded in the store.

Runs are recorded by 'autoflow run' and 'autoflow serve'.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var (
		filter store.RunFilter
		failed bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Long: `List runs, newest first, optionally filtered by automation or status.

See also: autoflow runs show`,
		Example: `  # List recent runs
  autoflow runs list

  # Runs of one automation
  autoflow runs list --automation orders

  # Failed runs only
  autoflow runs list --failed

  # JSON for monitoring
  autoflow runs list --json | jq '.runs[] | select(.status=="failed")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failed {
				filter.Status = string(automation.RunFailed)
			}
			return withRunLog(cmd.Context(), func(ctx context.Context, runs store.RunLog) error {
				return list(ctx, cmd.OutOrStdout(), runs, filter)
			})
		},
	}

	cmd.Flags().StringVar(&filter.AutomationID, "automation", "", "Filter by automation id")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by status (running, success, failed, partial)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Skip this many runs")
	cmd.Flags().BoolVar(&failed, "failed", false, "Show only failed runs (shorthand for --status failed)")
	_ = cmd.RegisterFlagCompletionFunc("status", completion.CompleteRunStatus)

	return cmd
}

func newShowCommand() *cobra.Command {
	var outputs bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its steps",
		Long: `Display a recorded run with the outcome of every step.

See also: autoflow runs list`,
		Example: `  # Show a run
  autoflow runs show 3f6c2a8e-0d7b-4c1e-9a55-1b2f0f9a7c11

  # Include step outputs
  autoflow runs show 3f6c2a8e-0d7b-4c1e-9a55-1b2f0f9a7c11 --outputs

  # Extract the failing step
  autoflow runs show <run-id> --json | jq '.steps[] | select(.status=="failure")'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunLog(cmd.Context(), func(ctx context.Context, runs store.RunLog) error {
				return show(ctx, cmd.OutOrStdout(), runs, args[0], outputs)
			})
		},
	}

	cmd.Flags().BoolVar(&outputs, "outputs", false, "Print step outputs")

	return cmd
}

// withRunLog opens the configured store for the duration of fn.
func withRunLog(ctx context.Context, fn func(context.Context, store.RunLog) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	s, closeStore, err := shared.OpenStore(cfg, log.Discard())
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return fn(ctx, s)
}

func list(ctx context.Context, out io.Writer, runs store.RunLog, filter store.RunFilter) error {
	items, err := runs.ListRuns(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if shared.GetJSON() {
		if items == nil {
			items = []*store.Run{}
		}
		return shared.EmitJSON(out, listResponse{JSONResponse: shared.NewJSONResponse("runs list", true), Runs: items})
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAUTOMATION\tSTATUS\tSTARTED\tDURATION")
	for _, r := range items {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, truncate(r.AutomationID, 32), r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
	}
	return w.Flush()
}

func show(ctx context.Context, out io.Writer, runs store.RunLog, id string, withOutputs bool) error {
	run, err := runs.GetRun(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return shared.NewNotFoundError(fmt.Sprintf("run %s not found", id), err)
		}
		return fmt.Errorf("failed to get run: %w", err)
	}
	steps, err := runs.ListStepResults(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list steps: %w", err)
	}

	if shared.GetJSON() {
		if steps == nil {
			steps = []*store.StepResult{}
		}
		return shared.EmitJSON(out, showResponse{JSONResponse: shared.NewJSONResponse("runs show", true), Run: run, Steps: steps})
	}

	fmt.Fprintf(out, "Run ID:      %s\n", run.ID)
	fmt.Fprintf(out, "Automation:  %s\n", run.AutomationID)
	fmt.Fprintf(out, "Status:      %s\n", run.Status)
	if run.StopReason != "" {
		fmt.Fprintf(out, "Stopped:     %s\n", run.StopReason)
	}
	fmt.Fprintf(out, "Started:     %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:   %s (%s)\n", run.CompletedAt.Local().Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	if len(steps) == 0 {
		fmt.Fprintln(out, "\nNo steps recorded")
		return nil
	}
	fmt.Fprintln(out, "\nSteps:")
	for _, s := range steps {
		line := fmt.Sprintf("  %s %s %s %s %s", shared.StepSymbol(automation.StepStatus(s.Status)), s.Path, s.StepID, s.Kind, s.Duration.Round(time.Millisecond))
		if s.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", s.Attempts)
		}
		if s.Iterations > 0 {
			line += fmt.Sprintf(" [%d iterations]", s.Iterations)
		}
		fmt.Fprintln(out, line)
		if s.Error != "" {
			fmt.Fprintf(out, "      %s: %s\n", s.ErrorCode, s.Error)
		}
		if withOutputs && s.Outputs != nil {
			data, err := json.Marshal(s.Outputs)
			if err == nil {
				fmt.Fprintf(out, "      outputs: %s\n", data)
			}
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
