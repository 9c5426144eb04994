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

// Package run implements the run command, which executes one automation in
// process and prints its steps.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/cli/timeline"
	"github.com/tombee/autoflow/internal/commands/completion"
	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/loader"
	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

type options struct {
	payloadFile string
	sets        []string
	timeout     time.Duration
	timeline    bool
	loadDir     bool
}

type runResponse struct {
	shared.JSONResponse
	Result *automation.RunResult `json:"result"`
}

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use: "run <file|automation-id>",
		Annotations: map[string]string{
			"group": "automation",
		},
		Short: "Run one automation",
		Long: `Run executes an automation in this process and prints the outcome of every
step. The argument is either a YAML document or the id of an automation
already in the store.

The trigger payload is built from --payload-file and --set. Values given to
--set are read as YAML scalars and dotted keys create nested objects.

Exit codes:
  0  the run succeeded
  1  the run failed or finished partially
  2  the automation is invalid
  4  the automation was not found`,
		Example: `  # Run a webhook automation with a body
  autoflow run orders.yaml --set body.orderId=1234 --set body.total=42.5

  # Read the payload from stdin
  echo '{"body":{"orderId":"1234"}}' | autoflow run orders.yaml --payload-file -

  # Run a stored automation and draw a timeline
  autoflow run nightly-report --timeline

  # JSON result for scripting
  autoflow run orders.yaml --json | jq '.result.steps[] | select(.status != "success")'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteAutomationFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runAutomation(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.payloadFile, "payload-file", "f", "", "JSON or YAML trigger payload (- for stdin)")
	cmd.Flags().StringArrayVarP(&opts.sets, "set", "s", nil, "Set a payload field (key=value, repeatable)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this long (0 for no limit)")
	cmd.Flags().BoolVar(&opts.timeline, "timeline", false, "Draw a step timeline after the run")
	cmd.Flags().BoolVar(&opts.loadDir, "load-dir", true, "Load the configured automations directory so TRIGGER_AUTOMATION_RUN can find other automations")

	return cmd
}

func runAutomation(ctx context.Context, stdin io.Reader, out io.Writer, target string, opts options) error {
	payload := map[string]any{}
	if opts.payloadFile != "" {
		p, err := readPayloadFile(opts.payloadFile, stdin)
		if err != nil {
			return err
		}
		payload = p
	}
	if err := applySets(payload, opts.sets); err != nil {
		return err
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	rt, err := shared.NewRuntime(ctx, cfg, shared.RuntimeOptions{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			rt.Logger.Warn("runtime did not close cleanly", log.Error(err))
		}
	}()

	if opts.loadDir {
		l, err := rt.NewLoader()
		if err != nil {
			return err
		}
		if l != nil {
			if _, err := l.Load(ctx); err != nil {
				rt.Logger.Warn("automations directory not loaded", log.Error(err))
			}
		}
	}

	a, err := resolve(ctx, rt.Store, target)
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	res, err := rt.Engine.Run(ctx, a, payload)
	if err != nil {
		return classifyRunError(a.ID, err)
	}
	return report(out, res, opts.timeline)
}

type automationLoader interface {
	SaveAutomation(ctx context.Context, a *automation.Automation) error
	LoadAutomation(ctx context.Context, id string) (*automation.Automation, error)
}

// resolve reads target as a file when one exists, saving it so nested
// TRIGGER_AUTOMATION_RUN steps can refer to it, and otherwise loads it from
// the store by id.
func resolve(ctx context.Context, s automationLoader, target string) (*automation.Automation, error) {
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		dir, base := filepath.Split(target)
		if dir == "" {
			dir = "."
		}
		a, err := loader.ReadFile(os.DirFS(dir), base)
		if err != nil {
			return nil, shared.NewInvalidAutomationError(fmt.Sprintf("cannot read %s", target), err)
		}
		if err := s.SaveAutomation(ctx, a); err != nil {
			return nil, fmt.Errorf("save automation: %w", err)
		}
		return a, nil
	}

	a, err := s.LoadAutomation(ctx, target)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, shared.NewNotFoundError(fmt.Sprintf("%s is neither a file nor a stored automation", target), err)
		}
		return nil, err
	}
	return a, nil
}

func classifyRunError(id string, err error) error {
	var verr *errors.ValidationError
	var serr *automation.StepError
	if errors.As(err, &verr) || errors.As(err, &serr) {
		return shared.NewInvalidAutomationError(fmt.Sprintf("automation %s cannot run", id), err)
	}
	return shared.NewRunFailedError(fmt.Sprintf("automation %s did not run", id), err)
}

func report(out io.Writer, res *automation.RunResult, drawTimeline bool) error {
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, runResponse{
			JSONResponse: shared.NewJSONResponse("run", res.Status == automation.RunSuccess),
			Result:       res,
		}); err != nil {
			return err
		}
	} else {
		printResult(out, res)
		if drawTimeline && len(res.Steps) > 0 {
			var term *os.File
			if f, ok := out.(*os.File); ok {
				term = f
			}
			if err := timeline.NewRenderer(term).Render(out, res); err != nil {
				return err
			}
		}
	}

	if res.Status != automation.RunSuccess {
		msg := fmt.Sprintf("run %s finished %s", res.RunID, res.Status)
		if res.StopReason != automation.StopNone {
			msg += fmt.Sprintf(" (%s)", res.StopReason)
		}
		return shared.NewRunFailedError(msg, nil)
	}
	return nil
}

func printResult(out io.Writer, res *automation.RunResult) {
	fmt.Fprintf(out, "%s %s\n", shared.RenderLabel("Run"), res.RunID)
	for _, s := range res.Steps {
		line := fmt.Sprintf("  %s %s %s %s", shared.StepSymbol(s.Status), s.StepID, s.Kind, s.Duration.Round(time.Millisecond))
		if s.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", s.Attempts)
		}
		if len(s.Iterations) > 0 {
			line += fmt.Sprintf(" [%d iterations]", len(s.Iterations))
		}
		fmt.Fprintln(out, line)
		if s.Error != nil {
			fmt.Fprintf(out, "      %s: %s\n", s.Error.Code, s.Error.Message)
		}
	}
	status := shared.RenderRunStatus(res.Status)
	if res.StopReason != automation.StopNone {
		status += fmt.Sprintf(" (stopped: %s)", res.StopReason)
	}
	fmt.Fprintf(out, "%s %s in %s\n", shared.RenderLabel("Status"), status, res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Collected != nil {
		fmt.Fprintf(out, "%s %v\n", shared.RenderLabel("Collected"), res.Collected)
	}
}
