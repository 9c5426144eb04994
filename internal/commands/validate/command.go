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

// Package validate implements the validate command.
package validate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/commands/completion"
	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/featureflags"
	"github.com/tombee/autoflow/internal/loader"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

// Error codes reported in JSON output for problems that are not step errors.
const (
	CodeReadFailed  = "READ_FAILED"
	CodeParseFailed = "PARSE_FAILED"
	CodeInvalid     = "INVALID_AUTOMATION"
	CodeDuplicateID = "DUPLICATE_ID"
)

// FileResult is the validation outcome of one document.
type FileResult struct {
	File         string               `json:"file"`
	AutomationID string               `json:"automation_id,omitempty"`
	Valid        bool                 `json:"valid"`
	Errors       []shared.JSONError   `json:"errors,omitempty"`
	Warnings     []automation.Warning `json:"warnings,omitempty"`
}

type response struct {
	shared.JSONResponse
	Files []FileResult `json:"files"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate automation files",
		Annotations: map[string]string{
			"group": "automation",
		},
		Long: `Validate parses automation documents and checks their structure: known
step kinds, unique step ids, required inputs, branch conditions and filter
expressions. Directories are searched for documents matching --pattern.

Steps that the current hosting mode or feature flags disable are reported as
warnings, since the document is valid but the step would fail at run time.

See also: autoflow run, autoflow steps`,
		Example: `  # Validate one file
  autoflow validate automations/orders.yaml

  # Validate every automation under a directory
  autoflow validate automations/

  # JSON output for CI
  autoflow validate automations/ --json | jq '.files[] | select(.valid == false)'`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteAutomationFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args, pattern, featureflags.Get().Capabilities())
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", loader.DefaultPattern, "Glob for documents inside directories")

	return cmd
}

func runValidate(out io.Writer, args []string, pattern string, caps automation.Capabilities) error {
	files, err := expand(args, pattern)
	if err != nil {
		return err
	}

	engine := automation.NewEngine(nil)
	results := make([]FileResult, 0, len(files))
	owners := map[string]string{}
	for _, f := range files {
		res := validateFile(engine, f, caps)
		if res.AutomationID != "" {
			if prev, dup := owners[res.AutomationID]; dup {
				res.Valid = false
				res.Errors = append(res.Errors, shared.JSONError{
					Code:    CodeDuplicateID,
					Message: fmt.Sprintf("automation id %q is already defined in %s", res.AutomationID, prev),
					File:    f,
				})
			} else {
				owners[res.AutomationID] = f
			}
		}
		results = append(results, res)
	}

	invalid := 0
	for _, r := range results {
		if !r.Valid {
			invalid++
		}
	}

	if shared.GetJSON() {
		resp := response{JSONResponse: shared.NewJSONResponse("validate", invalid == 0), Files: results}
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else {
		printResults(out, results)
	}

	if invalid > 0 {
		return shared.NewInvalidAutomationError(fmt.Sprintf("%d of %d automations invalid", invalid, len(results)), nil)
	}
	return nil
}

// expand turns file and directory arguments into a list of documents.
func expand(args []string, pattern string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, shared.NewNotFoundError(fmt.Sprintf("cannot read %s", arg), err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := loader.Glob(arg, pattern)
		if err != nil {
			return nil, shared.NewConfigError("invalid --pattern", err)
		}
		for _, rel := range matches {
			files = append(files, filepath.Join(arg, filepath.FromSlash(rel)))
		}
	}
	if len(files) == 0 {
		return nil, shared.NewNotFoundError("no automation documents found", nil)
	}
	return files, nil
}

func validateFile(engine *automation.Engine, file string, caps automation.Capabilities) FileResult {
	res := FileResult{File: file}
	dir, base := filepath.Split(file)
	if dir == "" {
		dir = "."
	}

	a, err := loader.ReadFile(os.DirFS(dir), base)
	if err != nil {
		code := CodeParseFailed
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			code = CodeReadFailed
		}
		res.Errors = append(res.Errors, shared.JSONError{Code: code, Message: err.Error(), File: file})
		return res
	}
	res.AutomationID = a.ID

	warnings, err := engine.Validate(a)
	res.Warnings = append(res.Warnings, warnings...)
	res.Warnings = append(res.Warnings, availability(a, caps)...)
	for _, e := range flatten(err) {
		res.Errors = append(res.Errors, toJSONError(file, e))
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// availability warns about steps that cannot run under caps.
func availability(a *automation.Automation, caps automation.Capabilities) []automation.Warning {
	reg := automation.DefaultRegistry()
	var out []automation.Warning
	check := func(id string, kind automation.StepID) {
		def, err := reg.Lookup(kind)
		if err != nil {
			return
		}
		if err := caps.Allows(def); err != nil {
			out = append(out, automation.Warning{StepID: id, Message: err.Error()})
		}
	}

	check(a.Trigger.ID, a.Trigger.StepID)
	var walk func([]automation.Step)
	walk = func(steps []automation.Step) {
		for _, s := range steps {
			check(s.ID, s.StepID)
			if in, ok := s.Inputs.(automation.BranchInputs); ok {
				for _, b := range in.Branches {
					walk(in.Children[b.ID])
				}
			}
		}
	}
	walk(a.Steps)
	return out
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func toJSONError(file string, err error) shared.JSONError {
	je := shared.JSONError{Code: CodeInvalid, Message: err.Error(), File: file}
	var (
		serr *automation.StepError
		verr *errors.ValidationError
	)
	switch {
	case errors.As(err, &serr):
		je.Code = string(serr.Code)
		je.StepID = serr.StepID
	case errors.As(err, &verr):
		je.Suggestion = verr.Suggestion
	}
	return je
}

func printResults(out io.Writer, results []FileResult) {
	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s (%s)", r.File, r.AutomationID)))
		} else {
			fmt.Fprintln(out, shared.RenderError(r.File))
		}
		for _, e := range r.Errors {
			if e.StepID != "" {
				fmt.Fprintf(out, "    %s: %s\n", e.StepID, e.Message)
			} else {
				fmt.Fprintf(out, "    %s\n", e.Message)
			}
			if e.Suggestion != "" {
				fmt.Fprintf(out, "      hint: %s\n", e.Suggestion)
			}
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "    %s\n", shared.RenderWarn(w.StepID+": "+w.Message))
		}
	}
	fmt.Fprintf(out, "\n%d of %d automations valid\n", valid, len(results))
}
