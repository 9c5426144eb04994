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

// Package steps implements the steps command, which describes the step and
// trigger kinds this build can run.
package steps

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/autoflow/internal/commands/completion"
	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/featureflags"
	"github.com/tombee/autoflow/pkg/automation"
)

// Definition is a step definition with its availability under the current
// feature flags.
type Definition struct {
	*automation.StepDefinition
	Available   bool   `json:"available"`
	Unavailable string `json:"unavailable,omitempty"`
}

type listResponse struct {
	shared.JSONResponse
	Steps []Definition `json:"steps"`
}

type showResponse struct {
	shared.JSONResponse
	Step Definition `json:"step"`
}

// NewCommand creates the steps command.
func NewCommand() *cobra.Command {
	var (
		triggers bool
		all      bool
	)

	cmd := &cobra.Command{
		Use: "steps [kind]",
		Annotations: map[string]string{
			"group": "automation",
		},
		Short: "List step and trigger kinds",
		Long: `List the step and trigger kinds this build can run, or show the inputs
and outputs of one kind.

Kinds that the current hosting mode or feature flags disable are marked.`,
		Example: `  # List actions and logic steps
  autoflow steps

  # List triggers
  autoflow steps --triggers

  # Show the inputs and outputs of one kind
  autoflow steps SEND_EMAIL_SMTP

  # Machine readable
  autoflow steps --all --json`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completion.CompleteStepKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := featureflags.Get().Capabilities()
			if len(args) == 1 {
				return show(cmd.OutOrStdout(), automation.StepID(strings.ToUpper(args[0])), caps)
			}
			return list(cmd.OutOrStdout(), triggers, all, caps)
		},
	}

	cmd.Flags().BoolVar(&triggers, "triggers", false, "List trigger kinds instead of steps")
	cmd.Flags().BoolVar(&all, "all", false, "List triggers and steps, including internal ones")

	return cmd
}

func describe(def *automation.StepDefinition, caps automation.Capabilities) Definition {
	d := Definition{StepDefinition: def, Available: true}
	if err := caps.Allows(def); err != nil {
		d.Available = false
		d.Unavailable = err.Error()
	}
	return d
}

func list(out io.Writer, triggers, all bool, caps automation.Capabilities) error {
	reg := automation.DefaultRegistry()
	var defs []*automation.StepDefinition
	switch {
	case all:
		defs = append(reg.Triggers(), reg.Actions()...)
	case triggers:
		defs = reg.Triggers()
	default:
		defs = reg.Actions()
	}

	steps := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if def.Deprecated && !all {
			continue
		}
		steps = append(steps, describe(def, caps))
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, listResponse{
			JSONResponse: shared.NewJSONResponse("steps", true),
			Steps:        steps,
		})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tTYPE\tNAME\tAVAILABLE")
	for _, s := range steps {
		avail := "yes"
		if !s.Available {
			avail = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.StepID, s.Type, s.Name, avail)
	}
	return w.Flush()
}

func show(out io.Writer, id automation.StepID, caps automation.Capabilities) error {
	def, err := automation.DefaultRegistry().Lookup(id)
	if err != nil {
		return shared.NewNotFoundError(fmt.Sprintf("unknown step kind %q", id), err)
	}
	d := describe(def, caps)

	if shared.GetJSON() {
		return shared.EmitJSON(out, showResponse{
			JSONResponse: shared.NewJSONResponse("steps", true),
			Step:         d,
		})
	}

	fmt.Fprintf(out, "%s  %s\n", shared.RenderLabel(string(d.StepID)), d.Name)
	if d.Tagline != "" {
		fmt.Fprintf(out, "  %s\n", d.Tagline)
	}
	if d.Description != "" && d.Description != d.Tagline {
		fmt.Fprintf(out, "  %s\n", d.Description)
	}
	fmt.Fprintf(out, "  type: %s\n", d.Type)
	if d.Deprecated {
		fmt.Fprintln(out, "  "+shared.RenderWarn("deprecated"))
	}
	if !d.Available {
		fmt.Fprintln(out, "  "+shared.RenderWarn(d.Unavailable))
	}

	fmt.Fprintln(out, "\nInputs:")
	if err := writeBlock(out, d.Schema.Inputs); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nOutputs:")
	return writeBlock(out, d.Schema.Outputs)
}

func writeBlock(out io.Writer, b automation.IOBlock) error {
	if len(b.Properties) == 0 {
		_, err := fmt.Fprintln(out, "  (none)")
		return err
	}
	names := make([]string, 0, len(b.Properties))
	for name := range b.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		p := b.Properties[name]
		req := ""
		if b.IsRequired(name) {
			req = "required"
		}
		typ := string(p.Type)
		if p.CustomType != "" {
			typ += "/" + p.CustomType
		}
		if len(p.Enum) > 0 {
			typ += " (" + strings.Join(p.Enum, "|") + ")"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", name, typ, req, p.Title)
	}
	return w.Flush()
}
