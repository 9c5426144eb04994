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

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/pkg/automation"
)

// HelpResponse is the output of `autoflow help --json`. Besides the command
// tree it carries the exit codes and the step kinds an automation may use,
// so a script can drive autoflow without scraping text help.
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandHelp       `json:"commands,omitempty"`
	Target      *CommandHelp        `json:"target,omitempty"`
	GlobalFlags []FlagHelp          `json:"global_flags"`
	ExitCodes   []ExitCodeHelp      `json:"exit_codes"`
	StepKinds   map[string][]string `json:"step_kinds,omitempty"`
}

type CommandHelp struct {
	Name        string        `json:"name"`
	Usage       string        `json:"usage"`
	Short       string        `json:"short"`
	Long        string        `json:"long,omitempty"`
	Example     string        `json:"example,omitempty"`
	Group       string        `json:"group,omitempty"`
	Aliases     []string      `json:"aliases,omitempty"`
	Flags       []FlagHelp    `json:"flags,omitempty"`
	Subcommands []CommandHelp `json:"subcommands,omitempty"`
}

type FlagHelp struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Default   string `json:"default,omitempty"`
	Usage     string `json:"usage"`
}

type ExitCodeHelp struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

// exitCodes mirrors the codes HandleExitError produces.
var exitCodes = []ExitCodeHelp{
	{shared.ExitSuccess, "success"},
	{shared.ExitRunFailed, "a run failed or finished partially"},
	{shared.ExitInvalidAutomation, "an automation document is invalid"},
	{shared.ExitConfigError, "configuration could not be loaded or is invalid"},
	{shared.ExitNotFound, "automation, run or step kind not found"},
}

// automationGroup is the command group whose help lists step kinds.
const automationGroup = "automation"

// NewHelpCommand creates the help command. With the global --json flag it
// prints a HelpResponse instead of text.
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help shows usage for autoflow and its commands.

With --json the output also lists exit codes and the step and trigger kinds
grouped by type.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := rootCmd
			if len(args) > 0 {
				found, _, err := rootCmd.Find(args)
				if err != nil || found == rootCmd {
					return shared.NewNotFoundError(fmt.Sprintf("unknown command %q", args[0]), err)
				}
				target = found
			}
			if !shared.GetJSON() {
				return target.Help()
			}
			return shared.EmitJSON(cmd.OutOrStdout(), buildHelp(rootCmd, target))
		},
	}
}

func buildHelp(rootCmd, target *cobra.Command) HelpResponse {
	resp := HelpResponse{
		JSONResponse: shared.NewJSONResponse("help", true),
		GlobalFlags:  flagHelp(rootCmd.PersistentFlags()),
		ExitCodes:    exitCodes,
	}
	if target == rootCmd {
		for _, c := range rootCmd.Commands() {
			if c.Hidden || c.Name() == "help" {
				continue
			}
			resp.Commands = append(resp.Commands, commandHelp(c))
		}
		resp.StepKinds = stepKinds(automation.DefaultRegistry())
		return resp
	}

	h := commandHelp(target)
	resp.Target = &h
	resp.Command = "help " + strings.TrimPrefix(target.CommandPath(), rootCmd.Name()+" ")
	if h.Group == automationGroup {
		resp.StepKinds = stepKinds(automation.DefaultRegistry())
	}
	return resp
}

func commandHelp(c *cobra.Command) CommandHelp {
	h := CommandHelp{
		Name:    c.Name(),
		Usage:   c.UseLine(),
		Short:   c.Short,
		Long:    c.Long,
		Example: c.Example,
		Group:   c.Annotations["group"],
		Aliases: c.Aliases,
		Flags:   flagHelp(c.LocalNonPersistentFlags()),
	}
	for _, sub := range c.Commands() {
		if !sub.Hidden {
			h.Subcommands = append(h.Subcommands, commandHelp(sub))
		}
	}
	return h
}

func flagHelp(fs *pflag.FlagSet) []FlagHelp {
	flags := []FlagHelp{}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		flags = append(flags, FlagHelp{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Default:   f.DefValue,
			Usage:     f.Usage,
		})
	})
	return flags
}

// stepKinds groups the non-deprecated kinds by step type, sorted.
func stepKinds(reg *automation.Registry) map[string][]string {
	out := map[string][]string{}
	for _, def := range append(reg.Triggers(), reg.Actions()...) {
		if def.Deprecated {
			continue
		}
		out[string(def.Type)] = append(out[string(def.Type)], string(def.StepID))
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}
