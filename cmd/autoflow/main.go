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

package main

import (
	"github.com/tombee/autoflow/internal/cli"
	"github.com/tombee/autoflow/internal/commands/completion"
	"github.com/tombee/autoflow/internal/commands/run"
	"github.com/tombee/autoflow/internal/commands/runs"
	"github.com/tombee/autoflow/internal/commands/serve"
	"github.com/tombee/autoflow/internal/commands/steps"
	"github.com/tombee/autoflow/internal/commands/validate"
	versioncmd "github.com/tombee/autoflow/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Automation commands
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(validate.NewCommand())
	rootCmd.AddCommand(steps.NewCommand())
	rootCmd.AddCommand(runs.NewCommand())

	// Server
	rootCmd.AddCommand(serve.NewCommand())

	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
