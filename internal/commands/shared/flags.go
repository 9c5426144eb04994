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

// Package shared holds what every autoflow command needs: global flags,
// exit codes, output helpers and the runtime built from configuration.
package shared

import (
	"github.com/spf13/pflag"
)

// Global flag values, bound by the root command.
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterGlobalFlags binds the global flags onto fs.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&verboseFlag, "verbose", "v", false, "Log at debug level")
	fs.BoolVarP(&quietFlag, "quiet", "q", false, "Only log errors")
	fs.BoolVar(&jsonFlag, "json", false, "Output in JSON format")
	fs.StringVar(&configFlag, "config", "", "Path to config file (default: ~/.config/autoflow/config.yaml)")
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

func GetVerbose() bool { return verboseFlag }

func GetQuiet() bool { return quietFlag }

func GetJSON() bool { return jsonFlag }

func GetConfigPath() string { return configFlag }

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetJSONForTest switches JSON output for a test and restores it on
// cleanup.
func SetJSONForTest(t interface{ Cleanup(func()) }, on bool) {
	prev := jsonFlag
	jsonFlag = on
	t.Cleanup(func() { jsonFlag = prev })
}

// SetConfigPathForTest points commands at a config file for a test.
func SetConfigPathForTest(t interface{ Cleanup(func()) }, path string) {
	prev := configFlag
	configFlag = path
	t.Cleanup(func() { configFlag = prev })
}
