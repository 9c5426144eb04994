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

// Package featureflags holds the deployment switches that decide which step
// kinds may run.
package featureflags

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tombee/autoflow/pkg/automation"
)

// Environment variables read by Load.
const (
	EnvHosting     = "AUTOFLOW_HOSTING"
	EnvAIEnabled   = "AUTOFLOW_AI_ENABLED"
	EnvBashEnabled = "AUTOFLOW_BASH_ENABLED"
)

// Flags holds the switches with thread-safe access.
type Flags struct {
	mu sync.RWMutex

	Hosting     automation.Hosting
	AIEnabled   bool
	BashEnabled bool
}

var (
	globalFlags *Flags
	once        sync.Once
)

// Get returns the process-wide flags, loading them from the environment on
// first use.
func Get() *Flags {
	once.Do(func() {
		globalFlags = Load()
	})
	return globalFlags
}

// Load builds flags from the defaults and the environment.
func Load() *Flags {
	f := &Flags{Hosting: automation.HostingCloud}
	f.loadFromEnv()
	return f
}

func (f *Flags) loadFromEnv() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if val := os.Getenv(EnvHosting); val != "" {
		switch automation.Hosting(strings.ToLower(strings.TrimSpace(val))) {
		case automation.HostingSelf:
			f.Hosting = automation.HostingSelf
		case automation.HostingCloud:
			f.Hosting = automation.HostingCloud
		}
	}
	if val := os.Getenv(EnvAIEnabled); val != "" {
		f.AIEnabled = parseBool(val)
	}
	if val := os.Getenv(EnvBashEnabled); val != "" {
		f.BashEnabled = parseBool(val)
	}
}

// Capabilities returns the engine view of the flags. Bash is only reported
// enabled on self-hosted installs.
func (f *Flags) Capabilities() automation.Capabilities {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return automation.Capabilities{
		Hosting:     f.Hosting,
		AIEnabled:   f.AIEnabled,
		BashEnabled: f.BashEnabled && f.Hosting == automation.HostingSelf,
	}
}

// SetHosting overrides the hosting mode, e.g. from the settings file.
func (f *Flags) SetHosting(h automation.Hosting) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Hosting = h
}

// SetAIEnabled sets the AI flag (for testing and configuration).
func (f *Flags) SetAIEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AIEnabled = enabled
}

// SetBashEnabled sets the bash flag.
func (f *Flags) SetBashEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BashEnabled = enabled
}

// parseBool accepts anything strconv.ParseBool does; everything else is false.
func parseBool(val string) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
		return b
	}
	return false
}
