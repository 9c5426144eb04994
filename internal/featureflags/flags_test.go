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

package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/autoflow/pkg/automation"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvHosting, "")
	t.Setenv(EnvAIEnabled, "")
	t.Setenv(EnvBashEnabled, "")

	f := Load()
	assert.Equal(t, automation.HostingCloud, f.Hosting)
	assert.False(t, f.AIEnabled)
	assert.False(t, f.BashEnabled)
}

func TestLoad_FromEnv(t *testing.T) {
	tests := []struct {
		name    string
		hosting string
		ai      string
		bash    string
		want    automation.Capabilities
	}{
		{
			name:    "self hosted with bash",
			hosting: "self",
			bash:    "true",
			want:    automation.Capabilities{Hosting: automation.HostingSelf, BashEnabled: true},
		},
		{
			name:    "bash ignored in cloud",
			hosting: "cloud",
			bash:    "1",
			want:    automation.Capabilities{Hosting: automation.HostingCloud},
		},
		{
			name:    "ai enabled",
			hosting: "CLOUD",
			ai:      "TRUE",
			want:    automation.Capabilities{Hosting: automation.HostingCloud, AIEnabled: true},
		},
		{
			name:    "unknown hosting keeps default",
			hosting: "moon",
			ai:      "nope",
			want:    automation.Capabilities{Hosting: automation.HostingCloud},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvHosting, tt.hosting)
			t.Setenv(EnvAIEnabled, tt.ai)
			t.Setenv(EnvBashEnabled, tt.bash)

			assert.Equal(t, tt.want, Load().Capabilities())
		})
	}
}

func TestFlags_Setters(t *testing.T) {
	f := &Flags{Hosting: automation.HostingCloud}
	f.SetHosting(automation.HostingSelf)
	f.SetBashEnabled(true)
	f.SetAIEnabled(true)

	caps := f.Capabilities()
	assert.Equal(t, automation.HostingSelf, caps.Hosting)
	assert.True(t, caps.BashEnabled)
	assert.True(t, caps.AIEnabled)
}

func TestGet_ReturnsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
