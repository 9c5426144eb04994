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

package steps

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/pkg/automation"
)

var selfHosted = automation.Capabilities{Hosting: automation.HostingSelf, AIEnabled: true, BashEnabled: true}

func TestList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, list(&buf, false, false, selfHosted))

	out := buf.String()
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "SEND_EMAIL_SMTP")
	assert.NotContains(t, out, "CRON")
	assert.NotContains(t, out, "OUTGOING_WEBHOOK", "deprecated kinds are hidden by default")
}

func TestList_TriggersAndAll(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, list(&buf, true, false, selfHosted))
	assert.Contains(t, buf.String(), "ROW_UPDATED")
	assert.NotContains(t, buf.String(), "DELAY")

	buf.Reset()
	require.NoError(t, list(&buf, false, true, selfHosted))
	assert.Contains(t, buf.String(), "CRON")
	assert.Contains(t, buf.String(), "OUTGOING_WEBHOOK")
}

func TestList_JSON(t *testing.T) {
	shared.SetJSONForTest(t, true)

	var buf bytes.Buffer
	require.NoError(t, list(&buf, false, false, automation.Capabilities{Hosting: automation.HostingCloud}))

	var resp struct {
		Command string `json:"command"`
		Steps   []struct {
			StepID      string `json:"stepId"`
			Available   bool   `json:"available"`
			Unavailable string `json:"unavailable"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "steps", resp.Command)

	byID := map[string]bool{}
	for _, s := range resp.Steps {
		byID[s.StepID] = s.Available
		if !s.Available {
			assert.NotEmpty(t, s.Unavailable, s.StepID)
		}
	}
	assert.True(t, byID["DELAY"])
	assert.False(t, byID["EXECUTE_BASH"], "bash needs a self-hosted install")
}

func TestShow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, show(&buf, automation.StepDelay, selfHosted))

	out := buf.String()
	assert.Contains(t, out, "DELAY")
	assert.Contains(t, out, "Inputs:")
	assert.Contains(t, out, "time")
	assert.Contains(t, out, "Outputs:")
	assert.Contains(t, out, "success")
}

func TestShow_Unavailable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, show(&buf, automation.StepExecuteBash, automation.Capabilities{Hosting: automation.HostingCloud}))
	assert.Contains(t, buf.String(), "only available when hosting is")
}

func TestShow_Unknown(t *testing.T) {
	err := show(&bytes.Buffer{}, "NOPE", selfHosted)
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestShow_WriteError(t *testing.T) {
	err := show(failingWriter{}, automation.StepDelay, selfHosted)
	assert.EqualError(t, err, "stdout closed")
}

func TestCommand_LowercaseKind(t *testing.T) {
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"delay"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "DELAY")
}
