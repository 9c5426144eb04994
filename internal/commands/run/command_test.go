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

package run

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
)

const okDoc = `id: orders
trigger:
  id: hook
  stepId: WEBHOOK
steps:
  - id: note
    stepId: SERVER_LOG
    inputs:
      text: "order {{ trigger.body.orderId }}"
  - id: wait
    stepId: DELAY
    inputs:
      time: 1
`

const failingDoc = `id: broken-delay
trigger:
  id: hook
  stepId: WEBHOOK
steps:
  - id: wait
    stepId: DELAY
    inputs:
      time: soon
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("storage:\n  driver: memory\nlog:\n  level: error\n"), 0o644))
	shared.SetConfigPathForTest(t, cfg)
	return dir
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunAutomation_Success(t *testing.T) {
	dir := setup(t)
	file := writeDoc(t, dir, "orders.yaml", okDoc)

	var out bytes.Buffer
	err := runAutomation(context.Background(), strings.NewReader(""), &out, file, options{sets: []string{"body.orderId=1234"}})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "note")
	assert.Contains(t, text, "wait")
	assert.Contains(t, text, "success")
}

func TestRunAutomation_JSON(t *testing.T) {
	dir := setup(t)
	file := writeDoc(t, dir, "orders.yaml", okDoc)
	shared.SetJSONForTest(t, true)

	var out bytes.Buffer
	stdin := strings.NewReader(`{"body": {"orderId": "A-1"}}`)
	require.NoError(t, runAutomation(context.Background(), stdin, &out, file, options{payloadFile: "-"}))

	var resp struct {
		Success bool                 `json:"success"`
		Result  automation.RunResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "orders", resp.Result.AutomationID)
	assert.Equal(t, automation.RunSuccess, resp.Result.Status)
	require.Len(t, resp.Result.Steps, 2)
	assert.Equal(t, "note", resp.Result.Steps[0].StepID)
}

func TestRunAutomation_FailedRun(t *testing.T) {
	dir := setup(t)
	file := writeDoc(t, dir, "broken.yaml", failingDoc)

	var out bytes.Buffer
	err := runAutomation(context.Background(), strings.NewReader(""), &out, file, options{timeline: true})
	require.Error(t, err)
	assert.Equal(t, shared.ExitRunFailed, shared.ExitCode(err))
	assert.Contains(t, out.String(), string(automation.ErrInvalidInput))
	assert.Contains(t, out.String(), "Total:", "timeline is drawn for failed runs too")
}

func TestRunAutomation_NotFound(t *testing.T) {
	setup(t)
	err := runAutomation(context.Background(), strings.NewReader(""), &bytes.Buffer{}, "missing-id", options{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestRunAutomation_Invalid(t *testing.T) {
	dir := setup(t)
	file := writeDoc(t, dir, "dup.yaml", `id: dup
trigger:
  id: hook
  stepId: WEBHOOK
steps:
  - id: hook
    stepId: DELAY
    inputs:
      time: 1
`)
	err := runAutomation(context.Background(), strings.NewReader(""), &bytes.Buffer{}, file, options{})
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidAutomation, shared.ExitCode(err))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	dir := t.TempDir()
	file := writeDoc(t, dir, "orders.yaml", okDoc)

	a, err := resolve(ctx, s, file)
	require.NoError(t, err)
	assert.Equal(t, "orders", a.ID)

	stored, err := resolve(ctx, s, "orders")
	require.NoError(t, err, "resolving a file saves it for later lookups by id")
	assert.Equal(t, automation.TriggerWebhook, stored.Trigger.StepID)
}
