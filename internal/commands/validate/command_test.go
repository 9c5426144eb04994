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

package validate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/commands/shared"
	"github.com/tombee/autoflow/pkg/automation"
)

const validDoc = `id: orders
trigger:
  id: t1
  stepId: WEBHOOK
steps:
  - id: wait
    stepId: DELAY
    inputs:
      time: 10
`

const duplicateStepDoc = `id: dup
trigger:
  id: t1
  stepId: WEBHOOK
steps:
  - id: wait
    stepId: DELAY
    inputs:
      time: 10
  - id: wait
    stepId: DELAY
    inputs:
      time: 20
`

const unknownKindDoc = `trigger:
  id: t1
  stepId: WEBHOOK
steps:
  - id: x
    stepId: NOT_A_STEP
`

const bashDoc = `id: shell
trigger:
  id: t1
  stepId: CRON
  inputs:
    cron: "0 * * * *"
steps:
  - id: sh
    stepId: EXECUTE_BASH
    inputs: {}
`

var cloud = automation.Capabilities{Hosting: automation.HostingCloud}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	file := write(t, dir, "orders.yaml", validDoc)

	var buf bytes.Buffer
	require.NoError(t, runValidate(&buf, []string{file}, "", cloud))
	assert.Contains(t, buf.String(), "(orders)")
	assert.Contains(t, buf.String(), "1 of 1 automations valid")
}

func TestRunValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "orders.yaml", validDoc)
	write(t, dir, "nested/dup.yml", duplicateStepDoc)
	write(t, dir, "broken.yaml", unknownKindDoc)
	write(t, dir, "notes.txt", "not yaml")

	shared.SetJSONForTest(t, true)
	var buf bytes.Buffer
	err := runValidate(&buf, []string{dir}, "**/*.{yaml,yml}", cloud)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidAutomation, shared.ExitCode(err))

	var resp response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.Len(t, resp.Files, 3)

	byFile := map[string]FileResult{}
	for _, f := range resp.Files {
		rel, err := filepath.Rel(dir, f.File)
		require.NoError(t, err)
		byFile[filepath.ToSlash(rel)] = f
	}

	assert.True(t, byFile["orders.yaml"].Valid)

	broken := byFile["broken.yaml"]
	assert.False(t, broken.Valid)
	require.Len(t, broken.Errors, 1)
	assert.Equal(t, CodeParseFailed, broken.Errors[0].Code)

	dup := byFile["nested/dup.yml"]
	assert.False(t, dup.Valid)
	require.Len(t, dup.Errors, 1)
	assert.Contains(t, dup.Errors[0].Message, "duplicate step id")
}

func TestRunValidate_DuplicateAutomationID(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.yaml", validDoc)
	b := write(t, dir, "b.yaml", validDoc)

	shared.SetJSONForTest(t, true)
	var buf bytes.Buffer
	require.Error(t, runValidate(&buf, []string{a, b}, "", cloud))

	var resp response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.True(t, resp.Files[0].Valid)
	assert.False(t, resp.Files[1].Valid)
	assert.Equal(t, CodeDuplicateID, resp.Files[1].Errors[0].Code)
}

func TestRunValidate_UnavailableStepWarns(t *testing.T) {
	dir := t.TempDir()
	file := write(t, dir, "shell.yaml", bashDoc)

	shared.SetJSONForTest(t, true)
	var buf bytes.Buffer
	require.NoError(t, runValidate(&buf, []string{file}, "", cloud))

	var resp response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.True(t, resp.Files[0].Valid)
	require.NotEmpty(t, resp.Files[0].Warnings)
	assert.Equal(t, "sh", resp.Files[0].Warnings[0].StepID)
}

func TestRunValidate_Missing(t *testing.T) {
	err := runValidate(&bytes.Buffer{}, []string{filepath.Join(t.TempDir(), "nope.yaml")}, "", cloud)
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))

	err = runValidate(&bytes.Buffer{}, []string{t.TempDir()}, "**/*.yaml", cloud)
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}
