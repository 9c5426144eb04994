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

package loader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

func doc(id string) string {
	out := ""
	if id != "" {
		out = "id: " + id + "\n"
	}
	return out + `trigger:
  id: t1
  stepId: WEBHOOK
steps:
  - id: wait
    stepId: DELAY
    inputs:
      time: 10
`
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

type rejectValidator struct {
	mu     sync.Mutex
	reject string
}

func (v *rejectValidator) Validate(a *automation.Automation) ([]automation.Warning, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if a.ID == v.reject {
		return nil, &errors.ValidationError{Field: "steps", Message: "rejected"}
	}
	return []automation.Warning{{StepID: "wait", Message: "noted"}}, nil
}

func TestNew_Errors(t *testing.T) {
	_, err := New(memory.New(), Config{})
	var cerr *errors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "automations.dir", cerr.Key)

	_, err = New(memory.New(), Config{Dir: t.TempDir(), Pattern: "[unclosed"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "automations.pattern", cerr.Key)
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", doc("hello"))
	writeFile(t, dir, "nested/b.yml", doc(""))
	writeFile(t, dir, "notes.txt", "not an automation")
	writeFile(t, dir, "broken.yaml", "trigger: [")
	writeFile(t, dir, "dup.yaml", doc("hello"))

	s := memory.New()
	v := &rejectValidator{}
	l, err := New(s, Config{Dir: dir, Validator: v, Logger: log.Discard()})
	require.NoError(t, err)

	files, err := l.Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.yaml", "broken.yaml", "dup.yaml", "nested/b.yml"}, files)

	report, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "hello"}, report.Loaded)
	assert.Empty(t, report.Removed)
	require.Len(t, report.Failed, 2)
	assert.Contains(t, report.Failed, "broken.yaml")
	assert.ErrorContains(t, report.Failed["dup.yaml"], "already defined in a.yaml")

	b, err := s.LoadAutomation(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, automation.TriggerWebhook, b.Trigger.StepID)

	// A document that stops validating keeps its stored copy; a deleted one
	// is removed.
	v.mu.Lock()
	v.reject = "hello"
	v.mu.Unlock()
	require.NoError(t, os.Remove(filepath.Join(dir, "nested", "b.yml")))

	report, err = l.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Loaded)
	assert.Equal(t, []string{"b"}, report.Removed)
	assert.Contains(t, report.Failed, "a.yaml")

	_, err = s.LoadAutomation(ctx, "b")
	assert.True(t, errors.IsNotFound(err))
	_, err = s.LoadAutomation(ctx, "hello")
	assert.NoError(t, err)
}

func TestLoader_Matches(t *testing.T) {
	l, err := New(memory.New(), Config{Dir: t.TempDir(), Logger: log.Discard()})
	require.NoError(t, err)

	assert.True(t, l.Matches("a.yaml"))
	assert.True(t, l.Matches("deep/er/b.yml"))
	assert.False(t, l.Matches("a.json"))
	assert.False(t, l.Matches("yaml"))
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "first.yaml", doc("first"))

	s := memory.New()
	l, err := New(s, Config{Dir: dir, Logger: log.Discard()})
	require.NoError(t, err)
	_, err = l.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan *Report, 8)
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, 20*time.Millisecond, func(r *Report) { reports <- r })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "sub/second.yaml", doc("second"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-reports:
			if assert.ObjectsAreEqual([]string{"first", "second"}, r.Loaded) {
				cancel()
				require.NoError(t, <-done)
				_, err := s.LoadAutomation(context.Background(), "second")
				assert.NoError(t, err)
				return
			}
		case <-deadline:
			cancel()
			t.Fatal("watcher did not reload the new document")
		}
	}
}
