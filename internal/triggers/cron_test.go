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

package triggers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "0 9 * * 1-5"},
		{expr: "@hourly"},
		{expr: "@every 5m"},
		{expr: "", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
		{expr: "0 0 * * * *", wantErr: true},
		{expr: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func entryIDs(entries []Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.AutomationID] = e.Cron
	}
	return out
}

func TestScheduler_Sync(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	disabled := withTrigger("disabled", automation.CronTriggerInputs{Cron: "@daily"})
	disabled.Disabled = true
	saveAutomations(t, s,
		withTrigger("nightly", automation.CronTriggerInputs{Cron: "0 2 * * *"}),
		withTrigger("broken", automation.CronTriggerInputs{Cron: "not a cron"}),
		withTrigger("hook", automation.WebhookTriggerInputs{}),
		disabled,
	)

	sched := NewScheduler(s, &fakeStarter{}, SchedulerConfig{Logger: log.Discard()})
	require.NoError(t, sched.Sync(ctx))
	assert.Equal(t, map[string]string{"nightly": "0 2 * * *"}, entryIDs(sched.Entries()))

	saveAutomations(t, s,
		withTrigger("nightly", automation.CronTriggerInputs{Cron: "@hourly"}),
		withTrigger("weekly", automation.CronTriggerInputs{Cron: "0 0 * * 0"}),
	)
	require.NoError(t, sched.Sync(ctx))
	assert.Equal(t, map[string]string{"nightly": "@hourly", "weekly": "0 0 * * 0"}, entryIDs(sched.Entries()))

	require.NoError(t, s.DeleteAutomation(ctx, "nightly"))
	require.NoError(t, sched.Sync(ctx))
	assert.Equal(t, map[string]string{"weekly": "0 0 * * 0"}, entryIDs(sched.Entries()))
}

func TestScheduler_Fire(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	saveAutomations(t, s,
		withTrigger("nightly", automation.CronTriggerInputs{Cron: "0 2 * * *"}),
		withTrigger("hook", automation.WebhookTriggerInputs{}),
	)
	starter := &fakeStarter{}
	sched := NewScheduler(s, starter, SchedulerConfig{Logger: log.Discard()})
	fixed := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return fixed }

	runID, err := sched.Fire(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	calls := starter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nightly", calls[0].AutomationID)
	assert.Equal(t, map[string]any{"timestamp": fixed.UnixMilli()}, calls[0].Payload)

	_, err = sched.Fire(ctx, "hook")
	assert.ErrorContains(t, err, "not triggered by cron")

	_, err = sched.Fire(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestScheduler_StartFiresOnSchedule(t *testing.T) {
	s := memory.New()
	saveAutomations(t, s, withTrigger("often", automation.CronTriggerInputs{Cron: "@every 1s"}))
	starter := &fakeStarter{}
	sched := NewScheduler(s, starter, SchedulerConfig{Logger: log.Discard()})

	require.NoError(t, sched.Start(context.Background()))
	defer func() { <-sched.Stop().Done() }()

	entries := sched.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero())

	assert.Eventually(t, func() bool { return len(starter.Calls()) > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "often", starter.Calls()[0].AutomationID)
}
