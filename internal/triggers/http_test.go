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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/runner"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/actions"
	"github.com/tombee/autoflow/pkg/automation"
)

const testSecret = "test-secret"

type httpFixture struct {
	store   *memory.Store
	starter *fakeStarter
	server  *httptest.Server
	rowID   string
}

func newHTTPFixture(t *testing.T, secret string) *httpFixture {
	t.Helper()
	s := memory.New()
	disabled := withTrigger("hook-off", automation.WebhookTriggerInputs{})
	disabled.Disabled = true
	saveAutomations(t, s,
		withTrigger("hook", automation.WebhookTriggerInputs{}),
		withTrigger("form", automation.AppTriggerInputs{Fields: map[string]automation.IOType{"email": automation.TypeString}}),
		withTrigger("approve", automation.RowActionTriggerInputs{TableID: "ta_orders", RowActionID: "act_approve"}),
		withTrigger("approve-audit", automation.RowActionTriggerInputs{TableID: "ta_orders", RowActionID: "act_approve"}),
		disabled,
	)
	row, err := s.CreateRow(context.Background(), "ta_orders", store.Row{"total": 42.0})
	require.NoError(t, err)

	starter := &fakeStarter{}
	h := NewHTTPHandler(s, starter, s, HTTPConfig{Secret: secret, Logger: log.Discard()})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &httpFixture{store: s, starter: starter, server: srv, rowID: row[store.RowIDKey].(string)}
}

func (f *httpFixture) post(t *testing.T, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHTTPHandler_Webhook(t *testing.T) {
	f := newHTTPFixture(t, "")

	resp, out := f.post(t, "/api/webhooks/trigger/hook", `{"event":"push","count":2}`, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "triggered", out["status"])
	assert.Equal(t, "run-1", out["runId"])

	calls := f.starter.Calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Sync)
	assert.Equal(t, map[string]any{"body": map[string]any{"event": "push", "count": 2.0}}, calls[0].Payload)

	resp, _ = f.post(t, "/api/webhooks/trigger/hook", "", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]any{"body": map[string]any{}}, f.starter.Calls()[1].Payload)
}

func TestHTTPHandler_WebhookErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		starterErr error
		want       int
	}{
		{name: "unknown automation", path: "/api/webhooks/trigger/nope", want: http.StatusNotFound},
		{name: "wrong trigger kind", path: "/api/webhooks/trigger/form", want: http.StatusBadRequest},
		{name: "array body", path: "/api/webhooks/trigger/hook", body: "[1,2]", want: http.StatusBadRequest},
		{name: "malformed body", path: "/api/webhooks/trigger/hook", body: "{", want: http.StatusBadRequest},
		{name: "draining", path: "/api/webhooks/trigger/hook", starterErr: runner.ErrDraining, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(t, "")
			f.starter.err = tt.starterErr
			resp, out := f.post(t, tt.path, tt.body, "")
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestHTTPHandler_App(t *testing.T) {
	f := newHTTPFixture(t, testSecret)
	f.starter.result = &automation.RunResult{RunID: "sync-run", AutomationID: "form", Status: automation.RunSuccess, Collected: "welcome"}

	token, err := IssueToken(testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "us_1"},
		Email:            "ada@example.com",
	}, time.Minute)
	require.NoError(t, err)

	resp, out := f.post(t, "/api/automations/form/trigger", `{"fields":{"email":"ada@example.com"}}`, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sync-run", out["runId"])
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "welcome", out["collected"])

	calls := f.starter.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Sync)
	assert.Equal(t, map[string]any{
		"fields": map[string]any{"email": "ada@example.com"},
		"user":   map[string]any{"_id": "us_1", "email": "ada@example.com"},
	}, calls[0].Payload)
}

func TestHTTPHandler_Auth(t *testing.T) {
	f := newHTTPFixture(t, testSecret)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "us_1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", Claims{}, time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"wrong key": wrongKey,
	} {
		t.Run(name, func(t *testing.T) {
			resp, _ := f.post(t, "/api/webhooks/trigger/hook", "{}", token)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Empty(t, f.starter.Calls())
}

func TestHTTPHandler_RowAction(t *testing.T) {
	f := newHTTPFixture(t, "")

	resp, out := f.post(t, "/api/tables/ta_orders/actions/act_approve/trigger", `{"rowId":"`+f.rowID+`"}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, out["runIds"], 2)

	calls := f.starter.Calls()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, []string{"approve", "approve-audit"}, f.starter.started())
	row, ok := calls[0].Payload["row"].(store.Row)
	require.True(t, ok)
	assert.Equal(t, f.rowID, row[store.RowIDKey])
	assert.Equal(t, 42.0, row["total"])

	resp, _ = f.post(t, "/api/tables/ta_orders/actions/act_reject/trigger", `{"rowId":"`+f.rowID+`"}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.post(t, "/api/tables/ta_orders/actions/act_approve/trigger", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.post(t, "/api/tables/ta_orders/actions/act_approve/trigger", `{"rowId":"ro_missing"}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPHandler_RowActionPartialStart(t *testing.T) {
	f := newHTTPFixture(t, "")
	f.starter.failFor = map[string]error{"approve-audit": runner.ErrDraining}

	resp, out := f.post(t, "/api/tables/ta_orders/actions/act_approve/trigger", `{"rowId":"`+f.rowID+`"}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []any{"run-1"}, out["runIds"])
	assert.Equal(t, []string{"approve"}, f.starter.started())

	failed, ok := out["failed"].([]any)
	require.True(t, ok)
	require.Len(t, failed, 1)
	assert.Equal(t, "approve-audit", failed[0].(map[string]any)["automationId"])

	f.starter.failFor["approve"] = runner.ErrDraining
	resp, _ = f.post(t, "/api/tables/ta_orders/actions/act_approve/trigger", `{"rowId":"`+f.rowID+`"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPHandler_WithRunner(t *testing.T) {
	f := newHTTPFixture(t, "")
	acts, err := actions.New(actions.Deps{Logger: log.Discard()})
	require.NoError(t, err)

	done := make(chan *automation.RunResult, 1)
	r := runner.New(automation.NewEngine(acts, automation.WithLogger(log.Discard())), runner.Config{
		Logger: log.Discard(),
		OnComplete: func(_ string, res *automation.RunResult, _ error) {
			done <- res
		},
	})
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	h := NewHTTPHandler(f.store, r, f.store, HTTPConfig{Logger: log.Discard()})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f.server = srv

	resp, out := f.post(t, "/api/webhooks/trigger/hook", `{"ok":true}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case res := <-done:
		assert.Equal(t, out["runId"], res.RunID)
		assert.Equal(t, automation.RunSuccess, res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
	}

	resp, _ = f.post(t, "/api/webhooks/trigger/hook-off", "{}", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
