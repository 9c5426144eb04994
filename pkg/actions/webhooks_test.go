package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/pkg/automation"
)

// captured is one request seen by the test server.
type captured struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    map[string]any
}

func captureServer(t *testing.T, status int, contentType, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Method = r.Method
		got.Path = r.URL.Path
		got.Query = r.URL.RawQuery
		got.Headers = r.Header.Clone()
		got.Body = nil
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &got.Body)
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestOutgoingWebhook(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, "application/json", `{"ok":true}`)
	w := &webhooks{client: srv.Client()}

	out, err := w.outgoing(context.Background(), automation.OutgoingWebhookInputs{
		RequestMethod: "put",
		URL:           srv.URL + "/hook",
		RequestBody:   `{"name":"ada"}`,
		Headers:       `{"X-Token":"abc","X-Count":3}`,
	}, newRunContext())
	require.NoError(t, err)

	assert.Equal(t, automation.ExternalAppOutputs{HTTPStatus: 200, Response: map[string]any{"ok": true}, Success: true}, out)
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/hook", got.Path)
	assert.Equal(t, "abc", got.Headers.Get("X-Token"))
	assert.Equal(t, "3", got.Headers.Get("X-Count"))
	assert.Equal(t, "application/json", got.Headers.Get("Content-Type"))
	assert.Equal(t, map[string]any{"name": "ada"}, got.Body)
}

func TestOutgoingWebhook_GetSendsNoBody(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, "text/plain", "pong")
	w := &webhooks{client: srv.Client()}

	out, err := w.outgoing(context.Background(), automation.OutgoingWebhookInputs{
		RequestMethod: "GET",
		URL:           srv.URL,
		RequestBody:   `{"ignored":true}`,
	}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Response)
	assert.Nil(t, got.Body)
}

func TestOutgoingWebhook_Failures(t *testing.T) {
	tests := []struct {
		name   string
		in     automation.OutgoingWebhookInputs
		status int
		want   string
	}{
		{
			name: "bad headers",
			in:   automation.OutgoingWebhookInputs{RequestMethod: "POST", Headers: "{nope"},
			want: "invalid headers JSON",
		},
		{
			name: "bad body",
			in:   automation.OutgoingWebhookInputs{RequestMethod: "POST", RequestBody: "{nope"},
			want: "invalid payload JSON",
		},
		{
			name:   "server error",
			in:     automation.OutgoingWebhookInputs{RequestMethod: "POST"},
			status: http.StatusBadGateway,
			want:   "request failed: upstream down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.status
			if status == 0 {
				status = http.StatusOK
			}
			srv, _ := captureServer(t, status, "text/plain", "upstream down")
			w := &webhooks{client: srv.Client()}
			tt.in.URL = srv.URL

			_, err := w.outgoing(context.Background(), tt.in, newRunContext())
			var failure *automation.ActionFailure
			require.ErrorAs(t, err, &failure)
			assert.Contains(t, failure.Message, tt.want)
			assert.Equal(t, tt.status, failure.Status)
		})
	}
}

func TestWebhook_InvalidURL(t *testing.T) {
	w := &webhooks{client: http.DefaultClient}
	_, err := w.slack(context.Background(), automation.SlackInputs{URL: "ftp://example.com", Text: "hi"}, newRunContext())
	var failure *automation.ActionFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Message, "invalid url")
}

func TestDiscordAndSlack(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent, "", "")
	w := &webhooks{client: srv.Client()}

	out, err := w.discord(context.Background(), automation.DiscordInputs{
		URL:      srv.URL,
		Username: "bot",
		Content:  "deployed",
	}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, 204, out.HTTPStatus)
	assert.Equal(t, map[string]any{"username": "bot", "content": "deployed"}, got.Body)

	_, err = w.slack(context.Background(), automation.SlackInputs{URL: srv.URL, Text: "hello"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hello"}, got.Body)
}

func TestZapierAndIntegromat(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, "application/json", `{"status":"success"}`)
	w := &webhooks{client: srv.Client()}

	_, err := w.zapier(context.Background(), automation.ZapierInputs{URL: srv.URL, Body: `{"value":1}`}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": float64(1), "platform": "autoflow"}, got.Body)

	out, err := w.integromat(context.Background(), automation.IntegromatInputs{URL: srv.URL, Body: map[string]any{"a": "b"}}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, got.Body)
	assert.Equal(t, map[string]any{"status": "success"}, out.Response)

	_, err = w.integromat(context.Background(), automation.IntegromatInputs{URL: srv.URL, Body: []any{1}}, newRunContext())
	var failure *automation.ActionFailure
	require.ErrorAs(t, err, &failure)
}

func TestN8N(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, "text/plain", "ok")
	w := &webhooks{client: srv.Client()}

	_, err := w.n8n(context.Background(), automation.N8NInputs{
		URL:           srv.URL,
		Method:        "GET",
		Authorization: "Bearer t",
		Body:          map[string]any{"q": "x"},
	}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "q=x", got.Query)
	assert.Equal(t, "Bearer t", got.Headers.Get("Authorization"))

	_, err = w.n8n(context.Background(), automation.N8NInputs{URL: srv.URL, Body: `{"q":"y"}`}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, map[string]any{"q": "y"}, got.Body)
}

func TestFetchResponse_InvalidJSON(t *testing.T) {
	srv, _ := captureServer(t, http.StatusOK, "application/json", "not json")
	w := &webhooks{client: srv.Client()}

	out, err := w.slack(context.Background(), automation.SlackInputs{URL: srv.URL, Text: "x"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, failedResponse, out.Response)
}
