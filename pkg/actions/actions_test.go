package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store/memory"
	"github.com/tombee/autoflow/pkg/automation"
)

func newRunContext() *automation.RunContext {
	return automation.NewRunContext("run-1", "auto-1", nil)
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{Logger: log.Discard(), HTTPClient: http.DefaultClient}
}

func TestRegister_KindsFollowDeps(t *testing.T) {
	a, err := New(testDeps(t))
	require.NoError(t, err)

	for _, id := range []automation.StepID{
		automation.StepServerLog,
		automation.StepCollect,
		automation.StepExecuteScript,
		automation.StepExecuteScriptV2,
		automation.StepExecuteBash,
		automation.StepOutgoingWebhook,
		automation.StepDiscord,
		automation.StepSlack,
		automation.StepZapier,
		automation.StepIntegromat,
		automation.StepN8N,
		automation.StepExtractFileData,
	} {
		_, ok := a.Get(id)
		assert.True(t, ok, "expected %s to be registered", id)
	}
	for _, id := range []automation.StepID{
		automation.StepCreateRow,
		automation.StepQueryRows,
		automation.StepExecuteQuery,
		automation.StepAPIRequest,
		automation.StepSendEmailSMTP,
		automation.StepPromptLLM,
	} {
		_, ok := a.Get(id)
		assert.False(t, ok, "expected %s to be left unbound", id)
	}

	deps := testDeps(t)
	deps.Rows = memory.New()
	deps.Mailer = &fakeMailer{}
	deps.LLM = &stubProvider{}
	deps.Queries = &fakeQueries{}
	a, err = New(deps)
	require.NoError(t, err)
	for _, id := range []automation.StepID{
		automation.StepCreateRow,
		automation.StepUpdateRow,
		automation.StepDeleteRow,
		automation.StepQueryRows,
		automation.StepExecuteQuery,
		automation.StepAPIRequest,
		automation.StepSendEmailSMTP,
		automation.StepPromptLLM,
		automation.StepClassifyContent,
	} {
		_, ok := a.Get(id)
		assert.True(t, ok, "expected %s to be registered", id)
	}
}

func TestServerLog(t *testing.T) {
	out, err := serverLog(context.Background(), automation.ServerLogInputs{Text: "hello"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.ServerLogOutputs{Success: true, Message: "auto-1 - hello"}, out)
}

func TestCollect(t *testing.T) {
	c := &collector{jq: nil}
	out, err := c.collect(context.Background(), automation.CollectInputs{Collection: "value"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.CollectOutputs{Success: true, Value: "value"}, out)
}

// The unbound kinds fail at dispatch, and the bound ones run end to end
// through the engine with bindings resolved.
func TestEngine_RunsRegisteredActions(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(data, &received)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	a, err := New(testDeps(t))
	require.NoError(t, err)
	e := automation.NewEngine(a, automation.WithLogger(log.Discard()))

	auto := &automation.Automation{
		ID:      "auto-1",
		Trigger: automation.NewTrigger("trigger", automation.WebhookTriggerInputs{}),
		Steps: []automation.Step{
			automation.NewStep("greet", automation.ExecuteScriptV2Inputs{Code: `return "hi " + $("trigger.body.name")`}),
			automation.NewStep("notify", automation.DiscordInputs{URL: srv.URL, Content: "{{ steps.1.value }}"}),
			automation.NewStep("collect", automation.CollectInputs{Collection: "{{ stepsById.notify.httpStatus }}"}),
			automation.NewStep("rows", automation.QueryRowsInputs{TableID: "ta_people"}),
		},
	}

	res, err := e.Run(context.Background(), auto, map[string]any{"body": map[string]any{"name": "ada"}})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, "hi ada", received["content"])
	mu.Unlock()
	assert.Equal(t, "204", res.Collected)

	assert.Equal(t, automation.RunFailed, res.Status)
	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, "rows", last.StepID)
	assert.Equal(t, automation.ErrStepUnavailable, last.Error.Code)
}
