// Package actions implements the step kinds that reach outside the engine:
// logging, webhooks, scripts, shell commands, table rows, saved queries,
// email and the language model steps.
//
// The engine owns FILTER, DELAY, LOOP, BRANCH and TRIGGER_AUTOMATION_RUN.
// Everything else is bound here by Register, which only installs a kind when
// the collaborator it needs is present. A kind left unbound fails at
// dispatch with StepUnavailable.
package actions

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/autoflow/internal/jq"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/httpclient"
	"github.com/tombee/autoflow/pkg/llm"
)

const (
	// DefaultScriptTimeout bounds one EXECUTE_SCRIPT run.
	DefaultScriptTimeout = 10 * time.Second

	// DefaultShell runs EXECUTE_BASH code.
	DefaultShell = "/bin/sh"
)

// Deps are the collaborators actions are built from. Nil fields leave the
// kinds that need them unregistered.
type Deps struct {
	Logger *slog.Logger

	// HTTPClient sends the webhook family and fetches EXTRACT_FILE_DATA
	// URLs. Defaults to an httpclient.New client.
	HTTPClient *http.Client

	// JQ runs COLLECT transforms and EXTRACT_FILE_DATA queries.
	JQ *jq.Executor

	Rows    store.RowStore
	Queries QueryRunner
	Mailer  Mailer
	LLM     llm.Provider

	ScriptTimeout time.Duration
	Shell         string
	// WorkDir is the directory bash steps and relative file paths resolve
	// against.
	WorkDir string
}

func (d *Deps) defaults() error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HTTPClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Logger = d.Logger
		client, err := httpclient.New(cfg)
		if err != nil {
			return fmt.Errorf("create http client: %w", err)
		}
		d.HTTPClient = client
	}
	if d.JQ == nil {
		d.JQ = jq.NewExecutor(0, 0)
	}
	if d.ScriptTimeout <= 0 {
		d.ScriptTimeout = DefaultScriptTimeout
	}
	if d.Shell == "" {
		d.Shell = DefaultShell
	}
	return nil
}

// Register binds every kind whose dependencies are available.
func Register(a *automation.Actions, deps Deps) error {
	if err := deps.defaults(); err != nil {
		return err
	}

	automation.MustRegister(a, automation.ActionFunc[automation.ServerLogInputs, automation.ServerLogOutputs](serverLog))
	automation.MustRegister(a, automation.ActionFunc[automation.CollectInputs, automation.CollectOutputs]((&collector{jq: deps.JQ}).collect))

	js := &scripts{timeout: deps.ScriptTimeout}
	automation.MustRegister(a, automation.ActionFunc[automation.ExecuteScriptInputs, automation.ScriptOutputs](js.executeV1))
	automation.MustRegister(a, automation.ActionFunc[automation.ExecuteScriptV2Inputs, automation.ScriptOutputs](js.executeV2))

	sh := &bash{shell: deps.Shell, dir: deps.WorkDir}
	automation.MustRegister(a, automation.ActionFunc[automation.ExecuteBashInputs, automation.ExecuteBashOutputs](sh.execute))

	hooks := &webhooks{client: deps.HTTPClient}
	automation.MustRegister(a, automation.ActionFunc[automation.OutgoingWebhookInputs, automation.ExternalAppOutputs](hooks.outgoing))
	automation.MustRegister(a, automation.ActionFunc[automation.DiscordInputs, automation.ExternalAppOutputs](hooks.discord))
	automation.MustRegister(a, automation.ActionFunc[automation.SlackInputs, automation.ExternalAppOutputs](hooks.slack))
	automation.MustRegister(a, automation.ActionFunc[automation.ZapierInputs, automation.ExternalAppOutputs](hooks.zapier))
	automation.MustRegister(a, automation.ActionFunc[automation.IntegromatInputs, automation.ExternalAppOutputs](hooks.integromat))
	automation.MustRegister(a, automation.ActionFunc[automation.N8NInputs, automation.ExternalAppOutputs](hooks.n8n))

	if deps.Rows != nil {
		rs := &rows{store: deps.Rows}
		automation.MustRegister(a, automation.ActionFunc[automation.CreateRowInputs, automation.RowOutputs](rs.create))
		automation.MustRegister(a, automation.ActionFunc[automation.UpdateRowInputs, automation.RowOutputs](rs.update))
		automation.MustRegister(a, automation.ActionFunc[automation.DeleteRowInputs, automation.RowOutputs](rs.delete))
		automation.MustRegister(a, automation.ActionFunc[automation.QueryRowsInputs, automation.QueryRowsOutputs](rs.query))
	}

	if deps.Queries != nil {
		q := &queries{runner: deps.Queries}
		automation.MustRegister(a, automation.ActionFunc[automation.ExecuteQueryInputs, automation.QueryOutputs](q.executeQuery))
		automation.MustRegister(a, automation.ActionFunc[automation.APIRequestInputs, automation.QueryOutputs](q.apiRequest))
	}

	if deps.Mailer != nil {
		automation.MustRegister(a, automation.ActionFunc[automation.SendEmailSMTPInputs, automation.SendEmailOutputs]((&email{mailer: deps.Mailer}).send))
	}

	if deps.LLM != nil {
		ai := &aiSteps{
			provider: deps.LLM,
			jq:       deps.JQ,
			files:    &fileReader{client: deps.HTTPClient, dir: deps.WorkDir},
		}
		automation.MustRegister(a, automation.ActionFunc[automation.OpenAIInputs, automation.TextOutputs](ai.openAI))
		automation.MustRegister(a, automation.ActionFunc[automation.PromptLLMInputs, automation.TextOutputs](ai.promptLLM))
		automation.MustRegister(a, automation.ActionFunc[automation.ClassifyContentInputs, automation.ClassifyContentOutputs](ai.classify))
		automation.MustRegister(a, automation.ActionFunc[automation.TranslateInputs, automation.TextOutputs](ai.translate))
		automation.MustRegister(a, automation.ActionFunc[automation.SummariseInputs, automation.TextOutputs](ai.summarise))
		automation.MustRegister(a, automation.ActionFunc[automation.GenerateTextInputs, automation.TextOutputs](ai.generateText))
		automation.MustRegister(a, automation.ActionFunc[automation.ExtractFileDataInputs, automation.ExtractFileDataOutputs](ai.extractFileData))
	} else {
		// JSON files can still be extracted with a jq query.
		ai := &aiSteps{jq: deps.JQ, files: &fileReader{client: deps.HTTPClient, dir: deps.WorkDir}}
		automation.MustRegister(a, automation.ActionFunc[automation.ExtractFileDataInputs, automation.ExtractFileDataOutputs](ai.extractFileData))
	}

	deps.Logger.Debug("actions registered", slog.Int("kinds", len(a.Kinds())))
	return nil
}

// New returns an action set with every available kind registered.
func New(deps Deps) (*automation.Actions, error) {
	a := automation.NewActions()
	if err := Register(a, deps); err != nil {
		return nil, err
	}
	return a, nil
}
