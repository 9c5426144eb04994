package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/internal/jq"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
	"github.com/tombee/autoflow/pkg/llm"
)

// stubProvider answers every request with the same reply.
type stubProvider struct {
	reply  string
	finish llm.FinishReason
	err    error
	got    []llm.CompletionRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	finish := s.finish
	if finish == "" {
		finish = llm.FinishReasonStop
	}
	return &llm.CompletionResponse{Content: s.reply, FinishReason: finish}, nil
}

func newAISteps(p *stubProvider, dir string) *aiSteps {
	a := &aiSteps{jq: jq.NewExecutor(0, 0), files: &fileReader{dir: dir}}
	if p != nil {
		a.provider = p
	}
	return a
}

func TestPromptLLM(t *testing.T) {
	p := &stubProvider{reply: "  four \n"}
	out, err := newAISteps(p, "").promptLLM(context.Background(), automation.PromptLLMInputs{Prompt: "2+2?"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.TextOutputs{Response: "four", Success: true}, out)

	require.Len(t, p.got, 1)
	assert.Equal(t, "run-1", p.got[0].Metadata["run_id"])
	assert.Equal(t, "auto-1", p.got[0].Metadata["automation_id"])
}

func TestOpenAI_SetsModel(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	_, err := newAISteps(p, "").openAI(context.Background(), automation.OpenAIInputs{Prompt: "hi", Model: "gpt-4o-mini"}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.got[0].Model)
}

func TestClassify(t *testing.T) {
	in := automation.ClassifyContentInputs{
		TextInput:     "I was charged twice",
		CategoryItems: []automation.Category{{Category: "Billing"}, {Category: "Support"}, {Category: " "}},
	}

	p := &stubProvider{reply: `"billing."`}
	out, err := newAISteps(p, "").classify(context.Background(), in, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.ClassifyContentOutputs{Category: "Billing", Success: true}, out)
	assert.Contains(t, p.got[0].Messages[1].Content, "- Billing\n- Support")

	_, err = newAISteps(&stubProvider{reply: "Sales"}, "").classify(context.Background(), in, newRunContext())
	var failure *automation.ActionFailure
	require.ErrorAs(t, err, &failure)

	_, err = newAISteps(&stubProvider{}, "").classify(context.Background(), automation.ClassifyContentInputs{TextInput: "x"}, newRunContext())
	assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))
}

func TestLanguageName(t *testing.T) {
	name, err := languageName("de")
	require.NoError(t, err)
	assert.Equal(t, "German", name)

	name, err = languageName(" Klingon ")
	require.NoError(t, err)
	assert.Equal(t, "Klingon", name)

	_, err = languageName("de; drop")
	assert.Error(t, err)
	_, err = languageName("")
	assert.Error(t, err)
}

func TestTranslateAndSummarise(t *testing.T) {
	p := &stubProvider{reply: "Hallo"}
	a := newAISteps(p, "")

	_, err := a.translate(context.Background(), automation.TranslateInputs{Text: "Hello", Language: "de"}, newRunContext())
	require.NoError(t, err)
	assert.Contains(t, p.got[0].Messages[0].Content, "German")

	_, err = a.translate(context.Background(), automation.TranslateInputs{Text: "Hello", Language: "42"}, newRunContext())
	assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))

	_, err = a.summarise(context.Background(), automation.SummariseInputs{Text: "long text"}, newRunContext())
	require.NoError(t, err)
	assert.Contains(t, p.got[1].Messages[0].Content, "a single paragraph")

	_, err = a.summarise(context.Background(), automation.SummariseInputs{Text: "x", Length: "epic"}, newRunContext())
	assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))
}

func TestComplete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		p      *stubProvider
		status int
		code   automation.ErrorCode
	}{
		{
			name:   "provider error keeps status",
			p:      &stubProvider{err: &errors.ProviderError{Provider: "openai", StatusCode: 429, Message: "rate limited"}},
			status: 429,
		},
		{
			name: "validation error",
			p:    &stubProvider{err: &errors.ValidationError{Field: "model", Message: "unknown model"}},
			code: automation.ErrInvalidInput,
		},
		{
			name: "content filter",
			p:    &stubProvider{reply: "", finish: llm.FinishReasonContentFilter},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAISteps(tt.p, "").promptLLM(context.Background(), automation.PromptLLMInputs{Prompt: "x"}, newRunContext())
			require.Error(t, err)
			if tt.code != "" {
				assert.True(t, automation.IsCode(err, tt.code))
				return
			}
			var failure *automation.ActionFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.status, failure.Status)
		})
	}
}

func TestExtractFileData(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.json"), []byte(`{"items":[{"n":1},{"n":2}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice.txt"), []byte("Invoice 7 total 12.50"), 0o644))

	t.Run("json without provider uses jq", func(t *testing.T) {
		a := newAISteps(nil, dir)
		out, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{File: "order.json", Query: ".items | map(.n)"}, newRunContext())
		require.NoError(t, err)
		assert.Equal(t, []any{1.0, 2.0}, out.Data)
	})

	t.Run("text without provider is unavailable", func(t *testing.T) {
		a := newAISteps(nil, dir)
		_, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{File: "invoice.txt", Source: "Path"}, newRunContext())
		assert.True(t, automation.IsCode(err, automation.ErrStepUnavailable))
	})

	t.Run("text needs a schema", func(t *testing.T) {
		a := newAISteps(&stubProvider{}, dir)
		_, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{File: "invoice.txt"}, newRunContext())
		assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))
	})

	t.Run("model output", func(t *testing.T) {
		p := &stubProvider{reply: "```json\n{\"number\": 7, \"total\": 12.5}\n```"}
		a := newAISteps(p, dir)
		out, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{
			File:   "invoice.txt",
			Schema: map[string]any{"number": "number", "total": "number"},
			Query:  ".total",
		}, newRunContext())
		require.NoError(t, err)
		assert.Equal(t, 12.5, out.Data)
		require.Len(t, p.got, 1)
		assert.True(t, p.got[0].JSON)
		assert.True(t, strings.Contains(p.got[0].Messages[1].Content, "Invoice 7"))
	})

	t.Run("bad source", func(t *testing.T) {
		a := newAISteps(nil, dir)
		_, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{File: "order.json", Source: "ftp"}, newRunContext())
		assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))
	})

	t.Run("missing file", func(t *testing.T) {
		a := newAISteps(nil, dir)
		_, err := a.extractFileData(context.Background(), automation.ExtractFileDataInputs{File: "nope.json"}, newRunContext())
		var failure *automation.ActionFailure
		require.ErrorAs(t, err, &failure)
	})
}
