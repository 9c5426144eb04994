package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/tombee/autoflow/internal/jq"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/errors"
	"github.com/tombee/autoflow/pkg/llm"
)

// aiSteps implements the language model steps over one Provider.
type aiSteps struct {
	provider llm.Provider
	jq       *jq.Executor
	files    *fileReader
}

func (a *aiSteps) openAI(ctx context.Context, in automation.OpenAIInputs, rc *automation.RunContext) (automation.TextOutputs, error) {
	req := llm.Prompt("", in.Prompt)
	req.Model = in.Model
	return a.text(ctx, rc, req)
}

func (a *aiSteps) promptLLM(ctx context.Context, in automation.PromptLLMInputs, rc *automation.RunContext) (automation.TextOutputs, error) {
	return a.text(ctx, rc, llm.Prompt("", in.Prompt))
}

const classifySystemPrompt = `You classify text into exactly one of the categories listed by the user.
Reply with the category name only, spelled exactly as given, and nothing else.`

// classify asks for one of the given categories. A reply that names none of
// them is an ActionFailure.
func (a *aiSteps) classify(ctx context.Context, in automation.ClassifyContentInputs, rc *automation.RunContext) (automation.ClassifyContentOutputs, error) {
	var categories []string
	for _, c := range in.CategoryItems {
		if name := strings.TrimSpace(c.Category); name != "" {
			categories = append(categories, name)
		}
	}
	if len(categories) == 0 {
		return automation.ClassifyContentOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "at least one category is required"}
	}

	user := fmt.Sprintf("Categories:\n- %s\n\nText:\n%s", strings.Join(categories, "\n- "), in.TextInput)
	resp, err := a.complete(ctx, rc, llm.Prompt(classifySystemPrompt, user))
	if err != nil {
		return automation.ClassifyContentOutputs{}, err
	}

	reply := strings.Trim(strings.TrimSpace(resp.Content), `"'.`)
	for _, c := range categories {
		if strings.EqualFold(c, reply) {
			return automation.ClassifyContentOutputs{Category: c, Success: true}, nil
		}
	}
	return automation.ClassifyContentOutputs{}, automation.Failf("model answered %q, which is not one of the categories", reply)
}

const translateSystemPrompt = `You are a translator. Translate the user's text into %s.
Reply with the translation only.`

func (a *aiSteps) translate(ctx context.Context, in automation.TranslateInputs, rc *automation.RunContext) (automation.TextOutputs, error) {
	target, err := languageName(in.Language)
	if err != nil {
		return automation.TextOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: err.Error()}
	}
	return a.text(ctx, rc, llm.Prompt(fmt.Sprintf(translateSystemPrompt, target), in.Text))
}

// languageName accepts a BCP 47 tag ("de", "pt-BR") or a plain language
// name ("German") and returns the English name to put in the prompt.
func languageName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if tag, err := language.Parse(s); err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			return name, nil
		}
	}
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && r != ' ' && r != '-' }) >= 0 {
		return "", fmt.Errorf("unknown language %q", s)
	}
	return s, nil
}

var summaryLengths = map[string]string{
	"short":  "one or two sentences",
	"medium": "a single paragraph",
	"long":   "several paragraphs",
}

func (a *aiSteps) summarise(ctx context.Context, in automation.SummariseInputs, rc *automation.RunContext) (automation.TextOutputs, error) {
	length := in.Length
	if length == "" {
		length = "medium"
	}
	guide, ok := summaryLengths[length]
	if !ok {
		return automation.TextOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: fmt.Sprintf("length must be short, medium or long, got %q", in.Length)}
	}
	system := fmt.Sprintf("Summarise the user's text in %s. Reply with the summary only.", guide)
	return a.text(ctx, rc, llm.Prompt(system, in.Text))
}

func (a *aiSteps) generateText(ctx context.Context, in automation.GenerateTextInputs, rc *automation.RunContext) (automation.TextOutputs, error) {
	system := fmt.Sprintf("Write %s following the user's instructions. Reply with the %s only.", in.ContentType, in.ContentType)
	return a.text(ctx, rc, llm.Prompt(system, in.Instructions))
}

const extractSystemPrompt = `Extract data from the document the user sends.
Return a JSON object with exactly these fields:
%s
Use null for fields the document does not contain.`

// extractFileData reads a file. JSON files are narrowed with the jq query;
// other files, or JSON when a schema is given, go to the model, which must
// return a JSON object.
func (a *aiSteps) extractFileData(ctx context.Context, in automation.ExtractFileDataInputs, rc *automation.RunContext) (automation.ExtractFileDataOutputs, error) {
	content, err := a.files.read(ctx, in.File, in.Source)
	if err != nil {
		return automation.ExtractFileDataOutputs{}, err
	}

	if json.Valid(content) && (len(in.Schema) == 0 || a.provider == nil) {
		var doc any
		if err := json.Unmarshal(content, &doc); err != nil {
			return automation.ExtractFileDataOutputs{}, automation.Failf("parse %s: %v", in.File, err)
		}
		data, err := a.jq.Execute(ctx, in.Query, doc)
		if err != nil {
			return automation.ExtractFileDataOutputs{}, automation.Failf("query %s: %v", in.File, err)
		}
		return automation.ExtractFileDataOutputs{Data: data, Success: true}, nil
	}

	if a.provider == nil {
		return automation.ExtractFileDataOutputs{}, &automation.StepError{
			Code:    automation.ErrStepUnavailable,
			Message: "extracting data from non-JSON files requires a language model provider",
		}
	}
	if len(in.Schema) == 0 {
		return automation.ExtractFileDataOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "schema is required for non-JSON files"}
	}

	fields, err := json.MarshalIndent(in.Schema, "", "  ")
	if err != nil {
		return automation.ExtractFileDataOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "schema is not JSON", Cause: err}
	}
	req := llm.Prompt(fmt.Sprintf(extractSystemPrompt, fields), string(content))
	req.JSON = true
	resp, err := a.complete(ctx, rc, req)
	if err != nil {
		return automation.ExtractFileDataOutputs{}, err
	}

	var data any
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &data); err != nil {
		return automation.ExtractFileDataOutputs{}, automation.Failf("model did not return JSON: %v", err)
	}
	if in.Query != "" {
		if data, err = a.jq.Execute(ctx, in.Query, data); err != nil {
			return automation.ExtractFileDataOutputs{}, automation.Failf("query extracted data: %v", err)
		}
	}
	return automation.ExtractFileDataOutputs{Data: data, Success: true}, nil
}

func (a *aiSteps) text(ctx context.Context, rc *automation.RunContext, req llm.CompletionRequest) (automation.TextOutputs, error) {
	resp, err := a.complete(ctx, rc, req)
	if err != nil {
		return automation.TextOutputs{}, err
	}
	return automation.TextOutputs{Response: strings.TrimSpace(resp.Content), Success: true}, nil
}

// complete tags the request with the run and maps provider errors to
// ActionFailures so step retry policies apply to them.
func (a *aiSteps) complete(ctx context.Context, rc *automation.RunContext, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Metadata = map[string]string{
		"run_id":        rc.RunID(),
		"automation_id": rc.AutomationID(),
	}
	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var perr *errors.ProviderError
		if errors.As(err, &perr) {
			return nil, &automation.ActionFailure{Message: perr.Error(), Status: perr.StatusCode}
		}
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			return nil, &automation.StepError{Code: automation.ErrInvalidInput, Message: verr.Error(), Cause: err}
		}
		return nil, err
	}
	if resp.FinishReason == llm.FinishReasonContentFilter {
		return nil, automation.Failf("model refused the request")
	}
	return resp, nil
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
