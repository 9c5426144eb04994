package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// kindSpec binds a kind to its input and output shapes. The tables below are
// the single source for both derivations.
type kindSpec struct {
	id            StepID
	decodeInputs  func([]byte) (Inputs, error)
	decodeOutputs func([]byte) (Outputs, error)
	ownsOutputs   func(Outputs) bool
}

func entry[I Inputs, O Outputs](id StepID) kindSpec {
	return kindSpec{
		id:            id,
		decodeInputs:  decodeInputs[I],
		decodeOutputs: decodeOutputs[O],
		ownsOutputs:   func(o Outputs) bool { _, ok := o.(O); return ok },
	}
}

var actionKinds = [...]kindSpec{
	entry[CollectInputs, CollectOutputs](StepCollect),
	entry[CreateRowInputs, RowOutputs](StepCreateRow),
	entry[DelayInputs, DelayOutputs](StepDelay),
	entry[DeleteRowInputs, RowOutputs](StepDeleteRow),
	entry[ExecuteQueryInputs, QueryOutputs](StepExecuteQuery),
	entry[APIRequestInputs, QueryOutputs](StepAPIRequest),
	entry[ExecuteScriptInputs, ScriptOutputs](StepExecuteScript),
	entry[ExecuteScriptV2Inputs, ScriptOutputs](StepExecuteScriptV2),
	entry[FilterInputs, FilterOutputs](StepFilter),
	entry[QueryRowsInputs, QueryRowsOutputs](StepQueryRows),
	entry[SendEmailSMTPInputs, SendEmailOutputs](StepSendEmailSMTP),
	entry[ServerLogInputs, ServerLogOutputs](StepServerLog),
	entry[TriggerAutomationRunInputs, TriggerAutomationRunOutputs](StepTriggerAutomationRun),
	entry[UpdateRowInputs, RowOutputs](StepUpdateRow),
	entry[OutgoingWebhookInputs, ExternalAppOutputs](StepOutgoingWebhook),
	entry[DiscordInputs, ExternalAppOutputs](StepDiscord),
	entry[SlackInputs, ExternalAppOutputs](StepSlack),
	entry[ZapierInputs, ExternalAppOutputs](StepZapier),
	entry[IntegromatInputs, ExternalAppOutputs](StepIntegromat),
	entry[N8NInputs, ExternalAppOutputs](StepN8N),
	entry[ExecuteBashInputs, ExecuteBashOutputs](StepExecuteBash),
	entry[OpenAIInputs, TextOutputs](StepOpenAI),
	entry[LoopInputs, LoopOutputs](StepLoop),
	entry[BranchInputs, BranchOutputs](StepBranch),
	entry[ClassifyContentInputs, ClassifyContentOutputs](StepClassifyContent),
	entry[PromptLLMInputs, TextOutputs](StepPromptLLM),
	entry[TranslateInputs, TextOutputs](StepTranslate),
	entry[SummariseInputs, TextOutputs](StepSummarise),
	entry[GenerateTextInputs, TextOutputs](StepGenerateText),
	entry[ExtractFileDataInputs, ExtractFileDataOutputs](StepExtractFileData),
}

var triggerKinds = [...]kindSpec{
	entry[AppTriggerInputs, AppTriggerOutputs](TriggerApp),
	entry[CronTriggerInputs, CronTriggerOutputs](TriggerCron),
	entry[RowActionTriggerInputs, RowActionTriggerOutputs](TriggerRowAction),
	entry[RowDeletedTriggerInputs, RowDeletedTriggerOutputs](TriggerRowDeleted),
	entry[RowSavedTriggerInputs, RowSavedTriggerOutputs](TriggerRowSaved),
	entry[RowUpdatedTriggerInputs, RowUpdatedTriggerOutputs](TriggerRowUpdated),
	entry[WebhookTriggerInputs, WebhookTriggerOutputs](TriggerWebhook),
}

// A kind added to the id lists without a table entry, or the reverse, fails
// to compile here.
var (
	_ [len(actionKinds) - numActionKinds]struct{}
	_ [numActionKinds - len(actionKinds)]struct{}
	_ [len(triggerKinds) - numTriggerKinds]struct{}
	_ [numTriggerKinds - len(triggerKinds)]struct{}
)

var kindIndex = buildKindIndex()

func buildKindIndex() map[StepID]kindSpec {
	idx := make(map[StepID]kindSpec, len(actionKinds)+len(triggerKinds))
	for i, k := range actionKinds {
		if k.id != actionStepIDs[i] {
			panic(fmt.Sprintf("automation: action table out of order at %d: %s != %s", i, k.id, actionStepIDs[i]))
		}
		idx[k.id] = k
	}
	for i, k := range triggerKinds {
		if k.id != triggerStepIDs[i] {
			panic(fmt.Sprintf("automation: trigger table out of order at %d: %s != %s", i, k.id, triggerStepIDs[i]))
		}
		idx[k.id] = k
	}
	return idx
}

func lookupKind(id StepID) (kindSpec, error) {
	k, ok := kindIndex[id]
	if !ok {
		return kindSpec{}, &StepError{Code: ErrUnknownStepKind, Message: fmt.Sprintf("unknown step kind %q", id)}
	}
	return k, nil
}

// DecodeInputs decodes JSON into the input shape of kind id.
func DecodeInputs(id StepID, data []byte) (Inputs, error) {
	k, err := lookupKind(id)
	if err != nil {
		return nil, err
	}
	return k.decodeInputs(data)
}

// DecodeOutputs decodes JSON into the output shape of kind id.
func DecodeOutputs(id StepID, data []byte) (Outputs, error) {
	k, err := lookupKind(id)
	if err != nil {
		return nil, err
	}
	return k.decodeOutputs(data)
}

// ZeroInputs returns the empty input value for kind id.
func ZeroInputs(id StepID) (Inputs, error) {
	return DecodeInputs(id, nil)
}

// ZeroOutputs returns the empty output value for kind id.
func ZeroOutputs(id StepID) (Outputs, error) {
	return DecodeOutputs(id, nil)
}

func decodeInputs[T Inputs](data []byte) (Inputs, error) {
	var v T
	if err := decodeJSON(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeOutputs[T Outputs](data []byte) (Outputs, error) {
	var v T
	if err := decodeJSON(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSON(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}
