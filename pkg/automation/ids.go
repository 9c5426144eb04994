package automation

// StepID is the kind tag shared by actions and triggers. It selects the
// definition, the input shape and the output shape of a node.
type StepID string

// Action step kinds.
const (
	StepCollect              StepID = "COLLECT"
	StepCreateRow            StepID = "CREATE_ROW"
	StepDelay                StepID = "DELAY"
	StepDeleteRow            StepID = "DELETE_ROW"
	StepExecuteQuery         StepID = "EXECUTE_QUERY"
	StepAPIRequest           StepID = "API_REQUEST"
	StepExecuteScript        StepID = "EXECUTE_SCRIPT"
	StepExecuteScriptV2      StepID = "EXECUTE_SCRIPT_V2"
	StepFilter               StepID = "FILTER"
	StepQueryRows            StepID = "QUERY_ROWS"
	StepSendEmailSMTP        StepID = "SEND_EMAIL_SMTP"
	StepServerLog            StepID = "SERVER_LOG"
	StepTriggerAutomationRun StepID = "TRIGGER_AUTOMATION_RUN"
	StepUpdateRow            StepID = "UPDATE_ROW"
	StepOutgoingWebhook      StepID = "OUTGOING_WEBHOOK"
	StepDiscord              StepID = "discord"
	StepSlack                StepID = "slack"
	StepZapier               StepID = "zapier"
	StepIntegromat           StepID = "integromat"
	StepN8N                  StepID = "n8n"
	StepExecuteBash          StepID = "EXECUTE_BASH"
	StepOpenAI               StepID = "OPENAI"
	StepLoop                 StepID = "LOOP"
	StepBranch               StepID = "BRANCH"
	StepClassifyContent      StepID = "CLASSIFY_CONTENT"
	StepPromptLLM            StepID = "PROMPT_LLM"
	StepTranslate            StepID = "TRANSLATE"
	StepSummarise            StepID = "SUMMARISE"
	StepGenerateText         StepID = "GENERATE_TEXT"
	StepExtractFileData      StepID = "EXTRACT_FILE_DATA"
)

// Trigger kinds.
const (
	TriggerApp        StepID = "APP"
	TriggerCron       StepID = "CRON"
	TriggerRowAction  StepID = "ROW_ACTION"
	TriggerRowDeleted StepID = "ROW_DELETED"
	TriggerRowSaved   StepID = "ROW_SAVED"
	TriggerRowUpdated StepID = "ROW_UPDATED"
	TriggerWebhook    StepID = "WEBHOOK"
)

const (
	numActionKinds  = 30
	numTriggerKinds = 7
)

var actionStepIDs = [numActionKinds]StepID{
	StepCollect, StepCreateRow, StepDelay, StepDeleteRow, StepExecuteQuery,
	StepAPIRequest, StepExecuteScript, StepExecuteScriptV2, StepFilter,
	StepQueryRows, StepSendEmailSMTP, StepServerLog, StepTriggerAutomationRun,
	StepUpdateRow, StepOutgoingWebhook, StepDiscord, StepSlack, StepZapier,
	StepIntegromat, StepN8N, StepExecuteBash, StepOpenAI, StepLoop, StepBranch,
	StepClassifyContent, StepPromptLLM, StepTranslate, StepSummarise,
	StepGenerateText, StepExtractFileData,
}

var triggerStepIDs = [numTriggerKinds]StepID{
	TriggerApp, TriggerCron, TriggerRowAction, TriggerRowDeleted,
	TriggerRowSaved, TriggerRowUpdated, TriggerWebhook,
}

// ActionStepIDs returns every action kind in declaration order.
func ActionStepIDs() []StepID {
	out := make([]StepID, len(actionStepIDs))
	copy(out, actionStepIDs[:])
	return out
}

// TriggerStepIDs returns every trigger kind in declaration order.
func TriggerStepIDs() []StepID {
	out := make([]StepID, len(triggerStepIDs))
	copy(out, triggerStepIDs[:])
	return out
}

// StepType classifies a definition.
type StepType string

const (
	StepTypeAction  StepType = "ACTION"
	StepTypeLogic   StepType = "LOGIC"
	StepTypeTrigger StepType = "TRIGGER"
)

// Feature names an optional capability a step definition declares.
type Feature string

const (
	FeatureLooping Feature = "LOOPING"
	FeatureAI      Feature = "AI"
)

// Hosting is the deployment mode an engine runs under.
type Hosting string

const (
	HostingCloud Hosting = "cloud"
	HostingSelf  Hosting = "self"
)

// IOType is the declared type of a schema property.
type IOType string

const (
	TypeString     IOType = "string"
	TypeNumber     IOType = "number"
	TypeBoolean    IOType = "boolean"
	TypeObject     IOType = "object"
	TypeArray      IOType = "array"
	TypeJSON       IOType = "json"
	TypeDate       IOType = "date"
	TypeAttachment IOType = "attachment"
)
