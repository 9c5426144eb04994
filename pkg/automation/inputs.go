package automation

// Inputs is the closed set of step and trigger input shapes. Each
// implementation belongs to exactly one kind, so a value always knows which
// definition it was written for.
type Inputs interface {
	Kind() StepID
	inputs()
}

// CollectInputs records a value as the run's collected result. Transform is
// an optional jq program applied to Collection first.
type CollectInputs struct {
	Collection any    `json:"collection,omitempty" yaml:"collection,omitempty"`
	Transform  string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

type CreateRowInputs struct {
	Row map[string]any `json:"row,omitempty" yaml:"row,omitempty"`
}

// DelayInputs holds the pause length in milliseconds. Time stays untyped so
// that bound values and bad inputs surface as InvalidInput at dispatch.
type DelayInputs struct {
	Time any `json:"time,omitempty" yaml:"time,omitempty"`
}

type DeleteRowInputs struct {
	TableID  string `json:"tableId,omitempty" yaml:"tableId,omitempty"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// QueryRef names a saved query and the parameters to run it with.
type QueryRef struct {
	QueryID    string         `json:"queryId" yaml:"queryId"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type ExecuteQueryInputs struct {
	Query *QueryRef `json:"query,omitempty" yaml:"query,omitempty"`
}

type APIRequestInputs struct {
	Query *QueryRef `json:"query,omitempty" yaml:"query,omitempty"`
}

type ExecuteScriptInputs struct {
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

// ExecuteScriptV2Inputs carries code whose bindings are resolved before the
// script runs.
type ExecuteScriptV2Inputs struct {
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

// FilterInputs compares Field to Value. Both stay untyped; they are usually
// bindings.
type FilterInputs struct {
	Field     any             `json:"field,omitempty" yaml:"field,omitempty"`
	Condition FilterCondition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value     any             `json:"value,omitempty" yaml:"value,omitempty"`
}

type QueryRowsInputs struct {
	TableID    string         `json:"tableId,omitempty" yaml:"tableId,omitempty"`
	Filters    *SearchFilters `json:"filters,omitempty" yaml:"filters,omitempty"`
	SortColumn string         `json:"sortColumn,omitempty" yaml:"sortColumn,omitempty"`
	SortOrder  string         `json:"sortOrder,omitempty" yaml:"sortOrder,omitempty"`
	Limit      *int           `json:"limit,omitempty" yaml:"limit,omitempty"`
	// OnEmptyFilter decides what an empty filter set returns: "all" or "none".
	OnEmptyFilter string `json:"onEmptyFilter,omitempty" yaml:"onEmptyFilter,omitempty"`
}

type SendEmailSMTPInputs struct {
	To       string `json:"to,omitempty" yaml:"to,omitempty"`
	From     string `json:"from,omitempty" yaml:"from,omitempty"`
	Subject  string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Contents string `json:"contents,omitempty" yaml:"contents,omitempty"`
	CC       string `json:"cc,omitempty" yaml:"cc,omitempty"`
	BCC      string `json:"bcc,omitempty" yaml:"bcc,omitempty"`
}

type ServerLogInputs struct {
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// AutomationRef points at the automation a TRIGGER_AUTOMATION_RUN step
// starts, with the fields passed to its APP trigger.
type AutomationRef struct {
	AutomationID string         `json:"automationId" yaml:"automationId"`
	Fields       map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type TriggerAutomationRunInputs struct {
	Automation *AutomationRef `json:"automation,omitempty" yaml:"automation,omitempty"`
	// TimeoutMs bounds the nested run. Zero means no bound.
	TimeoutMs int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type UpdateRowInputs struct {
	Meta  map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
	Row   map[string]any `json:"row,omitempty" yaml:"row,omitempty"`
	RowID string         `json:"rowId,omitempty" yaml:"rowId,omitempty"`
}

type OutgoingWebhookInputs struct {
	RequestMethod string `json:"requestMethod,omitempty" yaml:"requestMethod,omitempty"`
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	RequestBody   string `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	// Headers is a JSON object encoded as a string.
	Headers string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type DiscordInputs struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Content   string `json:"content,omitempty" yaml:"content,omitempty"`
}

type SlackInputs struct {
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

type ZapierInputs struct {
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Body any    `json:"body,omitempty" yaml:"body,omitempty"`
}

type IntegromatInputs struct {
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	Body any    `json:"body,omitempty" yaml:"body,omitempty"`
}

type N8NInputs struct {
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	Method        string `json:"method,omitempty" yaml:"method,omitempty"`
	Authorization string `json:"authorization,omitempty" yaml:"authorization,omitempty"`
	Body          any    `json:"body,omitempty" yaml:"body,omitempty"`
}

type ExecuteBashInputs struct {
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

type OpenAIInputs struct {
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
}

// LoopOption selects how Binding is split into items.
type LoopOption string

const (
	LoopArray  LoopOption = "Array"
	LoopString LoopOption = "String"
)

// LoopInputs wraps the step that follows the loop. Iterations caps the item
// count; an item equal to Failure stops the loop as failed.
type LoopInputs struct {
	Option     LoopOption `json:"option,omitempty" yaml:"option,omitempty"`
	Binding    any        `json:"binding,omitempty" yaml:"binding,omitempty"`
	Iterations *int       `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Failure    any        `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Branch is one named group of a BRANCH step.
type Branch struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Condition SearchFilters `json:"condition" yaml:"condition"`
}

// BranchInputs lists groups in evaluation order. Children maps a branch id to
// the steps it runs.
type BranchInputs struct {
	Branches []Branch          `json:"branches,omitempty" yaml:"branches,omitempty"`
	Children map[string][]Step `json:"children,omitempty" yaml:"children,omitempty"`
}

// Category is one candidate label for CLASSIFY_CONTENT.
type Category struct {
	Category string `json:"category" yaml:"category"`
}

type ClassifyContentInputs struct {
	TextInput     string     `json:"textInput,omitempty" yaml:"textInput,omitempty"`
	CategoryItems []Category `json:"categoryItems,omitempty" yaml:"categoryItems,omitempty"`
}

type PromptLLMInputs struct {
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

type TranslateInputs struct {
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

type SummariseInputs struct {
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Length string `json:"length,omitempty" yaml:"length,omitempty"`
}

type GenerateTextInputs struct {
	ContentType  string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// ExtractFileDataInputs reads File (a path or URL). JSON documents are
// narrowed with the jq Query; anything else is handed to the language model
// together with Schema.
type ExtractFileDataInputs struct {
	File   string         `json:"file,omitempty" yaml:"file,omitempty"`
	Source string         `json:"source,omitempty" yaml:"source,omitempty"`
	Schema map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	Query  string         `json:"query,omitempty" yaml:"query,omitempty"`
}

func (CollectInputs) Kind() StepID              { return StepCollect }
func (CreateRowInputs) Kind() StepID            { return StepCreateRow }
func (DelayInputs) Kind() StepID                { return StepDelay }
func (DeleteRowInputs) Kind() StepID            { return StepDeleteRow }
func (ExecuteQueryInputs) Kind() StepID         { return StepExecuteQuery }
func (APIRequestInputs) Kind() StepID           { return StepAPIRequest }
func (ExecuteScriptInputs) Kind() StepID        { return StepExecuteScript }
func (ExecuteScriptV2Inputs) Kind() StepID      { return StepExecuteScriptV2 }
func (FilterInputs) Kind() StepID               { return StepFilter }
func (QueryRowsInputs) Kind() StepID            { return StepQueryRows }
func (SendEmailSMTPInputs) Kind() StepID        { return StepSendEmailSMTP }
func (ServerLogInputs) Kind() StepID            { return StepServerLog }
func (TriggerAutomationRunInputs) Kind() StepID { return StepTriggerAutomationRun }
func (UpdateRowInputs) Kind() StepID            { return StepUpdateRow }
func (OutgoingWebhookInputs) Kind() StepID      { return StepOutgoingWebhook }
func (DiscordInputs) Kind() StepID              { return StepDiscord }
func (SlackInputs) Kind() StepID                { return StepSlack }
func (ZapierInputs) Kind() StepID               { return StepZapier }
func (IntegromatInputs) Kind() StepID           { return StepIntegromat }
func (N8NInputs) Kind() StepID                  { return StepN8N }
func (ExecuteBashInputs) Kind() StepID          { return StepExecuteBash }
func (OpenAIInputs) Kind() StepID               { return StepOpenAI }
func (LoopInputs) Kind() StepID                 { return StepLoop }
func (BranchInputs) Kind() StepID               { return StepBranch }
func (ClassifyContentInputs) Kind() StepID      { return StepClassifyContent }
func (PromptLLMInputs) Kind() StepID            { return StepPromptLLM }
func (TranslateInputs) Kind() StepID            { return StepTranslate }
func (SummariseInputs) Kind() StepID            { return StepSummarise }
func (GenerateTextInputs) Kind() StepID         { return StepGenerateText }
func (ExtractFileDataInputs) Kind() StepID      { return StepExtractFileData }

func (CollectInputs) inputs()              {}
func (CreateRowInputs) inputs()            {}
func (DelayInputs) inputs()                {}
func (DeleteRowInputs) inputs()            {}
func (ExecuteQueryInputs) inputs()         {}
func (APIRequestInputs) inputs()           {}
func (ExecuteScriptInputs) inputs()        {}
func (ExecuteScriptV2Inputs) inputs()      {}
func (FilterInputs) inputs()               {}
func (QueryRowsInputs) inputs()            {}
func (SendEmailSMTPInputs) inputs()        {}
func (ServerLogInputs) inputs()            {}
func (TriggerAutomationRunInputs) inputs() {}
func (UpdateRowInputs) inputs()            {}
func (OutgoingWebhookInputs) inputs()      {}
func (DiscordInputs) inputs()              {}
func (SlackInputs) inputs()                {}
func (ZapierInputs) inputs()               {}
func (IntegromatInputs) inputs()           {}
func (N8NInputs) inputs()                  {}
func (ExecuteBashInputs) inputs()          {}
func (OpenAIInputs) inputs()               {}
func (LoopInputs) inputs()                 {}
func (BranchInputs) inputs()               {}
func (ClassifyContentInputs) inputs()      {}
func (PromptLLMInputs) inputs()            {}
func (TranslateInputs) inputs()            {}
func (SummariseInputs) inputs()            {}
func (GenerateTextInputs) inputs()         {}
func (ExtractFileDataInputs) inputs()      {}

// Trigger inputs.

// AppTriggerInputs declares the fields a manual or app-action run accepts.
type AppTriggerInputs struct {
	Fields map[string]IOType `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type CronTriggerInputs struct {
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`
}

type RowActionTriggerInputs struct {
	TableID     string `json:"tableId,omitempty" yaml:"tableId,omitempty"`
	RowActionID string `json:"rowActionId,omitempty" yaml:"rowActionId,omitempty"`
}

type RowDeletedTriggerInputs struct {
	TableID string `json:"tableId,omitempty" yaml:"tableId,omitempty"`
}

type RowSavedTriggerInputs struct {
	TableID string         `json:"tableId,omitempty" yaml:"tableId,omitempty"`
	Filters *SearchFilters `json:"filters,omitempty" yaml:"filters,omitempty"`
}

type RowUpdatedTriggerInputs struct {
	TableID string         `json:"tableId,omitempty" yaml:"tableId,omitempty"`
	Filters *SearchFilters `json:"filters,omitempty" yaml:"filters,omitempty"`
}

type WebhookTriggerInputs struct {
	SchemaURL  string `json:"schemaUrl,omitempty" yaml:"schemaUrl,omitempty"`
	TriggerURL string `json:"triggerUrl,omitempty" yaml:"triggerUrl,omitempty"`
}

func (AppTriggerInputs) Kind() StepID        { return TriggerApp }
func (CronTriggerInputs) Kind() StepID       { return TriggerCron }
func (RowActionTriggerInputs) Kind() StepID  { return TriggerRowAction }
func (RowDeletedTriggerInputs) Kind() StepID { return TriggerRowDeleted }
func (RowSavedTriggerInputs) Kind() StepID   { return TriggerRowSaved }
func (RowUpdatedTriggerInputs) Kind() StepID { return TriggerRowUpdated }
func (WebhookTriggerInputs) Kind() StepID    { return TriggerWebhook }

func (AppTriggerInputs) inputs()        {}
func (CronTriggerInputs) inputs()       {}
func (RowActionTriggerInputs) inputs()  {}
func (RowDeletedTriggerInputs) inputs() {}
func (RowSavedTriggerInputs) inputs()   {}
func (RowUpdatedTriggerInputs) inputs() {}
func (WebhookTriggerInputs) inputs()    {}
