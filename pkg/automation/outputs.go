package automation

// Outputs is the closed set of step and trigger output shapes.
type Outputs interface {
	outputs()
}

type CollectOutputs struct {
	Success bool `json:"success"`
	Value   any  `json:"value,omitempty"`
}

// RowOutputs is shared by the row mutation steps.
type RowOutputs struct {
	Row      map[string]any `json:"row,omitempty"`
	Response any            `json:"response,omitempty"`
	ID       string         `json:"id,omitempty"`
	Revision string         `json:"revision,omitempty"`
	Success  bool           `json:"success"`
}

type DelayOutputs struct {
	Success bool `json:"success"`
}

// QueryOutputs is returned by EXECUTE_QUERY and API_REQUEST.
type QueryOutputs struct {
	Response any            `json:"response,omitempty"`
	Info     map[string]any `json:"info,omitempty"`
	Success  bool           `json:"success"`
}

type ScriptOutputs struct {
	Success bool `json:"success"`
	Value   any  `json:"value,omitempty"`
}

type FilterOutputs struct {
	Success         bool `json:"success"`
	Result          bool `json:"result"`
	RefValue        any  `json:"refValue,omitempty"`
	ComparisonValue any  `json:"comparisonValue,omitempty"`
}

type QueryRowsOutputs struct {
	Rows    []map[string]any `json:"rows"`
	Success bool             `json:"success"`
}

type SendEmailOutputs struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
}

type ServerLogOutputs struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type TriggerAutomationRunOutputs struct {
	Success bool `json:"success"`
	Value   any  `json:"value,omitempty"`
}

// ExternalAppOutputs is returned by the outgoing webhook family.
type ExternalAppOutputs struct {
	HTTPStatus int  `json:"httpStatus"`
	Response   any  `json:"response,omitempty"`
	Success    bool `json:"success"`
}

type ExecuteBashOutputs struct {
	Stdout  string `json:"stdout"`
	Success bool   `json:"success"`
}

// TextOutputs is returned by the language model steps that produce text.
type TextOutputs struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

type ClassifyContentOutputs struct {
	Category string `json:"category"`
	Success  bool   `json:"success"`
}

type ExtractFileDataOutputs struct {
	Data    any  `json:"data"`
	Success bool `json:"success"`
}

// LoopOutputs is stored under both the loop step and the looped step.
type LoopOutputs struct {
	Success    bool  `json:"success"`
	Iterations int   `json:"iterations"`
	Items      []any `json:"items"`
}

type BranchOutputs struct {
	BranchName string `json:"branchName,omitempty"`
	BranchID   string `json:"branchId,omitempty"`
	Status     string `json:"status"`
	Success    bool   `json:"success"`
}

func (CollectOutputs) outputs()              {}
func (RowOutputs) outputs()                  {}
func (DelayOutputs) outputs()                {}
func (QueryOutputs) outputs()                {}
func (ScriptOutputs) outputs()               {}
func (FilterOutputs) outputs()               {}
func (QueryRowsOutputs) outputs()            {}
func (SendEmailOutputs) outputs()            {}
func (ServerLogOutputs) outputs()            {}
func (TriggerAutomationRunOutputs) outputs() {}
func (ExternalAppOutputs) outputs()          {}
func (ExecuteBashOutputs) outputs()          {}
func (TextOutputs) outputs()                 {}
func (ClassifyContentOutputs) outputs()      {}
func (ExtractFileDataOutputs) outputs()      {}
func (LoopOutputs) outputs()                 {}
func (BranchOutputs) outputs()               {}

// Trigger outputs seed the run context.

type AppTriggerOutputs struct {
	Fields map[string]any `json:"fields,omitempty"`
	User   map[string]any `json:"user,omitempty"`
}

type CronTriggerOutputs struct {
	Timestamp int64 `json:"timestamp"`
}

type RowActionTriggerOutputs struct {
	Row  map[string]any `json:"row,omitempty"`
	User map[string]any `json:"user,omitempty"`
}

type RowDeletedTriggerOutputs struct {
	Row map[string]any `json:"row,omitempty"`
}

type RowSavedTriggerOutputs struct {
	Row      map[string]any `json:"row,omitempty"`
	ID       string         `json:"id,omitempty"`
	Revision string         `json:"revision,omitempty"`
}

type RowUpdatedTriggerOutputs struct {
	Row      map[string]any `json:"row,omitempty"`
	OldRow   map[string]any `json:"oldRow,omitempty"`
	ID       string         `json:"id,omitempty"`
	Revision string         `json:"revision,omitempty"`
}

type WebhookTriggerOutputs struct {
	Body map[string]any `json:"body,omitempty"`
}

func (AppTriggerOutputs) outputs()        {}
func (CronTriggerOutputs) outputs()       {}
func (RowActionTriggerOutputs) outputs()  {}
func (RowDeletedTriggerOutputs) outputs() {}
func (RowSavedTriggerOutputs) outputs()   {}
func (RowUpdatedTriggerOutputs) outputs() {}
func (WebhookTriggerOutputs) outputs()    {}
