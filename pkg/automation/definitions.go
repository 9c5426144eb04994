package automation

// StepDefinition is the immutable metadata of one kind: how the builder
// presents it and which inputs and outputs it declares.
type StepDefinition struct {
	StepID      StepID           `json:"stepId" yaml:"stepId"`
	Name        string           `json:"name" yaml:"name"`
	Tagline     string           `json:"tagline" yaml:"tagline"`
	Icon        string           `json:"icon" yaml:"icon"`
	Description string           `json:"description" yaml:"description"`
	Type        StepType         `json:"type" yaml:"type"`
	Internal    bool             `json:"internal" yaml:"internal"`
	Deprecated  bool             `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
	Features    map[Feature]bool `json:"features,omitempty" yaml:"features,omitempty"`
	// Hosting, when set, is the only deployment mode the kind runs under.
	Hosting Hosting `json:"hosting,omitempty" yaml:"hosting,omitempty"`
	Schema  Schema  `json:"schema" yaml:"schema"`
}

// HasFeature reports whether the definition declares f.
func (d *StepDefinition) HasFeature(f Feature) bool {
	return d.Features[f]
}

func str(title string) Property  { return Property{Type: TypeString, Title: title} }
func num(title string) Property  { return Property{Type: TypeNumber, Title: title} }
func flag(title string) Property { return Property{Type: TypeBoolean, Title: title} }
func obj(title string) Property  { return Property{Type: TypeObject, Title: title} }
func arr(title string) Property  { return Property{Type: TypeArray, Title: title} }
func custom(t IOType, customType, title string) Property {
	return Property{Type: t, CustomType: customType, Title: title}
}
func enum(title string, values ...string) Property {
	return Property{Type: TypeString, Title: title, Enum: values}
}

func block(required []string, props map[string]Property) IOBlock {
	return IOBlock{Properties: props, Required: required}
}

var (
	looping = map[Feature]bool{FeatureLooping: true}
	aiOnly  = map[Feature]bool{FeatureAI: true}
)

func successOutputs(extra map[string]Property) IOBlock {
	props := map[string]Property{"success": flag("Success")}
	for k, v := range extra {
		props[k] = v
	}
	return block([]string{"success"}, props)
}

var webhookOutputs = successOutputs(map[string]Property{
	"httpStatus": num("Response Status"),
	"response":   obj("Webhook Response"),
})

var llmTextOutputs = successOutputs(map[string]Property{"response": str("Response")})

// builtinDefinitions returns one definition per kind, actions first.
func builtinDefinitions() []StepDefinition {
	return []StepDefinition{
		{
			StepID: StepCollect, Name: "Collect Data", Icon: "collection",
			Tagline:     "Collect data to be sent to design",
			Description: "Collects specified data so it can be provided to the design section",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"collection"}, map[string]Property{
					"collection": str("What to Collect"),
					"transform":  str("jq transform"),
				}),
				Outputs: successOutputs(map[string]Property{"value": str("Collected Data")}),
			},
		},
		{
			StepID: StepCreateRow, Name: "Create Row", Icon: "table-row-plus-bottom",
			Tagline:     "Create a {{inputs.enriched.table.name}} row",
			Description: "Add a row to your database",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"row"}, map[string]Property{
					"row": custom(TypeObject, "row", "Table"),
				}),
				Outputs: successOutputs(map[string]Property{
					"row":      custom(TypeObject, "row", "Row"),
					"response": obj("Response"),
					"id":       str("Row ID"),
					"revision": str("Row Revision"),
				}),
			},
		},
		{
			StepID: StepDelay, Name: "Delay", Icon: "clock",
			Tagline:     "Delay for {{inputs.time}} milliseconds",
			Description: "Delay the automation until an amount of time has passed",
			Type:        StepTypeLogic, Internal: true, Features: map[Feature]bool{},
			Schema: Schema{
				Inputs:  block([]string{"time"}, map[string]Property{"time": num("Delay in milliseconds")}),
				Outputs: successOutputs(nil),
			},
		},
		{
			StepID: StepDeleteRow, Name: "Delete Row", Icon: "table-row-remove-center",
			Tagline:     "Delete a {{inputs.enriched.table.name}} row",
			Description: "Delete a row from your database",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"tableId", "id"}, map[string]Property{
					"tableId":  custom(TypeString, "table", "Table"),
					"id":       str("Row ID"),
					"revision": str("Row Revision"),
				}),
				Outputs: successOutputs(map[string]Property{
					"row":      custom(TypeObject, "row", "Row"),
					"response": obj("Response"),
				}),
			},
		},
		{
			StepID: StepExecuteQuery, Name: "External Data Connector", Icon: "data",
			Tagline:     "Execute Data Connector",
			Description: "Execute a query in an external data connector",
			Type:        StepTypeAction, Internal: true, Deprecated: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"query"}, map[string]Property{
					"query": custom(TypeObject, "query", "Query"),
				}),
				Outputs: successOutputs(map[string]Property{
					"response": obj("Query Response"),
					"info":     obj("Query Info"),
				}),
			},
		},
		{
			StepID: StepAPIRequest, Name: "API Request", Icon: "globe",
			Tagline:     "Send a request to an API",
			Description: "Send an API request using a saved query",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"query"}, map[string]Property{
					"query": custom(TypeObject, "query", "Query"),
				}),
				Outputs: successOutputs(map[string]Property{
					"response": obj("Response"),
					"info":     obj("Info"),
				}),
			},
		},
		{
			StepID: StepExecuteScript, Name: "JS Scripting", Icon: "brackets-curly",
			Tagline:     "Execute JavaScript Code",
			Description: "Run a piece of JavaScript code in your automation",
			Type:        StepTypeAction, Internal: true, Deprecated: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"code"}, map[string]Property{
					"code": custom(TypeString, "code", "Code"),
				}),
				Outputs: successOutputs(map[string]Property{"value": str("Value")}),
			},
		},
		{
			StepID: StepExecuteScriptV2, Name: "JavaScript", Icon: "brackets-curly",
			Tagline:     "Execute JavaScript Code",
			Description: "Run a piece of JavaScript code in your automation",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"code"}, map[string]Property{
					"code": custom(TypeString, "code", "Code"),
				}),
				Outputs: successOutputs(map[string]Property{"value": str("Value")}),
			},
		},
		{
			StepID: StepFilter, Name: "Condition", Icon: "branch-split",
			Tagline:     "{{inputs.field}} {{inputs.condition}} {{inputs.value}}",
			Description: "Conditionally halt automations which do not meet certain conditions",
			Type:        StepTypeLogic, Internal: true, Features: map[Feature]bool{},
			Schema: Schema{
				Inputs: block([]string{"field", "condition", "value"}, map[string]Property{
					"field":     str("Reference Value"),
					"condition": enum("Condition", "EQUAL", "NOT_EQUAL", "GREATER_THAN", "LESS_THAN"),
					"value":     str("Comparison Value"),
				}),
				Outputs: successOutputs(map[string]Property{
					"result":          flag("Result"),
					"refValue":        str("Reference Value"),
					"comparisonValue": str("Comparison Value"),
				}),
			},
		},
		{
			StepID: StepQueryRows, Name: "Query rows", Icon: "search",
			Tagline:     "Query rows from {{inputs.enriched.table.name}} table",
			Description: "Query rows from the database",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"tableId"}, map[string]Property{
					"tableId":       custom(TypeString, "table", "Table"),
					"filters":       custom(TypeObject, "filters", "Filtering"),
					"sortColumn":    str("Sort Column"),
					"sortOrder":     enum("Sort Order", "ascending", "descending"),
					"limit":         num("Limit"),
					"onEmptyFilter": enum("When Filter Empty", "all", "none"),
				}),
				Outputs: successOutputs(map[string]Property{
					"rows": {Type: TypeArray, CustomType: "rows", Title: "Rows"},
				}),
			},
		},
		{
			StepID: StepSendEmailSMTP, Name: "Send Email (SMTP)", Icon: "mail",
			Tagline:     "Send SMTP email to {{inputs.to}}",
			Description: "Send an email using SMTP",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"to", "from", "subject", "contents"}, map[string]Property{
					"to":       str("Send To"),
					"from":     str("Send From"),
					"subject":  str("Email Subject"),
					"contents": str("HTML Contents"),
					"cc":       str("CC"),
					"bcc":      str("BCC"),
				}),
				Outputs: successOutputs(map[string]Property{"response": obj("Response")}),
			},
		},
		{
			StepID: StepServerLog, Name: "Backend log", Icon: "monitoring",
			Tagline:     "Console log a value in the backend",
			Description: "Logs the given text to the server (using console.log)",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"text"}, map[string]Property{"text": str("Log")}),
				Outputs: successOutputs(map[string]Property{"message": str("Log")}),
			},
		},
		{
			StepID: StepTriggerAutomationRun, Name: "Trigger an automation", Icon: "sitemap",
			Tagline:     "Triggers an automation synchronously",
			Description: "Triggers an automation synchronously",
			Type:        StepTypeAction, Internal: true, Features: map[Feature]bool{},
			Schema: Schema{
				Inputs: block([]string{"automation"}, map[string]Property{
					"automation": custom(TypeObject, "automation", "Automation"),
					"timeout":    num("Timeout (ms)"),
				}),
				Outputs: successOutputs(map[string]Property{"value": obj("Output")}),
			},
		},
		{
			StepID: StepUpdateRow, Name: "Update Row", Icon: "table-row-plus-top",
			Tagline:     "Update a {{inputs.enriched.table.name}} row",
			Description: "Update a row in your database",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"row", "rowId"}, map[string]Property{
					"meta":  obj("Field settings"),
					"row":   custom(TypeObject, "row", "Table"),
					"rowId": str("Row ID"),
				}),
				Outputs: successOutputs(map[string]Property{
					"row":      custom(TypeObject, "row", "Row"),
					"response": obj("Response"),
					"id":       str("Row ID"),
					"revision": str("Row Revision"),
				}),
			},
		},
		{
			StepID: StepOutgoingWebhook, Name: "Outgoing webhook", Icon: "send",
			Tagline:     "Send a {{inputs.requestMethod}} request",
			Description: "Send a request of specified method to a URL",
			Type:        StepTypeAction, Internal: true, Deprecated: true, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"requestMethod", "url"}, map[string]Property{
					"requestMethod": enum("Request method", "POST", "GET", "PUT", "DELETE", "PATCH"),
					"url":           str("URL"),
					"requestBody":   custom(TypeString, "wide", "JSON Body"),
					"headers":       custom(TypeString, "wide", "Headers"),
				}),
				Outputs: successOutputs(map[string]Property{
					"httpStatus": num("Response Status"),
					"response":   obj("Response"),
				}),
			},
		},
		{
			StepID: StepDiscord, Name: "Discord Message", Icon: "ri-discord-line",
			Tagline:     "Send a message to a Discord server",
			Description: "Send a message to a Discord server",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"url", "content"}, map[string]Property{
					"url":        str("Discord Webhook URL"),
					"username":   str("Bot Name"),
					"avatar_url": str("Bot Avatar URL"),
					"content":    custom(TypeString, "long", "Message"),
				}),
				Outputs: webhookOutputs,
			},
		},
		{
			StepID: StepSlack, Name: "Slack Message", Icon: "ri-slack-line",
			Tagline:     "Send a message to Slack",
			Description: "Send a message to Slack",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"url", "text"}, map[string]Property{
					"url":  str("Incoming Webhook URL"),
					"text": custom(TypeString, "long", "Message"),
				}),
				Outputs: webhookOutputs,
			},
		},
		{
			StepID: StepZapier, Name: "Zapier Webhook", Icon: "ri-flashlight-line",
			Tagline:     "Trigger a Zapier Zap",
			Description: "Trigger a Zapier Zap via webhooks",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"url"}, map[string]Property{
					"url":  str("Webhook URL"),
					"body": custom(TypeJSON, "wide", "Payload"),
				}),
				Outputs: webhookOutputs,
			},
		},
		{
			StepID: StepIntegromat, Name: "Make Integration", Icon: "ri-shut-down-line",
			Tagline:     "Trigger a Make scenario",
			Description: "Performs a webhook call to Make and gets the response (if configured)",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"url"}, map[string]Property{
					"url":  str("Webhook URL"),
					"body": custom(TypeJSON, "wide", "Payload"),
				}),
				Outputs: webhookOutputs,
			},
		},
		{
			StepID: StepN8N, Name: "n8n Integration", Icon: "ri-shut-down-line",
			Tagline:     "Trigger an n8n workflow",
			Description: "Performs a webhook call to n8n and gets the response (if configured)",
			Type:        StepTypeAction, Features: looping,
			Schema: Schema{
				Inputs: block([]string{"url"}, map[string]Property{
					"url":           str("Webhook URL"),
					"method":        enum("Method", "POST", "GET", "PUT", "DELETE", "HEAD"),
					"authorization": str("Authorization"),
					"body":          custom(TypeJSON, "wide", "Payload"),
				}),
				Outputs: webhookOutputs,
			},
		},
		{
			StepID: StepExecuteBash, Name: "Bash Scripting", Icon: "git-branch",
			Tagline:     "Execute a bash command",
			Description: "Run a bash script",
			Type:        StepTypeAction, Internal: true, Features: looping,
			Hosting: HostingSelf,
			Schema: Schema{
				Inputs: block([]string{"code"}, map[string]Property{
					"code": custom(TypeString, "code", "Code"),
				}),
				Outputs: successOutputs(map[string]Property{"stdout": custom(TypeString, "wide", "Standard output")}),
			},
		},
		{
			StepID: StepOpenAI, Name: "OpenAI", Icon: "sparkles",
			Tagline:     "Send prompts to ChatGPT",
			Description: "Interact with the OpenAI ChatGPT API.",
			Type:        StepTypeAction, Internal: true, Deprecated: true, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"prompt"}, map[string]Property{
					"prompt": str("Prompt"),
					"model":  str("Model"),
				}),
				Outputs: llmTextOutputs,
			},
		},
		{
			StepID: StepLoop, Name: "Looping", Icon: "reuse",
			Tagline:     "Loop the block",
			Description: "Loop",
			Type:        StepTypeLogic, Internal: true, Features: map[Feature]bool{},
			Schema: Schema{
				Inputs: block([]string{"option", "binding"}, map[string]Property{
					"option":     enum("Input type", string(LoopArray), string(LoopString)),
					"binding":    str("Binding / Value"),
					"iterations": num("Max loop iterations"),
					"failure":    str("Failure Condition"),
				}),
				Outputs: successOutputs(map[string]Property{
					"items":      arr("Items"),
					"iterations": num("Iterations"),
				}),
			},
		},
		{
			StepID: StepBranch, Name: "Branch", Icon: "branch3",
			Tagline:     "Branch from this point",
			Description: "Branch from this point",
			Type:        StepTypeLogic, Internal: true, Features: map[Feature]bool{},
			Schema: Schema{
				Inputs: block([]string{"branches"}, map[string]Property{
					"branches": arr("Branches"),
					"children": obj("Children"),
				}),
				Outputs: successOutputs(map[string]Property{
					"branchName": str("Branch Name"),
					"branchId":   str("Branch ID"),
					"status":     str("Status"),
				}),
			},
		},
		{
			StepID: StepClassifyContent, Name: "Categorise", Icon: "sparkles",
			Tagline:     "Categorise text based on a list of categories",
			Description: "Categorise text based on a list of categories",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"textInput", "categoryItems"}, map[string]Property{
					"textInput":     custom(TypeString, "long", "Text"),
					"categoryItems": arr("Categories"),
				}),
				Outputs: successOutputs(map[string]Property{"category": str("Category")}),
			},
		},
		{
			StepID: StepPromptLLM, Name: "Prompt LLM", Icon: "sparkles",
			Tagline:     "Send a prompt to a language model",
			Description: "Send a prompt to a language model and return the response",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs:  block([]string{"prompt"}, map[string]Property{"prompt": custom(TypeString, "long", "Prompt")}),
				Outputs: llmTextOutputs,
			},
		},
		{
			StepID: StepTranslate, Name: "Translate", Icon: "sparkles",
			Tagline:     "Translate text to {{inputs.language}}",
			Description: "Translate text to a different language",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"text", "language"}, map[string]Property{
					"text":     custom(TypeString, "long", "Text"),
					"language": str("Language"),
				}),
				Outputs: llmTextOutputs,
			},
		},
		{
			StepID: StepSummarise, Name: "Summarise", Icon: "sparkles",
			Tagline:     "Summarise text",
			Description: "Summarise text to a given length",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"text"}, map[string]Property{
					"text":   custom(TypeString, "long", "Text"),
					"length": enum("Length", "short", "medium", "long"),
				}),
				Outputs: llmTextOutputs,
			},
		},
		{
			StepID: StepGenerateText, Name: "Generate Text", Icon: "sparkles",
			Tagline:     "Generate {{inputs.contentType}}",
			Description: "Generate text of a given type from instructions",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"contentType", "instructions"}, map[string]Property{
					"contentType":  str("Content Type"),
					"instructions": custom(TypeString, "long", "Instructions"),
				}),
				Outputs: llmTextOutputs,
			},
		},
		{
			StepID: StepExtractFileData, Name: "Extract File Data", Icon: "file-text",
			Tagline:     "Extract structured data from a file",
			Description: "Extract structured data from a document using a schema",
			Type:        StepTypeAction, Features: aiOnly,
			Schema: Schema{
				Inputs: block([]string{"file"}, map[string]Property{
					"file":   str("File"),
					"source": enum("Source", "URL", "Path"),
					"schema": custom(TypeObject, "schema", "Schema"),
					"query":  str("jq query"),
				}),
				Outputs: successOutputs(map[string]Property{"data": obj("Data")}),
			},
		},

		// Triggers.
		{
			StepID: TriggerApp, Name: "App Action", Icon: "apps",
			Tagline:     "App Action fired",
			Description: "Trigger an automation from an action inside your app",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs: block(nil, map[string]Property{"fields": custom(TypeObject, "triggerSchema", "Fields")}),
				Outputs: block([]string{"fields"}, map[string]Property{
					"fields": obj("Fields supplied"),
					"user":   obj("User"),
				}),
			},
		},
		{
			StepID: TriggerCron, Name: "Cron Trigger", Icon: "clock",
			Tagline:     "Cron Trigger ({{inputs.cron}})",
			Description: "Triggers automation on a cron schedule.",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs:  block([]string{"cron"}, map[string]Property{"cron": custom(TypeString, "cron", "Expression")}),
				Outputs: block([]string{"timestamp"}, map[string]Property{"timestamp": num("Timestamp")}),
			},
		},
		{
			StepID: TriggerRowAction, Name: "Row Action", Icon: "workflow",
			Tagline:     "Row action on {{inputs.enriched.table.name}}",
			Description: "Fired when a row action is invoked on a row",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs: block([]string{"tableId"}, map[string]Property{
					"tableId":     custom(TypeString, "table", "Table"),
					"rowActionId": str("Row action"),
				}),
				Outputs: block([]string{"row"}, map[string]Property{
					"row":  custom(TypeObject, "row", "Row"),
					"user": obj("User"),
				}),
			},
		},
		{
			StepID: TriggerRowDeleted, Name: "Row Deleted", Icon: "table-row-remove-center",
			Tagline:     "Row is deleted from {{inputs.enriched.table.name}}",
			Description: "Fired when a row is deleted from your database",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs:  block([]string{"tableId"}, map[string]Property{"tableId": custom(TypeString, "table", "Table")}),
				Outputs: block([]string{"row"}, map[string]Property{"row": custom(TypeObject, "row", "Row")}),
			},
		},
		{
			StepID: TriggerRowSaved, Name: "Row Created", Icon: "table-row-plus-bottom",
			Tagline:     "Row is added to {{inputs.enriched.table.name}}",
			Description: "Fired when a row is added to your database",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs: block([]string{"tableId"}, map[string]Property{
					"tableId": custom(TypeString, "table", "Table"),
					"filters": custom(TypeObject, "filters", "Filtering"),
				}),
				Outputs: block([]string{"row", "id"}, map[string]Property{
					"row":      custom(TypeObject, "row", "Row"),
					"id":       str("Row ID"),
					"revision": str("Row Revision"),
				}),
			},
		},
		{
			StepID: TriggerRowUpdated, Name: "Row Updated", Icon: "table-row-plus-top",
			Tagline:     "Row is updated in {{inputs.enriched.table.name}}",
			Description: "Fired when a row is updated in your database",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs: block([]string{"tableId"}, map[string]Property{
					"tableId": custom(TypeString, "table", "Table"),
					"filters": custom(TypeObject, "filters", "Filtering"),
				}),
				Outputs: block([]string{"row", "id"}, map[string]Property{
					"row":      custom(TypeObject, "row", "Row"),
					"oldRow":   custom(TypeObject, "row", "Old Row"),
					"id":       str("Row ID"),
					"revision": str("Row Revision"),
				}),
			},
		},
		{
			StepID: TriggerWebhook, Name: "Webhook", Icon: "send",
			Tagline:     "Webhook endpoint is hit",
			Description: "Trigger an automation when a HTTP POST webhook is hit",
			Type:        StepTypeTrigger,
			Schema: Schema{
				Inputs: block(nil, map[string]Property{
					"schemaUrl":  custom(TypeString, "webhookUrl", "Schema URL"),
					"triggerUrl": custom(TypeString, "webhookUrl", "Trigger URL"),
				}),
				Outputs: block([]string{"body"}, map[string]Property{"body": obj("Payload")}),
			},
		},
	}
}
