package automation

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// RetryPolicy repeats a step that failed with ActionFailure or Timeout.
type RetryPolicy struct {
	MaxAttempts int     `json:"maxAttempts" yaml:"maxAttempts"`
	BackoffMs   int     `json:"backoffMs,omitempty" yaml:"backoffMs,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Step is one action or logic node. StepID always equals Inputs.Kind().
type Step struct {
	ID     string       `json:"id" yaml:"id"`
	StepID StepID       `json:"stepId" yaml:"stepId"`
	Name   string       `json:"name,omitempty" yaml:"name,omitempty"`
	Inputs Inputs       `json:"inputs" yaml:"inputs"`
	Retry  *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	// TimeoutMs overrides the engine step timeout when positive.
	TimeoutMs int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// NewStep builds a step whose kind is taken from the inputs type, so the two
// cannot disagree.
func NewStep[I Inputs](id string, inputs I) Step {
	return Step{ID: id, StepID: inputs.Kind(), Inputs: inputs}
}

// Trigger is the single entry point of an automation.
type Trigger struct {
	ID     string `json:"id" yaml:"id"`
	StepID StepID `json:"stepId" yaml:"stepId"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Inputs Inputs `json:"inputs" yaml:"inputs"`
}

// NewTrigger builds a trigger whose kind is taken from the inputs type.
func NewTrigger[I Inputs](id string, inputs I) Trigger {
	return Trigger{ID: id, StepID: inputs.Kind(), Inputs: inputs}
}

// Automation is a trigger followed by an ordered list of steps.
type Automation struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	Disabled bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Trigger  Trigger `json:"trigger" yaml:"trigger"`
	Steps    []Step  `json:"steps" yaml:"steps"`
}

// Node is what the kind predicates classify.
type Node interface {
	Kind() StepID
	NodeType() StepType
}

func (s Step) Kind() StepID { return s.StepID }

// NodeType returns the definition type of the step kind, or "" for an
// unknown kind.
func (s Step) NodeType() StepType {
	def, err := DefaultRegistry().Lookup(s.StepID)
	if err != nil {
		return ""
	}
	return def.Type
}

func (t Trigger) Kind() StepID { return t.StepID }

// NodeType is always StepTypeTrigger for a known trigger kind.
func (t Trigger) NodeType() StepType {
	def, err := DefaultRegistry().Lookup(t.StepID)
	if err != nil {
		return ""
	}
	return def.Type
}

type stepWire struct {
	ID        string          `json:"id"`
	StepID    StepID          `json:"stepId"`
	Name      string          `json:"name,omitempty"`
	Inputs    json.RawMessage `json:"inputs"`
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
}

// UnmarshalJSON decodes inputs into the shape selected by stepId.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	inputs, err := DecodeInputs(w.StepID, w.Inputs)
	if err != nil {
		return fmt.Errorf("step %q: %w", w.ID, err)
	}
	*s = Step{ID: w.ID, StepID: w.StepID, Name: w.Name, Inputs: inputs, Retry: w.Retry, TimeoutMs: w.TimeoutMs}
	return nil
}

// UnmarshalJSON decodes inputs into the shape selected by stepId.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	inputs, err := DecodeInputs(w.StepID, w.Inputs)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", w.ID, err)
	}
	*t = Trigger{ID: w.ID, StepID: w.StepID, Name: w.Name, Inputs: inputs}
	return nil
}

type stepYAML struct {
	ID        string       `yaml:"id"`
	StepID    StepID       `yaml:"stepId"`
	Name      string       `yaml:"name"`
	Inputs    yaml.Node    `yaml:"inputs"`
	Retry     *RetryPolicy `yaml:"retry"`
	TimeoutMs int          `yaml:"timeoutMs"`
}

// yamlInputs converts the inputs node to JSON so YAML and JSON documents share
// one decoding path.
func yamlInputs(id StepID, node yaml.Node) (Inputs, error) {
	var generic any
	if node.Kind != 0 {
		if err := node.Decode(&generic); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return DecodeInputs(id, data)
}

// UnmarshalYAML decodes inputs into the shape selected by stepId.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var w stepYAML
	if err := value.Decode(&w); err != nil {
		return err
	}
	inputs, err := yamlInputs(w.StepID, w.Inputs)
	if err != nil {
		return fmt.Errorf("step %q: %w", w.ID, err)
	}
	*s = Step{ID: w.ID, StepID: w.StepID, Name: w.Name, Inputs: inputs, Retry: w.Retry, TimeoutMs: w.TimeoutMs}
	return nil
}

// UnmarshalYAML decodes inputs into the shape selected by stepId.
func (t *Trigger) UnmarshalYAML(value *yaml.Node) error {
	var w stepYAML
	if err := value.Decode(&w); err != nil {
		return err
	}
	inputs, err := yamlInputs(w.StepID, w.Inputs)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", w.ID, err)
	}
	*t = Trigger{ID: w.ID, StepID: w.StepID, Name: w.Name, Inputs: inputs}
	return nil
}

// ParseJSON decodes an automation document.
func ParseJSON(data []byte) (*Automation, error) {
	var a Automation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ParseYAML decodes an automation document.
func ParseYAML(data []byte) (*Automation, error) {
	var a Automation
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
