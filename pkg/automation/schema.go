package automation

// Property describes one input or output field of a step.
type Property struct {
	Type        IOType              `json:"type" yaml:"type"`
	Title       string              `json:"title,omitempty" yaml:"title,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	CustomType  string              `json:"customType,omitempty" yaml:"customType,omitempty"`
	Enum        []string            `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pretty      map[string]string   `json:"pretty,omitempty" yaml:"pretty,omitempty"`
	Items       *Property           `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// IOBlock is the set of properties on one side of a step together with the
// names that must be present.
type IOBlock struct {
	Properties map[string]Property `json:"properties" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required,omitempty"`
}

// IsRequired reports whether name is listed in Required.
func (b IOBlock) IsRequired(name string) bool {
	for _, r := range b.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Schema pairs the input and output blocks of a definition.
type Schema struct {
	Inputs  IOBlock `json:"inputs" yaml:"inputs"`
	Outputs IOBlock `json:"outputs" yaml:"outputs"`
}
