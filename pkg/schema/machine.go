package schema

import "encoding/json"

// Well-known place and trigger names.
const (
	// PlaceInitial is the place every workflow starts in. A workflow whose
	// place is still "initial" has not yet executed any transition.
	PlaceInitial = "initial"

	// FromAny in a transition's from list matches every place.
	FromAny = "*"

	// TransitionInvalidation is the synthetic transition appended when a
	// workflow is (re-)initialized back to the initial place.
	TransitionInvalidation = "invalidation"
)

// Trigger modes for transitions.
const (
	TriggerManual  = "manual"
	TriggerOnEntry = "onEntry"
)

// MachineConfig is the already-validated state machine definition consumed by
// the processor. Definitions are produced by an external loading step; the
// engine never parses raw user configuration itself.
type MachineConfig struct {
	Name        string                 `json:"name" yaml:"name"`
	Transitions []TransitionDefinition `json:"transitions" yaml:"transitions"`
}

// TransitionDefinition describes a named edge in a state machine.
// From may list several source places (or "*" for any); To may list several
// candidate destinations, in which case a tool call must disambiguate via
// a next-place override.
type TransitionDefinition struct {
	ID      string     `json:"id" yaml:"id"`
	From    StringList `json:"from" yaml:"from"`
	To      StringList `json:"to" yaml:"to"`
	If      string     `json:"if,omitempty" yaml:"if,omitempty"`
	Trigger string     `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Calls   []ToolCall `json:"call,omitempty" yaml:"call,omitempty"`
	OnError string     `json:"onError,omitempty" yaml:"onError,omitempty"`
}

// IsOnEntry reports whether the transition auto-fires when its source place
// is entered. The default trigger is manual.
func (t *TransitionDefinition) IsOnEntry() bool {
	return t.Trigger == TriggerOnEntry
}

// ToolCall is one tool invocation attached to a transition.
// Args values may contain ${{ ... }} expressions materialized against the
// workflow scope before invocation. Assign maps context keys to expressions
// evaluated after the tool returns (the tool output is available as "output").
type ToolCall struct {
	ID     string            `json:"id,omitempty" yaml:"id,omitempty"`
	Tool   string            `json:"tool" yaml:"tool"`
	Args   map[string]any    `json:"args,omitempty" yaml:"args,omitempty"`
	Assign map[string]string `json:"assign,omitempty" yaml:"assign,omitempty"`
}

// TransitionRequest is an externally supplied pending transition: the payload
// of a pipeline trigger naming the transition to fire on a specific workflow.
type TransitionRequest struct {
	ID         string         `json:"id" yaml:"id"`
	WorkflowID string         `json:"workflowId" yaml:"workflowId"`
	Payload    map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// StringList accepts either a scalar string or a list of strings when
// decoding, mirroring the `from: "*"` / `from: [a, b]` configuration forms.
type StringList []string

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes either a JSON string or an array of strings.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}

// UnmarshalYAML decodes either a YAML scalar or a sequence of strings.
// Satisfies goccy/go-yaml's InterfaceUnmarshaler.
func (l *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*l = StringList(many)
	return nil
}
