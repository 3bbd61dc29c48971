// Package tree defines the mission node tree contract and the compiler
// that turns a submitted tree into an executable instance arena.
//
// A submitted tree is a graph of NodeSpec values. Shared subtrees are
// expressed as references into a reference table, so the submission is
// a DAG; compilation expands every reference occurrence into an
// independent instance with its own ID and execution state.
package tree

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/outland-robotics/missiond/internal/bb"
)

// Duration is a time.Duration that unmarshals from the formats mission
// files actually use: a Go duration string ("90s", "2m30s") or a bare
// number of seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalYAML renders the duration as a Go duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var secs float64
	if err := unmarshal(&secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Kind identifies a node implementation variant.
type Kind string

const (
	// Control-flow kinds.
	KindSequence         Kind = "sequence"
	KindSelector         Kind = "selector"
	KindSwitch           Kind = "switch"
	KindRepeat           Kind = "repeat"
	KindRetry            Kind = "retry"
	KindSimpleParallel   Kind = "simple_parallel"
	KindForDuration      Kind = "for_duration"
	KindDefineBlackboard Kind = "define_blackboard"

	// Leaf kinds.
	KindSetBlackboard  Kind = "set_blackboard"
	KindConstantResult Kind = "constant_result"
	KindSleep          Kind = "sleep"
	KindCondition      Kind = "condition"
	KindPrompt         Kind = "prompt"
	KindRetainLease    Kind = "retain_lease"
	KindRemote         Kind = "remote"
	KindRobotCommand   Kind = "robot_command"
	KindNavigateTo     Kind = "navigate_to"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind names a known implementation variant.
// Unknown kinds are surfaced as compile errors rather than panics so a
// newer schema than this interpreter degrades loudly but cleanly.
func (k Kind) IsValid() bool {
	switch k {
	case KindSequence, KindSelector, KindSwitch, KindRepeat, KindRetry,
		KindSimpleParallel, KindForDuration, KindDefineBlackboard,
		KindSetBlackboard, KindConstantResult, KindSleep, KindCondition,
		KindPrompt, KindRetainLease, KindRemote, KindRobotCommand,
		KindNavigateTo:
		return true
	default:
		return false
	}
}

// ValueSource is the tagged union a spec uses wherever a value is
// needed: a literal constant, a reference to a blackboard variable, or
// a reference to a parameter supplied by an enclosing subtree call.
// Exactly one field may be set.
type ValueSource struct {
	Const          *bb.Value `json:"const,omitempty" yaml:"const,omitempty"`
	FromBlackboard string    `json:"from_blackboard,omitempty" yaml:"from_blackboard,omitempty"`
	FromParameter  string    `json:"from_parameter,omitempty" yaml:"from_parameter,omitempty"`
}

// setCount returns how many union arms are populated.
func (s ValueSource) setCount() int {
	n := 0
	if s.Const != nil {
		n++
	}
	if s.FromBlackboard != "" {
		n++
	}
	if s.FromParameter != "" {
		n++
	}
	return n
}

// ParameterDecl declares a parameter a subtree expects from its caller.
type ParameterDecl struct {
	Name string  `json:"name" yaml:"name"`
	Kind bb.Kind `json:"kind" yaml:"kind"`
}

// ParameterBinding supplies a value for a declared parameter.
type ParameterBinding struct {
	Name  string      `json:"name" yaml:"name"`
	Value ValueSource `json:"value" yaml:"value"`
}

// FieldOverride rebinds one scalar knob of the target node (for
// example the duration of a referenced Sleep subtree). The value must
// resolve to a constant at compile time.
type FieldOverride struct {
	Field string      `json:"field" yaml:"field"`
	Value ValueSource `json:"value" yaml:"value"`
}

// CompareOp is the comparison operator of a Condition node.
type CompareOp string

const (
	OpEqual        CompareOp = "eq"
	OpNotEqual     CompareOp = "ne"
	OpLessThan     CompareOp = "lt"
	OpLessEqual    CompareOp = "le"
	OpGreaterThan  CompareOp = "gt"
	OpGreaterEqual CompareOp = "ge"
)

// IsValid checks if the operator is known.
func (o CompareOp) IsValid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual:
		return true
	default:
		return false
	}
}

// SwitchCase pairs a pivot value with the child executed when the
// pivot matches it.
type SwitchCase struct {
	Value int64     `json:"value" yaml:"value"`
	Child *NodeSpec `json:"child" yaml:"child"`
}

// PromptOption is one answer an operator may choose for a Prompt node.
type PromptOption struct {
	Text string `json:"text" yaml:"text"`
	Code int64  `json:"code" yaml:"code"`
}

// InputDecl maps a delegated session input name onto the blackboard
// variable whose value is forwarded on every remote Tick.
type InputDecl struct {
	Name string `json:"name" yaml:"name"`
	Key  string `json:"key" yaml:"key"`
}

// NodeSpec describes one node of a submitted mission tree. It is the
// wire-level shape: per-kind fields are optional and only the fields of
// the declared Kind are meaningful. Exactly one of Kind or Reference is
// set; a Reference occurrence stands in for the subtree registered
// under that ID in the submission's reference table.
//
// NodeSpecs are immutable once handed to Compile.
type NodeSpec struct {
	Name     string         `json:"name" yaml:"name"`
	UserData map[string]any `json:"user_data,omitempty" yaml:"user_data,omitempty"`

	// Subtree parameterization.
	Parameters      []ParameterDecl    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ParameterValues []ParameterBinding `json:"parameter_values,omitempty" yaml:"parameter_values,omitempty"`
	Overrides       []FieldOverride    `json:"overrides,omitempty" yaml:"overrides,omitempty"`

	// Implementation variant. Empty when Reference is set.
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Reference names a shared subtree in the reference table.
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`

	// Children of Sequence, Selector and DefineBlackboard (single
	// child), Repeat, Retry and Prompt (single child).
	Children []*NodeSpec `json:"children,omitempty" yaml:"children,omitempty"`

	// Sequence / Selector / Switch.
	AlwaysRestart bool `json:"always_restart,omitempty" yaml:"always_restart,omitempty"`

	// Repeat.
	MaxStarts           int  `json:"max_starts,omitempty" yaml:"max_starts,omitempty"`
	RespectChildFailure bool `json:"respect_child_failure,omitempty" yaml:"respect_child_failure,omitempty"`

	// Retry.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// ForDuration / Sleep.
	Duration Duration  `json:"duration,omitempty" yaml:"duration,omitempty"`
	Fallback *NodeSpec `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// SimpleParallel.
	Primary   *NodeSpec `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary *NodeSpec `json:"secondary,omitempty" yaml:"secondary,omitempty"`

	// Switch.
	Pivot   *ValueSource `json:"pivot,omitempty" yaml:"pivot,omitempty"`
	Cases   []SwitchCase `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default *NodeSpec    `json:"default,omitempty" yaml:"default,omitempty"`

	// DefineBlackboard / SetBlackboard / Condition.
	Key    string        `json:"key,omitempty" yaml:"key,omitempty"`
	Value  *ValueSource  `json:"value,omitempty" yaml:"value,omitempty"`
	Rhs    *ValueSource  `json:"rhs,omitempty" yaml:"rhs,omitempty"`
	Op     CompareOp     `json:"op,omitempty" yaml:"op,omitempty"`
	Policy bb.ReadPolicy `json:"policy,omitempty" yaml:"policy,omitempty"`

	// DefineBlackboard initial bindings.
	Bindings []ParameterBinding `json:"bindings,omitempty" yaml:"bindings,omitempty"`

	// ConstantResult: one of "success", "failure", "error", "running".
	Result string `json:"result,omitempty" yaml:"result,omitempty"`

	// Prompt.
	Text           string         `json:"text,omitempty" yaml:"text,omitempty"`
	Options        []PromptOption `json:"options,omitempty" yaml:"options,omitempty"`
	Severity       string         `json:"severity,omitempty" yaml:"severity,omitempty"`
	AlwaysReprompt bool           `json:"always_reprompt,omitempty" yaml:"always_reprompt,omitempty"`
	Timeout        Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DefaultChild   *NodeSpec      `json:"default_child,omitempty" yaml:"default_child,omitempty"`

	// RetainLease / Remote.
	LeaseResources []string `json:"lease_resources,omitempty" yaml:"lease_resources,omitempty"`

	// Remote.
	Service string      `json:"service,omitempty" yaml:"service,omitempty"`
	Inputs  []InputDecl `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// RobotCommand.
	Action map[string]any `json:"action,omitempty" yaml:"action,omitempty"`

	// NavigateTo.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// isReference reports whether this spec is a shared-subtree reference
// occurrence rather than an inline implementation.
func (s *NodeSpec) isReference() bool {
	return s.Reference != ""
}

// structuralChildren returns every child spec in a fixed structural
// order, across all per-kind child fields. Order determines instance ID
// assignment and tick visitation, so it must be deterministic.
func (s *NodeSpec) structuralChildren() []*NodeSpec {
	var out []*NodeSpec
	out = append(out, s.Children...)
	if s.Primary != nil {
		out = append(out, s.Primary)
	}
	if s.Secondary != nil {
		out = append(out, s.Secondary)
	}
	for _, c := range s.Cases {
		if c.Child != nil {
			out = append(out, c.Child)
		}
	}
	if s.Default != nil {
		out = append(out, s.Default)
	}
	if s.Fallback != nil {
		out = append(out, s.Fallback)
	}
	if s.DefaultChild != nil {
		out = append(out, s.DefaultChild)
	}
	return out
}
