// Package bb implements the blackboard: the nested, scoped key/value
// store used to pass data between mission nodes across ticks.
//
// Values are a closed tagged union over the five wire types the mission
// contracts allow (float, string, int, bool, message). Binding and type
// resolution happen at mission compile time; the blackboard never
// type-puns at runtime.
package bb

import (
	"fmt"
	"strconv"
)

// Kind identifies the concrete type carried by a Value.
type Kind string

const (
	KindFloat   Kind = "float"
	KindString  Kind = "string"
	KindInt     Kind = "int"
	KindBool    Kind = "bool"
	KindMessage Kind = "message"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the Kind is one of the known value kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindFloat, KindString, KindInt, KindBool, KindMessage:
		return true
	default:
		return false
	}
}

// Value is a typed blackboard value. Exactly one payload field is
// meaningful, selected by Kind.
type Value struct {
	Kind    Kind           `json:"kind" yaml:"kind"`
	Float   float64        `json:"float,omitempty" yaml:"float,omitempty"`
	Str     string         `json:"string,omitempty" yaml:"string,omitempty"`
	Int     int64          `json:"int,omitempty" yaml:"int,omitempty"`
	Bool    bool           `json:"bool,omitempty" yaml:"bool,omitempty"`
	Message map[string]any `json:"message,omitempty" yaml:"message,omitempty"`
}

// FloatValue constructs a float-kinded Value.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// StringValue constructs a string-kinded Value.
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// IntValue constructs an int-kinded Value.
func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

// BoolValue constructs a bool-kinded Value.
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// MessageValue constructs a message-kinded Value carrying a structured
// payload.
func MessageValue(m map[string]any) Value {
	return Value{Kind: KindMessage, Message: m}
}

// IsZero reports whether the value has never been set.
func (v Value) IsZero() bool {
	return v.Kind == ""
}

// Equal compares two values. Numeric kinds compare across int/float so
// a Switch pivot bound to an int binding can match a float constant.
func (v Value) Equal(other Value) bool {
	if v.isNumeric() && other.isNumeric() {
		return v.AsFloat() == other.AsFloat()
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindBool:
		return v.Bool == other.Bool
	case KindMessage:
		// Messages compare by identity of content length only at the
		// blackboard level; structural comparison is a node concern.
		return len(v.Message) == len(other.Message)
	default:
		return false
	}
}

func (v Value) isNumeric() bool {
	return v.Kind == KindFloat || v.Kind == KindInt
}

// AsFloat returns the numeric payload widened to float64.
// Non-numeric kinds return 0.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return float64(v.Int)
	default:
		return 0
	}
}

// AsInt returns the numeric payload narrowed to int64.
// Non-numeric kinds return 0.
func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return int64(v.Float)
	default:
		return 0
	}
}

// String renders the value for logs and question text substitution.
func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindMessage:
		return fmt.Sprintf("message(%d fields)", len(v.Message))
	default:
		return "<unset>"
	}
}
