package syncproto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the scalar held by a Value.
type ValueKind uint8

const (
	ValueInt ValueKind = iota + 1
	ValueFloat
	ValueText
	ValueBool
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueText:
		return "text"
	case ValueBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseValueKind converts "int", "float", "text" or "bool" to a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int":
		return ValueInt, nil
	case "float":
		return ValueFloat, nil
	case "text", "string":
		return ValueText, nil
	case "bool":
		return ValueBool, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is one persisted scalar override such as a route price.
type Value struct {
	Kind  ValueKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint"`
	Text  string    `cbor:"4,keyasint,omitempty"`
	Bool  bool      `cbor:"5,keyasint,omitempty"`
}

func IntValue(v int64) Value     { return Value{Kind: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: ValueFloat, Float: v} }
func TextValue(v string) Value   { return Value{Kind: ValueText, Text: v} }
func BoolValue(v bool) Value     { return Value{Kind: ValueBool, Bool: v} }

// Equal reports whether v and o hold the same kind and scalar. Two NaN
// floats are equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueInt:
		return v.Int == o.Int
	case ValueFloat:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case ValueText:
		return v.Text == o.Text
	case ValueBool:
		return v.Bool == o.Bool
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueText:
		return strconv.Quote(v.Text)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "<unset>"
	}
}

// ParseValue builds a Value of kind from its text form.
func ParseValue(kind ValueKind, s string) (Value, error) {
	switch kind {
	case ValueInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse int value: %w", err)
		}
		return IntValue(n), nil
	case ValueFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float value: %w", err)
		}
		return FloatValue(f), nil
	case ValueText:
		return TextValue(s), nil
	case ValueBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool value: %w", err)
		}
		return BoolValue(b), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}

// Raw returns the text form ParseValue accepts.
func (v Value) Raw() string {
	if v.Kind == ValueText {
		return v.Text
	}
	return v.String()
}
