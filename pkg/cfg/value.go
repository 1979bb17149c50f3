package cfg

import (
	"fmt"
	"strconv"
)

// Value is a tagged union over the value kinds an option can hold. The zero
// Value has KindNone.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	sec  *Section
}

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }

// FloatValue returns a floating point value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// StringValue returns a string value.
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// SectionValue wraps a section.
func SectionValue(s *Section) Value { return Value{kind: KindSection, sec: s} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool { return v.kind == KindNone }

// Int returns the integer payload, or 0 for other kinds.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		return 0
	}
	return v.i
}

// Float returns the float payload, or 0 for other kinds.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		return 0
	}
	return v.f
}

// Str returns the string payload, or "" for other kinds.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Bool returns the boolean payload, or false for other kinds.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		return false
	}
	return v.b
}

// Section returns the section payload, or nil for other kinds.
func (v Value) Section() *Section {
	if v.kind != KindSection {
		return nil
	}
	return v.sec
}

// Interface returns the payload as a plain Go value. Sections become the
// result of Section.Map.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindSection:
		if v.sec == nil {
			return nil
		}
		return v.sec.Map()
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
// Sections compare structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindSection:
		return v.sec.Equal(o.sec)
	default:
		return true
	}
}

// String formats the payload for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindSection:
		if v.sec == nil {
			return "<nil section>"
		}
		if v.sec.title != "" {
			return fmt.Sprintf("%s %q {...}", v.sec.name, v.sec.title)
		}
		return v.sec.name + " {...}"
	default:
		return "<none>"
	}
}
