package cfg

import (
	"errors"
	"fmt"
	"strings"
)

// RootName is the name of every root section.
const RootName = "root"

// ErrNoSuchOption is returned by mutators for names the schema does not declare.
var ErrNoSuchOption = errors.New("no such option")

// OptionValue holds the values parsed for one option of a section.
type OptionValue struct {
	name   string
	spec   *Option
	values []Value
}

// Name returns the option name as it is stored. For options matched by the
// catch-all declaration this is the name found in the input.
func (ov *OptionValue) Name() string { return ov.name }

// Spec returns the declaration the option was parsed against.
func (ov *OptionValue) Spec() *Option { return ov.spec }

// Size returns the number of parsed values. Defaults are not counted.
func (ov *OptionValue) Size() int { return len(ov.values) }

// IsSet reports whether any value was parsed or set.
func (ov *OptionValue) IsSet() bool { return len(ov.values) > 0 }

// Values returns the parsed values, or the declared defaults when nothing
// was parsed.
func (ov *OptionValue) Values() []Value {
	src := ov.values
	if len(src) == 0 {
		src = ov.spec.Defaults
	}
	out := make([]Value, len(src))
	copy(out, src)
	return out
}

// Value returns the value at index i, falling back to the defaults when no
// value was parsed.
func (ov *OptionValue) Value(i int) (Value, bool) {
	src := ov.values
	if len(src) == 0 {
		src = ov.spec.Defaults
	}
	if i < 0 || i >= len(src) {
		return Value{}, false
	}
	return src[i], true
}

func (ov *OptionValue) repeatable() bool {
	return ov.spec.Flags.Has(FlagMulti) || ov.spec.Flags.Has(FlagList)
}

// Section is a node of the option tree: the root returned by Parse, or one
// instance of a section option. A section exclusively owns its child
// sections.
type Section struct {
	name   string
	title  string
	schema Schema
	nocase bool
	opts   []*OptionValue
	pos    Position
	report Reporter
}

// NewTree returns an empty root section for schema. The schema is not
// validated here; Parse and ParseInto do that.
func NewTree(schema Schema, opts ...ParseOption) *Section {
	o := newParseOptions(opts)
	return newSection(RootName, "", schema, o.nocase, Position{File: o.filename}, o.reporter)
}

func newSection(name, title string, schema Schema, nocase bool, pos Position, report Reporter) *Section {
	s := &Section{
		name:   name,
		title:  title,
		schema: schema,
		nocase: nocase,
		pos:    pos,
		report: report,
	}
	for i := range schema {
		opt := &schema[i]
		if opt.Name == "" || opt.Kind == KindFunc || opt.Bind != nil {
			continue
		}
		s.opts = append(s.opts, &OptionValue{name: opt.Name, spec: opt})
	}
	return s
}

// Name returns the option name of the section, or RootName.
func (s *Section) Name() string { return s.name }

// Title returns the section title, "" when untitled.
func (s *Section) Title() string { return s.title }

// Position returns where the section was opened.
func (s *Section) Position() Position { return s.pos }

// Filename returns the name of the source the section was opened in.
func (s *Section) Filename() string { return s.pos.File }

// Line returns the line the section was opened on.
func (s *Section) Line() int { return s.pos.Line }

// Schema returns the schema the section was built from.
func (s *Section) Schema() Schema { return s.schema }

// Options returns the option values in schema order, followed by options
// accepted through the catch-all declaration in input order.
func (s *Section) Options() []*OptionValue {
	out := make([]*OptionValue, len(s.opts))
	copy(out, s.opts)
	return out
}

// SetReporter installs the reporter used by Errorf and by lookups of
// undeclared names on this section.
func (s *Section) SetReporter(r Reporter) { s.report = r }

// Errorf delivers a message tagged with the section position to the
// installed reporter.
func (s *Section) Errorf(format string, args ...any) {
	if s.report == nil {
		return
	}
	s.report(s.pos, fmt.Sprintf(format, args...))
}

func (s *Section) nameMatch(spec *Option, stored, name string) bool {
	if stored == name {
		return true
	}
	return (s.nocase || spec.Flags.Has(FlagNoCase)) && strings.EqualFold(stored, name)
}

// Opt returns the option value stored under name, or nil.
func (s *Section) Opt(name string) *OptionValue {
	for _, ov := range s.opts {
		if ov.name == name {
			return ov
		}
	}
	for _, ov := range s.opts {
		if s.nameMatch(ov.spec, ov.name, name) {
			return ov
		}
	}
	return nil
}

// Size returns the number of parsed values of name.
func (s *Section) Size(name string) int {
	ov := s.Opt(name)
	if ov == nil {
		return 0
	}
	return ov.Size()
}

func (s *Section) valueAt(name string, kind Kind, i int) Value {
	ov := s.Opt(name)
	if ov == nil {
		s.Errorf("no such option '%s'", name)
		return Value{}
	}
	if ov.spec.Kind != kind {
		s.Errorf("option '%s' has kind %s, not %s", name, ov.spec.Kind, kind)
		return Value{}
	}
	v, _ := ov.Value(i)
	return v
}

// Int returns the first value of an integer option.
func (s *Section) Int(name string) int64 { return s.IntAt(name, 0) }

// IntAt returns the i-th value of an integer option.
func (s *Section) IntAt(name string, i int) int64 { return s.valueAt(name, KindInt, i).Int() }

// Float returns the first value of a float option.
func (s *Section) Float(name string) float64 { return s.FloatAt(name, 0) }

// FloatAt returns the i-th value of a float option.
func (s *Section) FloatAt(name string, i int) float64 { return s.valueAt(name, KindFloat, i).Float() }

// Str returns the first value of a string option.
func (s *Section) Str(name string) string { return s.StrAt(name, 0) }

// StrAt returns the i-th value of a string option.
func (s *Section) StrAt(name string, i int) string { return s.valueAt(name, KindString, i).Str() }

// Bool returns the first value of a boolean option.
func (s *Section) Bool(name string) bool { return s.BoolAt(name, 0) }

// BoolAt returns the i-th value of a boolean option.
func (s *Section) BoolAt(name string, i int) bool { return s.valueAt(name, KindBool, i).Bool() }

// Sec returns the first instance of a section option.
func (s *Section) Sec(name string) *Section { return s.SecAt(name, 0) }

// SecAt returns the i-th instance of a section option.
func (s *Section) SecAt(name string, i int) *Section {
	return s.valueAt(name, KindSection, i).Section()
}

// TitledSec returns the instance of a section option carrying title.
// Titles compare without regard to case when the section option, or the
// whole tree, is case-insensitive.
func (s *Section) TitledSec(name, title string) *Section {
	ov := s.Opt(name)
	if ov == nil || ov.spec.Kind != KindSection {
		s.Errorf("no such section '%s'", name)
		return nil
	}
	for _, v := range ov.values {
		if sec := v.Section(); sec != nil && s.titleMatch(ov.spec, sec.title, title) {
			return sec
		}
	}
	return nil
}

func (s *Section) titleMatch(spec *Option, a, b string) bool {
	return titlesEqual(a, b, s.nocase || spec.Flags.Has(FlagNoCase))
}

func titlesEqual(a, b string, nocase bool) bool {
	if nocase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (s *Section) mutable(name string, kind Kind) (*OptionValue, error) {
	ov := s.Opt(name)
	if ov == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchOption, name)
	}
	if ov.spec.Kind != kind {
		return nil, fmt.Errorf("option '%s' has kind %s, not %s", name, ov.spec.Kind, kind)
	}
	return ov, nil
}

func (s *Section) setAt(name string, v Value, i int) error {
	ov, err := s.mutable(name, v.Kind())
	if err != nil {
		return err
	}
	if i > 0 && !ov.repeatable() {
		return fmt.Errorf("option '%s' holds a single value, index %d out of range", name, i)
	}
	switch {
	case i >= 0 && i < len(ov.values):
		ov.values[i] = v
	case i == len(ov.values):
		ov.values = append(ov.values, v)
	default:
		return fmt.Errorf("option '%s' has %d values, index %d out of range", name, len(ov.values), i)
	}
	return nil
}

// SetInt sets the first value of an integer option.
func (s *Section) SetInt(name string, v int64) error { return s.setAt(name, IntValue(v), 0) }

// SetIntAt sets the i-th value of an integer option. Setting index Size()
// appends.
func (s *Section) SetIntAt(name string, v int64, i int) error {
	return s.setAt(name, IntValue(v), i)
}

// SetFloat sets the first value of a float option.
func (s *Section) SetFloat(name string, v float64) error { return s.setAt(name, FloatValue(v), 0) }

// SetFloatAt sets the i-th value of a float option.
func (s *Section) SetFloatAt(name string, v float64, i int) error {
	return s.setAt(name, FloatValue(v), i)
}

// SetStr sets the first value of a string option.
func (s *Section) SetStr(name, v string) error { return s.setAt(name, StringValue(v), 0) }

// SetStrAt sets the i-th value of a string option.
func (s *Section) SetStrAt(name, v string, i int) error {
	return s.setAt(name, StringValue(v), i)
}

// SetBool sets the first value of a boolean option.
func (s *Section) SetBool(name string, v bool) error { return s.setAt(name, BoolValue(v), 0) }

// SetBoolAt sets the i-th value of a boolean option.
func (s *Section) SetBoolAt(name string, v bool, i int) error {
	return s.setAt(name, BoolValue(v), i)
}

func (s *Section) listOpt(name string, vals []Value) (*OptionValue, error) {
	ov := s.Opt(name)
	if ov == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchOption, name)
	}
	if !ov.spec.Flags.Has(FlagList) {
		return nil, fmt.Errorf("option '%s' is not a list", name)
	}
	for _, v := range vals {
		if v.Kind() != ov.spec.Kind {
			return nil, fmt.Errorf("option '%s' is a %s list, got %s", name, ov.spec.Kind, v.Kind())
		}
	}
	return ov, nil
}

// SetList replaces all values of a list option.
func (s *Section) SetList(name string, vals []Value) error {
	ov, err := s.listOpt(name, vals)
	if err != nil {
		return err
	}
	ov.values = append([]Value(nil), vals...)
	return nil
}

// AddList appends values to a list option.
func (s *Section) AddList(name string, vals []Value) error {
	ov, err := s.listOpt(name, vals)
	if err != nil {
		return err
	}
	ov.values = append(ov.values, vals...)
	return nil
}

// Map returns a plain Go view of the tree: scalars as int64, float64,
// string or bool; list and repeatable options as []any; sections as
// map[string]any; titled sections as a map from title to section. Options
// without parsed values contribute their defaults.
func (s *Section) Map() map[string]any {
	m := make(map[string]any, len(s.opts))
	for _, ov := range s.opts {
		vals := ov.Values()
		if len(vals) == 0 {
			continue
		}
		switch {
		case ov.spec.Kind == KindSection && ov.spec.Flags.Has(FlagTitle):
			titled := make(map[string]any, len(vals))
			for _, v := range vals {
				titled[v.Section().Title()] = v.Interface()
			}
			m[ov.name] = titled
		case ov.repeatable():
			list := make([]any, 0, len(vals))
			for _, v := range vals {
				list = append(list, v.Interface())
			}
			m[ov.name] = list
		default:
			m[ov.name] = vals[0].Interface()
		}
	}
	return m
}

// Equal reports whether two trees hold the same options in the same order
// with the same parsed values.
func (s *Section) Equal(o *Section) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.name != o.name || s.title != o.title || len(s.opts) != len(o.opts) {
		return false
	}
	for i, ov := range s.opts {
		other := o.opts[i]
		if ov.name != other.name || len(ov.values) != len(other.values) {
			return false
		}
		for j := range ov.values {
			if !ov.values[j].Equal(other.values[j]) {
				return false
			}
		}
	}
	return true
}
