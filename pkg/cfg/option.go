package cfg

// CoerceFunc replaces the built-in conversion of raw value text for one
// option. It owns the whole decision: a returned error aborts the parse with
// CodeCallbackRejected, and should be preceded by a ctx.Errorf explaining why.
type CoerceFunc func(ctx *Context, raw string) (Value, error)

// FuncCallback is invoked for every occurrence of a function option with the
// raw argument texts. A returned error aborts the parse.
type FuncCallback func(ctx *Context, args []string) error

// Binding is a typed destination for a simple option. Parsed values are
// written through it instead of being stored in the tree.
type Binding interface {
	// Kind is the kind of value the binding accepts.
	Kind() Kind

	// Set stores a coerced value.
	Set(v Value)
}

type binding struct {
	kind Kind
	set  func(Value)
}

func (b binding) Kind() Kind  { return b.kind }
func (b binding) Set(v Value) { b.set(v) }

// BindInt writes integer values to p.
func BindInt(p *int64) Binding {
	return binding{kind: KindInt, set: func(v Value) { *p = v.Int() }}
}

// BindFloat writes float values to p.
func BindFloat(p *float64) Binding {
	return binding{kind: KindFloat, set: func(v Value) { *p = v.Float() }}
}

// BindStr writes string values to p.
func BindStr(p *string) Binding {
	return binding{kind: KindString, set: func(v Value) { *p = v.Str() }}
}

// BindBool writes boolean values to p.
func BindBool(p *bool) Binding {
	return binding{kind: KindBool, set: func(v Value) { *p = v.Bool() }}
}

// BindFunc adapts an arbitrary setter for values of the given kind.
func BindFunc(kind Kind, set func(Value)) Binding {
	return binding{kind: kind, set: set}
}

// Option declares one configurable name in a schema.
type Option struct {
	// Name is matched against identifiers in the input. An empty name
	// declares the catch-all option: unknown names in the same schema are
	// accepted and stored under their own name with this option's settings.
	Name string `validate:"omitempty,printascii,excludesall=0x2C{}();=#"`

	// Kind is the value kind.
	Kind Kind `validate:"gt=0,lte=6"`

	// Flags modify parsing and storage.
	Flags Flag

	// Defaults are surfaced when no value was parsed. Scalars use the first
	// element; list options use all of them.
	Defaults []Value

	// Schema declares the nested options of a section.
	Schema Schema

	// Coerce overrides the built-in conversion of scalar values.
	Coerce CoerceFunc

	// Func handles function options.
	Func FuncCallback

	// Bind makes the option simple: values bypass the tree.
	Bind Binding
}

// WithCoerce returns a copy of o that converts values through fn.
func (o Option) WithCoerce(fn CoerceFunc) Option {
	o.Coerce = fn
	return o
}

// WithFlags returns a copy of o with additional flags set.
func (o Option) WithFlags(f Flag) Option {
	o.Flags |= f
	return o
}

// Default returns the first declared default, or the zero Value.
func (o *Option) Default() Value {
	if len(o.Defaults) == 0 {
		return Value{}
	}
	return o.Defaults[0]
}

// Int declares an integer option.
func Int(name string, def int64, flags Flag) Option {
	return Option{Name: name, Kind: KindInt, Flags: flags, Defaults: []Value{IntValue(def)}}
}

// IntList declares an integer list option.
func IntList(name string, defs []int64, flags Flag) Option {
	vals := make([]Value, 0, len(defs))
	for _, d := range defs {
		vals = append(vals, IntValue(d))
	}
	return Option{Name: name, Kind: KindInt, Flags: flags | FlagList, Defaults: vals}
}

// Float declares a floating point option.
func Float(name string, def float64, flags Flag) Option {
	return Option{Name: name, Kind: KindFloat, Flags: flags, Defaults: []Value{FloatValue(def)}}
}

// FloatList declares a floating point list option.
func FloatList(name string, defs []float64, flags Flag) Option {
	vals := make([]Value, 0, len(defs))
	for _, d := range defs {
		vals = append(vals, FloatValue(d))
	}
	return Option{Name: name, Kind: KindFloat, Flags: flags | FlagList, Defaults: vals}
}

// Str declares a string option. An empty default means no default.
func Str(name, def string, flags Flag) Option {
	o := Option{Name: name, Kind: KindString, Flags: flags}
	if def != "" {
		o.Defaults = []Value{StringValue(def)}
	}
	return o
}

// StrList declares a string list option.
func StrList(name string, defs []string, flags Flag) Option {
	vals := make([]Value, 0, len(defs))
	for _, d := range defs {
		vals = append(vals, StringValue(d))
	}
	return Option{Name: name, Kind: KindString, Flags: flags | FlagList, Defaults: vals}
}

// Bool declares a boolean option.
func Bool(name string, def bool, flags Flag) Option {
	return Option{Name: name, Kind: KindBool, Flags: flags, Defaults: []Value{BoolValue(def)}}
}

// BoolList declares a boolean list option.
func BoolList(name string, defs []bool, flags Flag) Option {
	vals := make([]Value, 0, len(defs))
	for _, d := range defs {
		vals = append(vals, BoolValue(d))
	}
	return Option{Name: name, Kind: KindBool, Flags: flags | FlagList, Defaults: vals}
}

// Sec declares a section with its own nested schema. Sections have no
// default value.
func Sec(name string, schema Schema, flags Flag) Option {
	return Option{Name: name, Kind: KindSection, Flags: flags, Schema: schema}
}

// Func declares a function option.
func Func(name string, fn FuncCallback) Option {
	return Option{Name: name, Kind: KindFunc, Func: fn}
}

// SimpleInt declares an integer option written directly to p.
func SimpleInt(name string, p *int64) Option {
	return Option{Name: name, Kind: KindInt, Bind: BindInt(p)}
}

// SimpleFloat declares a float option written directly to p.
func SimpleFloat(name string, p *float64) Option {
	return Option{Name: name, Kind: KindFloat, Bind: BindFloat(p)}
}

// SimpleStr declares a string option written directly to p.
func SimpleStr(name string, p *string) Option {
	return Option{Name: name, Kind: KindString, Bind: BindStr(p)}
}

// SimpleBool declares a boolean option written directly to p.
func SimpleBool(name string, p *bool) Option {
	return Option{Name: name, Kind: KindBool, Bind: BindBool(p)}
}
