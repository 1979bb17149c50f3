package schemafile

// Definition is the document form of a schema file.
type Definition struct {
	// Options are the top-level options of the schema.
	Options []OptionDef `yaml:"options" validate:"dive"`
}

// OptionDef describes one option.
type OptionDef struct {
	// Name is the option name. An empty name declares the catch-all option.
	Name string `yaml:"name" validate:"omitempty,printascii,excludesall=0x2C{}();=#"`

	// Kind is one of int, float, string, bool, section or func.
	Kind string `yaml:"kind" validate:"required,oneof=int float string bool section func"`

	// Flags lists flag names: multi, list, nocase, title, reset.
	Flags []string `yaml:"flags,omitempty" validate:"dive,oneof=multi list nocase title reset"`

	// Default is a scalar default, or a sequence of defaults for list
	// options.
	Default any `yaml:"default,omitempty"`

	// Options declares the nested options of a section.
	Options []OptionDef `yaml:"options,omitempty" validate:"dive"`

	// Coerce is Starlark source defining coerce(raw), used instead of the
	// built-in conversion of values.
	Coerce string `yaml:"coerce,omitempty"`

	// Call is Starlark source defining call(args) for function options.
	Call string `yaml:"call,omitempty" validate:"excluded_unless=Kind func"`

	// Builtin names a Go function callback registered with WithFunc;
	// "include" is always available.
	Builtin string `yaml:"builtin,omitempty" validate:"excluded_unless=Kind func,excluded_with=Call"`
}
