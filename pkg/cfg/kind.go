package cfg

import "strings"

// Kind is the value kind of an option.
type Kind int

const (
	// KindNone marks an unset kind; it never appears in a valid schema.
	KindNone Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindSection
	KindFunc
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindSection:
		return "section"
	case KindFunc:
		return "function"
	default:
		return "none"
	}
}

// scalar reports whether values of this kind come from a single token.
func (k Kind) scalar() bool {
	return k == KindInt || k == KindFloat || k == KindString || k == KindBool
}

// Flag modifies how an option is parsed and stored.
type Flag uint

const (
	// FlagNone is the zero flag set.
	FlagNone Flag = 0

	// FlagMulti allows the option to appear more than once.
	FlagMulti Flag = 1 << (iota - 1)

	// FlagList makes the option hold a comma-separated list of values.
	FlagList

	// FlagNoCase matches the option name, and for sections the titles and
	// nested names, without regard to case.
	FlagNoCase

	// FlagTitle requires a title on every instance of a section.
	FlagTitle

	// FlagReset clears values from earlier parses the first time the option
	// is seen in a new parse.
	FlagReset
)

// Has reports whether all bits of f2 are set in f.
func (f Flag) Has(f2 Flag) bool {
	return f&f2 == f2
}

// String lists the set flags separated by '|'.
func (f Flag) String() string {
	if f == FlagNone {
		return "none"
	}
	var parts []string
	for _, named := range []struct {
		flag Flag
		name string
	}{
		{FlagMulti, "multi"},
		{FlagList, "list"},
		{FlagNoCase, "nocase"},
		{FlagTitle, "title"},
		{FlagReset, "reset"},
	} {
		if f.Has(named.flag) {
			parts = append(parts, named.name)
		}
	}
	return strings.Join(parts, "|")
}
