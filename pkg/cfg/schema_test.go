package cfg

import (
	"errors"
	"testing"
)

func TestSchema_Validate(t *testing.T) {
	noop := func(*Context, []string) error { return nil }
	var n int64

	tests := []struct {
		name    string
		schema  Schema
		wantErr bool
	}{
		{
			name: "valid",
			schema: Schema{
				Int("a", 1, FlagNone),
				StrList("b", []string{"x", "y"}, FlagNone),
				Sec("c", Schema{Bool("d", false, FlagNone)}, FlagTitle|FlagMulti),
				Func("include", Include),
				SimpleInt("e", &n),
				Str("", "", FlagNone),
			},
		},
		{"names differing in case", Schema{Int("a", 0, FlagNone), Int("A", 0, FlagNone)}, false},
		{"duplicate name", Schema{Int("a", 0, FlagNone), Str("a", "", FlagNone)}, true},
		{"duplicate nested name", Schema{Sec("s", Schema{Int("a", 0, FlagNone), Int("a", 0, FlagNone)}, FlagNone)}, true},
		{"name with space", Schema{Int("a b", 0, FlagNone)}, true},
		{"name with brace", Schema{Int("a{", 0, FlagNone)}, true},
		{"missing kind", Schema{{Name: "a"}}, true},
		{"two catch-alls", Schema{Str("", "", FlagNone), Int("", 0, FlagNone)}, true},
		{"titled scalar", Schema{Int("a", 0, FlagTitle)}, true},
		{"list section", Schema{Sec("s", nil, FlagList)}, true},
		{"unnamed section", Schema{Sec("", nil, FlagNone)}, true},
		{"function without callback", Schema{Func("f", nil)}, true},
		{"function with flags", Schema{Option{Name: "f", Kind: KindFunc, Func: noop, Flags: FlagMulti}}, true},
		{"scalar with schema", Schema{{Name: "a", Kind: KindInt, Schema: Schema{}}}, true},
		{"default of wrong kind", Schema{{Name: "a", Kind: KindInt, Defaults: []Value{StringValue("x")}}}, true},
		{"several defaults on scalar", Schema{{Name: "a", Kind: KindInt, Defaults: []Value{IntValue(1), IntValue(2)}}}, true},
		{"bound list", Schema{{Name: "a", Kind: KindInt, Flags: FlagList, Bind: BindInt(&n)}}, true},
		{"binding of wrong kind", Schema{{Name: "a", Kind: KindString, Bind: BindInt(&n)}}, true},
		{"coerced section", Schema{Sec("s", nil, FlagNone).WithCoerce(func(*Context, string) (Value, error) { return Value{}, nil })}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_Lookup(t *testing.T) {
	schema := Schema{
		Int("Port", 0, FlagNone),
		Str("Host", "", FlagNoCase),
		Str("", "", FlagNone),
	}

	if opt := schema.Lookup("Port", false); opt == nil || opt.Name != "Port" {
		t.Errorf("exact lookup = %v", opt)
	}
	if opt := schema.Lookup("port", false); opt == nil || opt.Name != "" {
		t.Errorf("case mismatch should fall back to the catch-all, got %v", opt)
	}
	if opt := schema.Lookup("port", true); opt == nil || opt.Name != "Port" {
		t.Errorf("nocase lookup = %v", opt)
	}
	if opt := schema.Lookup("HOST", false); opt == nil || opt.Name != "Host" {
		t.Errorf("option flag lookup = %v", opt)
	}
	if opt := schema[:2].Lookup("other", false); opt != nil {
		t.Errorf("lookup of undeclared name = %v", opt)
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{Code: CodeType, File: "a.conf", Line: 4, Msg: "invalid integer value for option 'x'"}
	if got := err.Error(); got != "a.conf:4: invalid integer value for option 'x'" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrType) || errors.Is(err, ErrSyntax) {
		t.Error("errors.Is does not compare codes")
	}
	if CodeOf(err) != CodeType {
		t.Errorf("CodeOf = %q", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf of a plain error is not empty")
	}

	cause := errors.New("boom")
	wrapped := &ParseError{Code: CodeSourceUnavailable, Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if got := wrapped.Error(); got != "source_unavailable: boom" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFlag_String(t *testing.T) {
	tests := []struct {
		flags Flag
		want  string
	}{
		{FlagNone, "none"},
		{FlagMulti, "multi"},
		{FlagTitle | FlagMulti, "multi|title"},
		{FlagList | FlagNoCase | FlagReset, "list|nocase|reset"},
	}
	for _, tt := range tests {
		if got := tt.flags.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint(tt.flags), got, tt.want)
		}
	}
}
