package cfg

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestSection_Mutation(t *testing.T) {
	schema := Schema{
		Int("port", 80, FlagNone),
		Float("ratio", 0, FlagNone),
		Str("name", "", FlagNone),
		Bool("debug", false, FlagNone),
		IntList("nums", nil, FlagNone),
	}
	root := NewTree(schema, WithReporter(Discard))

	if err := root.SetInt("port", 443); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := root.SetFloat("ratio", 0.75); err != nil {
		t.Fatalf("SetFloat: %v", err)
	}
	if err := root.SetStr("name", "edge"); err != nil {
		t.Fatalf("SetStr: %v", err)
	}
	if err := root.SetBool("debug", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if root.Int("port") != 443 || root.Float("ratio") != 0.75 || root.Str("name") != "edge" || !root.Bool("debug") {
		t.Errorf("values not stored: %v", root.Map())
	}

	if err := root.SetIntAt("port", 1, 1); err == nil {
		t.Error("index 1 on a single valued option accepted")
	}
	if err := root.SetStr("port", "x"); err == nil {
		t.Error("string stored in integer option")
	}
	if err := root.SetInt("missing", 1); !errors.Is(err, ErrNoSuchOption) {
		t.Errorf("got %v, want ErrNoSuchOption", err)
	}

	if err := root.SetList("nums", []Value{IntValue(1), IntValue(2)}); err != nil {
		t.Fatalf("SetList: %v", err)
	}
	if err := root.AddList("nums", []Value{IntValue(3)}); err != nil {
		t.Fatalf("AddList: %v", err)
	}
	if err := root.SetIntAt("nums", 4, 3); err != nil {
		t.Fatalf("SetIntAt append: %v", err)
	}
	if err := root.SetIntAt("nums", 20, 1); err != nil {
		t.Fatalf("SetIntAt replace: %v", err)
	}
	if err := root.SetIntAt("nums", 9, 7); err == nil {
		t.Error("index past the end accepted")
	}
	if got := root.Opt("nums").Values(); !reflect.DeepEqual(got, []Value{IntValue(1), IntValue(20), IntValue(3), IntValue(4)}) {
		t.Errorf("nums = %v", got)
	}
	if err := root.SetList("nums", []Value{StringValue("x")}); err == nil {
		t.Error("string stored in integer list")
	}
	if err := root.AddList("port", []Value{IntValue(1)}); err == nil {
		t.Error("AddList on a scalar accepted")
	}
}

func TestSection_Map(t *testing.T) {
	schema := Schema{
		Int("port", 80, FlagNone),
		StrList("hosts", nil, FlagNone),
		Str("tag", "", FlagMulti),
		Str("unset", "", FlagNone),
		Sec("limits", Schema{Int("max", 10, FlagNone)}, FlagNone),
		Sec("server", Schema{Bool("tls", false, FlagNone)}, FlagTitle|FlagMulti),
	}
	root := mustParse(t, schema, `
		hosts = {a, b}
		tag = x; tag = y
		limits { }
		server web { tls = yes }
		server db { }
	`)

	want := map[string]any{
		"port":   int64(80),
		"hosts":  []any{"a", "b"},
		"tag":    []any{"x", "y"},
		"limits": map[string]any{"max": int64(10)},
		"server": map[string]any{
			"web": map[string]any{"tls": true},
			"db":  map[string]any{"tls": false},
		},
	}
	if got := root.Map(); !reflect.DeepEqual(got, want) {
		t.Errorf("Map() = %#v\nwant %#v", got, want)
	}
}

func TestSection_LookupDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	root := mustParse(t, Schema{Int("port", 0, FlagNone)}, "port = 1")
	root.SetReporter(ConsoleReporter(&buf))

	if root.Int("nope") != 0 {
		t.Error("unknown option returned a value")
	}
	if root.Str("port") != "" {
		t.Error("kind mismatch returned a value")
	}
	out := buf.String()
	if !strings.Contains(out, "test.conf:0: no such option 'nope'") {
		t.Errorf("missing unknown option diagnostic in %q", out)
	}
	if !strings.Contains(out, "option 'port' has kind integer, not string") {
		t.Errorf("missing kind diagnostic in %q", out)
	}
}

func TestSection_Errorf(t *testing.T) {
	var got []string
	root := mustParse(t, Schema{Sec("s", Schema{}, FlagNone)}, "\n\ns {\n}")
	root.Sec("s").SetReporter(func(pos Position, msg string) {
		got = append(got, pos.String()+" "+msg)
	})
	root.Sec("s").Errorf("bad %d", 7)
	if len(got) != 1 || got[0] != "test.conf:3 bad 7" {
		t.Errorf("got %v", got)
	}
	if root.Sec("s").Filename() != "test.conf" || root.Sec("s").Line() != 3 {
		t.Errorf("position = %s", root.Sec("s").Position())
	}
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	report := ConsoleReporter(&buf)
	report(Position{File: "app.conf", Line: 12}, "no such option 'x'")
	report(Position{Line: 3}, "oops")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "app.conf:12: no such option 'x'") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "<input>:3: oops") {
		t.Errorf("line 1 = %q", lines[1])
	}
}
