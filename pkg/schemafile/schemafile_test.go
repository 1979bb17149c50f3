package schemafile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/source"
)

type collector struct {
	msgs []string
}

func (c *collector) report(pos cfg.Position, msg string) {
	c.msgs = append(c.msgs, pos.String()+": "+msg)
}

func mustLoad(t *testing.T, doc string, opts ...LoadOption) cfg.Schema {
	t.Helper()
	schema, err := Load(strings.NewReader(doc), opts...)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return schema
}

func TestLoad_Kinds(t *testing.T) {
	schema := mustLoad(t, `
options:
  - name: port
    kind: int
    default: 8080
  - name: ratio
    kind: float
    default: 1
  - name: name
    kind: string
    default: edge
  - name: debug
    kind: bool
    default: true
  - name: hosts
    kind: string
    flags: [list]
    default: [a, b]
  - name: server
    kind: section
    flags: [multi, title]
    options:
      - name: tls
        kind: bool
`)

	root, err := cfg.ParseString(schema, `server web { tls = yes }`, cfg.WithReporter(cfg.Discard))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if root.Int("port") != 8080 {
		t.Errorf("port = %d", root.Int("port"))
	}
	if root.Float("ratio") != 1 {
		t.Errorf("ratio = %v", root.Float("ratio"))
	}
	if root.Str("name") != "edge" || !root.Bool("debug") {
		t.Errorf("name/debug = %q/%v", root.Str("name"), root.Bool("debug"))
	}
	if root.Size("hosts") != 2 || root.StrAt("hosts", 1) != "b" {
		t.Errorf("hosts = %v", root.Opt("hosts").Values())
	}
	if sec := root.TitledSec("server", "web"); sec == nil || !sec.Bool("tls") {
		t.Errorf("server web not parsed: %v", root.Map())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown kind",
			doc:  "options:\n  - name: x\n    kind: double\n",
			want: "invalid schema definition",
		},
		{
			name: "unknown flag",
			doc:  "options:\n  - name: x\n    kind: int\n    flags: [sticky]\n",
			want: "invalid schema definition",
		},
		{
			name: "unknown field",
			doc:  "options:\n  - name: x\n    kind: int\n    dflt: 1\n",
			want: "failed to parse schema YAML",
		},
		{
			name: "wrong default kind",
			doc:  "options:\n  - name: x\n    kind: int\n    default: abc\n",
			want: "default abc is not a valid integer",
		},
		{
			name: "sequence default on scalar",
			doc:  "options:\n  - name: x\n    kind: int\n    default: [1, 2]\n",
			want: "sequence default on a non-list option",
		},
		{
			name: "call on scalar",
			doc:  "options:\n  - name: x\n    kind: int\n    call: 'def call(args): pass'\n",
			want: "invalid schema definition",
		},
		{
			name: "unknown builtin",
			doc:  "options:\n  - name: x\n    kind: func\n    builtin: explode\n",
			want: `unknown builtin "explode"`,
		},
		{
			name: "func without body",
			doc:  "options:\n  - name: x\n    kind: func\n",
			want: "need a call script or builtin",
		},
		{
			name: "nested options on scalar",
			doc:  "options:\n  - name: x\n    kind: int\n    options:\n      - name: y\n        kind: int\n",
			want: "only sections have nested options",
		},
		{
			name: "missing entry point",
			doc:  "options:\n  - name: x\n    kind: int\n    coerce: 'def convert(raw): return 1'\n",
			want: "script does not define coerce()",
		},
		{
			name: "script syntax error",
			doc:  "options:\n  - name: x\n    kind: int\n    coerce: 'def coerce(raw) return 1'\n",
			want: "starlark execution failed",
		},
		{
			name: "duplicate names",
			doc:  "options:\n  - name: x\n    kind: int\n  - name: x\n    kind: bool\n",
			want: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_Empty(t *testing.T) {
	schema, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(schema) != 0 {
		t.Errorf("got %d options", len(schema))
	}
}

func TestStarlarkCoerce(t *testing.T) {
	schema := mustLoad(t, `
options:
  - name: size
    kind: int
    coerce: |
      units = {"k": 1024, "m": 1024 * 1024}
      def coerce(raw):
          suffix = raw[-1:].lower()
          if suffix in units:
              return int(raw[:-1]) * units[suffix]
          return int(raw)
  - name: level
    kind: string
    coerce: |
      def coerce(raw):
          if raw not in ("debug", "info", "warn"):
              fail("invalid level '%s'" % raw)
          return raw.upper()
  - name: scale
    kind: float
    coerce: |
      def coerce(raw):
          return len(raw)
`)

	root, err := cfg.ParseString(schema, "size = 4k\nlevel = info\nscale = abc", cfg.WithReporter(cfg.Discard))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if root.Int("size") != 4096 {
		t.Errorf("size = %d", root.Int("size"))
	}
	if root.Str("level") != "INFO" {
		t.Errorf("level = %q", root.Str("level"))
	}
	if root.Float("scale") != 3 {
		t.Errorf("scale = %v", root.Float("scale"))
	}

	var c collector
	_, err = cfg.ParseString(schema, "\nlevel = loud", cfg.WithFilename("app.conf"), cfg.WithReporter(c.report))
	if !errors.Is(err, cfg.ErrCallbackRejected) {
		t.Fatalf("got %v, want callback rejection", err)
	}
	if len(c.msgs) == 0 || c.msgs[0] != "app.conf:2: invalid level 'loud'" {
		t.Errorf("diagnostics = %q", c.msgs)
	}
}

func TestStarlarkCoerce_WrongKind(t *testing.T) {
	schema := mustLoad(t, `
options:
  - name: port
    kind: int
    coerce: |
      def coerce(raw):
          return raw
`)
	_, err := cfg.ParseString(schema, "port = 80", cfg.WithReporter(cfg.Discard))
	if !errors.Is(err, cfg.ErrType) {
		t.Errorf("got %v, want type error", err)
	}
}

func TestStarlarkCoerce_Timeout(t *testing.T) {
	schema := mustLoad(t, `
options:
  - name: n
    kind: int
    coerce: |
      def coerce(raw):
          x = 0
          for i in range(1000000000):
              x += i
          return x
`, WithTimeout(50*time.Millisecond))

	var c collector
	_, err := cfg.ParseString(schema, "n = 1", cfg.WithReporter(c.report))
	if !errors.Is(err, cfg.ErrCallbackRejected) {
		t.Fatalf("got %v, want callback rejection", err)
	}
	if len(c.msgs) == 0 || !strings.Contains(c.msgs[0], "execution timeout") {
		t.Errorf("diagnostics = %q", c.msgs)
	}
}

func TestStarlarkCall(t *testing.T) {
	schema := mustLoad(t, `
options:
  - name: addr
    kind: string
  - name: port
    kind: int
  - name: tags
    kind: string
    flags: [list]
  - name: listen
    kind: func
    call: |
      def call(args):
          if len(args) != 2:
              fail("listen takes host and port")
          set("addr", args[0])
          set("port", int(args[1]))
  - name: tag
    kind: func
    call: |
      def call(args):
          set("tags", get("tags") + args)
  - name: warn
    kind: func
    call: |
      def call(args):
          report("warning: " + ", ".join(args))
`)

	var c collector
	root, err := cfg.ParseString(schema, `
		listen("0.0.0.0", 8080)
		tag(a, b)
		tag(c)
		warn(x, y)
	`, cfg.WithReporter(c.report))
	if err != nil {
		t.Fatalf("parse: %v (%v)", err, c.msgs)
	}
	if root.Str("addr") != "0.0.0.0" || root.Int("port") != 8080 {
		t.Errorf("listen not applied: %v", root.Map())
	}
	if root.Size("tags") != 3 || root.StrAt("tags", 2) != "c" {
		t.Errorf("tags = %v", root.Opt("tags").Values())
	}
	if len(c.msgs) != 1 || !strings.HasSuffix(c.msgs[0], "warning: x, y") {
		t.Errorf("diagnostics = %q", c.msgs)
	}

	_, err = cfg.ParseString(schema, `listen(a)`, cfg.WithReporter(cfg.Discard))
	if !errors.Is(err, cfg.ErrCallbackRejected) {
		t.Errorf("got %v, want callback rejection", err)
	}
}

func TestBuiltinFuncs(t *testing.T) {
	var calls [][]string
	schema := mustLoad(t, `
options:
  - name: port
    kind: int
  - name: include
    kind: func
    builtin: include
  - name: hook
    kind: func
    builtin: hook
`, WithFunc("hook", func(ctx *cfg.Context, args []string) error {
		calls = append(calls, args)
		return nil
	}))

	root, err := cfg.ParseString(schema, "include(extra.conf)\nhook(1, two)",
		cfg.WithResolver(source.Memory{"extra.conf": "port = 9"}),
		cfg.WithReporter(cfg.Discard))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if root.Int("port") != 9 {
		t.Errorf("port = %d", root.Int("port"))
	}
	if len(calls) != 1 || strings.Join(calls[0], ",") != "1,two" {
		t.Errorf("calls = %v", calls)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	doc := "options:\n  - name: workers\n    kind: int\n    default: 4\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	schema, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(schema) != 1 || schema[0].Name != "workers" || schema[0].Default().Int() != 4 {
		t.Errorf("schema = %+v", schema)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
