package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSchema = `
options:
  - name: port
    kind: int
    default: 80
  - name: debug
    kind: bool
  - name: db
    kind: section
    options:
      - name: url
        kind: string
      - name: password
        kind: string
  - name: include
    kind: func
    builtin: include
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	good := writeFile(t, dir, "good.conf", "port = 8080\n")
	bad := writeFile(t, dir, "bad.conf", "port = 8080\nport = 9090\n")
	prod := writeFile(t, dir, "prod.conf", "debug = true\n")

	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		contains []string
	}{
		{
			name:     "valid file",
			args:     []string{"check", "-s", schema, good},
			contains: []string{"ok\t" + good},
		},
		{
			name:     "duplicate option",
			args:     []string{"check", "-s", schema, bad},
			wantErr:  true,
			contains: []string{"FAIL\t" + bad, "option 'port' specified more than once"},
		},
		{
			name:     "debug allowed outside production",
			args:     []string{"check", "-s", schema, prod},
			contains: []string{"ok\t" + prod},
		},
		{
			name:     "debug blocked in production",
			args:     []string{"check", "-s", schema, "--environment", "production", prod},
			wantErr:  true,
			contains: []string{"FAIL\t" + prod, "production-debug"},
		},
		{
			name:     "builtins disabled",
			args:     []string{"check", "-s", schema, "--environment", "production", "--no-builtin-policies", prod},
			contains: []string{"ok\t" + prod},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestCheck_RequiresSchema(t *testing.T) {
	if _, err := run(t, "check", "app.conf"); err == nil || !strings.Contains(err.Error(), "schema") {
		t.Errorf("got %v, want schema error", err)
	}
}

func TestCheck_JSON(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	writeFile(t, dir, "db.conf", `db { url = "http://db.example.com" }`)
	main := writeFile(t, dir, "main.conf", "port = 81\ninclude(\"db.conf\")\n")

	out, err := run(t, "check", "-s", schema, "--json", "--config-tree", main)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}

	var reports []loadReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports", len(reports))
	}
	r := reports[0]
	if r.Blocked || r.Code != "" || len(r.Sources) != 2 {
		t.Errorf("unexpected report %+v", r)
	}
	if len(r.Findings) != 1 || r.Findings[0].Path != "db.url" {
		t.Errorf("findings = %+v", r.Findings)
	}
	if port, _ := r.Config["port"].(float64); port != 81 {
		t.Errorf("config port = %v", r.Config["port"])
	}
}

func TestCheck_Constraints(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	ports := writeFile(t, dir, "ports.cue", "port: >=1024\n")
	conf := writeFile(t, dir, "app.conf", "port = 80\n")

	out, err := run(t, "check", "-s", schema, "--constraints", ports, conf)
	if err == nil {
		t.Fatalf("expected failure:\n%s", out)
	}
	if !strings.Contains(out, "[constraint/ports]") {
		t.Errorf("output missing constraint finding:\n%s", out)
	}
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	conf := writeFile(t, dir, "app.conf", "debug = true\n")

	out, err := run(t, "dump", "-s", schema, conf)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	for _, want := range []string{"port: 80", "debug: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "dump", "-s", schema, filepath.Join(dir, "missing.conf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	db := filepath.Join(dir, "history.db")
	good := writeFile(t, dir, "good.conf", "port = 8080\n")
	bad := writeFile(t, dir, "bad.conf", "port = eighty\n")

	if _, err := run(t, "check", "-s", schema, "--history", db, good); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "check", "-s", schema, "--history", db, bad); err == nil {
		t.Fatal("expected bad.conf to fail")
	}

	out, err := run(t, "history", "list", "--history", db, "--failed", "--json")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	var loads []struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal([]byte(out), &loads); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(loads) != 1 || loads[0].Source != bad || loads[0].Code != "type" {
		t.Fatalf("loads = %+v", loads)
	}

	out, err = run(t, "history", "show", "--history", db, loads[0].ID)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "Status:   type") || !strings.Contains(out, bad+":1:") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	out, err = run(t, "history", "prune", "--history", db, "--older-than", "1h")
	if err != nil {
		t.Fatalf("history prune: %v", err)
	}
	if !strings.Contains(out, "pruned 0 loads") {
		t.Errorf("prune output = %q", out)
	}

	if _, err := run(t, "history", "list"); err == nil {
		t.Error("expected error without --history")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	conf := writeFile(t, dir, "app.conf", "debug = true\n")

	t.Setenv("CFGTREE_SCHEMA", schema)
	t.Setenv("CFGTREE_ENVIRONMENT", "production")

	out, err := run(t, "check", conf)
	if err == nil {
		t.Fatalf("expected production-debug to block:\n%s", out)
	}
	if !strings.Contains(out, "production-debug") {
		t.Errorf("output = %s", out)
	}
}

func TestSettingsFile(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)
	conf := writeFile(t, dir, "app.conf", "Port = 81\n")
	settingsFile := writeFile(t, dir, "cfgtree.yaml", "schema: "+schema+"\nnocase: true\n")

	if out, err := run(t, "check", "--config", settingsFile, conf); err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}

	bad := writeFile(t, dir, "bad.yaml", "trace: carrier-pigeon\n")
	if _, err := run(t, "check", "--config", bad, conf); err == nil || !strings.Contains(err.Error(), "invalid settings") {
		t.Errorf("got %v, want invalid settings", err)
	}
}
