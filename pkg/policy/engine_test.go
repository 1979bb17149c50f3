package policy

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/loader"
)

var testSchema = cfg.Schema{
	cfg.Int("port", 8080, cfg.FlagNone),
	cfg.Bool("debug", false, cfg.FlagNone),
	cfg.Sec("db", cfg.Schema{
		cfg.Str("url", "", cfg.FlagNone),
		cfg.Str("password", "", cfg.FlagNone),
	}, cfg.FlagNone),
}

func parseTree(t *testing.T, text string) *cfg.Section {
	t.Helper()
	tree, err := cfg.ParseString(testSchema, text, cfg.WithFilename("app.conf"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	want := "insecure-urls,plaintext-secrets,production-debug"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("built-in policies = %s, want %s", got, want)
	}

	eng, err = NewEngine(zerolog.Nop(), WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if n := len(eng.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies, got %d", n)
	}
}

func TestCheck_Builtins(t *testing.T) {
	tree := parseTree(t, `
debug = true
db {
	url = "http://db.example.com/app"
	password = "hunter2"
}
`)

	tests := []struct {
		name        string
		environment string
		expected    []string
	}{
		{
			name: "development",
			expected: []string{
				"warning db.url insecure-urls/insecure-url",
				"warning db.password plaintext-secrets/plaintext-secret",
			},
		},
		{
			name:        "production",
			environment: "production",
			expected: []string{
				"warning db.url insecure-urls/insecure-url",
				"warning db.password plaintext-secrets/plaintext-secret",
				"error debug production-debug/production-debug",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, err := NewEngine(zerolog.Nop(), WithEnvironment(tt.environment))
			if err != nil {
				t.Fatalf("Failed to create engine: %v", err)
			}
			findings, err := eng.Check(context.Background(), tree)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}

			var got []string
			for _, f := range findings {
				if f.Checker != "policy" || f.Message == "" {
					t.Errorf("incomplete finding %+v", f)
				}
				got = append(got, string(f.Severity)+" "+f.Path+" "+f.Rule)
			}
			if strings.Join(got, "\n") != strings.Join(tt.expected, "\n") {
				t.Errorf("findings:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(tt.expected, "\n"))
			}
		})
	}
}

func TestCheck_LocalURLAllowed(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tree := parseTree(t, `db { url = "http://localhost:5432/app" }`)
	findings, err := eng.Check(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("Expected no findings, got %v", findings)
	}
}

func TestAddPolicies(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop(), WithoutBuiltins())
	if err != nil {
		t.Fatal(err)
	}

	err = eng.AddPolicies(context.Background(), []Policy{
		{
			Name:    "ports",
			Enabled: true,
			Rego: `package cfgtree.test.ports

deny contains violation if {
	input.config.port < 1024
	violation := {"message": sprintf("port %d is privileged", [input.config.port]), "severity": "critical", "path": "port"}
}`,
		},
		{
			Name:     "filename",
			Enabled:  true,
			Severity: loader.SeverityInfo,
			Rego: `package cfgtree.test.filename

deny contains msg if {
	not endswith(input.filename, ".cfg")
	msg := sprintf("%s does not use the .cfg extension", [input.filename])
}`,
		},
	})
	if err != nil {
		t.Fatalf("AddPolicies: %v", err)
	}

	findings, err := eng.Check(context.Background(), parseTree(t, "port = 80"))
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 2 {
		t.Fatalf("Expected 2 findings, got %v", findings)
	}

	f := findings[0]
	if f.Rule != "filename" || f.Severity != loader.SeverityInfo || f.Message != "app.conf does not use the .cfg extension" {
		t.Errorf("unexpected finding %+v", f)
	}
	f = findings[1]
	if f.Rule != "ports" || f.Severity != loader.SeverityError || f.Path != "port" || f.Message != "port 80 is privileged" {
		t.Errorf("unexpected finding %+v", f)
	}

	// A broken policy leaves the engine unchanged.
	err = eng.AddPolicies(context.Background(), []Policy{
		{Name: "good", Enabled: true, Rego: "package good\n\ndeny contains \"x\" if false"},
		{Name: "bad", Enabled: true, Rego: "package bad\n\ndeny contains if {"},
	})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("good"); err == nil {
		t.Error("partially added policies")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tree := parseTree(t, `db { password = "hunter2" }`)

	if err := eng.DisablePolicy("plaintext-secrets"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	findings, err := eng.Check(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("disabled policy still reported %v", findings)
	}

	if err := eng.EnablePolicy("plaintext-secrets"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	findings, err = eng.Check(context.Background(), tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Errorf("Expected 1 finding, got %v", findings)
	}

	if err := eng.DisablePolicy("non-existent"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestWithData(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop(), WithoutBuiltins(), WithData(map[string]any{
		"limits": map[string]any{"max_port": 9000},
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = eng.AddPolicies(context.Background(), []Policy{{
		Name:    "limits",
		Enabled: true,
		Rego: `package limits

deny contains "port above limit" if input.config.port > data.limits.max_port`,
	}})
	if err != nil {
		t.Fatal(err)
	}

	findings, err := eng.Check(context.Background(), parseTree(t, "port = 9001"))
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || findings[0].Message != "port above limit" {
		t.Errorf("findings = %v", findings)
	}
}

func TestLoadPoliciesAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "port.rego")
	writePolicy(t, path, "# severity: error\npackage port\n\ndeny contains \"first\" if input.config.port == 1\n")

	eng, err := NewEngine(zerolog.Nop(), WithoutBuiltins())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	tree := parseTree(t, "port = 1")
	message := func() string {
		findings, err := eng.Check(ctx, tree)
		if err != nil {
			t.Fatal(err)
		}
		if len(findings) != 1 {
			t.Fatalf("Expected 1 finding, got %v", findings)
		}
		if findings[0].Severity != loader.SeverityError {
			t.Errorf("severity = %s", findings[0].Severity)
		}
		return findings[0].Message
	}

	if got := message(); got != "first" {
		t.Fatalf("message = %q", got)
	}

	writePolicy(t, path, "# severity: error\npackage port\n\ndeny contains \"second\" if input.config.port == 1\n")
	deadline := time.Now().Add(5 * time.Second)
	for message() != "second" {
		if time.Now().After(deadline) {
			t.Fatal("policy change was not picked up")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
