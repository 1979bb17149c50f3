package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cfgtree/pkg/loader"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	regoContent := `# Rejects the reserved port.
# severity: error
package test.policy

deny contains msg if {
	input.config.port == 0
	msg := "port 0 is reserved"
}`
	writePolicy(t, policyFile, regoContent)

	policy, err := l.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != loader.SeverityError {
		t.Errorf("Expected severity error, got %s", policy.Severity)
	}
	if policy.Description != "Rejects the reserved port." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.json")
	data, err := json.Marshal(Policy{
		Name:    "json-policy",
		Rego:    "package json.policy\n\ndeny contains \"always\" if true",
		Enabled: true,
		Tags:    []string{"test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	writePolicy(t, policyFile, string(data))

	policy, err := l.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" {
		t.Errorf("Expected name 'json-policy', got '%s'", policy.Name)
	}
	if policy.Severity != loader.SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if policy.LoadedAt.IsZero() {
		t.Error("LoadedAt not set")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	tmpDir := t.TempDir()
	writePolicy(t, filepath.Join(tmpDir, "a.rego"), "package a\n")
	writePolicy(t, filepath.Join(tmpDir, "nested", "b.rego"), "package b\n")
	writePolicy(t, filepath.Join(tmpDir, "nested", "notes.txt"), "ignored")
	writePolicy(t, filepath.Join(tmpDir, "broken.json"), "{")

	policies, err := l.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	// broken.json is skipped, not fatal
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadBundle(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	bundleFile := filepath.Join(t.TempDir(), "bundle.json")
	bundle := PolicyBundle{
		Name:    "test-bundle",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "policy1", Rego: "package p1\n", Severity: loader.SeverityError, Enabled: true},
			{Name: "policy2", Rego: "package p2\n", Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writePolicy(t, bundleFile, string(data))

	loaded, err := l.LoadBundle(bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if loaded.Name != bundle.Name || loaded.Version != bundle.Version {
		t.Errorf("Unexpected bundle %s %s", loaded.Name, loaded.Version)
	}
	if len(loaded.Policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(loaded.Policies))
	}
	if loaded.Policies[1].Severity != loader.SeverityWarning || loaded.Policies[1].Source != bundleFile {
		t.Errorf("Bundle defaults not applied: %+v", loaded.Policies[1])
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		severity loader.Severity
	}{
		{
			name:     "single line comment",
			content:  "# This is a test policy\npackage test",
			expected: "This is a test policy",
			severity: loader.SeverityWarning,
		},
		{
			name:     "multi line comments",
			content:  "# This is a test policy\n# that spans multiple lines\npackage test",
			expected: "This is a test policy that spans multiple lines",
			severity: loader.SeverityWarning,
		},
		{
			name:     "no comments",
			content:  "package test\n# not a header",
			expected: "",
			severity: loader.SeverityWarning,
		},
		{
			name:     "severity line",
			content:  "\n# First line\n#\n# severity: info\n# Second line\npackage test",
			expected: "First line Second line",
			severity: loader.SeverityInfo,
		},
		{
			name:     "unknown severity keeps default",
			content:  "# severity: fatal\npackage test",
			expected: "",
			severity: loader.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := parseHeader(tt.content)
			if description != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, description)
			}
			if severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, severity)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writePolicy(t, policyFile, "package test\n")

	if _, err := l.loadFromFile(policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(l.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(l.cache))
	}

	l.ClearCache()
	if len(l.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(l.cache))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unsupported type", file: "test.txt", content: "not a policy"},
		{name: "invalid JSON", file: "test.json", content: "invalid json"},
		{name: "JSON without name", file: "anon.json", content: `{"rego": "package x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			writePolicy(t, path, tt.content)
			if _, err := l.loadFromFile(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}

	if _, err := l.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}
