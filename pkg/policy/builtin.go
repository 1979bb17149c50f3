package policy

import (
	"time"

	"github.com/openfroyo/cfgtree/pkg/loader"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		plaintextSecretsPolicy(),
		insecureURLPolicy(),
		productionDebugPolicy(),
	}
}

// plaintextSecretsPolicy flags credentials written directly into a file.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        "plaintext-secrets",
		Description: "Flags options named like credentials that hold a literal value",
		Severity:    loader.SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security", "secrets"},
		LoadedAt:    time.Now(),
		Rego: `package cfgtree.policies.secrets

path_string(path) := concat(".", [sprintf("%v", [p]) | some p in path])

deny contains violation if {
	walk(input.config, [path, value])
	key := path[count(path) - 1]
	is_string(key)
	regex.match("(?i)(password|passwd|secret|token|api_?key)$", key)
	is_string(value)
	value != ""

	# Values taken from the environment are fine
	not startswith(value, "$")
	violation := {
		"message": sprintf("option %s holds a plain-text credential", [path_string(path)]),
		"severity": "warning",
		"path": path_string(path),
		"rule": "plaintext-secret",
	}
}`,
	}
}

// insecureURLPolicy flags plain http URLs to remote hosts.
func insecureURLPolicy() Policy {
	return Policy{
		Name:        "insecure-urls",
		Description: "Flags http:// URLs that do not point at the local host",
		Severity:    loader.SeverityWarning,
		Enabled:     true,
		Tags:        []string{"security", "transport"},
		LoadedAt:    time.Now(),
		Rego: `package cfgtree.policies.urls

path_string(path) := concat(".", [sprintf("%v", [p]) | some p in path])

deny contains violation if {
	walk(input.config, [path, value])
	is_string(value)
	startswith(lower(value), "http://")
	not regex.match("^(?i)http://(localhost|127\\.0\\.0\\.1|\\[::1\\])([:/]|$)", value)
	violation := {
		"message": sprintf("option %s uses an unencrypted URL: %s", [path_string(path), value]),
		"severity": "warning",
		"path": path_string(path),
		"rule": "insecure-url",
	}
}`,
	}
}

// productionDebugPolicy blocks debug switches in production.
func productionDebugPolicy() Policy {
	return Policy{
		Name:        "production-debug",
		Description: "Prevents debug and trace switches from being enabled in production",
		Severity:    loader.SeverityError,
		Enabled:     true,
		Tags:        []string{"environment"},
		LoadedAt:    time.Now(),
		Rego: `package cfgtree.policies.debug

debug_switches := {"debug", "trace", "verbose"}

deny contains violation if {
	input.context.environment == "production"
	walk(input.config, [path, value])
	value == true
	key := path[count(path) - 1]
	debug_switches[key]
	name := concat(".", [sprintf("%v", [p]) | some p in path])
	violation := {
		"message": sprintf("option %s must not be enabled in production", [name]),
		"severity": "error",
		"path": name,
		"rule": "production-debug",
	}
}`,
	}
}
