// Package policy checks parsed configuration trees against Open Policy
// Agent (OPA) policies written in Rego.
//
// An Engine implements loader.Checker. Each policy is a Rego module whose
// package defines a deny set; every element of the set becomes one finding.
// Elements are either plain strings or objects:
//
//	package myorg.ports
//
//	deny contains violation if {
//	    input.config.port < 1024
//	    violation := {
//	        "message": "port must not be privileged",
//	        "severity": "error",
//	        "path": "port",
//	    }
//	}
//
// The input document has three fields: config holds the tree as returned by
// cfg.Section.Map, filename the top-level file, and context the environment
// and metadata given to NewEngine.
//
// # Built-in Policies
//
//  1. insecure-urls - flags http:// URLs to remote hosts
//  2. plaintext-secrets - flags credentials written into the file
//  3. production-debug - blocks debug switches in production
//
// # Loading and Hot Reload
//
// Loader reads .rego and .json files from files or directories. The
// leading comment block of a .rego file is its description; a
// "# severity: error" line in that block sets the default severity.
// Engine.Watch keeps the loaded policies in sync with the files.
package policy
