// Package cfg parses a small configuration language into a typed option
// tree, driven by a schema supplied at run time.
//
// # Overview
//
// A Schema lists the options a configuration may contain. Each option has
// a kind (integer, float, string, boolean, section or function) and flags:
//
//   - FlagMulti: the option may appear more than once
//   - FlagList: one occurrence holds a comma separated list of values
//   - FlagNoCase: the name, and for sections titles and nested names, match without regard to case
//   - FlagTitle: every instance of the section carries a title
//   - FlagReset: a ParseInto clears values from earlier parses on first sight
//
// Parse walks the input once and builds a Section tree. Options missing
// from the input report their declared defaults without recording a value.
//
// # Language
//
//	# line comment, also // and /* block */
//	name = "value"
//	port 8080
//	enabled = yes
//	hosts = {"a", "b",}
//	hosts += {"c"}
//	server "web1" {
//	    port = 80
//	}
//	include("extra.conf")
//
// Numbers are decimal, 0x hexadecimal, 0 prefixed octal, or floating point
// with an optional exponent. Double quoted strings support C escapes and
// ${NAME} or ${NAME:-default} environment references. Single quoted
// strings are taken literally.
//
// # Diagnostics
//
// Every error is fatal to the parse and is returned as a *ParseError
// carrying the file and line. The same message is delivered to the
// Reporter installed with WithReporter, which by default writes
// "file:line: message" to standard error. Callbacks use Context.Errorf to
// explain a failure before returning an error.
//
// # Concurrency
//
// A parse runs synchronously on the calling goroutine. A tree must not be
// mutated, or parsed into, from more than one goroutine at a time; reads
// after the parse returns are safe.
package cfg
