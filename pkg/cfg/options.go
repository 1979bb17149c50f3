package cfg

import (
	"os"

	"github.com/rs/zerolog"
)

// DefaultMaxIncludeDepth bounds nested includes unless WithMaxIncludeDepth
// says otherwise.
const DefaultMaxIncludeDepth = 16

// ParseOption configures a parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	filename  string
	reporter  Reporter
	resolver  Resolver
	nocase    bool
	lookupEnv func(string) (string, bool)
	logger    zerolog.Logger
	maxDepth  int
}

func newParseOptions(opts []ParseOption) parseOptions {
	o := parseOptions{
		reporter:  defaultReporter,
		lookupEnv: os.LookupEnv,
		logger:    zerolog.Nop(),
		maxDepth:  DefaultMaxIncludeDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithFilename names the source in positions and diagnostics.
func WithFilename(name string) ParseOption {
	return func(o *parseOptions) { o.filename = name }
}

// WithReporter installs the diagnostics reporter. A nil reporter discards
// diagnostics.
func WithReporter(r Reporter) ParseOption {
	return func(o *parseOptions) {
		if r == nil {
			r = Discard
		}
		o.reporter = r
	}
}

// WithResolver installs the resolver used by Include.
func WithResolver(r Resolver) ParseOption {
	return func(o *parseOptions) { o.resolver = r }
}

// WithNoCase matches every option name and section title without regard
// to case.
func WithNoCase() ParseOption {
	return func(o *parseOptions) { o.nocase = true }
}

// WithLookupEnv replaces os.LookupEnv for ${NAME} expansion in double
// quoted strings.
func WithLookupEnv(fn func(string) (string, bool)) ParseOption {
	return func(o *parseOptions) {
		if fn != nil {
			o.lookupEnv = fn
		}
	}
}

// WithLogger traces parsed statements at debug level.
func WithLogger(logger zerolog.Logger) ParseOption {
	return func(o *parseOptions) { o.logger = logger }
}

// WithMaxIncludeDepth bounds include nesting.
func WithMaxIncludeDepth(n int) ParseOption {
	return func(o *parseOptions) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}
