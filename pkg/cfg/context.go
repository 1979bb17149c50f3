package cfg

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Source is a character source obtained for an include.
type Source struct {
	// Name identifies the source in diagnostics and is passed back to the
	// resolver as the includer of nested includes.
	Name string

	io.ReadCloser
}

// Resolver obtains the character source for an include directive. from is
// the name of the source containing the directive.
type Resolver interface {
	Resolve(name, from string) (*Source, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name, from string) (*Source, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(name, from string) (*Source, error) {
	return f(name, from)
}

// Context is handed to coercion and function callbacks.
type Context struct {
	// Section is the section the statement appears in.
	Section *Section

	// Option is the declaration being processed.
	Option *Option

	// Name is the option name as written in the input.
	Name string

	// Pos is the position of the statement.
	Pos Position

	p *parser
}

// Errorf reports a diagnostic at the statement position.
func (c *Context) Errorf(format string, args ...any) {
	c.p.opts.reporter(c.Pos, fmt.Sprintf(format, args...))
}

// Include parses the source the resolver returns for name into the current
// section, as if its statements were written in place of the directive.
func (c *Context) Include(name string) error {
	p := c.p
	if p.opts.resolver == nil {
		return p.fail(&ParseError{
			Code: CodeSourceUnavailable, File: c.Pos.File, Line: c.Pos.Line,
			Msg: fmt.Sprintf("cannot include '%s': no resolver installed", name),
		})
	}
	if len(p.includes) >= p.opts.maxDepth {
		chain := append(append([]string(nil), p.includes...), name)
		return p.fail(&ParseError{
			Code: CodeCallbackRejected, File: c.Pos.File, Line: c.Pos.Line,
			Msg: fmt.Sprintf("includes nested deeper than %d: %s", p.opts.maxDepth, strings.Join(chain, " -> ")),
		})
	}

	src, err := p.opts.resolver.Resolve(name, c.Pos.File)
	if err != nil {
		return p.fail(&ParseError{
			Code: CodeSourceUnavailable, File: c.Pos.File, Line: c.Pos.Line,
			Msg: fmt.Sprintf("cannot include '%s': %v", name, err),
			Err: err,
		})
	}
	defer src.Close()

	srcName := src.Name
	if srcName == "" {
		srcName = name
	}
	p.opts.logger.Debug().
		Str("file", c.Pos.File).
		Int("line", c.Pos.Line).
		Str("include", srcName).
		Msg("including source")

	saved := p.lex
	p.lex = newLexer(src, srcName, p.opts.lookupEnv)
	p.includes = append(p.includes, srcName)
	defer func() {
		p.lex = saved
		p.includes = p.includes[:len(p.includes)-1]
	}()

	return p.parseBlock(c.Section, false)
}

// Include is the function callback behind the include directive. Declare
// it with Func("include", Include) and install a resolver with
// WithResolver.
func Include(ctx *Context, args []string) error {
	if len(args) != 1 {
		ctx.Errorf("wrong number of arguments to %s()", ctx.Name)
		return errors.New("include takes exactly one argument")
	}
	return ctx.Include(args[0])
}
