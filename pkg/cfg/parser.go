package cfg

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// parser holds the state of one Parse or ParseInto call, including every
// include it triggers.
type parser struct {
	opts parseOptions
	lex  *lexer

	// seen records the options already given in this call. It decides
	// between duplicate errors, reset and append.
	seen  map[*OptionValue]bool
	bound map[boundKey]bool

	includes []string
}

// boundKey identifies a bound option within one section instance. Every
// instance of a repeated section shares the same schema.
type boundKey struct {
	sec *Section
	opt *Option
}

// Parse parses r against schema into a fresh tree.
func Parse(schema Schema, r io.Reader, opts ...ParseOption) (*Section, error) {
	root := NewTree(schema, opts...)
	if err := ParseInto(root, r, opts...); err != nil {
		return nil, err
	}
	return root, nil
}

// ParseString parses s against schema into a fresh tree.
func ParseString(schema Schema, s string, opts ...ParseOption) (*Section, error) {
	return Parse(schema, strings.NewReader(s), opts...)
}

// ParseInto parses r into an existing tree. Options given again replace
// the earlier values when they hold a single value or carry FlagReset;
// list and repeatable options otherwise append. On error the tree is left
// partially updated and should be discarded.
func ParseInto(root *Section, r io.Reader, opts ...ParseOption) error {
	p := &parser{
		opts:  newParseOptions(opts),
		seen:  make(map[*OptionValue]bool),
		bound: make(map[boundKey]bool),
	}
	p.opts.nocase = p.opts.nocase || root.nocase
	p.lex = newLexer(r, p.opts.filename, p.opts.lookupEnv)

	if err := root.schema.Validate(); err != nil {
		return p.fail(&ParseError{
			Code: CodeInvalidSchema,
			File: p.opts.filename,
			Msg:  fmt.Sprintf("invalid schema: %v", err),
			Err:  err,
		})
	}
	if root.pos.File == "" {
		root.pos.File = p.opts.filename
	}

	return p.parseBlock(root, false)
}

// fail reports pe and returns it.
func (p *parser) fail(pe *ParseError) error {
	p.opts.reporter(pe.Position(), pe.Msg)
	return pe
}

func (p *parser) errorf(code ErrorCode, line int, format string, args ...any) error {
	return p.fail(&ParseError{
		Code: code,
		File: p.lex.file,
		Line: line,
		Msg:  fmt.Sprintf(format, args...),
	})
}

func (p *parser) next() (token, error) {
	tok, err := p.lex.next()
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return tok, p.fail(pe)
		}
		return tok, err
	}
	return tok, nil
}

func (p *parser) position(line int) Position {
	return Position{File: p.lex.file, Line: line}
}

// parseBlock parses statements into sec until end of input or, when
// closing is set, until the brace that closes the section.
func (p *parser) parseBlock(sec *Section, closing bool) error {
	for {
		tok, err := p.next()
		if err != nil {
			return err
		}

		switch tok.kind {
		case tokEOF:
			if closing {
				return p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file, section '%s' is not closed", sec.name)
			}
			return nil
		case tokRBrace:
			if closing {
				return nil
			}
			return p.errorf(CodeUnmatchedBrace, tok.line, "unexpected '}'")
		case tokSemi:
			continue
		case tokIdent:
			if err := p.parseStatement(sec, tok); err != nil {
				return err
			}
		default:
			return p.errorf(CodeSyntax, tok.line, "unexpected %s, expected an option name", tok)
		}
	}
}

func (p *parser) nocase(sec *Section) bool {
	return p.opts.nocase || sec.nocase
}

func (p *parser) parseStatement(sec *Section, name token) error {
	opt := sec.schema.Lookup(name.text, p.nocase(sec))
	if opt == nil {
		return p.errorf(CodeUnknownOption, name.line, "no such option '%s'", name.text)
	}

	p.opts.logger.Debug().
		Str("file", p.lex.file).
		Int("line", name.line).
		Str("section", sec.name).
		Str("option", name.text).
		Str("kind", opt.Kind.String()).
		Msg("statement")

	switch opt.Kind {
	case KindSection:
		return p.parseSection(sec, opt, name)
	case KindFunc:
		return p.parseFunc(sec, opt, name)
	default:
		return p.parseValue(sec, opt, name)
	}
}

// valueOf returns the storage for opt in sec. Names accepted by the
// catch-all declaration get their own storage on first use.
func (p *parser) valueOf(sec *Section, opt *Option, name string) *OptionValue {
	if opt.Name != "" {
		for _, ov := range sec.opts {
			if ov.spec == opt {
				return ov
			}
		}
		name = opt.Name
	} else {
		for _, ov := range sec.opts {
			if ov.spec == opt && sec.nameMatch(opt, ov.name, name) {
				return ov
			}
		}
	}
	ov := &OptionValue{name: name, spec: opt}
	sec.opts = append(sec.opts, ov)
	return ov
}

// claim marks ov as given in this call and applies the reset rules on
// first sight. It returns false when ov was already given.
func (p *parser) claim(ov *OptionValue, appending bool) bool {
	if p.seen[ov] {
		return false
	}
	p.seen[ov] = true
	if !appending && (ov.spec.Flags.Has(FlagReset) || !ov.repeatable()) {
		ov.values = nil
	}
	return true
}

func (p *parser) parseValue(sec *Section, opt *Option, name token) error {
	tok, err := p.next()
	if err != nil {
		return err
	}

	appending := false
	switch tok.kind {
	case tokEqual:
		tok, err = p.next()
	case tokPlusEqual:
		if !opt.Flags.Has(FlagList) {
			return p.errorf(CodeSyntax, tok.line, "'+=' is only allowed on list options, '%s' is not a list", name.text)
		}
		appending = true
		tok, err = p.next()
	}
	if err != nil {
		return err
	}

	var raws []token
	switch {
	case opt.Flags.Has(FlagList) && (tok.kind == tokLBrace || tok.kind == tokLParen):
		closer := tokRBrace
		if tok.kind == tokLParen {
			closer = tokRParen
		}
		if raws, err = p.parseList(name.text, closer); err != nil {
			return err
		}
	case tok.isValue():
		raws = []token{tok}
	case tok.kind == tokEOF:
		return p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file, missing value for option '%s'", name.text)
	default:
		return p.errorf(CodeSyntax, tok.line, "unexpected %s, expected a value for option '%s'", tok, name.text)
	}

	vals := make([]Value, 0, len(raws))
	for _, raw := range raws {
		v, err := p.coerce(sec, opt, name.text, raw)
		if err != nil {
			return err
		}
		vals = append(vals, v)
	}

	if opt.Bind != nil {
		key := boundKey{sec: sec, opt: opt}
		if p.bound[key] {
			return p.errorf(CodeDuplicateOption, name.line, "option '%s' specified more than once", name.text)
		}
		p.bound[key] = true
		for _, v := range vals {
			opt.Bind.Set(v)
		}
		return nil
	}

	ov := p.valueOf(sec, opt, name.text)
	if !p.claim(ov, appending) && !opt.Flags.Has(FlagMulti) && !appending {
		return p.errorf(CodeDuplicateOption, name.line, "option '%s' specified more than once", name.text)
	}
	ov.values = append(ov.values, vals...)
	return nil
}

// parseList collects the value tokens of a list up to closer. A trailing
// comma and the empty list are accepted.
func (p *parser) parseList(name string, closer tokenKind) ([]token, error) {
	var out []token
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.kind == closer:
			return out, nil
		case tok.kind == tokEOF:
			return nil, p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file in list '%s'", name)
		case !tok.isValue():
			return nil, p.errorf(CodeSyntax, tok.line, "unexpected %s in list '%s'", tok, name)
		}
		out = append(out, tok)

		if tok, err = p.next(); err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokComma:
		case closer:
			return out, nil
		case tokEOF:
			return nil, p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file in list '%s'", name)
		default:
			return nil, p.errorf(CodeSyntax, tok.line, "unexpected %s in list '%s', expected ',' or %s", tok, name, closer)
		}
	}
}

func (p *parser) coerce(sec *Section, opt *Option, name string, raw token) (Value, error) {
	if opt.Coerce == nil {
		v, err := coerce(opt.Kind, raw)
		if err != nil {
			return Value{}, p.errorf(CodeType, raw.line, "invalid %s value for option '%s': %v", opt.Kind, name, err)
		}
		return v, nil
	}

	ctx := &Context{Section: sec, Option: opt, Name: name, Pos: p.position(raw.line), p: p}
	v, err := opt.Coerce(ctx, raw.text)
	if err != nil {
		return Value{}, p.callbackFailed(ctx, err)
	}
	if v.Kind() != opt.Kind {
		return Value{}, p.errorf(CodeType, raw.line, "coercion of option '%s' produced a %s, want %s", name, v.Kind(), opt.Kind)
	}
	return v, nil
}

// callbackFailed turns a callback error into a parse error. Parse errors
// raised by nested parses pass through unchanged, they were reported
// already.
func (p *parser) callbackFailed(ctx *Context, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return p.fail(&ParseError{
		Code: CodeCallbackRejected,
		File: ctx.Pos.File,
		Line: ctx.Pos.Line,
		Msg:  fmt.Sprintf("callback for option '%s' failed: %v", ctx.Name, err),
		Err:  err,
	})
}

func (p *parser) parseSection(sec *Section, opt *Option, name token) error {
	tok, err := p.next()
	if err != nil {
		return err
	}

	titled := opt.Flags.Has(FlagTitle)
	title := ""
	if titled {
		if !tok.isValue() {
			return p.errorf(CodeMissingTitle, name.line, "missing title for section '%s'", name.text)
		}
		title = tok.text
		if tok, err = p.next(); err != nil {
			return err
		}
	}

	switch {
	case tok.kind == tokLBrace:
	case tok.kind == tokEOF:
		return p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file, expected '{' after section '%s'", name.text)
	case tok.isValue() && !titled:
		return p.errorf(CodeSyntax, tok.line, "section '%s' does not take a title", name.text)
	default:
		return p.errorf(CodeSyntax, tok.line, "unexpected %s, expected '{' after section '%s'", tok, name.text)
	}

	ov := p.valueOf(sec, opt, name.text)
	multi := opt.Flags.Has(FlagMulti)
	if !p.claim(ov, false) && !multi {
		return p.errorf(CodeDuplicateOption, name.line, "section '%s' specified more than once", name.text)
	}
	nocase := p.nocase(sec) || opt.Flags.Has(FlagNoCase)
	if titled && multi {
		for _, v := range ov.values {
			if other := v.Section(); other != nil && titlesEqual(other.title, title, nocase) {
				return p.errorf(CodeDuplicateOption, name.line, "section '%s' with title '%s' specified more than once", name.text, title)
			}
		}
	}

	child := newSection(opt.Name, title, opt.Schema, nocase, p.position(name.line), p.opts.reporter)
	if err := p.parseBlock(child, true); err != nil {
		return err
	}
	ov.values = append(ov.values, SectionValue(child))
	return nil
}

func (p *parser) parseFunc(sec *Section, opt *Option, name token) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.kind != tokLParen {
		return p.errorf(CodeSyntax, tok.line, "unexpected %s, expected '(' after function '%s'", tok, name.text)
	}

	var args []string
	for {
		if tok, err = p.next(); err != nil {
			return err
		}
		if tok.kind == tokRParen && len(args) == 0 {
			break
		}
		if tok.kind == tokEOF {
			return p.errorf(CodeUnexpectedEOF, tok.line, "premature end of file in arguments to '%s'", name.text)
		}
		if !tok.isValue() {
			return p.errorf(CodeSyntax, tok.line, "unexpected %s in arguments to '%s'", tok, name.text)
		}
		args = append(args, tok.text)

		if tok, err = p.next(); err != nil {
			return err
		}
		if tok.kind == tokRParen {
			break
		}
		if tok.kind != tokComma {
			return p.errorf(CodeSyntax, tok.line, "unexpected %s in arguments to '%s', expected ',' or ')'", tok, name.text)
		}
	}

	ctx := &Context{Section: sec, Option: opt, Name: name.text, Pos: p.position(name.line), p: p}
	if err := opt.Func(ctx, args); err != nil {
		return p.callbackFailed(ctx, err)
	}
	return nil
}
