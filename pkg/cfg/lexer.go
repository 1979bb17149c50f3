package cfg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// rawByte offsets bytes that are not valid UTF-8 past the rune range, so
// they reach token text unchanged.
const rawByte = utf8.MaxRune + 1

// put appends r to sb, writing raw bytes back as themselves.
func put(sb *strings.Builder, r rune) {
	if r >= rawByte {
		sb.WriteByte(byte(r - rawByte))
		return
	}
	sb.WriteRune(r)
}

// lexer turns a character source into tokens. It reads lazily and keeps
// track of the current line.
type lexer struct {
	r         *bufio.Reader
	file      string
	line      int
	pending   []rune
	lookupEnv func(string) (string, bool)
}

func newLexer(r io.Reader, file string, lookupEnv func(string) (string, bool)) *lexer {
	return &lexer{
		r:         bufio.NewReader(r),
		file:      file,
		line:      1,
		lookupEnv: lookupEnv,
	}
}

func (l *lexer) errorf(line int, format string, args ...any) *ParseError {
	return &ParseError{Code: CodeLexical, File: l.file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// read returns the next rune. ok is false at end of input.
func (l *lexer) read() (r rune, ok bool, err error) {
	if n := len(l.pending); n > 0 {
		r = l.pending[n-1]
		l.pending = l.pending[:n-1]
	} else {
		var size int
		r, size, err = l.r.ReadRune()
		if errors.Is(err, io.EOF) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, &ParseError{Code: CodeSourceUnavailable, File: l.file, Line: l.line, Msg: fmt.Sprintf("read error: %v", err), Err: err}
		}
		if r == utf8.RuneError && size == 1 {
			_ = l.r.UnreadRune()
			b, _ := l.r.ReadByte()
			r = rawByte + rune(b)
		}
	}
	if r == '\n' {
		l.line++
	}
	return r, true, nil
}

func (l *lexer) unread(r rune) {
	l.pending = append(l.pending, r)
	if r == '\n' {
		l.line--
	}
}

// peek returns the next rune without consuming it, 0 at end of input.
func (l *lexer) peek() rune {
	r, ok, err := l.read()
	if err != nil || !ok {
		return 0
	}
	l.unread(r)
	return r
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}

// isWordRune reports whether r may appear in a bare word.
func isWordRune(r rune) bool {
	return !isSpace(r) && !strings.ContainsRune("\"'{}(),;=#", r)
}

// skip consumes whitespace and comments.
func (l *lexer) skip() error {
	for {
		r, ok, err := l.read()
		if err != nil || !ok {
			return err
		}
		switch {
		case isSpace(r):
		case r == '#':
			if err := l.skipLine(); err != nil {
				return err
			}
		case r == '/' && l.peek() == '/':
			if err := l.skipLine(); err != nil {
				return err
			}
		case r == '/' && l.peek() == '*':
			if err := l.skipBlock(); err != nil {
				return err
			}
		default:
			l.unread(r)
			return nil
		}
	}
}

func (l *lexer) skipLine() error {
	for {
		r, ok, err := l.read()
		if err != nil || !ok || r == '\n' {
			return err
		}
	}
}

func (l *lexer) skipBlock() error {
	start := l.line
	if _, _, err := l.read(); err != nil {
		return err
	}
	prev := rune(0)
	for {
		r, ok, err := l.read()
		if err != nil {
			return err
		}
		if !ok {
			return l.errorf(start, "unterminated comment")
		}
		if prev == '*' && r == '/' {
			return nil
		}
		prev = r
	}
}

// next returns the next token. At end of input it keeps returning tokEOF.
func (l *lexer) next() (token, error) {
	if err := l.skip(); err != nil {
		return token{}, err
	}
	line := l.line
	r, ok, err := l.read()
	if err != nil {
		return token{}, err
	}
	if !ok {
		return token{kind: tokEOF, line: line}, nil
	}

	switch r {
	case '{':
		return token{kind: tokLBrace, text: "{", line: line}, nil
	case '}':
		return token{kind: tokRBrace, text: "}", line: line}, nil
	case '(':
		return token{kind: tokLParen, text: "(", line: line}, nil
	case ')':
		return token{kind: tokRParen, text: ")", line: line}, nil
	case ',':
		return token{kind: tokComma, text: ",", line: line}, nil
	case ';':
		return token{kind: tokSemi, text: ";", line: line}, nil
	case '=':
		return token{kind: tokEqual, text: "=", line: line}, nil
	case '+':
		if l.peek() == '=' {
			_, _, _ = l.read()
			return token{kind: tokPlusEqual, text: "+=", line: line}, nil
		}
	case '"', '\'':
		l.unread(r)
		return l.quoted(line)
	}

	l.unread(r)
	return l.word(line)
}

func (l *lexer) word(line int) (token, error) {
	var sb strings.Builder
	for {
		r, ok, err := l.read()
		if err != nil {
			return token{}, err
		}
		if !ok {
			break
		}
		if !isWordRune(r) || (r == '+' && sb.Len() > 0 && l.peek() == '=') {
			l.unread(r)
			break
		}
		put(&sb, r)
	}

	text := sb.String()
	kind, float, malformed := classify(text)
	if malformed {
		return token{}, l.errorf(line, "malformed number '%s'", text)
	}
	return token{kind: kind, text: text, line: line, float: float}, nil
}

// quoted reads one or more adjacent quoted strings and folds them into a
// single token.
func (l *lexer) quoted(line int) (token, error) {
	var sb strings.Builder
	for {
		r, _, err := l.read()
		if err != nil {
			return token{}, err
		}
		if r == '"' {
			err = l.doubleQuoted(&sb)
		} else {
			err = l.singleQuoted(&sb)
		}
		if err != nil {
			return token{}, err
		}

		if err := l.skipSpace(); err != nil {
			return token{}, err
		}
		if c := l.peek(); c != '"' && c != '\'' {
			return token{kind: tokString, text: sb.String(), line: line}, nil
		}
	}
}

func (l *lexer) skipSpace() error {
	for {
		r, ok, err := l.read()
		if err != nil || !ok {
			return err
		}
		if !isSpace(r) {
			l.unread(r)
			return nil
		}
	}
}

func (l *lexer) singleQuoted(sb *strings.Builder) error {
	start := l.line
	for {
		r, ok, err := l.read()
		if err != nil {
			return err
		}
		if !ok {
			return l.errorf(start, "unterminated string constant")
		}
		switch r {
		case '\'':
			return nil
		case '\\':
			if c := l.peek(); c == '\'' || c == '\\' {
				r, _, _ = l.read()
			}
		}
		put(sb, r)
	}
}

var simpleEscapes = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', 'b': '\b', 'f': '\f',
	'a': '\a', 'v': '\v', 'e': 0x1b,
}

func (l *lexer) doubleQuoted(sb *strings.Builder) error {
	start := l.line
	for {
		r, ok, err := l.read()
		if err != nil {
			return err
		}
		if !ok {
			return l.errorf(start, "unterminated string constant")
		}
		switch r {
		case '"':
			return nil
		case '$':
			if l.peek() == '{' {
				if err := l.expand(sb); err != nil {
					return err
				}
				continue
			}
		case '\\':
			if err := l.escape(sb, start); err != nil {
				return err
			}
			continue
		}
		put(sb, r)
	}
}

func (l *lexer) escape(sb *strings.Builder, start int) error {
	r, ok, err := l.read()
	if err != nil {
		return err
	}
	if !ok {
		return l.errorf(start, "unterminated string constant")
	}
	if c, found := simpleEscapes[r]; found {
		sb.WriteRune(c)
		return nil
	}
	switch {
	case r >= '0' && r <= '7':
		sb.WriteByte(byte(l.digits(r-'0', 8, 2)))
	case r == 'x' && isHex(l.peek()):
		sb.WriteByte(byte(l.digits(0, 16, 2)))
	default:
		put(sb, r)
	}
	return nil
}

// digits accumulates up to n further digits of base onto acc.
func (l *lexer) digits(acc, base rune, n int) rune {
	for i := 0; i < n; i++ {
		c := l.peek()
		var d rune
		switch {
		case c >= '0' && c <= '7', base == 16 && c >= '8' && c <= '9':
			d = c - '0'
		case base == 16 && c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case base == 16 && c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return acc
		}
		_, _, _ = l.read()
		acc = acc*base + d
	}
	return acc
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// expand replaces a ${NAME} or ${NAME:-default} reference with the value
// from the environment. Undefined names expand to the default, or nothing.
// A reference not closed before the end of the line or string is kept as
// literal text.
func (l *lexer) expand(sb *strings.Builder) error {
	_, _, _ = l.read()
	var ref []rune
	for {
		r, ok, err := l.read()
		if err != nil {
			return err
		}
		if !ok || r == '\n' || r == '"' {
			if ok {
				l.unread(r)
			}
			for i := len(ref) - 1; i >= 0; i-- {
				l.unread(ref[i])
			}
			sb.WriteString("${")
			return nil
		}
		if r == '}' {
			break
		}
		ref = append(ref, r)
	}

	var refText strings.Builder
	for _, r := range ref {
		put(&refText, r)
	}
	name, def, _ := strings.Cut(refText.String(), ":-")
	if val, ok := l.lookupEnv(name); ok && val != "" {
		sb.WriteString(val)
		return nil
	}
	sb.WriteString(def)
	return nil
}
