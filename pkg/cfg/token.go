package cfg

import (
	"fmt"
	"regexp"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokComma
	tokSemi
	tokEqual
	tokPlusEqual
)

var tokenNames = map[tokenKind]string{
	tokEOF:       "end of file",
	tokIdent:     "identifier",
	tokString:    "string",
	tokNumber:    "number",
	tokLBrace:    "'{'",
	tokRBrace:    "'}'",
	tokLParen:    "'('",
	tokRParen:    "')'",
	tokComma:     "','",
	tokSemi:      "';'",
	tokEqual:     "'='",
	tokPlusEqual: "'+='",
}

func (k tokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string
	line int

	// float is set on number tokens written in decimal or exponent form.
	float bool
}

func (t token) String() string {
	switch t.kind {
	case tokIdent, tokNumber:
		return fmt.Sprintf("%s '%s'", t.kind, t.text)
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return t.kind.String()
	}
}

// isValue reports whether the token can stand for a value, a title or a
// function argument.
func (t token) isValue() bool {
	return t.kind == tokIdent || t.kind == tokString || t.kind == tokNumber
}

var (
	intPattern   = regexp.MustCompile(`^[+-]?(0[xX][0-9a-fA-F]+|0[0-7]*|[1-9][0-9]*)$`)
	floatPattern = regexp.MustCompile(`^[+-]?(([0-9]+\.[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?|[0-9]+[eE][+-]?[0-9]+)$`)

	// numberLike matches words that can only have been meant as numbers.
	numberLike = regexp.MustCompile(`^[+-]?[0-9][0-9a-zA-Z]*$`)
)

// classify sorts a bare word into identifier or number. Words that start
// like a number but do not follow the number grammar are malformed.
func classify(word string) (kind tokenKind, float, malformed bool) {
	switch {
	case intPattern.MatchString(word):
		return tokNumber, false, false
	case floatPattern.MatchString(word):
		return tokNumber, true, false
	case numberLike.MatchString(word):
		return tokIdent, false, true
	default:
		return tokIdent, false, false
	}
}
