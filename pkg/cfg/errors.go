package cfg

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a parse failure.
type ErrorCode string

const (
	// CodeSourceUnavailable indicates the character source could not be obtained.
	// It is produced when an include resolver fails.
	CodeSourceUnavailable ErrorCode = "source_unavailable"

	// CodeLexical indicates a malformed token: an unterminated string or
	// comment, or a malformed number literal.
	CodeLexical ErrorCode = "lexical"

	// CodeSyntax indicates a token that the grammar does not allow at its position.
	CodeSyntax ErrorCode = "syntax"

	// CodeUnknownOption indicates a name that the active schema does not declare.
	CodeUnknownOption ErrorCode = "unknown_option"

	// CodeDuplicateOption indicates a second occurrence of a non-repeatable
	// option, or a second section carrying an already used title.
	CodeDuplicateOption ErrorCode = "duplicate_option"

	// CodeMissingTitle indicates a titled section without its title.
	CodeMissingTitle ErrorCode = "missing_title"

	// CodeType indicates a value that cannot be coerced to the option kind.
	CodeType ErrorCode = "type"

	// CodeUnexpectedEOF indicates the input ended inside an open section.
	CodeUnexpectedEOF ErrorCode = "unexpected_eof"

	// CodeUnmatchedBrace indicates a closing brace at the root level.
	CodeUnmatchedBrace ErrorCode = "unmatched_brace"

	// CodeCallbackRejected indicates a coercion or function callback failed.
	CodeCallbackRejected ErrorCode = "callback_rejected"

	// CodeInvalidSchema indicates the schema itself is malformed.
	CodeInvalidSchema ErrorCode = "invalid_schema"
)

// Sentinel errors for errors.Is checks. Any *ParseError with the same code
// matches.
var (
	ErrSourceUnavailable = &ParseError{Code: CodeSourceUnavailable}
	ErrLexical           = &ParseError{Code: CodeLexical}
	ErrSyntax            = &ParseError{Code: CodeSyntax}
	ErrUnknownOption     = &ParseError{Code: CodeUnknownOption}
	ErrDuplicateOption   = &ParseError{Code: CodeDuplicateOption}
	ErrMissingTitle      = &ParseError{Code: CodeMissingTitle}
	ErrType              = &ParseError{Code: CodeType}
	ErrUnexpectedEOF     = &ParseError{Code: CodeUnexpectedEOF}
	ErrUnmatchedBrace    = &ParseError{Code: CodeUnmatchedBrace}
	ErrCallbackRejected  = &ParseError{Code: CodeCallbackRejected}
	ErrInvalidSchema     = &ParseError{Code: CodeInvalidSchema}
)

// ParseError is the error returned by Parse and ParseInto. It carries the
// source position at which the walk was aborted.
type ParseError struct {
	// Code classifies the failure.
	Code ErrorCode

	// File is the name of the source being parsed.
	File string

	// Line is the 1-based line number, 0 when unknown.
	Line int

	// Msg is the human-readable message delivered to the reporter.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil && e.Msg == "" {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.File == "" && e.Line == 0 {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Position(), msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is by comparing codes.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Position returns the location the error refers to.
func (e *ParseError) Position() Position {
	return Position{File: e.File, Line: e.Line}
}

// CodeOf returns the code of the first *ParseError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Position identifies a line in a named source.
type Position struct {
	File string
	Line int
}

// String formats the position as file:line.
func (p Position) String() string {
	file := p.File
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("%s:%d", file, p.Line)
}
