package cfg

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Reporter receives diagnostics tagged with the position they refer to.
type Reporter func(pos Position, msg string)

// Discard is a Reporter that drops every message.
func Discard(Position, string) {}

// ConsoleReporter returns a Reporter writing one "file:line: message" line
// per diagnostic to w.
func ConsoleReporter(w io.Writer) Reporter {
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:          w,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName},
	})
	return func(pos Position, msg string) {
		logger.Log().Msg(pos.String() + ": " + msg)
	}
}

// LogReporter returns a Reporter that forwards diagnostics to logger as
// warnings with file and line fields.
func LogReporter(logger zerolog.Logger) Reporter {
	return func(pos Position, msg string) {
		logger.Warn().
			Str("file", pos.File).
			Int("line", pos.Line).
			Msg(msg)
	}
}

var defaultReporter = ConsoleReporter(os.Stderr)
