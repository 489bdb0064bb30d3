// Package logging builds the process zerolog logger.
//
// Console output (a terminal) is human readable; anything else (journald,
// pipes) gets one JSON object per line.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options configures New.
type Options struct {
	Level   string
	Console bool // force ConsoleWriter even when Out is not a terminal
	Out     io.Writer
}

// New returns a logger writing to opts.Out (stderr when nil).
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	zerolog.ErrorFieldName = "err"

	w := out
	if opts.Console || isTerminal(out) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(w).
		Level(ParseLevel(opts.Level, zerolog.InfoLevel)).
		With().Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, returning def when the
// name is not recognized.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "OFF", "DISABLED":
		return zerolog.Disabled
	default:
		return def
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
