// Package logging builds the process-wide structured logger. The teacher's
// util.Logger is a singleton with Debug/Verbose/Warning/Error/Fatal methods
// where Fatal and CheckError call os.Exit(1) directly from deep inside
// library code. That shape fits a small CLI tool but conflicts with the
// spec's error-handling design, which requires every subsystem below the
// CLI layer to return a typed error rather than terminate the process: only
// cmd/ecpb's main is allowed to turn an error into an exit code.
//
// So the leveled-logging interface survives (four levels, a single place
// to set verbosity) but the implementation is github.com/rs/zerolog, built
// once in main and threaded through as a dependency rather than reached
// for as a package-level global.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the CLI's --log-level values (0-3).
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// New builds a zerolog.Logger writing human-readable, colorized output to
// w (typically os.Stderr), filtered at the given level.
func New(w io.Writer, level Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).
		With().
		Timestamp().
		Logger().
		Level(toZerolog(level))
}

// NewNop builds a logger that discards all output, for tests.
func NewNop() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps the CLI's --log-level integer flag (0-3) onto a Level,
// clamping out-of-range values instead of erroring, matching mmp-bk's
// permissive flag handling in cmd/bk's main.
func ParseLevel(n int) Level {
	switch {
	case n <= 0:
		return LevelError
	case n == 1:
		return LevelWarn
	case n == 2:
		return LevelInfo
	default:
		return LevelDebug
	}
}
