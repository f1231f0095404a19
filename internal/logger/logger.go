package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide base logger. It starts as a no-op so that library
// embedders stay silent until the host program opts in via Initialize.
var Log = zerolog.Nop()

// Initialize configures the process logger. level accepts the zerolog level
// names ("debug", "info", ...); anything unparseable falls back to info.
// Pretty selects human-readable console output, the default is JSON.
func Initialize(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	Log = zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "fixiplug").
		Logger()

	Log.Info().
		Str("level", lvl.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Hooks creates a logger for the hook registry and dispatch engine
func Hooks() zerolog.Logger {
	return Log.With().Str("component", "hooks").Logger()
}

// Plugins creates a logger for bundled plugins
func Plugins() zerolog.Logger {
	return Log.With().Str("component", "plugins").Logger()
}

// HTTP creates a logger for the HTTP API surface
func HTTP() zerolog.Logger {
	return Log.With().Str("component", "httpapi").Logger()
}

// Bridge creates a logger for the NATS event bridge
func Bridge() zerolog.Logger {
	return Log.With().Str("component", "bridge").Logger()
}
