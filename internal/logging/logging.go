// Package logging builds the structured zerolog logger the service
// uses everywhere: JSON output by default, a console writer for local
// development, timestamp and caller fields attached once at
// construction.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug", "info", "warn",
// "error") and format ("json" or "console").
func New(level, format string) zerolog.Logger {
	var zlevel zerolog.Level
	switch level {
	case "debug":
		zlevel = zerolog.DebugLevel
	case "warn":
		zlevel = zerolog.WarnLevel
	case "error":
		zlevel = zerolog.ErrorLevel
	default:
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)

	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "bitfeed").
		Logger()
}

// LogPanic records a recovered panic with its stack trace. Intended
// for use in a deferred recover() at the top of a long-running
// goroutine (the NATS ingress loop, the per-connection Session
// handler) so one bad message or connection cannot take the process
// down.
func LogPanic(logger zerolog.Logger, recovered any) {
	logger.Error().
		Interface("panic", recovered).
		Str("stack", string(debug.Stack())).
		Msg("recovered from panic")
}
