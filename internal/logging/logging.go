// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	stdLog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global level and output format.
// format is "console" for human-readable output; anything else emits JSON.
func Configure(levelStr, format string) zerolog.Logger {
	return ConfigureWriter(levelStr, format, os.Stdout)
}

// ConfigureWriter is Configure with an explicit destination.
func ConfigureWriter(levelStr, format string, out io.Writer) zerolog.Logger {
	level := ParseLevel(levelStr)
	zerolog.SetGlobalLevel(level)

	var w io.Writer = out
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	// Route stray stdlib log calls (net/http server errors) through zerolog.
	stdLog.SetFlags(0)
	stdLog.SetOutput(log.Logger.With().Str("source", "stdlog").Logger())

	return log.Logger
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(levelStr string) zerolog.Level {
	if levelStr == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("logLevel", levelStr).Msg("invalid log level, defaulting to info")
		return zerolog.InfoLevel
	}
	return level
}

// Component returns a child of parent tagged with a component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
