/*
Package logx provides a structured logging wrapper based on zerolog.

It initializes the global logger (console output in development, JSON otherwise), hands out
per-component child loggers, and offers key/value helpers for code without a logger of its own.
*/
package logx

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitGlobalLogger installs the global logger. Development logs at debug level to a colored
// console on stderr; production writes JSON at info level to stdout. level, when it parses,
// overrides the environment default.
func InitGlobalLogger(isDevelopment bool, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	lvl := zerolog.InfoLevel

	if isDevelopment {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}

	log.Logger = logger.Level(lvl).With().Caller().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with the given component name.
// Long-lived workers (room loop, clients, stores) keep one and add their own context fields.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// Ctx returns the request-scoped logger stored by RequestLogger, or the global one.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return Logger()
}

// fields drops an odd-length key/value list rather than let zerolog misalign it.
func fields(level string, kv []any) []any {
	if len(kv)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(kv)).
			Str("log_level", level).
			Msg("Odd number of log fields, ignored.")
		return nil
	}
	return kv
}

// Info logs msg with optional key/value pairs.
func Info(msg string, kv ...any) {
	Logger().Info().Fields(fields("info", kv)).CallerSkipFrame(1).Msg(msg)
}

// Warn logs msg with optional key/value pairs.
func Warn(msg string, kv ...any) {
	Logger().Warn().Fields(fields("warn", kv)).CallerSkipFrame(1).Msg(msg)
}

// Error logs err and msg with optional key/value pairs.
func Error(err error, msg string, kv ...any) {
	Logger().Error().Err(err).Fields(fields("error", kv)).CallerSkipFrame(1).Msg(msg)
}
