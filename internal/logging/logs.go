package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Printf-style helpers over the global zerolog logger. Call sites import this
// package as `logs` and keep the "pkg.Type.method key=value" message shape.

func Tracef(format string, args ...any) {
	log.Logger.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Logger.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Logger.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	log.Logger.Error().Msgf(format, args...)
}

// Logf writes regardless of the configured level.
func Logf(format string, args ...any) {
	log.Logger.WithLevel(zerolog.NoLevel).Msgf(format, args...)
}

// Logger returns the current global logger for callers that want structured fields.
func Logger() zerolog.Logger {
	return log.Logger
}
