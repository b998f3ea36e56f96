// Package logging owns the process logger.
//
// Call sites import it as logs and use the printf helpers with
// "component.Func key=value" messages.
package logging

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	current.Store(&l)
}

func setLogger(l zerolog.Logger) {
	current.Store(&l)
}

// Logger returns the active logger for structured call sites.
func Logger() zerolog.Logger {
	return *current.Load()
}

func Tracef(format string, args ...any) {
	current.Load().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	current.Load().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current.Load().Info().Msgf(format, args...)
}

// Logf logs at info level; tests use it to narrate progress.
func Logf(format string, args ...any) {
	current.Load().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current.Load().Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	current.Load().Error().Msgf(format, args...)
}
