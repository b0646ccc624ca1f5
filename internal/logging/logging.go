// Package logging wires Gatekeeper's Logger interface — the same
// Info/Infof/Error/Errorf/Debug shape the teacher's socks.Logger and
// goproxy.Logger interfaces already expose — onto zerolog's structured
// logger, in the style of Patrick-DE-proxyblob's rs/zerolog usage.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured-logging surface the proxy core consumes. Any
// implementation satisfying it (this one, a test fake, …) can drive the
// core.
type Logger interface {
	Info(...interface{})
	Infof(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})
	Debug(...interface{})
	Debugf(string, ...interface{})
}

// ZeroLogger adapts a zerolog.Logger to the Logger interface.
type ZeroLogger struct {
	log zerolog.Logger
}

// New builds a ZeroLogger writing to w (os.Stderr in production, a
// bytes.Buffer in tests) at the given level. level accepts zerolog's level
// names: "debug", "info", "error", etc.
func New(w io.Writer, level string) *ZeroLogger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &ZeroLogger{log: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewConsole builds a ZeroLogger with human-readable console output to
// os.Stderr, the default for the gatekeeperd binary.
func NewConsole(level string) *ZeroLogger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// With returns a child logger carrying an extra string field on every line
// — used to tag log output with a session id.
func (l *ZeroLogger) With(key, value string) *ZeroLogger {
	return &ZeroLogger{log: l.log.With().Str(key, value).Logger()}
}

func (l *ZeroLogger) Info(args ...interface{})  { l.log.Info().Msg(sprint(args)) }
func (l *ZeroLogger) Error(args ...interface{}) { l.log.Error().Msg(sprint(args)) }
func (l *ZeroLogger) Debug(args ...interface{}) { l.log.Debug().Msg(sprint(args)) }

func (l *ZeroLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZeroLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *ZeroLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func sprint(args []interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(args...)
}
