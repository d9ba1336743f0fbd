// Package ulogger provides the structured logger injected into every
// component of the validation core (validator, connector, harness, ...).
// Components depend on the Logger interface, never on zerolog directly, so
// tests can swap in a no-op or buffering implementation.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging surface every component takes a dependency on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields ...Field) Logger
}

// Field is a structured key/value pair attached to a logger via With.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ZLogger is the zerolog-backed Logger implementation used outside tests.
type ZLogger struct {
	zerolog.Logger
	service string
}

// New builds a ZLogger for the named component. logLevel defaults to "INFO"
// when omitted. Set pretty to false for machine-readable JSON output
// (container logs); true gives the human-readable console writer.
func New(service string, logLevel string, pretty bool) *ZLogger {
	if service == "" {
		service = "validation-core"
	}

	var z *ZLogger
	if pretty {
		z = prettyLogger(service)
	} else {
		z = &ZLogger{
			Logger: zerolog.New(os.Stdout).With().
				Str("service", service).
				Timestamp().
				Logger(),
			service: service,
		}
	}

	z.Logger = z.Logger.Level(parseLevel(logLevel))
	return z
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func prettyLogger(service string) *ZLogger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	output.FormatTimestamp = func(i interface{}) string {
		parsed, err := time.Parse(time.RFC3339, fmt.Sprintf("%v", i))
		if err != nil {
			return fmt.Sprintf("%v", i)
		}
		return parsed.Format("15:04:05")
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-10s| %s", service, i)
	}

	return &ZLogger{
		Logger:  zerolog.New(output).With().Timestamp().Logger(),
		service: service,
	}
}

func (z *ZLogger) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLogger) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLogger) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLogger) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLogger) With(fields ...Field) Logger {
	ctx := z.Logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZLogger{Logger: ctx.Logger(), service: z.service}
}

// Noop discards every call. Used by components under test that take a
// Logger dependency but whose tests don't care about log output.
type Noop struct{}

func (Noop) Debugf(format string, args ...interface{}) {}
func (Noop) Infof(format string, args ...interface{})  {}
func (Noop) Warnf(format string, args ...interface{})  {}
func (Noop) Errorf(format string, args ...interface{}) {}
func (Noop) With(fields ...Field) Logger               { return Noop{} }

// TestLogger buffers every line it receives instead of writing it anywhere,
// so a test can assert on exactly what was logged.
type TestLogger struct {
	Lines []string
}

func (l *TestLogger) Debugf(format string, args ...interface{}) {
	l.Lines = append(l.Lines, "DEBUG: "+fmt.Sprintf(format, args...))
}

func (l *TestLogger) Infof(format string, args ...interface{}) {
	l.Lines = append(l.Lines, "INFO: "+fmt.Sprintf(format, args...))
}

func (l *TestLogger) Warnf(format string, args ...interface{}) {
	l.Lines = append(l.Lines, "WARN: "+fmt.Sprintf(format, args...))
}

func (l *TestLogger) Errorf(format string, args ...interface{}) {
	l.Lines = append(l.Lines, "ERROR: "+fmt.Sprintf(format, args...))
}

func (l *TestLogger) With(fields ...Field) Logger { return l }
