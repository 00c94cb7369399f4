// Package logging provides structured logging for the rove CLI.
//
// Logs go to stderr so that stdout stays free for command output.
// While a progress display owns the terminal the logger can be
// redirected to a file with SetOutput.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the output conventions used across rove.
type Logger struct {
	zlog   zerolog.Logger
	output io.Writer
}

// New creates a logger writing human-readable lines to the given writer.
func New(w io.Writer) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	logger := zerolog.New(output).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: logger, output: w}
}

// NewDefault creates the standard stderr logger.
func NewDefault() *Logger {
	return New(os.Stderr)
}

// SetGlobalLevel adjusts the zerolog global level. Pass
// zerolog.DebugLevel for --verbose.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// SetOutput redirects the logger, preserving formatting. Used while a
// progress UI or the interactive browser owns the terminal.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a warning with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Errorf logs an error with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}
