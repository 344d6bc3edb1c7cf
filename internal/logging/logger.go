// Package logging defines the reporting handle passed into each component.
// There is no ambient singleton: callers construct a Logger once and thread
// it through explicitly.
package logging

import (
	"fmt"
	"io"
	"strings"
)

// Logger provides structured logging for resolution operations.
// This interface allows consumers to plug in their own logging implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// nopLogger is a Logger implementation that does nothing.
// This is the default logger used when none is provided.
type nopLogger struct{}

func (n *nopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Nop returns the default no-op logger.
func Nop() Logger {
	return &nopLogger{}
}

// writerLogger writes formatted lines to an io.Writer.
// Used by the CLI when verbose output is requested.
type writerLogger struct {
	out io.Writer
}

// NewWriterLogger returns a Logger that writes one line per call to out.
func NewWriterLogger(out io.Writer) Logger {
	return &writerLogger{out: out}
}

func (w *writerLogger) Debug(msg string, keysAndValues ...interface{}) {
	w.emit("DEBUG", msg, keysAndValues)
}

func (w *writerLogger) Info(msg string, keysAndValues ...interface{}) {
	w.emit("INFO", msg, keysAndValues)
}

func (w *writerLogger) Warn(msg string, keysAndValues ...interface{}) {
	w.emit("WARN", msg, keysAndValues)
}

func (w *writerLogger) Error(msg string, keysAndValues ...interface{}) {
	w.emit("ERROR", msg, keysAndValues)
}

func (w *writerLogger) emit(level, msg string, keysAndValues []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	if len(keysAndValues)%2 == 1 {
		fmt.Fprintf(&b, " %v", keysAndValues[len(keysAndValues)-1])
	}
	fmt.Fprintln(w.out, b.String())
}
