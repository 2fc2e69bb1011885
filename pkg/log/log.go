// Package log provides structured logging for orderpipe components.
//
// It is a thin layer over log/slog with a fixed Field vocabulary so that
// call sites stay terse and the output format can change in one place.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents the severity of a log message.
type Level int

// Log levels, in increasing severity.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}

func (l Level) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Str constructs a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int constructs an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 constructs an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool constructs a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Dur constructs a duration field.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err constructs an error field under the conventional "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Any constructs a field holding an arbitrary value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the logging interface passed to orderpipe components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that attaches the given fields to every entry.
	With(fields ...Field) Logger

	// WithComponent tags every entry with a component name.
	WithComponent(component string) Logger
}

// Options configures a logger built by New.
type Options struct {
	Level  Level
	Writer io.Writer // defaults to os.Stderr
	JSON   bool      // JSON handler instead of text
}

type logger struct {
	sl *slog.Logger
}

// New builds a Logger with the given options.
func New(opts Options) Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: opts.Level.slog()}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	return &logger{sl: slog.New(h)}
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() Logger {
	return &logger{sl: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (l *logger) Debug(msg string, fields ...Field) { l.sl.Debug(msg, attrs(fields)...) }
func (l *logger) Info(msg string, fields ...Field)  { l.sl.Info(msg, attrs(fields)...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, attrs(fields)...) }
func (l *logger) Error(msg string, fields ...Field) { l.sl.Error(msg, attrs(fields)...) }

func (l *logger) With(fields ...Field) Logger {
	return &logger{sl: l.sl.With(attrs(fields)...)}
}

func (l *logger) WithComponent(component string) Logger {
	return &logger{sl: l.sl.With(slog.String("component", component))}
}
