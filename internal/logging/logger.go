// Package logging is skein's leveled logger. Components take a Logger and tag
// it with WithField("component", name); tests pass NopLogger.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Level represents a log level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a log_level config value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q (use debug, info, warn or error)", s)
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// WithField returns a new logger with the given field added.
	WithField(key string, value interface{}) Logger

	// WithFields returns a new logger with the given fields added.
	WithFields(fields map[string]interface{}) Logger

	// SetLevel sets the minimum log level. Derived loggers share it.
	SetLevel(level Level)

	// SetOutput sets the output writer.
	SetOutput(w io.Writer)
}

var (
	defaultLogger Logger
	defaultMu     sync.RWMutex
)

func init() {
	defaultLogger = New()
}

// Default returns the default logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Component returns the default logger tagged with component=name.
func Component(name string) Logger {
	return Default().WithField("component", name)
}

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }

// textLogger writes "[LEVEL] message [k=v ...]" lines through the standard
// log package. Fields are printed in key order.
type textLogger struct {
	logger *log.Logger
	level  *atomic.Int32
	fields map[string]interface{}
}

// New creates a logger writing to stderr at info level.
func New() Logger {
	return NewWithOutput(os.Stderr)
}

// NewWithOutput creates a logger writing to w at info level.
func NewWithOutput(w io.Writer) Logger {
	lvl := new(atomic.Int32)
	lvl.Store(int32(LevelInfo))
	return &textLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  lvl,
	}
}

func (l *textLogger) log(level Level, msg string, args ...interface{}) {
	if int32(level) < l.level.Load() {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	if len(l.fields) == 0 {
		l.logger.Printf("[%s] %s", level, formatted)
		return
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	l.logger.Printf("[%s] %s [%s]", level, formatted, b.String())
}

func (l *textLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *textLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *textLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *textLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

func (l *textLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields copies the field set; the receiver is left unchanged.
func (l *textLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &textLogger{
		logger: l.logger,
		level:  l.level,
		fields: merged,
	}
}

func (l *textLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *textLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// NopLogger discards all output.
type NopLogger struct{}

func (NopLogger) Debug(msg string, args ...interface{})             {}
func (NopLogger) Info(msg string, args ...interface{})              {}
func (NopLogger) Warn(msg string, args ...interface{})              {}
func (NopLogger) Error(msg string, args ...interface{})             {}
func (n NopLogger) WithField(key string, value interface{}) Logger  { return n }
func (n NopLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (NopLogger) SetLevel(level Level)                              {}
func (NopLogger) SetOutput(w io.Writer)                             {}
