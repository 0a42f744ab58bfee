// Package logevent defines the log event model shared by every pipeline stage.
package logevent

import (
	"fmt"
	"strings"
	"time"
)

// Level is the ordinal severity of an event. Higher is more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// NumLevels is the number of distinct levels, usable as an array bound.
const NumLevels = 4

// Levels returns all levels in ascending severity.
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelWarning, LevelError}
}

// String returns the canonical lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	return l >= LevelDebug && l <= LevelError
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name, accepting the same aliases as ParseLevel.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// levelAliases maps lowercase wire spellings to levels.
var levelAliases = map[string]Level{
	"trace":    LevelDebug,
	"debug":    LevelDebug,
	"dbg":      LevelDebug,
	"info":     LevelInfo,
	"notice":   LevelInfo,
	"warn":     LevelWarning,
	"warning":  LevelWarning,
	"err":      LevelError,
	"error":    LevelError,
	"fatal":    LevelError,
	"critical": LevelError,
	"crit":     LevelError,
	"panic":    LevelError,
}

// ParseLevel parses a level name case-insensitively.
// Common aliases (trace, warn, fatal, critical...) fold onto the four levels.
func ParseLevel(s string) (Level, error) {
	if lvl, ok := levelAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return LevelInfo, fmt.Errorf("unknown level %q", s)
}

// Event is one diagnostic record. Events are immutable once normalized;
// consumers must not modify Details.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Source     string         `json:"source"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	ReceivedAt time.Time      `json:"-"`
}
