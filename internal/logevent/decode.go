package logevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrMalformed is returned for frames that cannot become an Event.
var ErrMalformed = errors.New("malformed log event")

// Raw is a loosely-typed event as it arrives on the wire, before validation.
type Raw struct {
	ID        string
	Timestamp time.Time
	Level     string
	Source    string
	Message   string
	Details   map[string]any
}

// Wire key aliases, checked in order. The first present key wins.
var (
	idFields        = []string{"id", "event_id", "eventId", "_id"}
	timestampFields = []string{"timestamp", "time", "@timestamp", "ts", "datetime", "date", "created_at"}
	levelFields     = []string{"level", "severity", "lvl", "levelname", "log_level"}
	sourceFields    = []string{"source", "module", "logger", "component", "service"}
	messageFields   = []string{"message", "msg", "log", "text", "body"}
)

// Decode parses one JSON frame. Unknown keys are kept as details.
func Decode(data []byte) (Raw, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Raw{}, fmt.Errorf("%w: frame is not a JSON object", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Raw{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw Raw
	raw.ID = takeString(fields, idFields)
	raw.Level = takeString(fields, levelFields)
	raw.Source = takeString(fields, sourceFields)
	raw.Message = takeString(fields, messageFields)

	for _, key := range timestampFields {
		if val, ok := fields[key]; ok {
			if ts := parseTimestamp(val); !ts.IsZero() {
				raw.Timestamp = ts
				delete(fields, key)
				break
			}
		}
	}

	if nested, ok := fields["details"].(map[string]any); ok {
		raw.Details = nested
		delete(fields, "details")
	}
	for k, v := range fields {
		if raw.Details == nil {
			raw.Details = make(map[string]any, len(fields))
		}
		if _, exists := raw.Details[k]; !exists {
			raw.Details[k] = v
		}
	}

	return raw, nil
}

// takeString removes and returns the first alias present in fields.
// Numbers are rendered in their JSON form so numeric IDs survive.
func takeString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		val, ok := fields[key]
		if !ok {
			continue
		}
		switch v := val.(type) {
		case string:
			delete(fields, key)
			return v
		case json.Number:
			delete(fields, key)
			return v.String()
		case bool:
			delete(fields, key)
			return strconv.FormatBool(v)
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

// parseTimestamp accepts strings in common layouts and numeric Unix time in
// seconds, milliseconds or nanoseconds.
func parseTimestamp(val any) time.Time {
	switch v := val.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return unixAuto(i)
		}
		if f, err := v.Float64(); err == nil {
			sec := int64(f)
			return time.Unix(sec, int64((f-float64(sec))*1e9))
		}
	case float64:
		return unixAuto(int64(v))
	case int64:
		return unixAuto(v)
	}
	return time.Time{}
}

func unixAuto(v int64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, v)
	case v > 1e12:
		return time.UnixMilli(v)
	default:
		return time.Unix(v, 0)
	}
}

// wireEvent is the canonical frame layout produced by Encode.
type wireEvent struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Level     string         `json:"level,omitempty"`
	Source    string         `json:"source,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Encode renders raw as a canonical JSON frame that Decode reads back.
// Backends that do not speak JSON natively use it to build frames.
func Encode(raw Raw) ([]byte, error) {
	w := wireEvent{
		ID:      raw.ID,
		Level:   raw.Level,
		Source:  raw.Source,
		Message: raw.Message,
		Details: raw.Details,
	}
	if !raw.Timestamp.IsZero() {
		w.Timestamp = raw.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

var sniffLevelRe = regexp.MustCompile(`(?i)\b(trace|debug|info|notice|warn|warning|error|err|fatal|critical|crit|panic)\b`)

// SniffLevel guesses a level from free text, returning "" when nothing looks
// like a level keyword.
func SniffLevel(message string) string {
	if m := sniffLevelRe.FindString(message); m != "" {
		return strings.ToLower(m)
	}
	return ""
}

// Normalizer validates raw frames and assigns synthetic IDs.
// It is safe for concurrent use.
type Normalizer struct {
	seq atomic.Uint64
}

// NewNormalizer returns a Normalizer whose sequence starts at zero.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize turns raw into an immutable Event. A frame without a timestamp
// takes receivedAt; a frame without an ID gets "<unixnano>-<seq>".
func (n *Normalizer) Normalize(raw Raw, receivedAt time.Time) (Event, error) {
	msg := raw.Message
	if strings.TrimSpace(msg) == "" {
		return Event{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	level := LevelInfo
	if strings.TrimSpace(raw.Level) != "" {
		parsed, err := ParseLevel(raw.Level)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		level = parsed
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}

	seq := n.seq.Add(1)
	id := raw.ID
	if id == "" {
		id = fmt.Sprintf("%d-%d", ts.UnixNano(), seq)
	}

	return Event{
		ID:         id,
		Timestamp:  ts,
		Level:      level,
		Source:     raw.Source,
		Message:    msg,
		Details:    cloneMap(raw.Details),
		ReceivedAt: receivedAt,
	}, nil
}

func cloneMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
