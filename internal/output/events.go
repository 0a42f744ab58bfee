package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
)

// jsonEvent is the exported event layout. Details keys are sorted by
// encoding/json, so output is stable for a given input.
type jsonEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// CSVHeader is the column order of csv output.
var CSVHeader = []string{"id", "timestamp", "level", "source", "message", "details"}

// FormatEvents outputs matches in the configured format, preserving order.
func (f *Formatter) FormatEvents(matches []filter.Match) error {
	switch f.format {
	case FormatJSON:
		return f.formatEventsJSON(matches)
	case FormatCSV:
		return f.formatEventsCSV(matches)
	case FormatTxt:
		return f.formatEventsTxt(matches)
	default:
		return f.formatEventsText(matches)
	}
}

// FormatPlainEvents is FormatEvents for events without match spans.
func (f *Formatter) FormatPlainEvents(events []logevent.Event) error {
	matches := make([]filter.Match, len(events))
	for i, e := range events {
		matches[i] = filter.Match{Event: e}
	}
	return f.FormatEvents(matches)
}

func (f *Formatter) formatEventsText(matches []filter.Match) error {
	if len(matches) == 0 {
		f.renderer.NoResults()
		return nil
	}
	for _, m := range matches {
		f.renderer.Event(m)
	}
	return nil
}

// formatEventsTxt writes "<timestamp> [LEVEL] source: message k=v ..." lines.
func (f *Formatter) formatEventsTxt(matches []filter.Match) error {
	for _, m := range matches {
		e := m.Event
		var b strings.Builder
		b.WriteString(f.timestamp(e.Timestamp))
		fmt.Fprintf(&b, " [%s]", strings.ToUpper(e.Level.String()))
		if e.Source != "" {
			b.WriteString(" " + e.Source + ":")
		}
		b.WriteString(" " + oneLine(e.Message))
		if d := detailsPairs(e.Details); d != "" {
			b.WriteString(" " + d)
		}
		b.WriteByte('\n')
		if _, err := f.writer.Write([]byte(b.String())); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formatter) formatEventsJSON(matches []filter.Match) error {
	out := make([]jsonEvent, len(matches))
	for i, m := range matches {
		e := m.Event
		out[i] = jsonEvent{
			ID:        e.ID,
			Timestamp: f.timestamp(e.Timestamp),
			Level:     e.Level.String(),
			Source:    e.Source,
			Message:   e.Message,
			Details:   e.Details,
		}
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func (f *Formatter) formatEventsCSV(matches []filter.Match) error {
	writer := csv.NewWriter(f.writer)

	if err := writer.Write(CSVHeader); err != nil {
		return err
	}
	for _, m := range matches {
		e := m.Event
		details := ""
		if len(e.Details) > 0 {
			data, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("encoding details of %s: %w", e.ID, err)
			}
			details = string(data)
		}
		record := []string{
			e.ID,
			f.timestamp(e.Timestamp),
			e.Level.String(),
			e.Source,
			e.Message,
			details,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// detailsPairs renders details as sorted k=v pairs.
func detailsPairs(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := details[k]
		switch v.(type) {
		case map[string]any, []any:
			data, _ := json.Marshal(v)
			parts[i] = fmt.Sprintf("%s=%s", k, data)
		default:
			parts[i] = fmt.Sprintf("%s=%v", k, v)
		}
	}
	return strings.Join(parts, " ")
}
