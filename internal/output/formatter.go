// Package output renders events and statistics as text, txt, json or csv.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmurray2011/skein/internal/ui"
)

// Format specifies the output format type.
type Format string

const (
	FormatText Format = "text" // styled, for terminals
	FormatTxt  Format = "txt"  // one plain line per event
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatText, FormatTxt, FormatJSON, FormatCSV}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Extension is the file extension for f.
func (f Format) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return string(f)
}

// Formatter handles output formatting for different formats.
type Formatter struct {
	format   Format
	writer   io.Writer
	renderer *ui.Renderer
	loc      *time.Location
}

// NewFormatter creates a new formatter with the specified format.
// Timestamps are rendered in UTC unless WithLocation is used.
func NewFormatter(format string, writer io.Writer, opts ...ui.Option) *Formatter {
	opts = append([]ui.Option{ui.WithOutput(writer)}, opts...)
	return &Formatter{
		format:   Format(format),
		writer:   writer,
		renderer: ui.NewRendererWithOptions(opts...),
		loc:      time.UTC,
	}
}

// WithLocation renders timestamps in loc.
func (f *Formatter) WithLocation(loc *time.Location) *Formatter {
	if loc != nil {
		f.loc = loc
	}
	return f
}

// Format returns the configured format.
func (f *Formatter) Format() Format {
	return f.format
}

// Renderer exposes the text renderer for callers mixing tables and events.
func (f *Formatter) Renderer() *ui.Renderer {
	return f.renderer
}

func (f *Formatter) timestamp(t time.Time) string {
	return t.In(f.loc).Format(time.RFC3339Nano)
}

// oneLine flattens a message for line-oriented formats.
func oneLine(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", "")
	return strings.ReplaceAll(msg, "\n", `\n`)
}
