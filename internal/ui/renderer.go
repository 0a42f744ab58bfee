package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

// Renderer handles all terminal output with consistent styling.
type Renderer struct {
	out     io.Writer
	err     io.Writer
	noColor bool
	quiet   bool
	details bool
	loc     *time.Location
}

// NewRenderer creates a new Renderer with default settings.
// NO_COLOR in the environment disables styling.
func NewRenderer() *Renderer {
	return &Renderer{
		out:     os.Stdout,
		err:     os.Stderr,
		noColor: os.Getenv("NO_COLOR") != "",
		loc:     time.Local,
	}
}

// Option is a functional option for configuring the Renderer.
type Option func(*Renderer)

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(r *Renderer) {
		r.out = w
	}
}

// WithError sets the error writer.
func WithError(w io.Writer) Option {
	return func(r *Renderer) {
		r.err = w
	}
}

// WithNoColor disables color output. It never re-enables color that
// NO_COLOR turned off.
func WithNoColor(noColor bool) Option {
	return func(r *Renderer) {
		r.noColor = r.noColor || noColor
	}
}

// WithQuiet enables quiet mode (suppresses status messages).
func WithQuiet(quiet bool) Option {
	return func(r *Renderer) {
		r.quiet = quiet
	}
}

// WithDetails prints event details under each event.
func WithDetails(show bool) Option {
	return func(r *Renderer) {
		r.details = show
	}
}

// WithLocation sets the zone timestamps are shown in.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// NewRendererWithOptions creates a new Renderer with the given options.
func NewRendererWithOptions(opts ...Option) *Renderer {
	r := NewRenderer()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// render applies styling if color is enabled.
func (r *Renderer) render(style lipgloss.Style, text string) string {
	if r.noColor {
		return text
	}
	return style.Render(text)
}

// --- Status and Messages ---

// Status prints a status message (suppressed in quiet mode).
func (r *Renderer) Status(format string, args ...any) {
	if r.quiet {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.err, r.render(StatusStyle, msg))
}

// Info prints an informational message.
func (r *Renderer) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.out, msg)
}

// Success prints a success message.
func (r *Renderer) Success(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.out, r.render(SuccessStyle, msg))
}

// Warning prints a warning message.
func (r *Renderer) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.err, r.render(WarningStyle, "Warning: "+msg))
}

// Error prints an error message.
func (r *Renderer) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.err, r.render(ErrorStyle, "Error: "+msg))
}

// Debug prints a debug message.
func (r *Renderer) Debug(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.err, r.render(MutedStyle, "[DEBUG] "+msg))
}

// --- Formatted Output ---

// KeyValue prints a key-value pair.
func (r *Renderer) KeyValue(key, value string) {
	label := r.render(LabelStyle, key+":")
	fmt.Fprintf(r.out, "%s %s\n", label, value)
}

// KeyValueIndent prints an indented key-value pair.
func (r *Renderer) KeyValueIndent(key, value string, indent int) {
	prefix := strings.Repeat("  ", indent)
	label := r.render(LabelStyle, key+":")
	fmt.Fprintf(r.out, "%s%s %s\n", prefix, label, value)
}

// Section prints a section title.
func (r *Renderer) Section(title string) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.render(SectionTitleStyle, title))
}

// Divider prints a horizontal divider.
func (r *Renderer) Divider() {
	fmt.Fprintln(r.out, r.render(MutedStyle, strings.Repeat("─", 40)))
}

// Newline prints a blank line.
func (r *Renderer) Newline() {
	fmt.Fprintln(r.out)
}

// --- Event Rendering ---

// Event renders one filtered event:
//
//	15:04:05.000 ERROR   crawler | message
//
// Search hits recorded in the match spans are highlighted.
func (r *Renderer) Event(m filter.Match) {
	e := m.Event
	ts := r.render(TimestampStyle, e.Timestamp.In(r.loc).Format("15:04:05.000"))
	level := r.render(LevelStyle(e.Level), strings.ToUpper(e.Level.String()))
	if r.noColor {
		level = fmt.Sprintf("%-7s", strings.ToUpper(e.Level.String()))
	}

	src := e.Source
	msg := e.Message
	if !r.noColor {
		hl := func(s string) string { return HighlightStyle.Render(s) }
		src = filter.Highlight(src, m.Spans, filter.FieldSource, hl)
		msg = filter.Highlight(msg, m.Spans, filter.FieldMessage, hl)
	}
	if src != "" {
		src = r.render(SourceStyle, src) + " | "
	}

	lines := strings.Split(msg, "\n")
	fmt.Fprintf(r.out, "%s %s %s%s\n", ts, level, src, lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(r.out, "    %s\n", line)
	}

	if r.details && len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(r.out, r.render(DetailStyle, fmt.Sprintf("    %s=%v", k, e.Details[k])))
		}
	}
}

// ConnectionState prints a status line for a connection transition.
// Failures are always shown, even in quiet mode.
func (r *Renderer) ConnectionState(tr stream.Transition) {
	badge := r.render(StateStyle(tr.To), "["+tr.To.String()+"]")
	line := badge
	if tr.Err != nil {
		line += " " + tr.Err.Error()
	}
	if tr.To == stream.Failed {
		fmt.Fprintln(r.err, line)
		return
	}
	if r.quiet {
		return
	}
	fmt.Fprintln(r.err, line)
}

// Statistics renders a statistics snapshot. Buffered counts and backend
// totals are labelled separately.
func (r *Renderer) Statistics(s stats.Snapshot) {
	r.Section("Buffered events")
	rows := make([][]string, 0, logevent.NumLevels)
	for _, l := range logevent.Levels() {
		rows = append(rows, []string{l.String(), fmt.Sprint(s.Local.Get(l))})
	}
	r.Table([]string{"LEVEL", "COUNT"}, rows)
	r.KeyValue("Total", fmt.Sprint(s.LocalTotal))
	if !s.LastSeen.IsZero() {
		r.KeyValue("Last seen", s.LastSeen.In(r.loc).Format(time.RFC3339))
	}
	r.KeyValue("Rate", fmt.Sprintf("%.1f events/s", s.Rate))

	if s.Backend == nil {
		return
	}
	b := s.Backend
	title := "Backend totals (all time)"
	if b.Stale {
		title += " " + r.render(WarningStyle, "[stale]")
	}
	r.Section(title)
	levels := make([]string, 0, len(b.ByLevel))
	for k := range b.ByLevel {
		levels = append(levels, k)
	}
	sort.Strings(levels)
	rows = rows[:0]
	for _, k := range levels {
		rows = append(rows, []string{k, fmt.Sprint(b.ByLevel[k])})
	}
	r.Table([]string{"LEVEL", "COUNT"}, rows)
	r.KeyValue("Total", fmt.Sprint(b.Total))
	if !b.FetchedAt.IsZero() {
		r.KeyValue("Fetched", fmt.Sprintf("%s ago", b.Age.Truncate(time.Second)))
	}
	if b.LastError != "" {
		r.KeyValue("Last error", b.LastError)
	}
}

// --- Table Rendering ---

// Table renders a simple table.
func (r *Renderer) Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	headerParts := make([]string, len(headers))
	for i, h := range headers {
		headerParts[i] = r.render(LabelStyle, fmt.Sprintf("%-*s", widths[i], h))
	}
	fmt.Fprintln(r.out, strings.Join(headerParts, "  "))

	sepParts := make([]string, len(headers))
	for i, w := range widths {
		sepParts[i] = strings.Repeat("-", w)
	}
	fmt.Fprintln(r.out, r.render(MutedStyle, strings.Join(sepParts, "  ")))

	for _, row := range rows {
		rowParts := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			rowParts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		fmt.Fprintln(r.out, strings.Join(rowParts, "  "))
	}
}

// NoResults prints a "no results" message.
func (r *Renderer) NoResults() {
	fmt.Fprintln(r.out, r.render(MutedStyle, "No events match."))
}
