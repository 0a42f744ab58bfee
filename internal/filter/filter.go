package filter

import (
	"strings"
	"unicode"

	"github.com/jmurray2011/skein/internal/logevent"
)

// Fields a Span can refer to.
const (
	FieldMessage = "message"
	FieldSource  = "source"
)

// Span marks one search hit as rune offsets [Start, End) into Field.
type Span struct {
	Field string `json:"field"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Match is an event that passed the filter. Spans is empty unless the
// filter had a search term.
type Match struct {
	Event logevent.Event `json:"event"`
	Spans []Span         `json:"spans,omitempty"`
}

// Apply returns the events matching st, in input order. Every dimension must
// match. Apply does not modify events.
func Apply(events []logevent.Event, st State) []Match {
	m := newMatcher(st)
	out := make([]Match, 0, len(events))
	for _, e := range events {
		spans, ok := m.match(e)
		if ok {
			out = append(out, Match{Event: e, Spans: spans})
		}
	}
	return out
}

// Matches reports whether a single event passes st.
func Matches(e logevent.Event, st State) bool {
	_, ok := newMatcher(st).match(e)
	return ok
}

// Events strips the spans from matches.
func Events(matches []Match) []logevent.Event {
	out := make([]logevent.Event, len(matches))
	for i, m := range matches {
		out[i] = m.Event
	}
	return out
}

type matcher struct {
	levels  [logevent.NumLevels]bool
	anyLvl  bool
	sources map[string]struct{}
	needle  []rune
	rng     TimeRange
}

func newMatcher(st State) *matcher {
	m := &matcher{anyLvl: len(st.Levels) == 0, rng: st.Range}
	for _, l := range st.Levels {
		if l.Valid() {
			m.levels[l] = true
		}
	}
	if len(st.Sources) > 0 {
		m.sources = make(map[string]struct{}, len(st.Sources))
		for _, s := range st.Sources {
			m.sources[s] = struct{}{}
		}
	}
	if st.Search != "" {
		m.needle = foldRunes(st.Search)
	}
	return m
}

func (m *matcher) match(e logevent.Event) ([]Span, bool) {
	if !m.anyLvl && (!e.Level.Valid() || !m.levels[e.Level]) {
		return nil, false
	}
	if m.sources != nil {
		if _, ok := m.sources[e.Source]; !ok {
			return nil, false
		}
	}
	if !m.rng.Contains(e.Timestamp) {
		return nil, false
	}
	if len(m.needle) == 0 {
		return nil, true
	}

	spans := findSpans(FieldMessage, e.Message, m.needle)
	spans = append(spans, findSpans(FieldSource, e.Source, m.needle)...)
	if len(spans) == 0 {
		return nil, false
	}
	return spans, true
}

// foldRunes lowercases rune by rune so offsets line up with the original.
func foldRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

// findSpans returns the non-overlapping, left-to-right occurrences of needle
// in text, case-insensitively.
func findSpans(field, text string, needle []rune) []Span {
	if text == "" || len(needle) == 0 {
		return nil
	}
	hay := foldRunes(text)
	var spans []Span
	for i := 0; i+len(needle) <= len(hay); {
		if hasPrefix(hay[i:], needle) {
			spans = append(spans, Span{Field: field, Start: i, End: i + len(needle)})
			i += len(needle)
			continue
		}
		i++
	}
	return spans
}

func hasPrefix(s, prefix []rune) bool {
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Highlight wraps each span of field in text with style.
func Highlight(text string, spans []Span, field string, style func(string) string) string {
	if len(spans) == 0 || style == nil {
		return text
	}
	runes := []rune(text)
	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.Field != field || sp.Start < pos || sp.End > len(runes) || sp.Start >= sp.End {
			continue
		}
		b.WriteString(string(runes[pos:sp.Start]))
		b.WriteString(style(string(runes[sp.Start:sp.End])))
		pos = sp.End
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}
