// Package filter selects and highlights the visible subset of buffered events.
package filter

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jmurray2011/skein/internal/logevent"
)

// TimeRange bounds event timestamps. A zero Start or End leaves that side open.
type TimeRange struct {
	Start time.Time `json:"from"`
	End   time.Time `json:"to"`
}

// IsZero reports whether the range is unbounded on both sides.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// State is the user's current filter. An empty dimension matches everything.
type State struct {
	Levels  []logevent.Level `json:"levels,omitempty"`
	Sources []string         `json:"sources,omitempty"`
	Search  string           `json:"search,omitempty"`
	Range   TimeRange        `json:"range"`
}

// Normalize returns a copy with sorted, de-duplicated sets and empty source
// names removed. Two states that select the same events normalize equal.
func (s State) Normalize() State {
	out := State{Search: s.Search, Range: s.Range}

	if len(s.Levels) > 0 {
		out.Levels = make([]logevent.Level, 0, len(s.Levels))
		for _, l := range s.Levels {
			if l.Valid() {
				out.Levels = append(out.Levels, l)
			}
		}
		slices.Sort(out.Levels)
		out.Levels = slices.Compact(out.Levels)
		if len(out.Levels) == 0 {
			out.Levels = nil
		}
	}

	if len(s.Sources) > 0 {
		out.Sources = make([]string, 0, len(s.Sources))
		for _, src := range s.Sources {
			if src = strings.TrimSpace(src); src != "" {
				out.Sources = append(out.Sources, src)
			}
		}
		slices.Sort(out.Sources)
		out.Sources = slices.Compact(out.Sources)
		if len(out.Sources) == 0 {
			out.Sources = nil
		}
	}

	return out
}

// IsZero reports whether the state matches every event.
func (s State) IsZero() bool {
	return len(s.Levels) == 0 && len(s.Sources) == 0 && s.Search == "" && s.Range.IsZero()
}

// Equal reports whether two states are identical after normalization.
func (s State) Equal(o State) bool {
	a, b := s.Normalize(), o.Normalize()
	return slices.Equal(a.Levels, b.Levels) &&
		slices.Equal(a.Sources, b.Sources) &&
		a.Search == b.Search &&
		a.Range.Start.Equal(b.Range.Start) &&
		a.Range.End.Equal(b.Range.End)
}

// Values renders the state as backend history query parameters:
// level[], source[], search, from and to.
func (s State) Values() url.Values {
	v := url.Values{}
	for _, l := range s.Levels {
		v.Add("level[]", l.String())
	}
	for _, src := range s.Sources {
		v.Add("source[]", src)
	}
	if s.Search != "" {
		v.Set("search", s.Search)
	}
	if !s.Range.Start.IsZero() {
		v.Set("from", s.Range.Start.UTC().Format(time.RFC3339Nano))
	}
	if !s.Range.End.IsZero() {
		v.Set("to", s.Range.End.UTC().Format(time.RFC3339Nano))
	}
	return v
}

// FromValues is the inverse of Values. Unknown levels and bad timestamps are
// reported as errors.
func FromValues(v url.Values) (State, error) {
	var st State
	for _, name := range v["level[]"] {
		lvl, err := logevent.ParseLevel(name)
		if err != nil {
			return State{}, err
		}
		st.Levels = append(st.Levels, lvl)
	}
	st.Sources = append(st.Sources, v["source[]"]...)
	st.Search = v.Get("search")

	for key, dst := range map[string]*time.Time{"from": &st.Range.Start, "to": &st.Range.End} {
		raw := v.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return State{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = t
	}
	return st.Normalize(), nil
}

// ParseLevels parses a comma-separated list such as "error,warn".
func ParseLevels(csv string) ([]logevent.Level, error) {
	var levels []logevent.Level
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		lvl, err := logevent.ParseLevel(part)
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

// ParseSources splits a comma-separated list of source names.
func ParseSources(csv string) []string {
	var sources []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			sources = append(sources, part)
		}
	}
	return sources
}
