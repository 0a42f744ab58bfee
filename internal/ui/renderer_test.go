package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

func plainRenderer(out, errOut *bytes.Buffer, opts ...Option) *Renderer {
	base := []Option{WithOutput(out), WithError(errOut), WithNoColor(true), WithLocation(time.UTC)}
	return NewRendererWithOptions(append(base, opts...)...)
}

func TestRenderer_Event(t *testing.T) {
	var out, errOut bytes.Buffer
	r := plainRenderer(&out, &errOut, WithDetails(true))

	r.Event(filter.Match{Event: logevent.Event{
		Timestamp: time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC),
		Level:     logevent.LevelError,
		Source:    "crawler",
		Message:   "boom\nstack",
		Details:   map[string]any{"b": 2, "a": 1},
	}})

	want := "09:30:00.000 ERROR   crawler | boom\n    stack\n    a=1\n    b=2\n"
	if out.String() != want {
		t.Errorf("Event() output =\n%q\nwant\n%q", out.String(), want)
	}
}

func TestRenderer_ConnectionStateQuiet(t *testing.T) {
	var out, errOut bytes.Buffer
	r := plainRenderer(&out, &errOut, WithQuiet(true))

	r.ConnectionState(stream.Transition{From: stream.Connecting, To: stream.Connected})
	if errOut.Len() != 0 {
		t.Errorf("quiet mode printed %q", errOut.String())
	}

	r.ConnectionState(stream.Transition{From: stream.Reconnecting, To: stream.Failed, Err: errors.New("gave up")})
	if !strings.Contains(errOut.String(), "[failed] gave up") {
		t.Errorf("failure not shown in quiet mode: %q", errOut.String())
	}
}

func TestRenderer_StatusQuiet(t *testing.T) {
	var out, errOut bytes.Buffer
	plainRenderer(&out, &errOut, WithQuiet(true)).Status("connecting")
	if errOut.Len() != 0 {
		t.Errorf("Status printed in quiet mode: %q", errOut.String())
	}
}

func TestRenderer_StatisticsLabelsSeparately(t *testing.T) {
	var out, errOut bytes.Buffer
	r := plainRenderer(&out, &errOut)

	var local stats.Counts
	local[logevent.LevelError] = 2
	r.Statistics(stats.Snapshot{
		Local:      local,
		LocalTotal: 2,
		Backend: &stats.BackendStatus{
			Summary: stats.Summary{Total: 900, ByLevel: map[string]int64{"error": 900}},
			Stale:   true,
		},
	})

	s := out.String()
	for _, want := range []string{"Buffered events", "Backend totals (all time) [stale]", "900"} {
		if !strings.Contains(s, want) {
			t.Errorf("statistics output missing %q:\n%s", want, s)
		}
	}
}

func TestRenderer_Table(t *testing.T) {
	var out, errOut bytes.Buffer
	plainRenderer(&out, &errOut).Table([]string{"NAME", "URI"}, [][]string{{"prod", "https://logs"}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator and row, got %q", out.String())
	}
	if !strings.HasPrefix(lines[2], "prod  https://logs") {
		t.Errorf("row = %q", lines[2])
	}
}
