package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/ui"
)

func sampleEvents() []logevent.Event {
	return []logevent.Event{
		{
			ID:        "2",
			Timestamp: time.Date(2025, 2, 1, 10, 0, 1, 0, time.UTC),
			Level:     logevent.LevelError,
			Source:    "crawler",
			Message:   "fetch failed, retrying",
			Details:   map[string]any{"url": "https://x", "attempt": 3},
		},
		{
			ID:        "1",
			Timestamp: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
			Level:     logevent.LevelInfo,
			Message:   "line one\nline two",
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"TXT", FormatTxt, false},
		{"json", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if FormatText.Extension() != "txt" || FormatJSON.Extension() != "json" {
		t.Error("unexpected extensions")
	}
}

func TestFormatEvents_Txt(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter("txt", &buf).FormatPlainEvents(sampleEvents()); err != nil {
		t.Fatal(err)
	}

	want := "2025-02-01T10:00:01Z [ERROR] crawler: fetch failed, retrying attempt=3 url=https://x\n" +
		"2025-02-01T10:00:00Z [INFO] line one\\nline two\n"
	if buf.String() != want {
		t.Errorf("txt output =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestFormatEvents_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter("csv", &buf).FormatPlainEvents(sampleEvents()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "id,timestamp,level,source,message,details" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], `2,2025-02-01T10:00:01Z,error,crawler,"fetch failed, retrying","{""attempt"":3,""url"":""https://x""}"`) {
		t.Errorf("first record = %q", lines[1])
	}
}

func TestFormatEvents_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter("json", &buf).FormatPlainEvents(sampleEvents()); err != nil {
		t.Fatal(err)
	}

	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "2" || got[1]["id"] != "1" {
		t.Errorf("order not preserved: %v", got)
	}
	if got[0]["level"] != "error" {
		t.Errorf("level = %v", got[0]["level"])
	}
	if _, ok := got[1]["details"]; ok {
		t.Error("empty details should be omitted")
	}
}

func TestFormatEvents_Location(t *testing.T) {
	var buf bytes.Buffer
	loc := time.FixedZone("UTC+2", 2*3600)
	f := NewFormatter("txt", &buf).WithLocation(loc)
	if err := f.FormatPlainEvents(sampleEvents()[1:]); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "2025-02-01T12:00:00+02:00") {
		t.Errorf("timestamp not in location: %q", buf.String())
	}
}

func TestFormatEvents_TextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter("text", &buf, ui.WithNoColor(true)).FormatEvents(nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No events match.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatEvents_TextHighlights(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter("text", &buf, ui.WithNoColor(true), ui.WithLocation(time.UTC))

	matches := filter.Apply(sampleEvents(), filter.State{Search: "fetch"})
	if err := f.FormatEvents(matches); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "crawler | fetch failed, retrying") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFormatStats_CSV(t *testing.T) {
	var buf bytes.Buffer
	var local stats.Counts
	local[logevent.LevelWarning] = 4

	err := NewFormatter("csv", &buf).FormatStats(stats.Snapshot{
		Local:   local,
		Backend: &stats.BackendStatus{Summary: stats.Summary{Total: 7, ByLevel: map[string]int64{"warning": 7}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	s := buf.String()
	for _, want := range []string{"buffer,warning,4", "backend,warning,7", "backend,total,7"} {
		if !strings.Contains(s, want) {
			t.Errorf("stats csv missing %q:\n%s", want, s)
		}
	}
}
