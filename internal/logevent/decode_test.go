package logevent

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"TRACE", LevelDebug, false},
		{"info", LevelInfo, false},
		{" Info ", LevelInfo, false},
		{"warn", LevelWarning, false},
		{"WARNING", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelError, false},
		{"critical", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := Levels()
	if len(levels) != NumLevels {
		t.Fatalf("Levels() returned %d levels, want %d", len(levels), NumLevels)
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			t.Errorf("level %v should be more severe than %v", levels[i], levels[i-1])
		}
	}
	if Level(42).String() != "unknown" {
		t.Errorf("unexpected name for out-of-range level: %s", Level(42))
	}
}

func TestDecode_CanonicalFrame(t *testing.T) {
	frame := `{"id":"e1","timestamp":"2025-03-01T10:00:00Z","level":"error","source":"crawler","message":"boom","details":{"proxy":"1.2.3.4"}}`

	raw, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if raw.ID != "e1" {
		t.Errorf("ID = %q, want e1", raw.ID)
	}
	if !raw.Timestamp.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", raw.Timestamp)
	}
	if raw.Level != "error" || raw.Source != "crawler" || raw.Message != "boom" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if raw.Details["proxy"] != "1.2.3.4" {
		t.Errorf("Details = %v", raw.Details)
	}
}

func TestDecode_Aliases(t *testing.T) {
	frame := `{"eventId":17,"ts":1735725600000,"severity":"WARN","module":"validator","msg":"slow proxy","latency_ms":950}`

	raw, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if raw.ID != "17" {
		t.Errorf("ID = %q, want 17", raw.ID)
	}
	if raw.Timestamp.UnixMilli() != 1735725600000 {
		t.Errorf("Timestamp = %v, want unix millis 1735725600000", raw.Timestamp)
	}
	if raw.Level != "WARN" || raw.Source != "validator" || raw.Message != "slow proxy" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if _, ok := raw.Details["latency_ms"]; !ok {
		t.Errorf("expected unknown key to land in details, got %v", raw.Details)
	}
	if _, ok := raw.Details["msg"]; ok {
		t.Error("consumed alias should not be repeated in details")
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"not an object", `["a","b"]`},
		{"plain text", "hello world"},
		{"truncated", `{"message":"x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.frame, err)
			}
		})
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	frame, err := Encode(Raw{ID: "x", Timestamp: ts, Level: "info", Source: "etl", Message: "done", Details: map[string]any{"rows": "12"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	raw, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if raw.ID != "x" || !raw.Timestamp.Equal(ts) || raw.Source != "etl" || raw.Details["rows"] != "12" {
		t.Errorf("frame did not survive: %+v", raw)
	}
}

func TestNormalizer(t *testing.T) {
	n := NewNormalizer()
	received := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

	t.Run("synthesizes id and timestamp", func(t *testing.T) {
		e, err := n.Normalize(Raw{Message: "hello"}, received)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if !e.Timestamp.Equal(received) {
			t.Errorf("Timestamp = %v, want receipt time", e.Timestamp)
		}
		if e.Level != LevelInfo {
			t.Errorf("Level = %v, want info default", e.Level)
		}
		if !strings.HasPrefix(e.ID, "1746446400000000000-") {
			t.Errorf("ID = %q, want timestamp-sequence form", e.ID)
		}
	})

	t.Run("sequence keeps synthetic ids unique", func(t *testing.T) {
		a, _ := n.Normalize(Raw{Message: "a"}, received)
		b, _ := n.Normalize(Raw{Message: "b"}, received)
		if a.ID == b.ID {
			t.Errorf("synthetic IDs collided: %q", a.ID)
		}
	})

	t.Run("keeps source id", func(t *testing.T) {
		e, err := n.Normalize(Raw{ID: "abc", Message: "x", Level: "warn"}, received)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if e.ID != "abc" || e.Level != LevelWarning {
			t.Errorf("unexpected event: %+v", e)
		}
	})

	t.Run("rejects empty message", func(t *testing.T) {
		_, err := n.Normalize(Raw{Level: "info", Message: "   "}, received)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := n.Normalize(Raw{Level: "loud", Message: "x"}, received)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("details are copied", func(t *testing.T) {
		details := map[string]any{"k": "v", "nested": map[string]any{"a": "b"}}
		e, err := n.Normalize(Raw{Message: "x", Details: details}, received)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		details["k"] = "changed"
		details["nested"].(map[string]any)["a"] = "changed"
		if e.Details["k"] != "v" {
			t.Error("event details aliased the raw map")
		}
		if e.Details["nested"].(map[string]any)["a"] != "b" {
			t.Error("nested details aliased the raw map")
		}
	})
}

func TestSniffLevel(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"2025-01-01 ERROR connection refused", "error"},
		{"[WARN] retrying", "warn"},
		{"information only", ""},
		{"nothing here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := SniffLevel(tt.message); got != tt.want {
				t.Errorf("SniffLevel(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}
