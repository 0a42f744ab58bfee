package timeutil

import (
	"strings"
	"testing"
	"time"
)

func TestParseAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty is now", input: "", want: now},
		{name: "now", input: "now", want: now},
		{name: "RFC3339", input: "2025-01-15T10:30:00Z", want: time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{name: "date only", input: "2025-01-15", want: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "seconds", input: "90s", want: now.Add(-90 * time.Second)},
		{name: "minutes", input: "30m", want: now.Add(-30 * time.Minute)},
		{name: "hours", input: "2h", want: now.Add(-2 * time.Hour)},
		{name: "days", input: "7d", want: now.Add(-7 * 24 * time.Hour)},
		{name: "weeks", input: "1w", want: now.Add(-7 * 24 * time.Hour)},
		{name: "unknown unit", input: "5y", wantErr: true},
		{name: "words", input: "yesterday", wantErr: true},
		{name: "negative", input: "-2h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAt(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAt(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseAt(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_RelativeIsRecent(t *testing.T) {
	got, err := Parse("2h")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	diff := time.Since(got)
	if diff < 119*time.Minute || diff > 121*time.Minute {
		t.Errorf("expected ~2h ago, got diff of %v", diff)
	}
}

func TestParseBound(t *testing.T) {
	got, err := ParseBound("")
	if err != nil || !got.IsZero() {
		t.Errorf("ParseBound(\"\") = %v, %v; want zero time", got, err)
	}
	if _, err := ParseBound("bogus"); err == nil {
		t.Error("expected error for bogus bound")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12 * time.Second, "12s"},
		{30 * time.Minute, "30m"},
		{90 * time.Minute, "1.5h"},
		{2 * time.Hour, "2.0h"},
		{24 * time.Hour, "1.0d"},
		{36 * time.Hour, "1.5d"},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "never"},
		{"same instant", now, "just now"},
		{"seconds", now.Add(-45 * time.Second), "45s ago"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAge(tt.t, now); got != tt.want {
				t.Errorf("FormatAge = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateRange(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		start        time.Time
		end          time.Time
		wantWarnings int
		checkMessage string
	}{
		{
			name:         "last hour",
			start:        now.Add(-time.Hour),
			end:          now,
			wantWarnings: 0,
		},
		{
			name:         "open ended",
			start:        now.Add(-time.Hour),
			wantWarnings: 0,
		},
		{
			name:         "inverted",
			start:        now,
			end:          now.Add(-time.Hour),
			wantWarnings: 1,
			checkMessage: "nothing will match",
		},
		{
			name:         "end in future",
			start:        now.Add(-time.Hour),
			end:          now.Add(24 * time.Hour),
			wantWarnings: 1,
			checkMessage: "in the future",
		},
		{
			name:         "start in future",
			start:        now.Add(time.Hour),
			end:          now.Add(2 * time.Hour),
			wantWarnings: 2,
			checkMessage: "arriving later",
		},
		{
			name:         "very large range",
			start:        now.Add(-60 * 24 * time.Hour),
			end:          now,
			wantWarnings: 1,
			checkMessage: "may be slow",
		},
		{
			name:         "very short range",
			start:        now.Add(-30 * time.Second),
			end:          now,
			wantWarnings: 1,
			checkMessage: "may miss relevant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := ValidateRange(tt.start, tt.end)
			if len(warnings) != tt.wantWarnings {
				t.Fatalf("got %d warnings, want %d: %v", len(warnings), tt.wantWarnings, warnings)
			}
			if tt.checkMessage == "" {
				return
			}
			found := false
			for _, w := range warnings {
				if strings.Contains(w.Message, tt.checkMessage) {
					found = true
				}
			}
			if !found {
				t.Errorf("no warning contains %q: %v", tt.checkMessage, warnings)
			}
		})
	}
}
