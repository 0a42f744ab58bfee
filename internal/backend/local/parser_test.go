package local

import (
	"strings"
	"testing"
	"time"
)

func TestNewParser(t *testing.T) {
	tests := []struct {
		format    Format
		multiline bool
	}{
		{FormatPlain, false},
		{FormatJSON, false},
		{FormatSyslog, false},
		{FormatJava, true},
		{FormatAuto, false},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			p := NewParser(tt.format)
			if p.IsMultiline() != tt.multiline {
				t.Errorf("IsMultiline() = %v, want %v", p.IsMultiline(), tt.multiline)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"syslog", FormatSyslog},
		{"java", FormatJava},
		{"plain", FormatPlain},
		{"text", FormatPlain},
		{"", FormatAuto},
		{"auto", FormatAuto},
		{"bogus", FormatAuto},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseFormat(tt.input); got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlainParser_ParseLine(t *testing.T) {
	p := &PlainParser{}

	if p.ParseLine("") != nil || p.ParseLine("   ") != nil {
		t.Error("blank lines should be skipped")
	}

	raw := p.ParseLine("2025-01-01 ERROR connection refused")
	if raw == nil {
		t.Fatal("expected an event")
	}
	if raw.Message != "2025-01-01 ERROR connection refused" || raw.Level != "error" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if !raw.Timestamp.IsZero() {
		t.Errorf("plain lines carry no timestamp, got %v", raw.Timestamp)
	}
}

func TestJSONParser_ParseLine(t *testing.T) {
	p := &JSONParser{}

	t.Run("structured", func(t *testing.T) {
		raw := p.ParseLine(`{"timestamp":"2025-01-15T10:30:45Z","level":"error","msg":"boom","user":"bob"}`)
		if raw == nil {
			t.Fatal("expected an event")
		}
		if raw.Message != "boom" || raw.Level != "error" {
			t.Errorf("unexpected raw: %+v", raw)
		}
		if !raw.Timestamp.Equal(time.Date(2025, 1, 15, 10, 30, 45, 0, time.UTC)) {
			t.Errorf("Timestamp = %v", raw.Timestamp)
		}
		if raw.Details["user"] != "bob" {
			t.Errorf("Details = %v", raw.Details)
		}
	})

	t.Run("no message field", func(t *testing.T) {
		line := `{"status":500}`
		raw := p.ParseLine(line)
		if raw == nil || raw.Message != line {
			t.Errorf("expected whole line as message, got %+v", raw)
		}
	})

	t.Run("odd level is sniffed", func(t *testing.T) {
		raw := p.ParseLine(`{"level":"E_WARN","message":"x"}`)
		if raw == nil || raw.Level != "" {
			t.Errorf("Level = %q, want empty", raw.Level)
		}
	})

	t.Run("not json", func(t *testing.T) {
		raw := p.ParseLine("WARN plain text")
		if raw == nil || raw.Message != "WARN plain text" || raw.Level != "warn" {
			t.Errorf("unexpected raw: %+v", raw)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if p.ParseLine("") != nil {
			t.Error("expected nil for empty line")
		}
	})
}

func TestSyslogParser_RFC5424(t *testing.T) {
	p := NewParser(FormatSyslog)
	raw := p.ParseLine("<165>1 2025-01-15T10:30:45.123Z myhost myapp 1234 ID47 User logged in")
	if raw == nil {
		t.Fatal("expected an event")
	}

	if raw.Source != "myapp" || raw.Message != "User logged in" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if raw.Level != "notice" {
		t.Errorf("Level = %q, want notice for severity 5", raw.Level)
	}
	if raw.Details["facility"] != 20 || raw.Details["hostname"] != "myhost" || raw.Details["msgid"] != "ID47" {
		t.Errorf("Details = %v", raw.Details)
	}
	if raw.Timestamp.UnixMilli() != time.Date(2025, 1, 15, 10, 30, 45, 123e6, time.UTC).UnixMilli() {
		t.Errorf("Timestamp = %v", raw.Timestamp)
	}
}

func TestSyslogParser_RFC3164(t *testing.T) {
	p := &SyslogParser{now: func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local) }}

	t.Run("with pid", func(t *testing.T) {
		raw := p.ParseLine("Jan 15 10:30:45 myhost sshd[1234]: Accepted password for bob")
		if raw == nil {
			t.Fatal("expected an event")
		}
		if raw.Source != "sshd" || raw.Message != "Accepted password for bob" {
			t.Errorf("unexpected raw: %+v", raw)
		}
		if raw.Details["pid"] != "1234" || raw.Details["hostname"] != "myhost" {
			t.Errorf("Details = %v", raw.Details)
		}
		want := time.Date(2025, time.January, 15, 10, 30, 45, 0, time.Local)
		if !raw.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", raw.Timestamp, want)
		}
	})

	t.Run("without pid", func(t *testing.T) {
		raw := p.ParseLine("Feb  3 08:00:00 web cron: job failed with error")
		if raw == nil {
			t.Fatal("expected an event")
		}
		if raw.Source != "cron" || raw.Level != "error" {
			t.Errorf("unexpected raw: %+v", raw)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		raw := p.ParseLine("not a syslog line")
		if raw == nil || raw.Message != "not a syslog line" || !raw.Timestamp.IsZero() {
			t.Errorf("unexpected raw: %+v", raw)
		}
	})
}

func TestJavaParser_ParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		level   string
		source  string
		message string
		thread  string
	}{
		{
			name:    "log4j",
			line:    "2025-01-15 10:30:45,123 ERROR [main] com.example.App - Something failed",
			level:   "ERROR",
			source:  "com.example.App",
			message: "Something failed",
			thread:  "main",
		},
		{
			name:    "log4j2",
			line:    "2025-01-15 10:30:45.123 [worker-1] INFO com.example.Svc - Started",
			level:   "INFO",
			source:  "com.example.Svc",
			message: "Started",
			thread:  "worker-1",
		},
		{
			name:    "simple",
			line:    "2025-01-15 10:30:45 WARN disk almost full",
			level:   "WARN",
			message: "disk almost full",
		},
		{
			name:    "iso",
			line:    "2025-01-15T10:30:45.123Z DEBUG cache warm",
			level:   "DEBUG",
			message: "cache warm",
		},
		{
			name:    "ansi colours",
			line:    "\x1b[31m2025-01-15 10:30:45,123 ERROR [main] com.example.App - red\x1b[0m",
			level:   "ERROR",
			source:  "com.example.App",
			message: "red",
			thread:  "main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(FormatJava)
			raw := p.ParseLine(tt.line)
			if raw == nil {
				t.Fatal("expected an event")
			}
			if raw.Level != tt.level || raw.Source != tt.source || raw.Message != tt.message {
				t.Errorf("got level=%q source=%q message=%q", raw.Level, raw.Source, raw.Message)
			}
			if raw.Timestamp.IsZero() {
				t.Error("expected a timestamp")
			}
			if tt.thread != "" && raw.Details["thread"] != tt.thread {
				t.Errorf("thread = %v, want %s", raw.Details["thread"], tt.thread)
			}
		})
	}
}

func TestJavaParser_TimeOnlyUsesReferenceDate(t *testing.T) {
	p := NewParser(FormatJava)
	p.ParseLine("2024-07-04 09:00:00,000 INFO [main] App - boot")

	raw := p.ParseLine("15:07:20,910 |-INFO in ch.qos.logback.classic.LoggerContext - config")
	if raw == nil {
		t.Fatal("expected an event")
	}
	want := time.Date(2024, 7, 4, 15, 7, 20, 910e6, time.UTC)
	if !raw.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", raw.Timestamp, want)
	}
	if raw.Level != "INFO" {
		t.Errorf("Level = %q", raw.Level)
	}
}

func TestJavaParser_ShouldJoin(t *testing.T) {
	p := NewParser(FormatJava)
	tests := []struct {
		line string
		want bool
	}{
		{"\tat com.example.App.run(App.java:10)", true},
		{"    ... 5 more", true},
		{"Caused by: java.io.IOException: nope", true},
		{"java.lang.IllegalStateException: bad state", true},
		{"", true},
		{"some continuation text", true},
		{"2025-01-15 10:30:45,123 INFO [main] App - next", false},
		{"15:07:20,910 INFO message", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := p.ShouldJoin(tt.line); got != tt.want {
				t.Errorf("ShouldJoin(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestAssembler_JoinsStackTraces(t *testing.T) {
	a := newAssembler(FormatJava, "app.log")
	lines := []string{
		"2025-01-15 10:30:45,123 ERROR [main] com.example.App - Request failed",
		"java.lang.IllegalStateException: bad",
		"    at com.example.App.run(App.java:10)",
		"",
		"2025-01-15 10:30:46,000 INFO [main] com.example.App - Recovered",
	}

	var got []string
	for _, l := range lines {
		if raw := a.push(l); raw != nil {
			got = append(got, raw.Message)
		}
	}
	if raw := a.flush(); raw != nil {
		got = append(got, raw.Message)
	}

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %q", len(got), got)
	}
	wantFirst := "Request failed\njava.lang.IllegalStateException: bad\n    at com.example.App.run(App.java:10)"
	if got[0] != wantFirst {
		t.Errorf("first message = %q, want %q", got[0], wantFirst)
	}
	if got[1] != "Recovered" {
		t.Errorf("second message = %q", got[1])
	}
}

func TestAssembler_DefaultSource(t *testing.T) {
	a := newAssembler(FormatPlain, "app.log")
	raw := a.push("hello")
	if raw == nil || raw.Source != "app.log" {
		t.Errorf("unexpected raw: %+v", raw)
	}
	if a.flush() != nil {
		t.Error("plain assembler should hold nothing")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Format
	}{
		{"json", "\n{\"level\":\"info\",\"msg\":\"x\"}\n", FormatJSON},
		{"java", "2025-01-15 10:30:45,123 INFO [main] App - started\n", FormatJava},
		{"syslog 3164", "Jan 15 10:30:45 host sshd[1]: hello\n", FormatSyslog},
		{"syslog 5424", "<34>1 2025-01-15T10:30:45Z host app - - msg\n", FormatSyslog},
		{"plain", "just some text here\nand more text\n", FormatPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "app.log", tt.content)
			if got := DetectFormat(path); got != tt.want {
				t.Errorf("DetectFormat = %v, want %v", got, tt.want)
			}
		})
	}

	if got := DetectFormat("/nonexistent/file.log"); got != FormatPlain {
		t.Errorf("missing file = %v, want plain", got)
	}
}

func TestStripANSI(t *testing.T) {
	if got := stripANSI("\x1b[1;32mgreen\x1b[0m text"); got != "green text" {
		t.Errorf("stripANSI = %q", got)
	}
	if got := stripANSI(strings.Repeat("a", 3)); got != "aaa" {
		t.Errorf("stripANSI changed plain text: %q", got)
	}
}
