package local

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmurray2011/skein/internal/logevent"
)

// FormatDetectionSampleLines is how many non-empty lines DetectFormat reads.
const FormatDetectionSampleLines = 10

// Format is a log file layout.
type Format int

const (
	FormatAuto Format = iota
	FormatPlain
	FormatJSON
	FormatSyslog
	FormatJava
)

func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatJSON:
		return "json"
	case FormatSyslog:
		return "syslog"
	case FormatJava:
		return "java"
	default:
		return "auto"
	}
}

// ParseFormat maps a format= value onto a Format. Unknown values are auto.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "syslog":
		return FormatSyslog
	case "java":
		return FormatJava
	case "plain", "text":
		return FormatPlain
	default:
		return FormatAuto
	}
}

// Parser turns lines into raw events.
type Parser interface {
	// ParseLine returns nil for lines that carry no event.
	ParseLine(line string) *logevent.Raw

	// IsMultiline reports whether continuation lines are joined.
	IsMultiline() bool

	// ShouldJoin reports whether line continues the previous event.
	ShouldJoin(line string) bool
}

// NewParser creates a parser for format. FormatAuto yields a plain parser;
// detect the format first.
func NewParser(format Format) Parser {
	switch format {
	case FormatJSON:
		return &JSONParser{}
	case FormatSyslog:
		return &SyslogParser{now: time.Now}
	case FormatJava:
		now := time.Now()
		return &JavaParser{
			referenceDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local),
		}
	default:
		return &PlainParser{}
	}
}

// PlainParser treats each line as one event and sniffs its level.
type PlainParser struct{}

func (p *PlainParser) ParseLine(line string) *logevent.Raw {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return &logevent.Raw{Message: line, Level: logevent.SniffLevel(line)}
}

func (p *PlainParser) IsMultiline() bool      { return false }
func (p *PlainParser) ShouldJoin(string) bool { return false }

// JSONParser reads JSON Lines. Lines that are not objects fall back to plain.
type JSONParser struct{}

func (p *JSONParser) ParseLine(line string) *logevent.Raw {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	raw, err := logevent.Decode([]byte(line))
	if err != nil {
		return &logevent.Raw{Message: line, Level: logevent.SniffLevel(line)}
	}
	if raw.Message == "" {
		raw.Message = line
	}
	if raw.Level != "" {
		if _, err := logevent.ParseLevel(raw.Level); err != nil {
			raw.Level = logevent.SniffLevel(raw.Level)
		}
	}
	return &raw
}

func (p *JSONParser) IsMultiline() bool      { return false }
func (p *JSONParser) ShouldJoin(string) bool { return false }

// SyslogParser handles RFC3164 and RFC5424 lines.
type SyslogParser struct {
	now func() time.Time
}

// RFC3164: "Jan  2 15:04:05 hostname program[pid]: message"
var syslog3164Pattern = regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+(.*)$`)

// RFC5424: "<pri>1 2006-01-02T15:04:05.000000Z hostname app procid msgid message"
var syslog5424Pattern = regexp.MustCompile(`^<(\d+)>1\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(.*)$`)

var months = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// syslogSeverity maps RFC5424 severities 0..7 onto level names.
var syslogSeverity = [8]string{"critical", "critical", "critical", "error", "warning", "notice", "info", "debug"}

func (p *SyslogParser) ParseLine(line string) *logevent.Raw {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if m := syslog5424Pattern.FindStringSubmatch(line); m != nil {
		raw := &logevent.Raw{Details: map[string]any{"hostname": m[3]}}
		if pri, err := strconv.Atoi(m[1]); err == nil {
			raw.Details["facility"] = pri / 8
			raw.Level = syslogSeverity[pri%8]
		}
		if ts, err := time.Parse(time.RFC3339Nano, m[2]); err == nil {
			raw.Timestamp = ts
		}
		if m[4] != "-" {
			raw.Source = m[4]
		}
		if m[5] != "-" {
			raw.Details["procid"] = m[5]
		}
		if m[6] != "-" {
			raw.Details["msgid"] = m[6]
		}
		raw.Message = m[7]
		return raw
	}

	if m := syslog3164Pattern.FindStringSubmatch(line); m != nil {
		day, _ := strconv.Atoi(m[2])
		hour, _ := strconv.Atoi(m[3])
		minute, _ := strconv.Atoi(m[4])
		sec, _ := strconv.Atoi(m[5])

		// RFC3164 carries no year.
		year := p.now().Year()
		raw := &logevent.Raw{
			Timestamp: time.Date(year, months[m[1]], day, hour, minute, sec, 0, time.Local),
			Details:   map[string]any{"hostname": m[6]},
			Message:   m[7],
		}

		if idx := strings.Index(raw.Message, ":"); idx > 0 {
			prog := raw.Message[:idx]
			if pidIdx := strings.Index(prog, "["); pidIdx > 0 {
				raw.Details["pid"] = strings.TrimSuffix(prog[pidIdx+1:], "]")
				prog = prog[:pidIdx]
			}
			if !strings.Contains(prog, " ") {
				raw.Source = prog
				raw.Message = strings.TrimSpace(raw.Message[idx+1:])
			}
		}
		raw.Level = logevent.SniffLevel(raw.Message)
		return raw
	}

	return &logevent.Raw{Message: line, Level: logevent.SniffLevel(line)}
}

func (p *SyslogParser) IsMultiline() bool      { return false }
func (p *SyslogParser) ShouldJoin(string) bool { return false }

// JavaParser handles Log4j/Logback layouts and joins stack traces onto the
// event that raised them.
type JavaParser struct {
	// referenceDate dates time-only lines. It follows the last full date seen.
	referenceDate time.Time
}

var javaPatterns = []*regexp.Regexp{
	// "2025-01-15 10:30:45,123 INFO [thread] class - message"
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2}[,\.]\d{3})\s+(\w+)\s+\[([^\]]+)\]\s+(\S+)\s+-\s+(.*)$`),
	// "2025-01-15 10:30:45.123 [thread] INFO class - message"
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2}(?:[,\.]\d{3})?)\s+\[([^\]]+)\]\s+(\w+)\s+(\S+)\s+-\s+(.*)$`),
	// "2025-01-15 10:30:45,123 INFO message"
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2}(?:[,\.]\d{3})?)\s+(\w+)\s+(.*)$`),
	// "2025-01-15T10:30:45.123Z INFO message"
	regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z?)\s+(\w+)\s+(.*)$`),
}

var javaTimeOnlyPatterns = []*regexp.Regexp{
	// "15:07:20,910 |-INFO in ch.qos.logback..."
	regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}[,\.]\d{3})\s+\|-(\w+)\s+in\s+(.*)$`),
	// "15:07:20,910 INFO message"
	regexp.MustCompile(`^(\d{2}:\d{2}:\d{2}[,\.]\d{3})\s+(\w+)\s+(.*)$`),
}

var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiEscapePattern.ReplaceAllString(s, "")
}

func (p *JavaParser) ParseLine(line string) *logevent.Raw {
	if line == "" {
		return nil
	}
	clean := stripANSI(line)
	raw := &logevent.Raw{}

	for i, pattern := range javaPatterns {
		m := pattern.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		switch i {
		case 0:
			raw.Timestamp = parseJavaTimestamp(m[1], m[2])
			raw.Level, raw.Source, raw.Message = m[3], m[5], m[6]
			raw.Details = map[string]any{"thread": m[4]}
		case 1:
			raw.Timestamp = parseJavaTimestamp(m[1], m[2])
			raw.Level, raw.Source, raw.Message = m[4], m[5], m[6]
			raw.Details = map[string]any{"thread": m[3]}
		case 2:
			raw.Timestamp = parseJavaTimestamp(m[1], m[2])
			raw.Level, raw.Message = m[3], m[4]
		case 3:
			if ts, err := time.Parse("2006-01-02T15:04:05.000Z", m[1]); err == nil {
				raw.Timestamp = ts
			} else if ts, err := time.Parse("2006-01-02T15:04:05.000", m[1]); err == nil {
				raw.Timestamp = ts
			}
			raw.Level, raw.Message = m[2], m[3]
		}
		if !raw.Timestamp.IsZero() {
			t := raw.Timestamp
			p.referenceDate = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		raw.Level = checkedLevel(raw.Level, raw.Message)
		return raw
	}

	for _, pattern := range javaTimeOnlyPatterns {
		if m := pattern.FindStringSubmatch(clean); m != nil {
			raw.Timestamp = parseTimeOnly(m[1], p.referenceDate)
			raw.Level = checkedLevel(m[2], m[3])
			raw.Message = m[3]
			return raw
		}
	}

	raw.Message = clean
	raw.Level = logevent.SniffLevel(clean)
	return raw
}

// checkedLevel keeps level when it parses and otherwise sniffs message.
func checkedLevel(level, message string) string {
	if _, err := logevent.ParseLevel(level); err == nil {
		return level
	}
	return logevent.SniffLevel(message)
}

func parseJavaTimestamp(datePart, timePart string) time.Time {
	combined := datePart + " " + strings.Replace(timePart, ",", ".", 1)
	if ts, err := time.Parse("2006-01-02 15:04:05.000", combined); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", combined); err == nil {
		return ts
	}
	return time.Time{}
}

func parseTimeOnly(timePart string, ref time.Time) time.Time {
	ts, err := time.Parse("15:04:05.000", strings.Replace(timePart, ",", ".", 1))
	if err != nil {
		return time.Time{}
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(),
		ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), ref.Location())
}

func (p *JavaParser) IsMultiline() bool { return true }

// com.example.SomeException: message
var exceptionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*\.[A-Z][A-Za-z0-9_]*(Exception|Error|Throwable)`)

func (p *JavaParser) ShouldJoin(line string) bool {
	if line == "" {
		return true
	}
	clean := stripANSI(line)
	trimmed := strings.TrimLeft(clean, " \t")

	if len(trimmed) < len(clean) && (strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "... ")) {
		return true
	}
	if strings.HasPrefix(trimmed, "Caused by:") || strings.HasPrefix(trimmed, "Suppressed:") {
		return true
	}
	if exceptionPattern.MatchString(trimmed) {
		return true
	}

	for _, pattern := range javaPatterns {
		if pattern.MatchString(clean) {
			return false
		}
	}
	for _, pattern := range javaTimeOnlyPatterns {
		if pattern.MatchString(clean) {
			return false
		}
	}
	return true
}

// DetectFormat samples the first lines of path.
func DetectFormat(path string) Format {
	f, err := os.Open(path)
	if err != nil {
		return FormatPlain
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	checked := 0
	for scanner.Scan() && checked < FormatDetectionSampleLines {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		checked++

		switch {
		case strings.HasPrefix(line, "{"):
			return FormatJSON
		case isJavaLogLine(line):
			return FormatJava
		case isSyslogLine(line):
			return FormatSyslog
		}
	}
	return FormatPlain
}

func isJavaLogLine(line string) bool {
	if len(line) < 15 {
		return false
	}
	if len(line) >= 20 && line[2] == ':' && line[5] == ':' &&
		(line[8] == ',' || line[8] == '.') && strings.Contains(line, "|-") {
		return true
	}
	if line[4] != '-' || line[7] != '-' {
		return false
	}
	upper := strings.ToUpper(line)
	for _, lvl := range []string{" INFO ", " DEBUG ", " WARN ", " ERROR ", " TRACE ", " FATAL "} {
		if strings.Contains(upper, lvl) {
			return true
		}
	}
	return false
}

func isSyslogLine(line string) bool {
	if len(line) < 15 {
		return false
	}
	if strings.HasPrefix(line, "<") {
		if idx := strings.Index(line, ">"); idx > 0 && idx < 5 {
			return true
		}
	}
	if _, ok := months[line[:3]]; ok && line[3] == ' ' {
		return true
	}
	return false
}

// assembler joins continuation lines and stamps the default source.
type assembler struct {
	parser  Parser
	source  string
	pending *logevent.Raw
}

func newAssembler(format Format, source string) *assembler {
	return &assembler{parser: NewParser(format), source: source}
}

// push feeds one line and returns an event once it is complete.
func (a *assembler) push(line string) *logevent.Raw {
	if a.parser.IsMultiline() && a.pending != nil && a.parser.ShouldJoin(line) {
		a.pending.Message += "\n" + line
		return nil
	}

	done := a.flush()

	raw := a.parser.ParseLine(line)
	if raw != nil && raw.Source == "" {
		raw.Source = a.source
	}
	if raw != nil && a.parser.IsMultiline() {
		a.pending = raw
		return done
	}
	if done != nil {
		// Only multiline parsers hold a pending event.
		return done
	}
	return raw
}

// flush returns the held multiline event, if any.
func (a *assembler) flush() *logevent.Raw {
	done := a.pending
	a.pending = nil
	if done != nil {
		done.Message = strings.TrimRight(done.Message, "\n")
	}
	return done
}
