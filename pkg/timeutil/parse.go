// Package timeutil parses the time bounds accepted on the command line and
// formats durations for display.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var relativeTimeRe = regexp.MustCompile(`^(\d+)([smhdw])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// Parse parses an absolute or relative time.
//
// Examples:
//   - "now" or "" -> current time
//   - "90s", "30m", "2h", "7d", "1w" -> that long ago
//   - "2025-12-02T06:00:00Z" -> RFC3339
//   - "2025-12-02" -> midnight UTC
func Parse(input string) (time.Time, error) {
	return parseAt(input, time.Now().UTC())
}

func parseAt(input string, now time.Time) (time.Time, error) {
	if input == "" || input == "now" {
		return now, nil
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}

	if m := relativeTimeRe.FindStringSubmatch(input); m != nil {
		value, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(value) * units[m[2]]), nil
	}

	return time.Time{}, fmt.Errorf("invalid time format: %s - use RFC3339 (2025-12-02T06:00:00Z), a date (2025-12-02) or relative (90s, 30m, 2h, 7d)", input)
}

// ParseBound is Parse for an optional range bound: an empty input yields the
// zero time, meaning unbounded.
func ParseBound(input string) (time.Time, error) {
	if input == "" {
		return time.Time{}, nil
	}
	return Parse(input)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}

// FormatAge renders how long ago t was, relative to now.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "just now"
	}
	return FormatDuration(d) + " ago"
}

// RangeWarning is a non-fatal problem with a requested time range.
type RangeWarning struct {
	Message string
	Level   string // "warning" or "info"
}

// ValidateRange checks a time range for likely mistakes. Zero bounds are
// open and never warned about.
func ValidateRange(start, end time.Time) []RangeWarning {
	var warnings []RangeWarning
	now := time.Now()

	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return []RangeWarning{{
			Message: "start time is after end time - nothing will match",
			Level:   "warning",
		}}
	}

	if !end.IsZero() && end.After(now.Add(time.Minute)) {
		warnings = append(warnings, RangeWarning{
			Message: fmt.Sprintf("end time is %s in the future - is this intentional?", FormatDuration(end.Sub(now))),
			Level:   "warning",
		})
	}

	if !start.IsZero() && start.After(now.Add(time.Minute)) {
		warnings = append(warnings, RangeWarning{
			Message: "start time is in the future - only events arriving later will match",
			Level:   "warning",
		})
	}

	if start.IsZero() || end.IsZero() {
		return warnings
	}

	duration := end.Sub(start)
	if duration > 30*24*time.Hour {
		warnings = append(warnings, RangeWarning{
			Message: fmt.Sprintf("querying %s of history - backend queries may be slow", FormatDuration(duration)),
			Level:   "info",
		})
	}
	if duration > 0 && duration < time.Minute {
		warnings = append(warnings, RangeWarning{
			Message: fmt.Sprintf("time range is only %s - you may miss relevant events", FormatDuration(duration)),
			Level:   "info",
		})
	}

	return warnings
}
