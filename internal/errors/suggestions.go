// Package errors provides enhanced error messages with suggestions.
package errors

import (
	"fmt"
	"slices"
	"strings"
)

// SuggestiveError is an error that includes suggestions for fixing the problem.
type SuggestiveError struct {
	Message     string
	Suggestions []string
	HelpCommand string
}

func (e *SuggestiveError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nDid you mean one of these?\n")
		for _, s := range e.Suggestions {
			b.WriteString("  ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	if e.HelpCommand != "" {
		b.WriteString("\nRun '")
		b.WriteString(e.HelpCommand)
		b.WriteString("' for more information.")
	}

	return b.String()
}

// ProfileNotFoundError creates an error for an unknown @profile reference.
func ProfileNotFoundError(name string, available []string) error {
	similar := findSimilar(name, available, 3)
	for i := range similar {
		similar[i] = "@" + similar[i]
	}
	return &SuggestiveError{
		Message:     fmt.Sprintf("profile %q not found", "@"+name),
		Suggestions: similar,
		HelpCommand: "skein profiles",
	}
}

// InvalidTimeError creates an error for invalid time format.
func InvalidTimeError(input string) error {
	return &SuggestiveError{
		Message: fmt.Sprintf("invalid time format %q", input),
		Suggestions: []string{
			"Relative: 1h, 30m, 2d (hours, minutes, days ago)",
			"Absolute: 2024-01-15T10:30:00Z (RFC3339)",
		},
	}
}

// InvalidLevelError creates an error for a level name nobody recognises.
func InvalidLevelError(input string) error {
	return &SuggestiveError{
		Message: fmt.Sprintf("invalid level %q", input),
		Suggestions: []string{
			"debug, info, warning, error",
			"Aliases: trace, warn, err, fatal, critical",
			"Several at once: --level error,warning",
		},
	}
}

// UnknownFormatError creates an error for an unsupported output or export format.
func UnknownFormatError(input string, available []string) error {
	similar := findSimilar(input, available, 2)
	if len(similar) == 0 {
		similar = available
	}
	return &SuggestiveError{
		Message:     fmt.Sprintf("unknown format %q", input),
		Suggestions: similar,
	}
}

// MissingBackendError is returned when a command needs a backend and none was
// given or configured.
func MissingBackendError(command string) error {
	return &SuggestiveError{
		Message: "a backend is required",
		Suggestions: []string{
			fmt.Sprintf("skein %s ws://localhost:8000", command),
			fmt.Sprintf("skein %s @prod", command),
			fmt.Sprintf("skein %s ./app.log", command),
			"Set default_profile in ~/.skein/config.yaml",
		},
		HelpCommand: "skein " + command + " --help",
	}
}

// findSimilar returns up to three candidates within maxDistance edits of
// target, closest first. Comparison ignores case.
func findSimilar(target string, candidates []string, maxDistance int) []string {
	type scored struct {
		value    string
		distance int
	}

	var hits []scored
	target = strings.ToLower(target)
	for _, c := range candidates {
		if d := levenshtein(target, strings.ToLower(c)); d <= maxDistance {
			hits = append(hits, scored{c, d})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return a.distance - b.distance })

	var out []string
	for _, h := range hits[:min(len(hits), 3)] {
		out = append(out, h.value)
	}
	return out
}

// levenshtein is the edit distance between a and b in runes. It keeps two
// rows of the matrix.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
