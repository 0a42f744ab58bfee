package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stream"
)

// Color palette - using ANSI 256 colors for broad terminal support
var (
	ColorCyan    = lipgloss.Color("6")
	ColorYellow  = lipgloss.Color("3")
	ColorRed     = lipgloss.Color("1")
	ColorGreen   = lipgloss.Color("2")
	ColorBlue    = lipgloss.Color("4")
	ColorMagenta = lipgloss.Color("5")
	ColorGray    = lipgloss.Color("8")
	ColorWhite   = lipgloss.Color("15")
	ColorBlack   = lipgloss.Color("0")
)

// Text styles
var (
	TimestampStyle = lipgloss.NewStyle().Foreground(ColorCyan)

	// Event source tags
	SourceStyle = lipgloss.NewStyle().Foreground(ColorYellow)

	// Status messages ("Connecting...", "Waiting for export...")
	StatusStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)

	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorGray)

	// Search hits
	HighlightStyle = lipgloss.NewStyle().
			Background(ColorYellow).
			Foreground(ColorBlack).
			Bold(true)

	// Labels (field names, headers)
	LabelStyle = lipgloss.NewStyle().Foreground(ColorCyan).Bold(true)

	ValueStyle = lipgloss.NewStyle().Foreground(ColorWhite)

	// Details under an event
	DetailStyle = lipgloss.NewStyle().Foreground(ColorGray)
)

// Level badges, padded so columns line up.
var levelStyles = map[logevent.Level]lipgloss.Style{
	logevent.LevelDebug:   lipgloss.NewStyle().Foreground(ColorGray).Width(7),
	logevent.LevelInfo:    lipgloss.NewStyle().Foreground(ColorBlue).Width(7),
	logevent.LevelWarning: lipgloss.NewStyle().Foreground(ColorYellow).Bold(true).Width(7),
	logevent.LevelError:   lipgloss.NewStyle().Foreground(ColorRed).Bold(true).Width(7),
}

// LevelStyle returns the badge style for l.
func LevelStyle(l logevent.Level) lipgloss.Style {
	if s, ok := levelStyles[l]; ok {
		return s
	}
	return MutedStyle
}

// Connection state badges
var stateStyles = map[stream.State]lipgloss.Style{
	stream.Disconnected: MutedStyle,
	stream.Connecting:   StatusStyle,
	stream.Connected:    SuccessStyle.Bold(true),
	stream.Reconnecting: WarningStyle.Bold(true),
	stream.Failed:       ErrorStyle,
}

// StateStyle returns the badge style for a connection state.
func StateStyle(s stream.State) lipgloss.Style {
	if st, ok := stateStyles[s]; ok {
		return st
	}
	return MutedStyle
}

// Box styles for sections
var (
	SectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorCyan).
				MarginBottom(1)

	InfoBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorRed).
			Padding(0, 1)
)
