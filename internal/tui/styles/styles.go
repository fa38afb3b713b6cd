// Package styles holds the lipgloss palette of the triage console. Colors
// adapt to light and dark terminal backgrounds.
package styles

import (
	"alert-triage/internal/severity"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	Primary    = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#8B5CF6"}
	Secondary  = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	Warning    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	Error      = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	MutedColor = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	Text       = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
)

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func bordered(b lipgloss.Border, c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Border(b).BorderForeground(c)
}

// Text.
var (
	Muted    = fg(MutedColor)
	Title    = fg(Primary).Bold(true).MarginBottom(1)
	Subtitle = fg(MutedColor).Italic(true)
	Help     = fg(MutedColor).MarginTop(1)

	StatusOK      = fg(Secondary).Bold(true)
	StatusWarning = fg(Warning).Bold(true)
	StatusError   = fg(Error).Bold(true)
)

// Layout.
var (
	Box = bordered(lipgloss.RoundedBorder(), Primary).Padding(1, 2)

	TabActive   = fg(Text).Background(Primary).Bold(true).Padding(0, 2)
	TabInactive = fg(MutedColor).Padding(0, 2)

	TableHeader = fg(Primary).Bold(true).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(MutedColor)
	TableRowSelected = fg(Text).Background(Primary)

	MetricCard  = bordered(lipgloss.RoundedBorder(), MutedColor).Padding(1, 2).Width(20)
	MetricValue = fg(Secondary).Bold(true)
	MetricLabel = fg(MutedColor)

	Input        = bordered(lipgloss.NormalBorder(), MutedColor).Padding(0, 1).Width(40)
	InputFocused = Input.BorderForeground(Primary)

	// Prompt frames a destructive confirmation.
	Prompt = bordered(lipgloss.DoubleBorder(), Warning).Foreground(Warning).Bold(true).Padding(0, 2)
)

// Severity renders a severity label in its display color; high and critical
// are bold.
func Severity(s severity.Severity) lipgloss.Style {
	return fg(lipgloss.Color(severity.Color(s))).
		Bold(severity.Rank(s) >= severity.Rank(severity.High))
}

// Prediction styles a prediction label. Normal records carry no severity.
func Prediction(p string) lipgloss.Style {
	switch p {
	case "malicious":
		return StatusError
	case "suspicious":
		return StatusWarning
	}
	return StatusOK
}
