package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RAMA palette
var (
	RAMARed        = lipgloss.Color("#ef233c")
	RAMAFireRed    = lipgloss.Color("#d90429")
	RAMABackground = lipgloss.Color("#2b2d42")
	RAMAForeground = lipgloss.Color("#edf2f4")
	RAMAMuted      = lipgloss.Color("#8d99ae")

	ColorSuccess = lipgloss.Color("#2ecc71")
	ColorWarning = lipgloss.Color("#f39c12")
	ColorError   = RAMARed
	ColorInfo    = lipgloss.Color("#3498db")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(RAMAForeground).
			Background(RAMARed).
			Padding(0, 1).
			Width(80)

	FooterStyle = lipgloss.NewStyle().
			Foreground(RAMAMuted).
			Background(RAMABackground).
			Padding(0, 1).
			Width(80)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(RAMARed).
			MarginTop(1).
			MarginBottom(1)

	ContentStyle = lipgloss.NewStyle().Foreground(RAMAForeground)
	MutedStyle   = lipgloss.NewStyle().Foreground(RAMAMuted)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)

	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
)

// OutcomeStyle picks the color for a sync outcome name
func OutcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "linked":
		return SuccessStyle
	case "failed":
		return ErrorStyle
	case "already_synced":
		return InfoStyle
	default:
		return WarningStyle
	}
}

// FormatKeybinding formats a keybinding for the footer
func FormatKeybinding(key, description string) string {
	keyStyle := lipgloss.NewStyle().Foreground(RAMARed).Bold(true)
	return keyStyle.Render(key) + " " + MutedStyle.Render(description)
}

func FormatHeader(title string) string {
	return HeaderStyle.Render(title)
}

func FormatFooter(keybindings ...string) string {
	return FooterStyle.Render(strings.Join(keybindings, "  "))
}

// Status markers for CLI output
var (
	OKMarker   = lipgloss.NewStyle().Foreground(ColorSuccess).SetString("[OK]")
	InfoMarker = lipgloss.NewStyle().Foreground(ColorInfo).SetString("[INFO]")
	WarnMarker = lipgloss.NewStyle().Foreground(ColorWarning).SetString("[WARN]")
	FailMarker = lipgloss.NewStyle().Foreground(ColorError).SetString("[FAIL]")
)

func FormatStatusOK(message string) string   { return OKMarker.String() + " " + message }
func FormatStatusInfo(message string) string { return InfoMarker.String() + " " + message }
func FormatStatusWarn(message string) string { return WarnMarker.String() + " " + message }
func FormatStatusFail(message string) string { return FailMarker.String() + " " + message }
