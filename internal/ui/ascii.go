package ui

import "github.com/charmbracelet/lipgloss"

// ASCII art for the cinelink header as a single string to preserve formatting
const cinelinkASCII = `        ██                    ██  ██              ██
                              ██                  ██
  ████  ██  ██████    ██████  ██  ██  ██████      ██  ██
██      ██  ██    ██  ██████  ██  ██  ██    ██    ████
██      ██  ██    ██  ██      ██  ██  ██    ██    ██  ██
  ████  ██  ██    ██    ████  ██  ██  ██    ██    ██    ██`

// FormatASCIIHeader renders the cinelink ASCII header with RAMA theme
func FormatASCIIHeader() string {
	headerStyle := lipgloss.NewStyle().
		Foreground(RAMARed).
		Bold(true)

	return headerStyle.Render(cinelinkASCII)
}

// FormatASCIIHeaderWithSubtext renders header with subtitle
func FormatASCIIHeaderWithSubtext(subtext string) string {
	subtitle := lipgloss.NewStyle().
		Foreground(RAMAMuted).
		Render(subtext)

	return FormatASCIIHeader() + "\n\n" + subtitle
}
