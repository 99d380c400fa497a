package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Nomadcxx/cinelink/internal/reporter"
)

// ViewMode represents the current report view
type ViewMode int

const (
	ViewSummary ViewMode = iota
	ViewLinked
	ViewFailures
)

// Model shows one sync report
type Model struct {
	report   reporter.Report
	mode     ViewMode
	viewport viewport.Model
	ready    bool
	width    int
	height   int
}

// NewModel creates a report viewer
func NewModel(report reporter.Report) Model {
	return Model{report: report, mode: ViewSummary}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return nil
}

// Mode returns the active view
func (m Model) Mode() ViewMode {
	return m.mode
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "esc":
			if m.mode != ViewSummary {
				return m.switchTo(ViewSummary), nil
			}
			return m, tea.Quit

		case "f1", "l":
			return m.switchTo(ViewLinked), nil

		case "f2", "f":
			return m.switchTo(ViewFailures), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.SetContent(m.render())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) switchTo(mode ViewMode) Model {
	m.mode = mode
	if m.ready {
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
	}
	return m
}

// View renders the TUI
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var header, footer string
	scrollInfo := MutedStyle.Render(fmt.Sprintf("%d%%", int(m.viewport.ScrollPercent()*100)))

	switch m.mode {
	case ViewSummary:
		header = FormatHeader("CINELINK SYNC SUMMARY")
		footer = FormatFooter(
			FormatKeybinding("F1", "Linked"),
			FormatKeybinding("F2", "Failures"),
			FormatKeybinding("Esc", "Exit"),
		)
	case ViewLinked:
		header = FormatHeader("LINKED FILES")
		footer = FormatFooter(
			FormatKeybinding("↑↓", "Scroll"),
			FormatKeybinding("Esc", "Back"),
			scrollInfo,
		)
	case ViewFailures:
		header = FormatHeader("FAILURES")
		footer = FormatFooter(
			FormatKeybinding("↑↓", "Scroll"),
			FormatKeybinding("Esc", "Back"),
			scrollInfo,
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

func (m Model) render() string {
	switch m.mode {
	case ViewLinked:
		return m.renderLinked()
	case ViewFailures:
		return m.renderFailures()
	default:
		return m.renderSummary()
	}
}

// renderSummary renders the summary view
func (m Model) renderSummary() string {
	var sb strings.Builder

	sb.WriteString(FormatASCIIHeader() + "\n\n")

	sb.WriteString(InfoStyle.Render("Run: ") + ContentStyle.Render(m.report.RunID) + "\n")
	sb.WriteString(InfoStyle.Render("Started: ") + ContentStyle.Render(m.report.StartedAt.Format("2006-01-02 15:04:05")) + "\n")
	sb.WriteString(InfoStyle.Render("Watch dirs: ") + ContentStyle.Render(strings.Join(m.report.WatchDirs, ", ")) + "\n\n")

	sb.WriteString(TitleStyle.Render("OUTCOMES") + "\n")
	for _, row := range []struct {
		label string
		key   string
	}{
		{"Linked", "linked"},
		{"Already synced", "already_synced"},
		{"Extras skipped", "extra"},
		{"Not media", "not_media"},
		{"Failed", "failed"},
	} {
		sb.WriteString(fmt.Sprintf("%s %s\n",
			InfoStyle.Render(fmt.Sprintf("%-16s", row.label+":")),
			OutcomeStyle(row.key).Render(fmt.Sprintf("%d", m.report.Counts[row.key]))))
	}
	sb.WriteString("\n")

	if len(m.report.Failures) > 0 {
		sb.WriteString(ErrorStyle.Render(fmt.Sprintf("%d files could not be linked. Press F2 to review.", len(m.report.Failures))) + "\n")
	}
	return sb.String()
}

func (m Model) renderLinked() string {
	if len(m.report.Linked) == 0 {
		return MutedStyle.Render("Nothing was linked in this run.")
	}

	var sb strings.Builder
	for _, l := range m.report.Linked {
		sb.WriteString(SuccessStyle.Render("["+l.Kind+"]") + " " + ContentStyle.Render(l.Link) + "\n")
		sb.WriteString("        " + MutedStyle.Render("-> "+l.Source) + "\n")
	}
	return sb.String()
}

func (m Model) renderFailures() string {
	if len(m.report.Failures) == 0 {
		return SuccessStyle.Render("No failures.")
	}

	var sb strings.Builder
	for i, f := range m.report.Failures {
		sb.WriteString(fmt.Sprintf("%s %s %s\n",
			WarningStyle.Render(fmt.Sprintf("%d.", i+1)),
			ErrorStyle.Render("["+f.Code+"]"),
			ContentStyle.Render(f.Source)))
		sb.WriteString(fmt.Sprintf("   %s %s\n", MutedStyle.Render("Stage:"), ContentStyle.Render(f.Stage)))
		sb.WriteString(fmt.Sprintf("   %s %s\n\n", MutedStyle.Render("Error:"), ContentStyle.Render(f.Message)))
	}
	return sb.String()
}

// renderProgressBar creates a text-based progress bar
func renderProgressBar(percent float64, width int) string {
	filled := int((percent / 100.0) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return SuccessStyle.Render("[" + strings.Repeat("█", filled) + strings.Repeat(" ", width-filled) + "]")
}
