package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Nomadcxx/cinelink/internal/reporter"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

// Actions are the operations the menu can trigger. Nil actions show as
// unavailable.
type Actions struct {
	Scan           func(ctx context.Context, progress chan<- scanner.ScanProgress) (reporter.Report, error)
	LastReport     func() (reporter.Report, error)
	LedgerStats    func(ctx context.Context) (map[string]int, error)
	InstallService func() (string, error)
}

var errUnavailable = errors.New("not available")

// MenuItem represents a menu option
type MenuItem struct {
	title string
	desc  string
}

func (i MenuItem) Title() string       { return i.title }
func (i MenuItem) Description() string { return i.desc }
func (i MenuItem) FilterValue() string { return i.title }

const (
	itemScan       = "Run Scan"
	itemLastReport = "View Last Report"
	itemLedger     = "Ledger Stats"
	itemService    = "Install Service"
	itemExit       = "Exit"
)

// MenuModel is the main menu
type MenuModel struct {
	list    list.Model
	actions Actions
	ctx     context.Context
	width   int
	height  int
	status  string
	failed  bool
}

// NewMenuModel creates the main menu. ctx bounds every action it starts.
func NewMenuModel(ctx context.Context, actions Actions) MenuModel {
	items := []list.Item{
		MenuItem{title: itemScan, desc: "Link new files from the watch directories into the libraries"},
		MenuItem{title: itemLastReport, desc: "Open the most recent sync report"},
		MenuItem{title: itemLedger, desc: "Count the symlinks cinelink is tracking"},
		MenuItem{title: itemService, desc: "Write a systemd unit for cinelinkd"},
		MenuItem{title: itemExit, desc: "Quit cinelink"},
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = lipgloss.NewStyle().
		Foreground(RAMABackground).
		Background(RAMARed).
		Bold(true)
	delegate.Styles.SelectedDesc = lipgloss.NewStyle().
		Foreground(RAMABackground).
		Background(RAMAFireRed)
	delegate.Styles.NormalTitle = ContentStyle
	delegate.Styles.NormalDesc = MutedStyle

	l := list.New(items, delegate, 0, 0)
	l.Title = "CINELINK"
	l.Styles.Title = TitleStyle
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)

	return MenuModel{list: l, actions: actions, ctx: ctx}
}

type reportLoadedMsg struct {
	report reporter.Report
	err    error
}

type ledgerStatsMsg struct {
	counts map[string]int
	err    error
}

type serviceInstalledMsg struct {
	path string
	err  error
}

// Init initializes the menu
func (m MenuModel) Init() tea.Cmd {
	return nil
}

// Status returns the message shown under the menu
func (m MenuModel) Status() string {
	return m.status
}

// Update handles menu messages
func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter":
			selected, ok := m.list.SelectedItem().(MenuItem)
			if !ok {
				return m, nil
			}
			return m.handleSelection(selected.title)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := msg.Height - 16
		if listHeight < 8 {
			listHeight = 8
		}
		m.list.SetSize(msg.Width-4, listHeight)
		return m, nil

	case reportLoadedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("No report: %v", msg.err), true)
			return m, nil
		}
		return openReport(msg.report, m.width, m.height)

	case ledgerStatsMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Ledger unavailable: %v", msg.err), true)
			return m, nil
		}
		m.setStatus(formatCounts(msg.counts), false)
		return m, nil

	case serviceInstalledMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Install failed: %v", msg.err), true)
			return m, nil
		}
		m.setStatus("Service written to "+msg.path, false)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *MenuModel) setStatus(status string, failed bool) {
	m.status = status
	m.failed = failed
}

func (m MenuModel) handleSelection(title string) (tea.Model, tea.Cmd) {
	switch title {
	case itemScan:
		if m.actions.Scan == nil {
			m.setStatus("Scan "+errUnavailable.Error(), true)
			return m, nil
		}
		scanning := NewScanningModel(m.ctx, m.actions.Scan)
		scanning.menu = m
		scanning.width = m.width
		scanning.height = m.height
		return scanning, scanning.Init()

	case itemLastReport:
		load := m.actions.LastReport
		return m, func() tea.Msg {
			if load == nil {
				return reportLoadedMsg{err: errUnavailable}
			}
			report, err := load()
			return reportLoadedMsg{report: report, err: err}
		}

	case itemLedger:
		stats, ctx := m.actions.LedgerStats, m.ctx
		return m, func() tea.Msg {
			if stats == nil {
				return ledgerStatsMsg{err: errUnavailable}
			}
			counts, err := stats(ctx)
			return ledgerStatsMsg{counts: counts, err: err}
		}

	case itemService:
		install := m.actions.InstallService
		return m, func() tea.Msg {
			if install == nil {
				return serviceInstalledMsg{err: errUnavailable}
			}
			path, err := install()
			return serviceInstalledMsg{path: path, err: err}
		}

	case itemExit:
		return m, tea.Quit
	}
	return m, nil
}

func openReport(report reporter.Report, width, height int) (tea.Model, tea.Cmd) {
	reportModel := NewModel(report)
	return reportModel, func() tea.Msg {
		return tea.WindowSizeMsg{Width: width, Height: height}
	}
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "Ledger is empty"
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return "Ledger " + strings.Join(parts, "  ")
}

// View renders the menu
func (m MenuModel) View() string {
	var content strings.Builder

	content.WriteString(FormatASCIIHeaderWithSubtext("watch directories in, tidy libraries out"))
	content.WriteString("\n\n")
	content.WriteString(m.list.View())
	content.WriteString("\n\n")

	if m.status != "" {
		style := InfoStyle
		if m.failed {
			style = ErrorStyle
		}
		content.WriteString(style.Render(m.status) + "\n\n")
	}

	content.WriteString(MutedStyle.Render("↑/↓: Navigate  •  Enter: Select  •  Q/Ctrl+C: Quit"))

	return lipgloss.NewStyle().Padding(1, 2).Render(content.String())
}

// ScanFinishedMsg is sent when the scan started by a ScanningModel returns
type ScanFinishedMsg struct {
	Report reporter.Report
	Err    error
}

// ScanningModel shows live progress while a scan runs
type ScanningModel struct {
	scan     func(ctx context.Context, progress chan<- scanner.ScanProgress) (reporter.Report, error)
	ctx      context.Context
	cancel   context.CancelFunc
	updates  chan scanner.ScanProgress
	spinner  spinner.Model
	progress scanner.ScanProgress
	err      error
	menu     MenuModel
	width    int
	height   int
}

// NewScanningModel creates the scanning screen for scan
func NewScanningModel(ctx context.Context, scan func(ctx context.Context, progress chan<- scanner.ScanProgress) (reporter.Report, error)) ScanningModel {
	ctx, cancel := context.WithCancel(ctx)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(RAMARed)

	return ScanningModel{
		scan:    scan,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan scanner.ScanProgress, 16),
		spinner: s,
	}
}

// Init starts the scan
func (m ScanningModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startScan(), m.waitForProgress())
}

// Progress returns the latest progress update
func (m ScanningModel) Progress() scanner.ScanProgress {
	return m.progress
}

// Err returns the scan error, if it failed
func (m ScanningModel) Err() error {
	return m.err
}

func (m ScanningModel) startScan() tea.Cmd {
	scan, ctx, updates := m.scan, m.ctx, m.updates
	return func() tea.Msg {
		report, err := scan(ctx, updates)
		close(updates)
		return ScanFinishedMsg{Report: report, Err: err}
	}
}

func (m ScanningModel) waitForProgress() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return nil
		}
		return p
	}
}

// Update handles messages
func (m ScanningModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "esc":
			if m.err != nil {
				m.menu.setStatus(fmt.Sprintf("Scan failed: %v", m.err), true)
				return m.menu, nil
			}
			m.cancel()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.err != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case scanner.ScanProgress:
		m.progress = msg
		return m, m.waitForProgress()

	case ScanFinishedMsg:
		m.cancel()
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		return openReport(msg.Report, m.width, m.height)
	}

	return m, nil
}

// View renders the scanning screen
func (m ScanningModel) View() string {
	var content strings.Builder

	content.WriteString(FormatASCIIHeader())
	content.WriteString("\n\n")

	if m.err != nil {
		content.WriteString(FormatStatusFail(fmt.Sprintf("Scan failed: %v", m.err)) + "\n\n")
		content.WriteString(MutedStyle.Render("Press Esc to return to the menu"))
		return lipgloss.NewStyle().Padding(1, 2).Render(content.String())
	}

	content.WriteString(m.spinner.View() + " " + TitleStyle.UnsetMargins().Render("SYNCING LIBRARIES") + "\n\n")

	p := m.progress
	if p.Total > 0 {
		content.WriteString(fmt.Sprintf("%s %.1f%%  %s\n\n",
			renderProgressBar(p.Percentage, 50),
			p.Percentage,
			MutedStyle.Render(fmt.Sprintf("%d/%d files", p.Current, p.Total))))
	}
	if p.Message != "" {
		content.WriteString(InfoStyle.Render(p.Message) + "\n\n")
	}
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n\n",
		MutedStyle.Render("linked"), OutcomeStyle("linked").Render(fmt.Sprintf("%d", p.Linked)),
		MutedStyle.Render("skipped"), OutcomeStyle("skipped").Render(fmt.Sprintf("%d", p.Skipped)),
		MutedStyle.Render("failed"), OutcomeStyle("failed").Render(fmt.Sprintf("%d", p.Failed))))

	content.WriteString(MutedStyle.Render("Esc: Cancel scan  •  Ctrl+C: Quit"))

	return lipgloss.NewStyle().Padding(1, 2).Render(content.String())
}
