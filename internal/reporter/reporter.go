package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Nomadcxx/cinelink/internal/syncer"
)

// Report is the persisted result of one sync run
type Report struct {
	RunID      string         `json:"run_id"`
	Mode       string         `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	WatchDirs  []string       `json:"watch_dirs"`
	Counts     map[string]int `json:"counts"`
	Linked     []Link         `json:"linked"`
	Failures   []Failure      `json:"failures"`
}

// Link is one symlink created by the run
type Link struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Link   string `json:"link"`
}

// Failure is one file the run could not sync
type Failure struct {
	Source  string `json:"source"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromSummary converts a run summary into a Report
func FromSummary(s *syncer.Summary, watchDirs []string) Report {
	report := Report{
		RunID:      s.RunID,
		Mode:       s.Mode,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		WatchDirs:  watchDirs,
		Counts:     make(map[string]int, len(s.Counts)),
	}
	for outcome, n := range s.Counts {
		report.Counts[outcome.String()] = n
	}
	for _, rec := range s.Linked {
		report.Linked = append(report.Linked, Link{Kind: rec.Kind.String(), Source: rec.Source, Link: rec.Link})
	}
	for _, se := range s.Failures {
		msg := ""
		if se.Err != nil {
			msg = se.Err.Error()
		}
		report.Failures = append(report.Failures, Failure{
			Source:  se.Source,
			Stage:   string(se.Stage),
			Code:    string(se.Code),
			Message: msg,
		})
	}

	sort.Slice(report.Linked, func(i, j int) bool { return report.Linked[i].Source < report.Linked[j].Source })
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Source < report.Failures[j].Source })
	return report
}

// Total is the number of files the run handled
func (r Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Generate writes the report as text and JSON into the default report directory
func Generate(report Report) (string, string, error) {
	dir, err := ReportDir()
	if err != nil {
		return "", "", err
	}
	return GenerateIn(dir, report)
}

// GenerateIn writes <timestamp>_<run>.txt and .json into dir
func GenerateIn(dir string, report Report) (string, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create report directory: %w", err)
	}

	base := report.StartedAt.Format("20060102_150405")
	if len(report.RunID) >= 8 {
		base += "_" + report.RunID[:8]
	}
	textPath := filepath.Join(dir, base+".txt")
	jsonPath := filepath.Join(dir, base+".json")

	if err := os.WriteFile(textPath, []byte(buildReportContent(report)), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write report: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write report: %w", err)
	}

	return textPath, jsonPath, nil
}

// ReportDir returns ~/.local/share/cinelink/reports or the XDG equivalent
func ReportDir() (string, error) {
	if xdg.DataHome == "" {
		return "", fmt.Errorf("no data directory available")
	}
	return filepath.Join(xdg.DataHome, "cinelink", "reports"), nil
}

// Load reads a JSON report written by Generate
func Load(path string) (Report, error) {
	var report Report
	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("failed to read report: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return report, nil
}

// Latest loads the newest JSON report in dir
func Latest(dir string) (Report, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return Report{}, fmt.Errorf("failed to list reports: %w", err)
	}
	if len(matches) == 0 {
		return Report{}, fmt.Errorf("no reports in %s", dir)
	}
	// names start with a sortable timestamp
	sort.Strings(matches)
	return Load(matches[len(matches)-1])
}

var outcomeOrder = []string{"linked", "already_synced", "extra", "not_media", "failed"}

// buildReportContent generates the report text
func buildReportContent(report Report) string {
	var sb strings.Builder

	sb.WriteString("CINELINK SYNC REPORT\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString(fmt.Sprintf("Run: %s (%s)\n", report.RunID, report.Mode))
	sb.WriteString(fmt.Sprintf("Started: %s\n", report.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("Watch Dirs: %s\n", strings.Join(report.WatchDirs, ", ")))
	sb.WriteString("\n")

	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	for _, outcome := range outcomeOrder {
		sb.WriteString(fmt.Sprintf("%-15s %d\n", outcome+":", report.Counts[outcome]))
	}
	sb.WriteString(fmt.Sprintf("%-15s %d\n", "total:", report.Total()))
	sb.WriteString("\n")

	if len(report.Failures) > 0 {
		sb.WriteString("FAILURES\n")
		sb.WriteString(strings.Repeat("=", 80) + "\n")
		for i, f := range report.Failures {
			sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, f.Code, f.Source))
			sb.WriteString(fmt.Sprintf("   Stage: %s\n", f.Stage))
			sb.WriteString(fmt.Sprintf("   Error: %s\n\n", f.Message))
		}
	}

	if len(report.Linked) > 0 {
		sb.WriteString("LINKED\n")
		sb.WriteString(strings.Repeat("=", 80) + "\n")
		for _, l := range report.Linked {
			sb.WriteString(fmt.Sprintf("[%s] %s\n", l.Kind, l.Link))
			sb.WriteString(fmt.Sprintf("          -> %s\n", l.Source))
		}
	}

	return sb.String()
}

// WriteSummaryTable renders the per-outcome counts and any failures as tables
func WriteSummaryTable(w io.Writer, report Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Outcome", "Files"})
	for _, outcome := range outcomeOrder {
		t.AppendRow(table.Row{outcome, report.Counts[outcome]})
	}
	t.AppendFooter(table.Row{"total", report.Total()})
	t.Render()

	if len(report.Failures) == 0 {
		return
	}

	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.SetStyle(table.StyleLight)
	f.AppendHeader(table.Row{"Code", "Stage", "Source"})
	for _, failure := range report.Failures {
		f.AppendRow(table.Row{failure.Code, failure.Stage, failure.Source})
	}
	f.Render()
}
