package reporter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/scanner"
	"github.com/Nomadcxx/cinelink/internal/syncer"
)

func sampleSummary() *syncer.Summary {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &syncer.Summary{
		RunID:      "0d6a1c9e-51a4-4f0b-9a57-3c8d2f1e7b10",
		Mode:       "scan",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Counts: map[syncer.Outcome]int{
			syncer.OutcomeLinked:        2,
			syncer.OutcomeAlreadySynced: 5,
			syncer.OutcomeFailed:        1,
		},
		Linked: []ledger.Record{
			{Source: "/pool/tv/show.s01e02.mkv", Link: "/library/tv/Show/Season 01/Show - s01e02 - Unknown Title.mkv", Kind: scanner.KindEpisode},
			{Source: "/pool/movies/Some.Movie.2021.mkv", Link: "/library/movies/Action/Some Movie (2021) {tmdb-12345}/Some Movie.mkv", Kind: scanner.KindMovie},
		},
		Failures: []*syncer.SyncError{
			{Code: syncer.CodeMissingFields, Stage: syncer.StageParse, Source: "/pool/movies/Untitled.mkv", Err: errors.New("movie has no year")},
		},
	}
}

func TestFromSummary(t *testing.T) {
	report := FromSummary(sampleSummary(), []string{"/pool/movies", "/pool/tv"})

	if report.Counts["linked"] != 2 || report.Counts["already_synced"] != 5 {
		t.Errorf("Unexpected counts: %v", report.Counts)
	}
	if report.Total() != 8 {
		t.Errorf("Expected total 8, got %d", report.Total())
	}

	// Sorted by source
	if len(report.Linked) != 2 || report.Linked[0].Kind != "movie" {
		t.Errorf("Expected movie link first, got %+v", report.Linked)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(report.Failures))
	}
	f := report.Failures[0]
	if f.Code != "MISSING_FIELDS" || f.Stage != "parse" || f.Message != "movie has no year" {
		t.Errorf("Unexpected failure: %+v", f)
	}
}

func TestBuildReportContent(t *testing.T) {
	content := buildReportContent(FromSummary(sampleSummary(), []string{"/pool/movies"}))

	for _, want := range []string{
		"CINELINK SYNC REPORT",
		"Run: 0d6a1c9e-51a4-4f0b-9a57-3c8d2f1e7b10 (scan)",
		"Duration: 1.5s",
		"linked:         2",
		"total:          8",
		"[MISSING_FIELDS] /pool/movies/Untitled.mkv",
		"Stage: parse",
		"[movie] /library/movies/Action/Some Movie (2021) {tmdb-12345}/Some Movie.mkv",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Report missing %q:\n%s", want, content)
		}
	}
}

func TestBuildReportContentNoFailures(t *testing.T) {
	s := sampleSummary()
	s.Failures = nil
	content := buildReportContent(FromSummary(s, nil))

	if strings.Contains(content, "FAILURES") {
		t.Error("Report should not have a failures section")
	}
}

func TestGenerateIn(t *testing.T) {
	dir := t.TempDir()
	report := FromSummary(sampleSummary(), []string{"/pool/movies"})

	textPath, jsonPath, err := GenerateIn(dir, report)
	if err != nil {
		t.Fatalf("GenerateIn() error: %v", err)
	}

	if !strings.HasSuffix(textPath, "20240301_120000_0d6a1c9e.txt") {
		t.Errorf("Unexpected text path: %s", textPath)
	}
	if _, err := os.Stat(textPath); err != nil {
		t.Errorf("Text report not written: %v", err)
	}

	loaded, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.RunID != report.RunID || loaded.Counts["failed"] != 1 || len(loaded.Linked) != 2 {
		t.Errorf("Loaded report differs: %+v", loaded)
	}
}

func TestWriteSummaryTable(t *testing.T) {
	var buf bytes.Buffer
	WriteSummaryTable(&buf, FromSummary(sampleSummary(), nil))

	out := buf.String()
	for _, want := range []string{"OUTCOME", "already_synced", "MISSING_FIELDS", "/pool/movies/Untitled.mkv"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table missing %q:\n%s", want, out)
		}
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()

	if _, err := Latest(dir); err == nil {
		t.Error("Expected error for empty report directory")
	}

	older := FromSummary(sampleSummary(), nil)
	newer := older
	newer.RunID = "ffffffff-0000-0000-0000-000000000000"
	newer.StartedAt = older.StartedAt.Add(24 * time.Hour)

	for _, r := range []Report{newer, older} {
		if _, _, err := GenerateIn(dir, r); err != nil {
			t.Fatalf("GenerateIn() error: %v", err)
		}
	}

	got, err := Latest(dir)
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if got.RunID != newer.RunID {
		t.Errorf("Latest() returned run %s, want %s", got.RunID, newer.RunID)
	}
}
