package reporter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Nomadcxx/cinelink/internal/syncer"
)

// Journal appends one line per processed file while a watch runs
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	started time.Time
	counts  map[syncer.Outcome]int
}

// NewJournal creates <dir>/<timestamp>_<mode>.log and writes its header
func NewJournal(dir, runID, mode string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	started := time.Now()
	path := filepath.Join(dir, started.Format("20060102_150405")+"_"+mode+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}

	j := &Journal{
		file:    f,
		writer:  bufio.NewWriter(f),
		started: started,
		counts:  make(map[syncer.Outcome]int),
	}

	header := fmt.Sprintf("=== cinelink %s journal ===\n", mode)
	if runID != "" {
		header += fmt.Sprintf("Run: %s\n", runID)
	}
	header += fmt.Sprintf("Started: %s\n\n", started.Format(time.RFC1123))
	if _, err := j.writer.WriteString(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write journal header: %w", err)
	}
	return j, nil
}

// Record writes one result. Skips are counted but not written. It is safe
// to use as syncer.Options.OnResult.
func (j *Journal) Record(res syncer.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.counts[res.Outcome]++

	var line string
	now := time.Now().Format("15:04:05")
	switch {
	case res.Err != nil:
		line = fmt.Sprintf("%s FAILED [%s/%s] %s: %v\n", now, res.Err.Code, res.Err.Stage, res.Source.Path, res.Err.Err)
	case res.Outcome == syncer.OutcomeLinked:
		line = fmt.Sprintf("%s LINKED %s -> %s\n", now, res.Link, res.Source.Path)
	default:
		return
	}

	_, _ = j.writer.WriteString(line)
	_ = j.writer.Flush()
}

// Finalize writes the totals and flushes
func (j *Journal) Finalize() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	summary := "\n=== Totals ===\n"
	for _, o := range []syncer.Outcome{syncer.OutcomeLinked, syncer.OutcomeAlreadySynced, syncer.OutcomeExtra, syncer.OutcomeNotMedia, syncer.OutcomeFailed} {
		summary += fmt.Sprintf("%s: %d\n", o, j.counts[o])
	}
	summary += fmt.Sprintf("Elapsed: %s\n", time.Since(j.started).Round(time.Second))

	if _, err := j.writer.WriteString(summary); err != nil {
		return fmt.Errorf("failed to write totals: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	return nil
}

// Close closes the journal file
func (j *Journal) Close() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.file.Name()
}
