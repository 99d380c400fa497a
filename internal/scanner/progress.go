package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ScanProgress represents real-time scan progress
type ScanProgress struct {
	Operation  string  // "scan", "watch", "validate"
	Stage      string  // "counting_files", "processing", "complete"
	Current    int     // Files handled so far
	Total      int     // Files discovered
	Percentage float64 // 0-100
	Message    string

	Linked  int
	Skipped int
	Failed  int

	StartTime      time.Time
	ElapsedSeconds int
}

// ProgressReporter helps send progress updates. A nil reporter or a nil
// channel is valid and silently drops everything.
type ProgressReporter struct {
	ch        chan<- ScanProgress
	operation string
	startTime time.Time

	mu      sync.Mutex
	total   int
	current int
	linked  int
	skipped int
	failed  int
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(ch chan<- ScanProgress, operation string) *ProgressReporter {
	return &ProgressReporter{
		ch:        ch,
		operation: operation,
		startTime: time.Now(),
	}
}

// Start sends initial progress with total count
func (pr *ProgressReporter) Start(total int, message string) {
	if pr == nil {
		return
	}
	pr.mu.Lock()
	pr.total = total
	p := pr.snapshot("counting_files", message)
	pr.mu.Unlock()
	pr.trySend(p)
}

// Linked, Skipped and Failed record one finished file each
func (pr *ProgressReporter) Linked(path string)  { pr.step(func() { pr.linked++ }, "linked "+filepath.Base(path)) }
func (pr *ProgressReporter) Skipped(path string) { pr.step(func() { pr.skipped++ }, "skipped "+filepath.Base(path)) }
func (pr *ProgressReporter) Failed(path string)  { pr.step(func() { pr.failed++ }, "failed "+filepath.Base(path)) }

func (pr *ProgressReporter) step(count func(), message string) {
	if pr == nil {
		return
	}
	pr.mu.Lock()
	count()
	pr.current++
	p := pr.snapshot("processing", message)
	pr.mu.Unlock()
	pr.trySend(p)
}

// Complete sends the final update. Unlike intermediate updates it blocks
// until the receiver takes it.
func (pr *ProgressReporter) Complete(message string) {
	if pr == nil || pr.ch == nil {
		return
	}
	pr.mu.Lock()
	p := pr.snapshot("complete", message)
	p.Percentage = 100.0
	pr.mu.Unlock()
	pr.ch <- p
}

// snapshot must be called with mu held
func (pr *ProgressReporter) snapshot(stage, message string) ScanProgress {
	percentage := 0.0
	if pr.total > 0 {
		percentage = (float64(pr.current) / float64(pr.total)) * 100.0
	}
	return ScanProgress{
		Operation:      pr.operation,
		Stage:          stage,
		Current:        pr.current,
		Total:          pr.total,
		Percentage:     percentage,
		Message:        message,
		Linked:         pr.linked,
		Skipped:        pr.skipped,
		Failed:         pr.failed,
		StartTime:      pr.startTime,
		ElapsedSeconds: int(time.Since(pr.startTime).Seconds()),
	}
}

// trySend drops the update when nobody is listening so workers never stall
func (pr *ProgressReporter) trySend(p ScanProgress) {
	if pr.ch == nil {
		return
	}
	select {
	case pr.ch <- p:
	default:
	}
}

// WalkVideoFiles calls fn for every video file under root, stopping early
// when ctx is cancelled or fn returns an error.
func WalkVideoFiles(ctx context.Context, root string, fn func(path string) error) error {
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("library path not accessible: %s: %w", root, err)
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if d.IsDir() || !IsVideoFile(path) {
			return nil
		}
		return fn(path)
	})
	if err != nil {
		return fmt.Errorf("error scanning %s: %w", root, err)
	}
	return nil
}

// CountVideoFiles counts all video files in the given paths (for accurate progress)
func CountVideoFiles(ctx context.Context, paths []string) (int, error) {
	count := 0
	for _, libPath := range paths {
		err := WalkVideoFiles(ctx, libPath, func(string) error {
			count++
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}
