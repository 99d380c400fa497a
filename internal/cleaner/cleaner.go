package cleaner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/Nomadcxx/cinelink/internal/scanner"
)

// PruneResult represents the result of a prune pass
type PruneResult struct {
	LinksRemoved   int
	RecordsRemoved int
	DirsRemoved    int
	Errors         []error
	Operations     []Operation
	DryRun         bool
}

// Operation represents a single filesystem or ledger operation
type Operation struct {
	Type      string // "unlink", "rmdir", "forget"
	Path      string
	Target    string // where the removed link pointed
	Timestamp time.Time
	Completed bool
}

// Config holds cleaner configuration
type Config struct {
	DryRun         bool
	ProtectedPaths []string
	LogPath        string // operation log, one line per completed operation
}

// Target is one library tree and the ledger partition its links belong to
type Target struct {
	Root string
	Kind scanner.Kind
}

// RecordRemover drops ledger records by link path
type RecordRemover interface {
	DeleteByLink(ctx context.Context, kind scanner.Kind, link string) (int64, error)
}

// DefaultConfig returns safe default configuration
func DefaultConfig() Config {
	return Config{
		ProtectedPaths: []string{
			// System directories
			"/usr", "/etc", "/bin", "/sbin", "/boot",
			"/sys", "/proc", "/dev", "/run",
			"/lib", "/lib32", "/lib64", "/libx32",
			"/var", "/opt", "/srv",
			"/root",
		},
		LogPath: filepath.Join(xdg.DataHome, "cinelink", "operations.log"),
	}
}

// PruneDangling removes symlinks under each target whose source no longer
// exists, forgets their ledger records and removes directories left empty.
func PruneDangling(ctx context.Context, targets []Target, records RecordRemover, config Config) (PruneResult, error) {
	result := PruneResult{DryRun: config.DryRun}

	for _, target := range targets {
		if target.Root == "" {
			continue
		}
		if err := validatePath(target.Root); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", target.Root, err))
			continue
		}
		if isProtectedPath(target.Root, config.ProtectedPaths) {
			result.Errors = append(result.Errors,
				fmt.Errorf("refusing to prune protected path: %s", target.Root))
			continue
		}

		dangling, err := findDangling(ctx, target.Root)
		if err != nil {
			return result, err
		}

		for _, link := range dangling {
			dest, _ := os.Readlink(link)
			op := Operation{Type: "unlink", Path: link, Target: dest, Timestamp: time.Now()}

			if !config.DryRun {
				if err := os.Remove(link); err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("failed to remove %s: %w", link, err))
					result.Operations = append(result.Operations, op)
					continue
				}
			}
			op.Completed = true
			result.LinksRemoved++
			result.Operations = append(result.Operations, op)

			if records != nil && !config.DryRun {
				n, err := records.DeleteByLink(ctx, target.Kind, link)
				if err != nil {
					result.Errors = append(result.Errors, fmt.Errorf("failed to forget %s: %w", link, err))
				} else if n > 0 {
					result.RecordsRemoved += int(n)
					result.Operations = append(result.Operations,
						Operation{Type: "forget", Path: link, Timestamp: time.Now(), Completed: true})
				}
			}

			if !config.DryRun {
				for _, dir := range cleanupEmptyDirs(filepath.Dir(link), target.Root) {
					result.DirsRemoved++
					result.Operations = append(result.Operations,
						Operation{Type: "rmdir", Path: dir, Timestamp: time.Now(), Completed: true})
				}
			}
		}
	}

	if !config.DryRun && len(result.Operations) > 0 && config.LogPath != "" {
		if err := writeOperationLog(result.Operations, config.LogPath); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("failed to write operation log: %w", err))
		}
	}

	return result, nil
}

// PruneCreated removes the directories in created that are still empty,
// deepest first, and returns the ones removed.
func PruneCreated(created []string) []string {
	dirs := append([]string(nil), created...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	var removed []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			removed = append(removed, dir)
		}
	}
	return removed
}

func findDangling(ctx context.Context, root string) ([]string, error) {
	var dangling []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			dangling = append(dangling, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning %s: %w", root, err)
	}
	return dangling, nil
}

// validatePath sanitizes and validates a file path for safety
func validatePath(path string) error {
	cleaned := filepath.Clean(path)

	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("invalid path: contains path traversal (..) sequence")
		}
	}

	if !filepath.IsAbs(cleaned) {
		return fmt.Errorf("invalid path: must be absolute path")
	}

	return nil
}

// cleanupEmptyDirs removes dir and its parents while they are empty, never
// touching stopAt itself.
func cleanupEmptyDirs(dir, stopAt string) []string {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)
	if dir == stopAt || !strings.HasPrefix(dir, stopAt+string(filepath.Separator)) {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil {
		return nil
	}

	return append([]string{dir}, cleanupEmptyDirs(filepath.Dir(dir), stopAt)...)
}

// isProtectedPath checks if path is, or is inside, a protected path
func isProtectedPath(path string, protected []string) bool {
	path = filepath.Clean(path)
	for _, p := range protected {
		p = filepath.Clean(p)
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// writeOperationLog appends completed operations to the log file
func writeOperationLog(ops []Operation, logPath string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, op := range ops {
		if !op.Completed {
			continue
		}

		line := fmt.Sprintf("%s|%s|%s|%s\n",
			op.Timestamp.Format(time.RFC3339),
			op.Type,
			op.Path,
			op.Target)

		if _, err := f.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}
