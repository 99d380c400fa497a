package scanner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type PathValidationResult struct {
	Path       string
	Accessible bool
	Readable   bool
	Writable   bool
	Error      error
	VideoCount int
}

type ValidationReport struct {
	Results  []PathValidationResult
	Warnings []string
}

// OK reports whether every checked path is usable
func (r *ValidationReport) OK() bool {
	for _, res := range r.Results {
		if !res.Accessible {
			return false
		}
	}
	return true
}

// Err joins the errors of every inaccessible path
func (r *ValidationReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Error))
		}
	}
	return errors.Join(errs...)
}

// ValidateRoots checks the watched roots are readable directories and the
// target roots are writable ones. Empty entries are skipped; a missing
// target root is created.
func ValidateRoots(watchRoots, targetRoots []string) *ValidationReport {
	report := &ValidationReport{}

	for _, root := range watchRoots {
		if root == "" {
			continue
		}
		res := validateSinglePath(root, false)
		if res.Accessible && res.VideoCount == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Path contains no video files: %s", root))
		}
		report.Results = append(report.Results, res)
	}

	for _, root := range targetRoots {
		if root == "" {
			continue
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			report.Results = append(report.Results, PathValidationResult{Path: root, Error: err})
			continue
		}
		report.Results = append(report.Results, validateSinglePath(root, true))
	}

	return report
}

func validateSinglePath(path string, requireWritable bool) PathValidationResult {
	result := PathValidationResult{Path: path}

	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		result.Error = fmt.Errorf("failed to resolve symlinks: %w", err)
		return result
	}

	info, err := os.Stat(realPath)
	if err != nil {
		result.Error = err
		return result
	}
	if !info.IsDir() {
		result.Error = fmt.Errorf("path is not a directory")
		return result
	}

	result.Readable = checkReadable(realPath)
	if !result.Readable {
		result.Error = fmt.Errorf("path is not readable")
		return result
	}

	if requireWritable {
		result.Writable = checkWritable(realPath)
		if !result.Writable {
			result.Error = fmt.Errorf("path is not writable")
			return result
		}
	} else {
		result.VideoCount = quickCountVideos(realPath)
	}

	result.Accessible = true
	return result
}

func checkReadable(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	_, err = file.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}

func checkWritable(path string) bool {
	file, err := os.CreateTemp(path, ".cinelink_write_test")
	if err != nil {
		return false
	}
	name := file.Name()
	file.Close()
	os.Remove(name)
	return true
}

func quickCountVideos(path string) int {
	count := 0
	const maxCount = 10

	filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || count >= maxCount {
			return filepath.SkipAll
		}
		if !info.IsDir() && IsVideoFile(p) {
			count++
		}
		return nil
	})

	return count
}

// WithinRoot reports whether path lies inside root once both are cleaned
func WithinRoot(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
