package scanner

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind distinguishes movie items from series-episode items
type Kind int

const (
	KindUnknown Kind = iota
	KindMovie
	KindEpisode
)

func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindEpisode:
		return "episode"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used on the command line and in the ledger
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return KindMovie, nil
	case "episode", "episodes", "series", "tv":
		return KindEpisode, nil
	default:
		return KindUnknown, fmt.Errorf("unknown media kind: %q", s)
	}
}

// SourceFile is a discovered file plus the kind implied by its watched root
type SourceFile struct {
	Path string
	Kind Kind
}

var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true,
	".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true, ".m2ts": true, ".ts": true,
}

// IsVideoExt reports whether ext (with leading dot) is a known video container
func IsVideoExt(ext string) bool {
	return videoExts[strings.ToLower(ext)]
}

// IsVideoFile checks the extension of path
func IsVideoFile(path string) bool {
	return IsVideoExt(filepath.Ext(path))
}

// DefaultExtrasMarkers lists words that mark bonus content rather than the
// feature itself.
var DefaultExtrasMarkers = []string{
	"sample",
	"trailer",
	"extras",
	"deleted scene",
	"deleted scenes",
	"behind the scenes",
	"making of",
	"interview",
	"featurette",
	"featurettes",
	"bonus",
}

// IsExtra reports whether path is bonus content: the file name ends with one
// of markers, with or without trailing release tags, or the parent directory
// is named after one (Extras, Featurettes, Samples).
func IsExtra(path string, markers []string) bool {
	if len(markers) == 0 {
		markers = DefaultExtrasMarkers
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	names := []string{NormalizeKey(base), NormalizeKey(Normalize(base))}
	parent := NormalizeKey(filepath.Base(filepath.Dir(path)))

	for _, marker := range markers {
		marker = NormalizeKey(marker)
		if marker == "" {
			continue
		}
		if parent == marker || parent == marker+"s" {
			return true
		}
		for _, name := range names {
			if name == marker || strings.HasSuffix(name, " "+marker) {
				return true
			}
		}
	}
	return false
}
