// Package library decides where a parsed media file lives in the target trees.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nomadcxx/cinelink/internal/metadata"
	"github.com/Nomadcxx/cinelink/internal/scanner"
)

const (
	DefaultRecentBucket = "Latest"
	UncategorizedBucket = "Uncategorized"
	UnknownEpisodeTitle = "Unknown Title"
)

// ErrAlreadySynced means the target already holds this item
var ErrAlreadySynced = errors.New("already synced")

var (
	tmdbTagRegex    = regexp.MustCompile(`\{tmdb-(\d+)\}`)
	dirYearRegex    = regexp.MustCompile(`\((\d{4})\)`)
	dirCounterRegex = regexp.MustCompile(`\s\((\d{1,3})\)$`)

	nameReplacer = strings.NewReplacer(
		"/", "-", "\\", "-", ":", " -", "?", "", "*", "", "\"", "", "<", "", ">", "", "|", "",
	)
)

// Config configures a Policy
type Config struct {
	MoviesRoot   string
	SeriesRoot   string
	RecentBucket string
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Policy maps descriptors to target paths. Series directory selection is
// serialized so one normalized key never yields two directories.
type Policy struct {
	moviesRoot   string
	seriesRoot   string
	recentBucket string
	now          func() time.Time
	logger       zerolog.Logger

	mu sync.Mutex
	// series directory names handed out but possibly not created yet,
	// with the number of placements still holding them
	planned map[string]int
}

// New creates a Policy
func New(cfg Config) *Policy {
	p := &Policy{
		moviesRoot:   cfg.MoviesRoot,
		seriesRoot:   cfg.SeriesRoot,
		recentBucket: strings.TrimSpace(cfg.RecentBucket),
		now:          cfg.Now,
		logger:       cfg.Logger,
		planned:      make(map[string]int),
	}
	if p.recentBucket == "" {
		p.recentBucket = DefaultRecentBucket
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// MoviePlacement is the target of one movie file
type MoviePlacement struct {
	Bucket string
	Dir    string
	Link   string
}

// Dirs lists the directories the placement needs
func (mp MoviePlacement) Dirs() []string { return []string{mp.Dir} }

// EpisodePlacement is the target of one episode file
type EpisodePlacement struct {
	SeriesDir string
	SeasonDir string
	Link      string
}

func (ep EpisodePlacement) Dirs() []string { return []string{ep.SeasonDir} }

// PlaceMovie returns <root>/<bucket>/Title (Year) {tmdb-ID}/Title.ext
func (p *Policy) PlaceMovie(source string, d scanner.Descriptor, m metadata.Match, genres []string) (MoviePlacement, error) {
	title := sanitizeName(d.Title)
	if title == "" {
		return MoviePlacement{}, fmt.Errorf("%w: empty title", scanner.ErrMissingTitle)
	}

	year := d.Year
	if year == 0 && m.Found() {
		year = m.Year
	}

	bucket := p.bucket(year, genres)
	dir := filepath.Join(p.moviesRoot, bucket, FormatDirName(title, year, m.ID))

	placement := MoviePlacement{
		Bucket: bucket,
		Dir:    dir,
		Link:   filepath.Join(dir, title+filepath.Ext(source)),
	}

	if !dirIsEmpty(dir) {
		return placement, fmt.Errorf("%w: %s", ErrAlreadySynced, dir)
	}
	return placement, nil
}

func (p *Policy) bucket(year int, genres []string) string {
	if year != 0 && year == p.now().Year() {
		return p.recentBucket
	}
	for _, g := range genres {
		if g = sanitizeName(g); g != "" {
			return g
		}
	}
	return UncategorizedBucket
}

// PlaceEpisode returns <root>/<series dir>/Season NN/Series - sNNeNN - Title.ext
func (p *Policy) PlaceEpisode(source string, d scanner.Descriptor, m metadata.Match, episodeTitle string) (EpisodePlacement, error) {
	title := sanitizeName(d.Title)
	if title == "" {
		return EpisodePlacement{}, fmt.Errorf("%w: empty title", scanner.ErrMissingTitle)
	}
	if !d.Season.IsSet() || !d.Episode.IsSet() {
		return EpisodePlacement{}, fmt.Errorf("%w: %s has no season/episode", scanner.ErrMissingFields, title)
	}

	if d.Season.IsAmbiguous() || d.Episode.IsAmbiguous() {
		p.logger.Info().
			Str("source", source).
			Str("season", d.Season.String()).
			Str("episode", d.Episode.String()).
			Msg("multi-part numbering, using first value")
	}
	season, episode := d.Season.First(), d.Episode.First()

	year := d.Year
	if year == 0 && m.Found() {
		year = m.Year
	}

	seriesDir, err := p.seriesDir(title, year, m.ID)
	if err != nil {
		return EpisodePlacement{}, err
	}
	seasonDir := filepath.Join(seriesDir, fmt.Sprintf("Season %02d", season))

	episodeTitle = sanitizeName(episodeTitle)
	if episodeTitle == "" {
		episodeTitle = UnknownEpisodeTitle
	}
	linkName := fmt.Sprintf("%s - s%02de%02d - %s%s", title, season, episode, episodeTitle, filepath.Ext(source))

	placement := EpisodePlacement{
		SeriesDir: seriesDir,
		SeasonDir: seasonDir,
		Link:      filepath.Join(seasonDir, linkName),
	}

	if existing, ok := findSimilarEntry(seasonDir, linkName); ok {
		return placement, fmt.Errorf("%w: %s", ErrAlreadySynced, existing)
	}
	return placement, nil
}

// seriesDir picks the directory for a series: an existing one with the same
// identity, or a new name that no other series already normalizes to.
func (p *Policy) seriesDir(title string, year int, id int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	desired := FormatDirName(title, year, id)
	want := parseDirName(desired)

	names, err := p.seriesDirNames()
	if err != nil {
		return "", err
	}

	for _, name := range names {
		if name == desired {
			return p.claim(name), nil
		}
	}

	used := make(map[int]bool)
	for _, name := range names {
		got := parseDirName(name)
		if got.key != want.key {
			continue
		}
		if got.sameSeries(want) {
			return p.claim(name), nil
		}
		used[got.n] = true
	}

	if len(used) == 0 {
		return p.claim(desired), nil
	}

	n := 2
	for used[n] {
		n++
	}
	candidate := fmt.Sprintf("%s (%d)", desired, n)
	p.logger.Warn().
		Str("series", title).
		Str("dir", candidate).
		Msg("series directory collides with a different series, disambiguating")
	return p.claim(candidate), nil
}

func (p *Policy) claim(name string) string {
	p.planned[name]++
	return filepath.Join(p.seriesRoot, name)
}

// Release ends the claims a placement made on its series directory. Callers
// release every placement once its link attempt is over.
func (p *Policy) Release(dirs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, dir := range dirs {
		rel, err := filepath.Rel(p.seriesRoot, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		name := strings.Split(rel, string(filepath.Separator))[0]
		if p.planned[name] <= 1 {
			delete(p.planned, name)
			continue
		}
		p.planned[name]--
	}
}

func (p *Policy) seriesDirNames() ([]string, error) {
	seen := make(map[string]bool, len(p.planned))
	var names []string

	entries, err := os.ReadDir(p.seriesRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list series root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !seen[e.Name()] {
			seen[e.Name()] = true
			names = append(names, e.Name())
		}
	}
	for name := range p.planned {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ensure creates dirs and returns the ones that did not exist before,
// outermost first.
func Ensure(dirs ...string) ([]string, error) {
	var created []string
	for _, dir := range dirs {
		missing := missingAncestors(dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return created, fmt.Errorf("create %s: %w", dir, err)
		}
		created = append(created, missing...)
	}
	return created, nil
}

func missingAncestors(dir string) []string {
	var missing []string
	for cur := filepath.Clean(dir); ; {
		if _, err := os.Lstat(cur); err == nil {
			break
		}
		missing = append([]string{cur}, missing...)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return missing
}

// FormatDirName builds "Title (Year) {tmdb-ID}", omitting absent fragments
func FormatDirName(title string, year int, id int64) string {
	name := title
	if year > 0 {
		name += fmt.Sprintf(" (%d)", year)
	}
	if id > 0 {
		name += fmt.Sprintf(" {tmdb-%d}", id)
	}
	return name
}

type dirName struct {
	key  string
	year int
	id   int64
	n    int
}

// sameSeries requires equal ids. Once the id is known a missing year is
// treated as unknown, without one the years must agree.
func (a dirName) sameSeries(b dirName) bool {
	if a.key != b.key || a.id != b.id {
		return false
	}
	if a.id != 0 && (a.year == 0 || b.year == 0) {
		return true
	}
	return a.year == b.year
}

// parseDirName splits a series directory name into its comparison key, year
// TMDB id and " (n)" counter.
func parseDirName(name string) dirName {
	var d dirName

	if m := tmdbTagRegex.FindStringSubmatch(name); m != nil {
		d.id, _ = strconv.ParseInt(m[1], 10, 64)
		name = tmdbTagRegex.ReplaceAllString(name, "")
	}
	name = strings.TrimSpace(name)
	if m := dirCounterRegex.FindStringSubmatch(name); m != nil {
		d.n, _ = strconv.Atoi(m[1])
		name = dirCounterRegex.ReplaceAllString(name, "")
	}
	if m := dirYearRegex.FindStringSubmatch(name); m != nil {
		d.year, _ = strconv.Atoi(m[1])
		name = dirYearRegex.ReplaceAllString(name, "")
	}

	d.key = normalizeDirName(name)
	return d
}

// normalizeDirName is the case, accent and punctuation insensitive form of a
// directory or file name.
func normalizeDirName(name string) string {
	return scanner.NormalizeKey(name)
}

// findSimilarEntry looks for an entry in dir whose normalized name matches
// linkName.
func findSimilarEntry(dir, linkName string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	want := normalizeDirName(strings.TrimSuffix(linkName, filepath.Ext(linkName)))
	for _, e := range entries {
		name := e.Name()
		if normalizeDirName(strings.TrimSuffix(name, filepath.Ext(name))) == want {
			return filepath.Join(dir, name), true
		}
	}
	return "", false
}

func dirIsEmpty(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return true
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	return err != nil
}

func sanitizeName(name string) string {
	name = nameReplacer.Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
