package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
)

// APIKeyEnv overrides tmdb.api_key when set
const APIKeyEnv = "CINELINK_TMDB_API_KEY"

// Config holds all cinelink configuration
type Config struct {
	Libraries LibraryConfig `toml:"libraries"`
	TMDB      TMDBConfig    `toml:"tmdb"`
	Sync      SyncConfig    `toml:"sync"`
	Daemon    DaemonConfig  `toml:"daemon"`
}

// LibraryConfig pairs each watched pool with its library tree
type LibraryConfig struct {
	Movies Library `toml:"movies"`
	TV     Library `toml:"tv"`
}

// Library is one watched directory and the tree its links go into
type Library struct {
	WatchDir  string `toml:"watch_dir"`
	TargetDir string `toml:"target_dir"`
}

// Configured reports whether both directories are set
func (l Library) Configured() bool {
	return l.WatchDir != "" && l.TargetDir != ""
}

// TMDBConfig configures metadata lookups. An empty api key disables them.
type TMDBConfig struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
	Language string `toml:"language"`
	Timeout  string `toml:"timeout"`
}

// SyncConfig controls the pipeline
type SyncConfig struct {
	Workers       int      `toml:"workers"`      // 0 = one per CPU
	ErrorPolicy   string   `toml:"error_policy"` // continue, fail-fast
	StrictLookup  bool     `toml:"strict_lookup"`
	RecentBucket  string   `toml:"recent_bucket"`
	ExtrasMarkers []string `toml:"extras_markers"`
	ReleaseTags   []string `toml:"release_tags"` // stripped on top of the built-in tags
	LedgerPath    string   `toml:"ledger_path"`
}

// DaemonConfig holds daemon behavior settings
type DaemonConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	ReportOnComplete bool   `toml:"report_on_complete"` // save a report after the initial scan
}

var validErrorPolicies = map[string]bool{
	"continue":  true,
	"fail-fast": true,
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TMDB: TMDBConfig{
			BaseURL:  "https://api.themoviedb.org/3",
			Language: "en-US",
			Timeout:  "10s",
		},
		Sync: SyncConfig{
			ErrorPolicy:  "continue",
			RecentBucket: "Latest",
			ExtrasMarkers: []string{
				"sample", "trailer", "extras", "deleted scenes", "behind the scenes",
				"making of", "interview", "featurette", "bonus",
			},
		},
		Daemon: DaemonConfig{
			LogLevel:         "info",
			ReportOnComplete: true,
		},
	}
}

// ConfigPath returns the path to the config file, creating its directory
func ConfigPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("cinelink", "config.toml"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	return path, nil
}

// Load reads the default config file, creating it with defaults if it doesn't exist
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads path, creating it with defaults if it doesn't exist. Keys
// missing from the file keep their default values.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveTo(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the default path
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to path
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if !c.Libraries.Movies.Configured() && !c.Libraries.TV.Configured() {
		return fmt.Errorf("no libraries configured")
	}

	for name, lib := range map[string]Library{"movies": c.Libraries.Movies, "tv": c.Libraries.TV} {
		if lib.WatchDir == "" && lib.TargetDir == "" {
			continue
		}
		if !lib.Configured() {
			return fmt.Errorf("%s library needs both watch_dir and target_dir", name)
		}
		if err := checkRoots(lib.WatchDir, lib.TargetDir); err != nil {
			return fmt.Errorf("%s library: %w", name, err)
		}
	}

	if !validErrorPolicies[strings.ToLower(c.Sync.ErrorPolicy)] {
		return fmt.Errorf("invalid error policy: %s (must be continue or fail-fast)", c.Sync.ErrorPolicy)
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("workers must not be negative: %d", c.Sync.Workers)
	}
	if _, err := c.LookupTimeout(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func checkRoots(watch, target string) error {
	info, err := os.Stat(watch)
	if err != nil {
		return fmt.Errorf("watch_dir %s: %w", watch, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch_dir %s is not a directory", watch)
	}

	w, t := filepath.Clean(watch), filepath.Clean(target)
	if w == t {
		return fmt.Errorf("watch_dir and target_dir are the same: %s", w)
	}
	if rel, err := filepath.Rel(t, w); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("watch_dir %s is inside target_dir %s", w, t)
	}
	return nil
}

// SetMovieRoots sets the movie library directories
func (c *Config) SetMovieRoots(watch, target string) error {
	lib, err := newLibrary(watch, target)
	if err != nil {
		return err
	}
	c.Libraries.Movies = lib
	return nil
}

// SetTVRoots sets the series library directories
func (c *Config) SetTVRoots(watch, target string) error {
	lib, err := newLibrary(watch, target)
	if err != nil {
		return err
	}
	c.Libraries.TV = lib
	return nil
}

func newLibrary(watch, target string) (Library, error) {
	watch, err := filepath.Abs(watch)
	if err != nil {
		return Library{}, err
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return Library{}, err
	}
	if err := checkRoots(watch, target); err != nil {
		return Library{}, err
	}
	return Library{WatchDir: watch, TargetDir: target}, nil
}

// APIKey returns the TMDB api key, preferring the environment
func (c *Config) APIKey() string {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key
	}
	return c.TMDB.APIKey
}

// LookupTimeout parses tmdb.timeout; empty means 10s
func (c *Config) LookupTimeout() (time.Duration, error) {
	if c.TMDB.Timeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.TMDB.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid tmdb timeout: %q", c.TMDB.Timeout)
	}
	return d, nil
}

// LogLevel parses daemon.log_level; empty means info
func (c *Config) LogLevel() (zerolog.Level, error) {
	if c.Daemon.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(c.Daemon.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %q", c.Daemon.LogLevel)
	}
	return level, nil
}

// LedgerFile returns sync.ledger_path, defaulting to the xdg data dir
func (c *Config) LedgerFile() (string, error) {
	if c.Sync.LedgerPath != "" {
		return c.Sync.LedgerPath, nil
	}
	path, err := xdg.DataFile(filepath.Join("cinelink", "ledger.db"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve ledger path: %w", err)
	}
	return path, nil
}

// WatchDirs returns the configured watched directories
func (c *Config) WatchDirs() []string {
	var dirs []string
	for _, lib := range []Library{c.Libraries.Movies, c.Libraries.TV} {
		if lib.WatchDir != "" {
			dirs = append(dirs, lib.WatchDir)
		}
	}
	return dirs
}

// TargetDirs returns the configured library trees
func (c *Config) TargetDirs() []string {
	var dirs []string
	for _, lib := range []Library{c.Libraries.Movies, c.Libraries.TV} {
		if lib.TargetDir != "" {
			dirs = append(dirs, lib.TargetDir)
		}
	}
	return dirs
}
