package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sync.ErrorPolicy != "continue" {
		t.Errorf("expected error policy 'continue', got '%s'", cfg.Sync.ErrorPolicy)
	}

	if cfg.Sync.RecentBucket != "Latest" {
		t.Errorf("expected recent bucket 'Latest', got '%s'", cfg.Sync.RecentBucket)
	}

	if !cfg.Daemon.ReportOnComplete {
		t.Error("expected ReportOnComplete to be true")
	}

	if cfg.Libraries.Movies.Configured() || cfg.Libraries.TV.Configured() {
		t.Error("expected no libraries configured by default")
	}
}

func TestSetMovieRoots(t *testing.T) {
	cfg := DefaultConfig()
	tmpDir := t.TempDir()
	watch := filepath.Join(tmpDir, "pool")
	target := filepath.Join(tmpDir, "library")
	os.MkdirAll(watch, 0755)

	if err := cfg.SetMovieRoots(watch, target); err != nil {
		t.Fatalf("failed to set movie roots: %v", err)
	}

	if cfg.Libraries.Movies.WatchDir != watch || cfg.Libraries.Movies.TargetDir != target {
		t.Errorf("unexpected movie library: %+v", cfg.Libraries.Movies)
	}

	// Target may not exist yet, watch must
	if err := cfg.SetMovieRoots("/nonexistent/path", target); err == nil {
		t.Error("expected error for non-existent watch dir")
	}

	if err := cfg.SetMovieRoots(watch, watch); err == nil {
		t.Error("expected error when watch and target are the same")
	}

	if err := cfg.SetMovieRoots(filepath.Join(target, "in"), target); err == nil {
		t.Error("expected error when watch dir is inside target dir")
	}
}

func TestSetTVRoots(t *testing.T) {
	cfg := DefaultConfig()
	tmpDir := t.TempDir()

	if err := cfg.SetTVRoots(tmpDir, filepath.Join(tmpDir+"-library")); err != nil {
		t.Fatalf("failed to set TV roots: %v", err)
	}

	if cfg.Libraries.TV.WatchDir != tmpDir {
		t.Errorf("expected watch dir %s, got %s", tmpDir, cfg.Libraries.TV.WatchDir)
	}
}

func TestValidate(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"no libraries", func(c *Config) {}, true},
		{"valid", func(c *Config) {}, false},
		{"half configured", func(c *Config) { c.Libraries.TV.WatchDir = tmpDir }, true},
		{"bad policy", func(c *Config) { c.Sync.ErrorPolicy = "explode" }, true},
		{"fail-fast", func(c *Config) { c.Sync.ErrorPolicy = "fail-fast" }, false},
		{"negative workers", func(c *Config) { c.Sync.Workers = -1 }, true},
		{"bad timeout", func(c *Config) { c.TMDB.Timeout = "soon" }, true},
		{"bad log level", func(c *Config) { c.Daemon.LogLevel = "loud" }, true},
		{"missing watch dir", func(c *Config) { c.Libraries.Movies.WatchDir = "/nonexistent" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.name != "no libraries" {
				cfg.Libraries.Movies = Library{WatchDir: tmpDir, TargetDir: tmpDir + "-library"}
			}
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cinelink", "config.toml")

	// First load creates the file with defaults
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}

	cfg.Libraries.Movies = Library{WatchDir: "/pool/movies", TargetDir: "/library/movies"}
	cfg.Sync.Workers = 3
	cfg.Sync.StrictLookup = true
	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if loaded.Libraries.Movies != cfg.Libraries.Movies {
		t.Errorf("movies = %+v, want %+v", loaded.Libraries.Movies, cfg.Libraries.Movies)
	}
	if loaded.Sync.Workers != 3 || !loaded.Sync.StrictLookup {
		t.Errorf("sync settings not round-tripped: %+v", loaded.Sync)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[libraries.tv]\nwatch_dir = \"/pool/tv\"\ntarget_dir = \"/library/tv\"\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Libraries.TV.TargetDir != "/library/tv" {
		t.Errorf("expected tv target from file, got %q", cfg.Libraries.TV.TargetDir)
	}
	if cfg.TMDB.Language != "en-US" || cfg.Sync.RecentBucket != "Latest" {
		t.Errorf("expected defaults for missing keys, got %+v %+v", cfg.TMDB, cfg.Sync)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[libraries\n"), 0644)

	if _, err := LoadFrom(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestAPIKeyEnvOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TMDB.APIKey = "from-file"

	t.Setenv(APIKeyEnv, "")
	if got := cfg.APIKey(); got != "from-file" {
		t.Errorf("APIKey() = %q, want from-file", got)
	}

	t.Setenv(APIKeyEnv, "from-env")
	if got := cfg.APIKey(); got != "from-env" {
		t.Errorf("APIKey() = %q, want from-env", got)
	}
}

func TestParsedSettings(t *testing.T) {
	cfg := DefaultConfig()

	timeout, err := cfg.LookupTimeout()
	if err != nil || timeout != 10*time.Second {
		t.Errorf("LookupTimeout() = %v, %v", timeout, err)
	}

	cfg.Daemon.LogLevel = "DEBUG"
	level, err := cfg.LogLevel()
	if err != nil || level != zerolog.DebugLevel {
		t.Errorf("LogLevel() = %v, %v", level, err)
	}

	cfg.Sync.LedgerPath = "/var/lib/cinelink/ledger.db"
	if path, _ := cfg.LedgerFile(); path != "/var/lib/cinelink/ledger.db" {
		t.Errorf("LedgerFile() = %q", path)
	}
}

func TestDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Libraries.Movies = Library{WatchDir: "/pool/movies", TargetDir: "/library/movies"}

	if dirs := cfg.WatchDirs(); len(dirs) != 1 || dirs[0] != "/pool/movies" {
		t.Errorf("WatchDirs() = %v", dirs)
	}
	if dirs := cfg.TargetDirs(); len(dirs) != 1 || dirs[0] != "/library/movies" {
		t.Errorf("TargetDirs() = %v", dirs)
	}
}

func TestLoadReleaseTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[sync]\nrelease_tags = [\"FraMeSToR\", \"HQ\"]\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if len(cfg.Sync.ReleaseTags) != 2 || cfg.Sync.ReleaseTags[0] != "FraMeSToR" || cfg.Sync.ReleaseTags[1] != "HQ" {
		t.Errorf("release tags = %v", cfg.Sync.ReleaseTags)
	}
	if len(cfg.Sync.ExtrasMarkers) == 0 {
		t.Error("expected default extras markers to survive")
	}
}
