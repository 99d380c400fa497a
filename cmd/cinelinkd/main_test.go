package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
)

func TestRunRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[sync\nworkers = "), 0644); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), options{configPath: path, lockPath: filepath.Join(dir, "d.lock")})
	if err == nil {
		t.Fatal("expected an error for malformed config")
	}
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	err := run(context.Background(), options{configPath: path, logLevel: "chatty"})
	if err == nil {
		t.Fatal("expected an error for unknown log level")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("CINELINK_TMDB_API_KEY", "")
	xdg.Reload()

	watch := filepath.Join(dir, "pool")
	if err := os.MkdirAll(watch, 0755); err != nil {
		t.Fatal(err)
	}
	cfg := "[libraries.movies]\nwatch_dir = \"" + watch + "\"\ntarget_dir = \"" + filepath.Join(dir, "library") + "\"\n\n" +
		"[sync]\nledger_path = \"" + filepath.Join(dir, "ledger.db") + "\"\n"
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{configPath: path, lockPath: filepath.Join(dir, "d.lock")})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}
