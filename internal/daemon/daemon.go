// Package daemon runs cinelink as a long-lived service: an initial scan
// followed by watching the pools, with config reloads on request.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/reporter"
	"github.com/Nomadcxx/cinelink/internal/syncer"
)

const reportRetention = 30 * 24 * time.Hour

// ErrAlreadyRunning is returned when another daemon holds the lock
var ErrAlreadyRunning = errors.New("another cinelinkd instance is already running")

// Daemon is the background service
type Daemon struct {
	load      func() (*config.Config, error)
	logger    zerolog.Logger
	lockPath  string
	reportDir string

	headlessMode bool
}

// Options configures a Daemon. Zero values use the XDG defaults.
type Options struct {
	LockPath  string
	ReportDir string
	Logger    zerolog.Logger
}

// New creates a daemon that loads its config with load, initially and on
// every reload.
func New(load func() (*config.Config, error), opts Options) (*Daemon, error) {
	d := &Daemon{
		load:         load,
		logger:       opts.Logger,
		lockPath:     opts.LockPath,
		reportDir:    opts.ReportDir,
		headlessMode: detectHeadlessMode(),
	}

	if d.lockPath == "" {
		path, err := xdg.RuntimeFile(filepath.Join("cinelink", "cinelinkd.lock"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve lock path: %w", err)
		}
		d.lockPath = path
	}
	if d.reportDir == "" {
		dir, err := reporter.ReportDir()
		if err != nil {
			return nil, err
		}
		d.reportDir = dir
	}
	return d, nil
}

// detectHeadlessMode checks if running in a headless environment (no display available)
func detectHeadlessMode() bool {
	return os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
}

// IsHeadless returns whether the daemon is running in headless mode
func (d *Daemon) IsHeadless() bool {
	return d.headlessMode
}

// Run holds the single-instance lock and runs cycles until ctx is done. A
// value on reload ends the current cycle and starts a new one with freshly
// loaded config. If the reloaded config is invalid the previous one is kept.
func (d *Daemon) Run(ctx context.Context, reload <-chan struct{}) error {
	lock := flock.New(d.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, d.lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to release daemon lock")
		}
	}()

	cfg, err := d.loadValid()
	if err != nil {
		return err
	}
	d.logger.Info().Str("lock", d.lockPath).Msg("cinelinkd started")

	for {
		cycleCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- d.cycle(cycleCtx, cfg) }()

		select {
		case err := <-done:
			cancel()
			if ctx.Err() != nil {
				d.logger.Info().Msg("cinelinkd stopped")
				return nil
			}
			return err

		case <-reload:
			d.logger.Info().Msg("reloading configuration")
			cancel()
			if err := <-done; err != nil {
				d.logger.Error().Err(err).Msg("cycle ended with error during reload")
			}
			next, err := d.loadValid()
			if err != nil {
				d.logger.Error().Err(err).Msg("new configuration invalid, keeping previous")
				continue
			}
			cfg = next
		}
	}
}

func (d *Daemon) loadValid() (*config.Config, error) {
	cfg, err := d.load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// cycle validates the ledger, scans every pool once and then watches until
// ctx is cancelled. The watcher is registered before the scan so files that
// arrive during it are not missed.
func (d *Daemon) cycle(ctx context.Context, cfg *config.Config) error {
	if n, err := CleanupOldReports(d.reportDir, reportRetention); err == nil && n > 0 {
		d.logger.Info().Int("deleted", n).Msg("cleaned up old reports")
	}

	journal, err := reporter.NewJournal(d.reportDir, "", "daemon")
	if err != nil {
		d.logger.Warn().Err(err).Msg("journal unavailable")
	}
	var onResult func(syncer.Result)
	if journal != nil {
		onResult = journal.Record
		defer func() {
			_ = journal.Finalize()
			_ = journal.Close()
		}()
	}

	p, err := Assemble(ctx, cfg, AssembleOptions{Exclusive: true, Logger: d.logger, OnResult: onResult})
	if err != nil {
		return err
	}
	defer p.Close()

	watcher, err := syncer.NewWatcher(d.logger.With().Str("component", "watcher").Logger(), cfg.WatchDirs()...)
	if err != nil {
		return err
	}
	defer watcher.Close()

	summary, err := p.Syncer.Scan(ctx, nil)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	if summary != nil && cfg.Daemon.ReportOnComplete && ctx.Err() == nil {
		d.saveReport(summary, cfg.WatchDirs())
	}

	watchCtx, stopWatcher := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(watchCtx); err != nil {
			d.logger.Error().Err(err).Msg("watcher stopped")
		}
	}()

	err = p.Syncer.Watch(ctx, watcher.Events())
	stopWatcher()
	wg.Wait()
	return err
}

func (d *Daemon) saveReport(summary *syncer.Summary, watchDirs []string) {
	report := reporter.FromSummary(summary, watchDirs)
	textPath, jsonPath, err := reporter.GenerateIn(d.reportDir, report)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to save report")
		return
	}
	d.logger.Info().
		Str("text", textPath).
		Str("json", jsonPath).
		Int("linked", report.Counts["linked"]).
		Int("failed", len(report.Failures)).
		Msg("scan report saved")

	if !d.headlessMode {
		if err := NotifyUser(report); err != nil {
			d.logger.Debug().Err(err).Msg("desktop notification skipped")
		}
	}
}

// CleanupOldReports removes reports in dir older than maxAge
func CleanupOldReports(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}

	return deleted, nil
}
