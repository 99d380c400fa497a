package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/daemon"
	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/logging"
	"github.com/Nomadcxx/cinelink/internal/reporter"
	"github.com/Nomadcxx/cinelink/internal/scanner"
	"github.com/Nomadcxx/cinelink/internal/syncer"
	"github.com/Nomadcxx/cinelink/internal/ui"
)

func newScanCmd() *cobra.Command {
	var noReport bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Link every unsynced file in the watch directories once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			progress := make(chan scanner.ScanProgress, 16)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				printProgress(cmd.ErrOrStderr(), progress)
			}()

			report, runErr := scanOnce(ctx, cfg, progress, !noReport)
			close(progress)
			wg.Wait()

			if report.RunID == "" {
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			reporter.WriteSummaryTable(out, report.Report)
			if report.ReportPath != "" {
				fmt.Fprintln(out, ui.FormatStatusInfo("Report saved to "+report.ReportPath))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noReport, "no-report", false, "do not save a report file")
	return cmd
}

// scanResult is a report plus where it was saved
type scanResult struct {
	reporter.Report
	ReportPath string
}

// scanOnce assembles a pipeline for cfg and runs one scan. The report is
// returned even when the scan stopped early.
func scanOnce(ctx context.Context, cfg *config.Config, progress chan<- scanner.ScanProgress, save bool) (scanResult, error) {
	logger := logging.GetLogger("scan")

	p, err := daemon.Assemble(ctx, cfg, daemon.AssembleOptions{Exclusive: true, Logger: logger})
	if err != nil {
		return scanResult{}, err
	}
	defer p.Close()

	summary, runErr := p.Syncer.Scan(ctx, progress)
	if summary == nil {
		return scanResult{}, runErr
	}

	res := scanResult{Report: reporter.FromSummary(summary, cfg.WatchDirs())}
	if save {
		_, jsonPath, err := reporter.Generate(res.Report)
		if err != nil {
			logger.Error().Err(err).Msg("failed to save report")
		} else {
			res.ReportPath = jsonPath
		}
	}
	return res, runErr
}

// printProgress renders progress on one line when w is a terminal and
// stays quiet otherwise
func printProgress(w io.Writer, progress <-chan scanner.ScanProgress) {
	f, ok := w.(*os.File)
	tty := ok && isatty.IsTerminal(f.Fd())

	for p := range progress {
		if !tty {
			continue
		}
		fmt.Fprintf(w, "\r\033[K%5.1f%%  %d/%d  linked %d  skipped %d  failed %d  %s",
			p.Percentage, p.Current, p.Total, p.Linked, p.Skipped, p.Failed, p.Message)
	}
	if tty {
		fmt.Fprintln(w)
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Link files as they appear in the watch directories",
		Long: "watch links new files as they are created or moved into the watch\n" +
			"directories. It does not scan existing files; run scan first or use cinelinkd.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return runWatch(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func runWatch(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logger := logging.GetLogger("watch")

	dir, err := reporter.ReportDir()
	if err != nil {
		return err
	}
	journal, err := reporter.NewJournal(dir, "", "watch")
	if err != nil {
		return err
	}
	defer func() {
		_ = journal.Finalize()
		_ = journal.Close()
	}()

	p, err := daemon.Assemble(ctx, cfg, daemon.AssembleOptions{
		Exclusive: true,
		Logger:    logger,
		OnResult: func(res syncer.Result) {
			journal.Record(res)
			switch {
			case res.Err != nil:
				fmt.Fprintln(out, ui.FormatStatusFail(fmt.Sprintf("%s: %v", filepath.Base(res.Source.Path), res.Err)))
			case res.Outcome == syncer.OutcomeLinked:
				fmt.Fprintln(out, ui.FormatStatusOK(res.Link))
			}
		},
	})
	if err != nil {
		return err
	}
	defer p.Close()

	watcher, err := syncer.NewWatcher(logger, cfg.WatchDirs()...)
	if err != nil {
		return err
	}
	defer watcher.Close()

	watchCtx, stopWatcher := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(watchCtx); err != nil {
			logger.Error().Err(err).Msg("watcher stopped")
		}
	}()

	fmt.Fprintln(out, ui.FormatStatusInfo("Watching "+fmt.Sprint(cfg.WatchDirs())+", journal "+journal.Path()))
	err = p.Syncer.Watch(ctx, watcher.Events())
	stopWatcher()
	wg.Wait()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// menuActions binds the menu entries to cfg
func menuActions(cfg *config.Config) ui.Actions {
	return ui.Actions{
		Scan: func(ctx context.Context, progress chan<- scanner.ScanProgress) (reporter.Report, error) {
			res, err := scanOnce(ctx, cfg, progress, true)
			if res.RunID == "" {
				return reporter.Report{}, err
			}
			// failed files are shown in the report rather than as an error
			var se *syncer.SyncError
			if errors.As(err, &se) {
				err = nil
			}
			return res.Report, err
		},
		LastReport: func() (reporter.Report, error) {
			dir, err := reporter.ReportDir()
			if err != nil {
				return reporter.Report{}, err
			}
			return reporter.Latest(dir)
		},
		LedgerStats: func(ctx context.Context) (map[string]int, error) {
			return ledgerCounts(ctx, cfg)
		},
		InstallService: func() (string, error) {
			opts, err := defaultServiceOptions("")
			if err != nil {
				return "", err
			}
			if err := daemon.InstallSystemdService(opts, daemon.DefaultUnitPath); err != nil {
				return "", err
			}
			return daemon.DefaultUnitPath, nil
		},
	}
}

func ledgerCounts(ctx context.Context, cfg *config.Config) (map[string]int, error) {
	store, err := openLedger(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	counts := make(map[string]int)
	for _, kind := range ledger.Kinds() {
		n, err := store.Count(ctx, kind)
		if err != nil {
			return nil, err
		}
		counts[kind.String()] = n
	}
	return counts, nil
}
