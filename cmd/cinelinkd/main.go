package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/daemon"
	"github.com/Nomadcxx/cinelink/internal/logging"
)

var version = "dev"

type options struct {
	configPath string
	logLevel   string
	logFile    string
	lockPath   string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "cinelinkd",
		Short:         "cinelink background service: initial scan, then watch",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/cinelink/config.toml)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides daemon.log_level")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file, overrides daemon.log_file (\"default\" for the XDG state dir)")
	cmd.Flags().StringVar(&opts.lockPath, "lock", "", "single-instance lock file (default is $XDG_RUNTIME_DIR/cinelink/cinelinkd.lock)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cinelinkd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	load := func() (*config.Config, error) {
		if opts.configPath != "" {
			return config.LoadFrom(opts.configPath)
		}
		return config.Load()
	}

	cfg, err := load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	levelName := opts.logLevel
	if levelName == "" {
		levelName = cfg.Daemon.LogLevel
	}
	level, err := logging.ParseLevel(levelName, 0)
	if err != nil {
		return err
	}
	logFile := opts.logFile
	if logFile == "" {
		logFile = cfg.Daemon.LogFile
	}
	closeLog, err := logging.Setup(logging.Options{Level: level, File: logFile})
	if err != nil {
		return err
	}
	defer closeLog()

	logger := logging.GetLogger("daemon")
	logger.Info().Str("version", version).Msg("cinelinkd starting")

	d, err := daemon.New(load, daemon.Options{LockPath: opts.lockPath, Logger: logger})
	if err != nil {
		return err
	}
	if d.IsHeadless() {
		logger.Debug().Msg("no display, desktop notifications disabled")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reload := make(chan struct{})
	go func() {
		for {
			select {
			case <-hup:
				logger.Info().Msg("received SIGHUP")
				select {
				case reload <- struct{}{}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	err = d.Run(ctx, reload)
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		logger.Error().Err(err).Msg("refusing to start")
	}
	return err
}
