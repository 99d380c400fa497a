package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/logging"
	"github.com/Nomadcxx/cinelink/internal/ui"
)

var (
	cfgFile  string
	logLevel string
	verbose  int

	// Version information (set via -ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// closeLog releases the log file sink opened by setupLogging
var closeLog = func() error { return nil }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cinelink",
		Short:         "Keep a tidy symlink library in sync with your download pools",
		Long:          longDescription(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), "")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = closeLog()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if isatty.IsTerminal(os.Stdout.Fd()) {
				return runMenu(cmd, args)
			}
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/cinelink/config.toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(
		newScanCmd(),
		newWatchCmd(),
		newMenuCmd(),
		newConfigCmd(),
		newLedgerCmd(),
		newPruneCmd(),
		newServiceCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func longDescription() string {
	return ui.FormatASCIIHeader() + "\n\n" +
		"cinelink watches download pools and links every movie and episode into\n" +
		"a cleanly named library tree, looking up titles on TMDB when it can."
}

// setupLogging configures the global logger from the flags. file is passed
// to logging.Setup as the extra sink.
func setupLogging(out io.Writer, file string) error {
	level, err := logging.ParseLevel(logLevel, verbose)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(logging.Options{Level: level, File: file, Out: out})
	if err != nil {
		return err
	}
	_ = closeLog()
	closeLog = closer
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Open the interactive menu",
		RunE:  runMenu,
	}
}

func runMenu(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	// the TUI owns the terminal, so logs go to the file only
	if err := setupLogging(io.Discard, "default"); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(ui.NewMenuModel(ctx, menuActions(cfg)), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("menu: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the configuration file location and contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = config.ConfigPath(); err != nil {
					return err
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration file: %s\n\n", path)

			shown := *cfg
			if shown.TMDB.APIKey != "" {
				shown.TMDB.APIKey = "********"
			}
			if err := toml.NewEncoder(out).Encode(shown); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if os.Getenv(config.APIKeyEnv) != "" {
				fmt.Fprintf(out, "\n%s is set and overrides tmdb.api_key\n", config.APIKeyEnv)
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out, "\n"+ui.FormatStatusWarn(err.Error()))
			}
			return nil
		},
	}

	setRoots := func(use, short string, set func(*config.Config, string, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <watch-dir> <target-dir>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if err := set(cfg, args[0], args[1]); err != nil {
					return err
				}
				if cfgFile != "" {
					err = config.SaveTo(cfg, cfgFile)
				} else {
					err = config.Save(cfg)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.FormatStatusOK(fmt.Sprintf("%s roots saved", use)))
				return nil
			},
		}
	}

	cmd.AddCommand(
		setRoots("movies", "Set the movie watch and target directories", (*config.Config).SetMovieRoots),
		setRoots("tv", "Set the TV watch and target directories", (*config.Config).SetTVRoots),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cinelink %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Built:      %s\n", buildTime)
		},
	}
}
