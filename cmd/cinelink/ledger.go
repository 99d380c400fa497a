package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Nomadcxx/cinelink/internal/cleaner"
	"github.com/Nomadcxx/cinelink/internal/config"
	"github.com/Nomadcxx/cinelink/internal/daemon"
	"github.com/Nomadcxx/cinelink/internal/ledger"
	"github.com/Nomadcxx/cinelink/internal/scanner"
	"github.com/Nomadcxx/cinelink/internal/ui"
)

func openLedger(ctx context.Context, cfg *config.Config, exclusive bool) (*ledger.Store, error) {
	path, err := cfg.LedgerFile()
	if err != nil {
		return nil, err
	}
	var opts []ledger.Option
	if exclusive {
		opts = append(opts, ledger.Exclusive())
	}
	store, err := ledger.Open(ctx, path, opts...)
	if errors.Is(err, ledger.ErrLocked) {
		return nil, fmt.Errorf("%w (is cinelinkd running?)", err)
	}
	return store, err
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the record of created symlinks",
	}

	var kindName string
	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := ledger.Kinds()
			if kindName != "" {
				kind, err := scanner.ParseKind(kindName)
				if err != nil {
					return err
				}
				kinds = []scanner.Kind{kind}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer store.Close()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Kind", "Link", "Source", "Created"})

			total := 0
			for _, kind := range kinds {
				records, err := store.List(cmd.Context(), kind)
				if err != nil {
					return err
				}
				for _, rec := range records {
					t.AppendRow(table.Row{rec.Kind, rec.Link, rec.Source, rec.CreatedAt.Local().Format("2006-01-02 15:04")})
				}
				total += len(records)
			}
			t.AppendFooter(table.Row{"", "", "records", total})
			t.Render()
			return nil
		},
	}
	list.Flags().StringVar(&kindName, "kind", "", "only list one kind (movie or episode)")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Drop records whose symlink no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Validate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, kind := range ledger.Kinds() {
				fmt.Fprintln(out, ui.FormatStatusOK(fmt.Sprintf("%s: removed %d stale records", kind, removed[kind])))
			}
			return nil
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}

func newPruneCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove library symlinks whose source file is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			store, err := openLedger(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer store.Close()

			cleanCfg := cleaner.DefaultConfig()
			cleanCfg.DryRun = dryRun

			targets := []cleaner.Target{
				{Root: cfg.Libraries.Movies.TargetDir, Kind: scanner.KindMovie},
				{Root: cfg.Libraries.TV.TargetDir, Kind: scanner.KindEpisode},
			}
			result, err := cleaner.PruneDangling(cmd.Context(), targets, store, cleanCfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				for _, op := range result.Operations {
					fmt.Fprintf(out, "would remove %s -> %s\n", op.Path, op.Target)
				}
				fmt.Fprintln(out, ui.FormatStatusInfo(fmt.Sprintf("%d dangling links found (dry run)", result.LinksRemoved)))
			} else {
				fmt.Fprintln(out, ui.FormatStatusOK(fmt.Sprintf("removed %d links, %d records, %d empty directories",
					result.LinksRemoved, result.RecordsRemoved, result.DirsRemoved)))
			}
			for _, e := range result.Errors {
				fmt.Fprintln(out, ui.FormatStatusWarn(e.Error()))
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("prune finished with %d errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be removed without removing it")
	return cmd
}

// defaultServiceOptions locates cinelinkd next to this binary or on PATH
func defaultServiceOptions(binary string) (daemon.ServiceOptions, error) {
	if binary == "" {
		if self, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(self), "cinelinkd")
			if _, err := os.Stat(candidate); err == nil {
				binary = candidate
			}
		}
	}
	if binary == "" {
		path, err := exec.LookPath("cinelinkd")
		if err != nil {
			return daemon.ServiceOptions{}, fmt.Errorf("cinelinkd not found, pass --binary")
		}
		binary = path
	}
	abs, err := filepath.Abs(binary)
	if err != nil {
		return daemon.ServiceOptions{}, err
	}

	opts := daemon.ServiceOptions{BinaryPath: abs, LogLevel: logLevel}
	if cfgFile != "" {
		if opts.ConfigPath, err = filepath.Abs(cfgFile); err != nil {
			return daemon.ServiceOptions{}, err
		}
	}
	if user := os.Getenv("SUDO_USER"); user != "" {
		opts.User = user
	} else if os.Geteuid() != 0 {
		opts.User = os.Getenv("USER")
	}
	return opts, nil
}

func newServiceCmd() *cobra.Command {
	var binary, user, unitPath string

	options := func() (daemon.ServiceOptions, error) {
		opts, err := defaultServiceOptions(binary)
		if err != nil {
			return opts, err
		}
		if user != "" {
			opts.User = user
		}
		return opts, nil
	}

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Generate the systemd unit for cinelinkd",
	}
	cmd.PersistentFlags().StringVar(&binary, "binary", "", "path to cinelinkd (default: next to cinelink or on PATH)")
	cmd.PersistentFlags().StringVar(&user, "user", "", "user the service runs as")

	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the unit file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			unit, err := daemon.GenerateSystemdService(opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), unit)
			return nil
		},
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Write the unit file (usually needs root)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			if err := daemon.InstallSystemdService(opts, unitPath); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.FormatStatusOK("Service written to "+unitPath))
			if strings.HasPrefix(unitPath, "/etc/systemd/") {
				fmt.Fprintln(out, "Enable it with:\n  systemctl daemon-reload && systemctl enable --now cinelinkd")
			}
			return nil
		},
	}
	install.Flags().StringVar(&unitPath, "path", daemon.DefaultUnitPath, "where to write the unit")

	cmd.AddCommand(printCmd, install)
	return cmd
}
