// Package logging sets up the global zerolog logger for the CLI and daemon.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures Setup
type Options struct {
	Level zerolog.Level
	// File is an extra JSON sink. "default" means the xdg state dir.
	File string
	// Out defaults to stderr. Pretty console output is used when it is a terminal.
	Out io.Writer
}

// Setup configures the global logger. The returned function closes the file
// sink, if any.
func Setup(opts Options) (func() error, error) {
	zerolog.SetGlobalLevel(opts.Level)
	zerolog.DurationFieldUnit = time.Millisecond

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	closer := func() error { return nil }
	writers := []io.Writer{out}

	if opts.File != "" {
		path := opts.File
		if path == "default" {
			var err error
			if path, err = DefaultLogFile(); err != nil {
				return closer, err
			}
		}
		f, err := openLogFile(path)
		if err != nil {
			return closer, err
		}
		writers = append(writers, f)
		closer = f.Close
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if opts.Level <= zerolog.DebugLevel {
		log.Logger = log.Logger.With().Caller().Logger()
	}
	return closer, nil
}

// ParseLevel maps a name and a verbosity count to a level. Each -v lowers the
// level by one step from name.
func ParseLevel(name string, verbosity int) (zerolog.Level, error) {
	level := zerolog.InfoLevel
	if name != "" {
		var err error
		if level, err = zerolog.ParseLevel(name); err != nil {
			return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
		}
	}
	level -= zerolog.Level(verbosity)
	if level < zerolog.TraceLevel {
		level = zerolog.TraceLevel
	}
	return level, nil
}

// GetLogger returns a child of the global logger tagged with component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// DefaultLogFile is ~/.local/state/cinelink/cinelink.log or the XDG equivalent
func DefaultLogFile() (string, error) {
	path, err := xdg.StateFile(filepath.Join("cinelink", "cinelink.log"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve log path: %w", err)
	}
	return path, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
