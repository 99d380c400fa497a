package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Event is a creation notification for a path under a watched root
type Event struct {
	Path  string
	IsDir bool
}

// Watcher turns fsnotify create events for a set of roots into Events.
// Directories created under a root are watched too, and files already inside
// a directory that was moved in are reported as if they had just appeared.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	logger zerolog.Logger
}

// NewWatcher watches every directory under roots
func NewWatcher(logger zerolog.Logger, roots ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan Event, 64),
		logger: logger,
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		if err := w.addTree(context.Background(), root, false); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Events is closed when Run returns
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run forwards events until ctx is cancelled or the watcher fails
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			w.handleCreate(ctx, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleCreate(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", path).Msg("created path vanished")
		return
	}

	if !info.IsDir() {
		w.emit(ctx, Event{Path: path})
		return
	}

	w.emit(ctx, Event{Path: path, IsDir: true})
	if err := w.addTree(ctx, path, true); err != nil {
		w.logger.Warn().Err(err).Str("dir", path).Msg("failed to watch new directory")
	}
}

// addTree watches root and every directory below it. With report set, files
// found along the way are emitted.
func (w *Watcher) addTree(ctx context.Context, root string, report bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			w.logger.Debug().Str("dir", path).Msg("watching")
			return nil
		}
		if report {
			w.emit(ctx, Event{Path: path})
		}
		return nil
	})
}

func (w *Watcher) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// Close stops the underlying fsnotify watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
