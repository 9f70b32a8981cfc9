// Package watch re-runs a reconciliation whenever the declaration file or one
// of the directories it references changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay debounces bursts of file events into one run.
const DefaultDelay = 500 * time.Millisecond

// ApplyFunc performs one reconciliation pass.
type ApplyFunc func(ctx context.Context) error

// PathsFunc returns the files and directories to watch. It is called again
// after every run so newly referenced directories are picked up.
type PathsFunc func() ([]string, error)

// Watcher runs an ApplyFunc on start and after every change below its paths.
type Watcher struct {
	apply  ApplyFunc
	paths  PathsFunc
	delay  time.Duration
	logger zerolog.Logger

	watched map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) { w.delay = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// New creates a watcher.
func New(paths PathsFunc, apply ApplyFunc, opts ...Option) *Watcher {
	w := &Watcher{
		apply:   apply,
		paths:   paths,
		delay:   DefaultDelay,
		logger:  zerolog.Nop(),
		watched: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "watch").Logger()
	return w
}

// Run applies once, then again after each debounced change, until ctx is
// done. A failed run is logged and watching continues. Run returns nil when
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.sync(fsw); err != nil {
		return err
	}
	w.runOnce(ctx)

	// Re-arm the sync after each run so renamed or new directories are watched.
	if err := w.sync(fsw); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to refresh watched paths")
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Change detected")
			timer.Reset(w.delay)

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-timer.C:
			w.runOnce(ctx)
			if err := w.sync(fsw); err != nil {
				w.logger.Warn().Err(err).Msg("Failed to refresh watched paths")
			}
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	start := time.Now()
	if err := w.apply(ctx); err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Run failed")
		}
		return
	}
	w.logger.Info().Dur("duration", time.Since(start)).Msg("Run completed")
}

// sync adds watches for every path not yet watched. Files are watched through
// their parent directory so editors that replace files on save still trigger.
func (w *Watcher) sync(fsw *fsnotify.Watcher) error {
	paths, err := w.paths()
	if err != nil {
		return fmt.Errorf("failed to resolve watched paths: %w", err)
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("Failed to stat path for watching")
			continue
		}

		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		dir = filepath.Clean(dir)
		if w.watched[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch path")
			continue
		}
		w.watched[dir] = true
		w.logger.Debug().Str("path", dir).Msg("Watching")
	}
	return nil
}
