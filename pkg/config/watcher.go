package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is how long a watcher waits for writes to settle.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads a tuning file when it changes on disk.
type Watcher struct {
	loader *Loader
	path   string
	delay  time.Duration
	logger zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher for the tuning file at path.
func NewWatcher(loader *Loader, path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		loader: loader,
		path:   filepath.Clean(path),
		delay:  DefaultReloadDelay,
		logger: logger.With().Str("component", "tuning-watcher").Str("path", path).Logger(),
	}
}

// WithDelay overrides the debounce delay.
func (w *Watcher) WithDelay(d time.Duration) *Watcher {
	w.delay = d
	return w
}

// Watch starts watching and calls reload with every tuning that loads and
// validates. Invalid edits are logged and skipped. Watching stops when ctx
// is cancelled.
//
// The containing directory is watched rather than the file so editors that
// replace the file by rename are still seen.
func (w *Watcher) Watch(ctx context.Context, reload func(Tuning)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	go w.processEvents(ctx, reload)

	w.logger.Info().Msg("Watching tuning file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, reload func(Tuning)) {
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Tuning file changed")
			w.schedule(ctx, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule debounces reloads: only the last event in a burst reloads.
func (w *Watcher) schedule(ctx context.Context, reload func(Tuning)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		t, err := w.loader.LoadTuning(ctx, w.path)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload tuning, keeping previous values")
			return
		}
		reload(t)
		w.logger.Info().Msg("Tuning reloaded")
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
