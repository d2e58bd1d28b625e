package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/channeld/internal/ports"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes.
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	logger   ports.Logger
	onChange func(Config)
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for path. Every reload starts again from
// base (defaults plus command-line flags), so removing a key from the file
// restores its default. onChange receives each valid reloaded Config.
func NewWatcher(path string, base Config, changed map[string]bool, logger ports.Logger, onChange func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		logger:   logger,
		onChange: onChange,
		debounce: DefaultReloadDebounce,
	}
}

// Run watches until ctx is done. The containing directory is watched so
// editors that replace the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}
	w.logger.Info("watching config file", ports.String("path", w.path))

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	cfg := w.base
	if !FileExists(w.path) {
		return
	}
	if err := Load(&cfg, w.path, w.changed); err != nil {
		w.logger.Warn("config reload ignored", ports.Err(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("config reload ignored", ports.Err(err))
		return
	}
	w.logger.Info("config file changed", ports.String("path", w.path))
	w.onChange(cfg)
}
