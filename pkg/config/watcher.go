package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is how long the watcher waits after the last
// change before reloading.
const DefaultDebounceInterval = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors and config-map updates that replace the file by rename are seen.
// A reload that fails to load or validate is logged and the previous
// configuration stays in effect.
type Watcher struct {
	path     string
	load     func(path string) (*Config, error)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the configuration file at path. Reloads
// use LoadConfigWithEnvOverrides. A non-positive debounce uses
// DefaultDebounceInterval.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		load:     LoadConfigWithEnvOverrides,
		watcher:  fw,
		logger:   logger.With("component", "config.watcher"),
		debounce: NewDebouncer(debounce),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called, invoking onReload
// with every successfully loaded configuration.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config) error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("config watcher started", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file event", "path", event.Name, "op", event.Op.String())
			w.debounce.Trigger(func() { w.reload(onReload) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) reload(onReload func(*Config) error) {
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous configuration", "error", err)
		return
	}
	if err := onReload(cfg); err != nil {
		w.logger.Error("config reload failed", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
}

// Stop stops the watcher and waits for Watch to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.debounce.Stop()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Debouncer coalesces rapid events into one callback after a quiet period.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			callback()
		}
	})
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
