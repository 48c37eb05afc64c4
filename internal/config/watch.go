package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces rapid successive config writes.
// Editors commonly truncate then write, which fires several events for
// one save.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the profile configuration when its file changes on
// disk. A successful reload is emitted on Updates; a file that fails to
// load or validate is reported on Errors and the previous configuration
// stays in effect.
type Watcher struct {
	profileDir string
	debounce   time.Duration
	fsw        *fsnotify.Watcher
	updates    chan *Config
	errs       chan error

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	stopCh  chan struct{}
}

// NewWatcher creates a config watcher for the given profile directory.
func NewWatcher(profileDir string) (*Watcher, error) {
	return NewWatcherWithDebounce(profileDir, DefaultWatchDebounce)
}

// NewWatcherWithDebounce creates a config watcher with a custom
// debounce window.
func NewWatcherWithDebounce(profileDir string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Watcher{
		profileDir: profileDir,
		debounce:   debounce,
		fsw:        fsw,
		updates:    make(chan *Config, 1),
		errs:       make(chan error, 4),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins watching and blocks until the context is cancelled or
// Stop is called. The profile directory is watched rather than the file
// itself so a config file created after startup is still picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.profileDir); err != nil {
		return fmt.Errorf("watch profile directory %s: %w", w.profileDir, err)
	}

	target := filepath.Clean(ProfileConfigPath(w.profileDir))
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// scheduleReload resets the debounce timer.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload loads the configuration stack and emits the result.
func (w *Watcher) reload() {
	cfg, err := Load(w.profileDir)
	if err != nil {
		slog.Warn("config reload failed, keeping previous configuration",
			slog.String("error", err.Error()))
		w.emitError(err)
		return
	}

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	select {
	case w.updates <- cfg:
	default:
		// A pending update is still unconsumed; drop the older one.
		select {
		case <-w.updates:
		default:
		}
		select {
		case w.updates <- cfg:
		default:
		}
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	select {
	case w.errs <- err:
	default:
	}
}

// Updates returns the channel of successfully reloaded configurations.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Errors returns the channel of reload errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	err := w.fsw.Close()
	close(w.updates)
	close(w.errs)
	return err
}
