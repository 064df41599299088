package loggo

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultReloadDebounce coalesces the bursts of events editors produce on save.
const DefaultReloadDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes and swaps the result
// into a Manager. A file that fails to load or build leaves the active core in
// place. Reload results are logged through the manager itself.
type Watcher struct {
	path     string
	manager  *Manager
	watcher  *fsnotify.Watcher
	clock    clockwork.Clock
	debounce time.Duration
	coreOpts []CoreOption
	onReload func(error)

	mu      sync.Mutex
	pending clockwork.Timer
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDebounce sets the quiet period after the last change event.
func WithReloadDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithReloadClock sets the clock driving the debounce timer.
func WithReloadClock(clock clockwork.Clock) WatcherOption {
	return func(w *Watcher) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithReloadCoreOptions sets the options passed to Config.Build on reload.
func WithReloadCoreOptions(opts ...CoreOption) WatcherOption {
	return func(w *Watcher) { w.coreOpts = opts }
}

// WithReloadCallback is called after every reload attempt with its result.
func WithReloadCallback(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher starts watching path. The directory is watched rather than the
// file so that editors replacing the file by rename are noticed.
func NewWatcher(path string, m *Manager, opts ...WatcherOption) (*Watcher, error) {
	if m == nil {
		return nil, configError("watcher", "manager", "manager is nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigurationError{Component: "watcher", Field: "path", Err: err}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, &ConfigurationError{Component: "watcher", Field: "path",
			Err: fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)}
	}

	w := &Watcher{
		path:     abs,
		manager:  m,
		watcher:  fsw,
		clock:    clockwork.NewRealClock(),
		debounce: DefaultReloadDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.watchFiles()
	return w, nil
}

// Reload loads the file, builds a core and swaps it in.
func (w *Watcher) Reload() error {
	cfg, err := LoadConfig(w.path)
	if err == nil {
		var core *Core
		core, err = cfg.Build(w.coreOpts...)
		if err == nil {
			err = w.manager.Reconfigure(core)
		}
	}

	if err != nil {
		report(w.manager.onError, fmt.Errorf("failed to reload %s: %w", w.path, err))
		w.manager.Warning("configuration reload failed, keeping previous configuration",
			F("path", w.path), F("error", err))
	} else {
		w.manager.Info("configuration reloaded", F("path", w.path))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
	return err
}

// Close stops watching. A pending debounced reload is cancelled.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.pending != nil {
			w.pending.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) watchFiles() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			report(w.manager.onError, fmt.Errorf("file watcher error: %w", err))
		}
	}
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = w.clock.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			_ = w.Reload()
		}
	})
}
