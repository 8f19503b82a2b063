package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot is one successfully loaded config plus the file state it came from.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and invokes a callback when its content
// changes. Polling rather than inotify: the file usually lives on a mounted
// ConfigMap where rename-based updates defeat watch descriptors anyway.
//
// A file that fails to parse or validate is logged and skipped; the previous
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	last     snapshot
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config once, synchronously, then keeps polling in a
// background goroutine until [Watcher.Stop].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends the polling goroutine. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep is one polling round: cheap mtime comparison first, content hash only
// when the mtime moved.
func (w *Watcher) sweep() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: reload failed, keeping previous config",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.last.hash {
		// Touched but identical content, e.g. a no-op redeploy.
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// load reads, parses and validates the file in one go, hashing the exact
// bytes that were parsed.
func (w *Watcher) load() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{
		cfg:   cfg,
		hash:  sha256.Sum256(data),
		mtime: info.ModTime(),
	}, nil
}
