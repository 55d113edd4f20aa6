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

// Watcher keeps the config file's latest valid content. It polls the file's
// modification time and can be told to re-read at once with [Watcher.Reload],
// e.g. on SIGHUP. The callback runs for every content change that validates;
// invalid edits are logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reads so a poll and a Reload never race on the
	// same edit.
	reloadMu sync.Mutex

	mu   sync.Mutex
	snap snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed. Call [Watcher.Stop] to end polling.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange, done: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap = snap
	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Reload re-reads the file regardless of its modification time. It reports
// whether the content changed; a file that does not load or validate
// returns the error and keeps the current config.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	return w.apply()
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() { w.stopOnce.Do(func() { close(w.done) }) }

func (w *Watcher) poll() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if w.modified() {
				w.reloadMu.Lock()
				if _, err := w.apply(); err != nil {
					slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
				}
				w.reloadMu.Unlock()
			}
		}
	}
}

func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.snap.mtime)
}

// apply loads the file and swaps it in when its bytes differ. Callers hold
// reloadMu.
func (w *Watcher) apply() (bool, error) {
	next, err := readSnapshot(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	prev := w.snap
	if next.hash == prev.hash {
		w.snap.mtime = next.mtime
		w.mu.Unlock()
		return false, nil
	}
	w.snap = next
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	// Outside mu so the callback may call Current.
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
