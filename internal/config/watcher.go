package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// fileStamp is the cheap part of change detection: a reload is only
// attempted when size or mtime moved.
type fileStamp struct {
	size  int64
	mtime time.Time
}

// Watcher keeps the scan service's config in sync with its file on disk.
// Run polls the file; Reload forces a check, e.g. on SIGHUP. The callback
// only fires when [Diff] reports a change, so edits to comments or key
// order are ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   LookupFunc

	// reloadMu serialises Reload against the poll loop so the callback
	// never runs twice for one edit.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	sum     [sha256.Size]byte
	reloads int
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

// WithEnv applies [ApplyEnv] with lookup to every loaded config, so
// environment overrides survive a reload.
func WithEnv(lookup LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp, w.sum = cfg, stamp, sum
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many accepted reloads changed the effective config.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Run polls the file until ctx is done. Load errors are logged and the
// previous config stays current.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if info, err := os.Stat(w.path); err != nil {
				slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
				continue
			} else if w.unchanged(fileStamp{size: info.Size(), mtime: info.ModTime()}) {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: reload rejected", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) unchanged(s fileStamp) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return s.size == w.stamp.size && s.mtime.Equal(w.stamp.mtime)
}

// Reload reads the file now. It reports whether the effective config
// changed; an invalid file returns the error and keeps the current config.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, stamp, sum, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	sameBytes := sum == w.sum
	w.stamp, w.sum = stamp, sum
	if sameBytes {
		w.mu.Unlock()
		return false, nil
	}
	d := Diff(old, cfg)
	w.current = cfg
	if d.Empty() {
		w.mu.Unlock()
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return false, nil
	}
	w.reloads++
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"scan_changed", d.ScanChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileStamp, [sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, sum, err
	}
	if w.lookup != nil {
		if _, err := ApplyEnv(cfg, w.lookup); err != nil {
			return nil, fileStamp{}, sum, err
		}
	}
	return cfg, fileStamp{size: info.Size(), mtime: info.ModTime()}, sha256.Sum256(data), nil
}
