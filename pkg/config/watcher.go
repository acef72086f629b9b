package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"corese/pkg/logx"
)

// reloadDebounce coalesces the burst of filesystem events editors emit when
// saving a file.
const reloadDebounce = 100 * time.Millisecond

// Watcher watches the config file and pushes the rules section to a callback
// whenever the file changes. Only the rule enablement section is hot
// reloaded; server and database settings require a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	logger  *logx.Logger

	mu       sync.RWMutex
	current  *Config
	onReload func(RulesConfig)
}

// NewWatcher loads the config at path and starts watching its directory.
// onReload is invoked with the rules section after every successful reload.
func NewWatcher(path string, onReload func(RulesConfig)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		path:     absPath,
		watcher:  fw,
		cancel:   cancel,
		logger:   logx.NewLogger("config"),
		current:  cfg,
		onReload: onReload,
	}

	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch would be lost after the first rename.
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		// Ignore error - operation should not fail due to close error
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config: %v", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	cb := w.onReload
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded from %s", w.path)
	if cb != nil {
		cb(cfg.Rules)
	}
}
