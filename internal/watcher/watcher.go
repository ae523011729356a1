// Package watcher reloads the configuration file when it changes on disk and
// hands the new configuration to a callback.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/cxlogin/internal/config"
	log "github.com/sirupsen/logrus"
)

// configReloadDebounce collapses the burst of events editors emit on save.
const configReloadDebounce = 150 * time.Millisecond

// Watcher watches the configuration file.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher

	mu                sync.RWMutex
	config            *config.Config
	lastConfigHash    string
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
}

// NewWatcher creates a watcher for configPath. reloadCallback receives every
// successfully parsed configuration whose content changed.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath
	}
	return &Watcher{
		configPath:     filepath.Clean(absPath),
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}, nil
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file atomically are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.primeHash()
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	configOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if filepath.Clean(event.Name) != w.configPath || event.Op&configOps == 0 {
		return
	}
	log.Debugf("config file event: %s", event.Op.String())
	w.scheduleConfigReload()
}
