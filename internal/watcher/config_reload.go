package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"reflect"
	"time"

	"github.com/router-for-me/cxlogin/internal/config"
	"github.com/router-for-me/cxlogin/internal/util"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func hashFile(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

func (w *Watcher) primeHash() {
	hash, _, err := hashFile(w.configPath)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.lastConfigHash = hash
	w.mu.Unlock()
}

func (w *Watcher) reloadConfigIfChanged() {
	newHash, data, err := hashFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}

	w.mu.RLock()
	currentHash := w.lastConfigHash
	w.mu.RUnlock()
	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}

	log.Infof("config file changed, reloading: %s", w.configPath)
	newConfig, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.lastConfigHash = newHash
	w.mu.Unlock()

	util.SetLogLevel(newConfig)
	if changes := changedFields(oldConfig, newConfig); len(changes) > 0 {
		log.Debugf("config changes detected: %v", changes)
	} else {
		log.Debugf("no material config field changes detected")
	}

	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
}

// changedFields names the settings that differ between two configurations.
// Proxy values are compared but never printed.
func changedFields(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var changes []string
	if oldCfg.BaseURI != newCfg.BaseURI {
		changes = append(changes, "base-uri")
	}
	if oldCfg.Tenant != newCfg.Tenant {
		changes = append(changes, "tenant")
	}
	if oldCfg.ProxyConfig != newCfg.ProxyConfig {
		changes = append(changes, "proxy")
	}
	if oldCfg.ProductVariant != newCfg.ProductVariant {
		changes = append(changes, "product-variant")
	}
	if !reflect.DeepEqual(oldCfg.FeatureFlags, newCfg.FeatureFlags) {
		changes = append(changes, "feature-flags")
	}
	if oldCfg.Debug != newCfg.Debug {
		changes = append(changes, "debug")
	}
	return changes
}
