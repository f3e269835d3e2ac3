package main

import (
	"errors"
	"strings"
	"time"

	"treeterm/internal/config"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

type configUpdatedEvent struct {
	Config             config.Config `json:"config"`
	Version            uint64        `json:"version"`
	UpdatedAtUnixMilli int64         `json:"updated_at_unix_milli"`
}

// GetConfig returns the loaded config.
func (a *App) GetConfig() config.Config {
	return a.getConfigSnapshot()
}

// GetConfigAndFlushWarnings returns the loaded config and emits any pending
// startup warnings.
func (a *App) GetConfigAndFlushWarnings() config.Config {
	a.flushPendingConfigLoadWarnings()
	return a.getConfigSnapshot()
}

func (a *App) flushPendingConfigLoadWarnings() {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	warnings := a.consumePendingConfigLoadWarnings()
	if len(warnings) == 0 {
		return
	}
	a.emitRuntimeEventWithContext(ctx, "config:load-failed", map[string]string{
		"message": strings.Join(warnings, "\n"),
	})
}

// SaveConfig validates and persists cfg to disk, then updates the in-memory
// config. The config:updated event carries the normalized config (with
// defaults filled).
func (a *App) SaveConfig(cfg config.Config) error {
	event, err := a.saveConfigWithLock(cfg)
	if err != nil {
		return err
	}
	// Event emission intentionally happens outside cfgSaveMu. Concurrent
	// saves are ordered by Version, and frontend consumers must treat the
	// highest version as authoritative.
	a.emitRuntimeEvent("config:updated", event)
	return nil
}

// saveConfigWithLock persists cfg, updates the in-memory snapshot, and bumps
// the event version under cfgSaveMu.
func (a *App) saveConfigWithLock(cfg config.Config) (configUpdatedEvent, error) {
	a.cfgSaveMu.Lock()
	defer a.cfgSaveMu.Unlock()

	normalized, err := config.Save(a.configPath, cfg)
	if err != nil {
		return configUpdatedEvent{}, err
	}
	a.setConfigSnapshot(normalized)

	return configUpdatedEvent{
		Config:             config.Clone(normalized),
		Version:            a.configEventVersion.Add(1),
		UpdatedAtUnixMilli: time.Now().UnixMilli(),
	}, nil
}

// applyReloadedConfig runs on the config watcher goroutine after an on-disk
// edit. The new snapshot is applied in memory and announced with the same
// versioned event SaveConfig uses, so the frontend has one update path.
func (a *App) applyReloadedConfig(cfg config.Config) {
	a.cfgSaveMu.Lock()
	a.setConfigSnapshot(cfg)
	event := configUpdatedEvent{
		Config:             config.Clone(cfg),
		Version:            a.configEventVersion.Add(1),
		UpdatedAtUnixMilli: time.Now().UnixMilli(),
	}
	a.cfgSaveMu.Unlock()

	a.emitRuntimeEvent("config:updated", event)
}

// PickSessionDirectory opens a directory picker for a new session root.
func (a *App) PickSessionDirectory() (string, error) {
	ctx := a.runtimeContext()
	if ctx == nil {
		return "", errors.New("app context is not ready")
	}
	dir, err := runtime.OpenDirectoryDialog(ctx, runtime.OpenDialogOptions{
		Title: "Select Session Directory",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(dir), nil
}
