package main

import (
	"context"
	"fmt"
	"log/slog"

	"treeterm/internal/config"
	"treeterm/internal/ipc"
	"treeterm/internal/session"
	"treeterm/internal/termbuf"
	"treeterm/internal/wsserver"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

var (
	runtimeEventsEmitFn           = runtime.EventsEmit
	runtimeWindowShowFn           = runtime.WindowShow
	runtimeWindowUnminimiseFn     = runtime.WindowUnminimise
	runtimeWindowSetAlwaysOnTopFn = runtime.WindowSetAlwaysOnTop
)

// activatorFunc adapts a function to ipc.Activator without exposing the
// activation entry point as a Wails-bound method on App.
type activatorFunc func(ipc.ActivateRequest) ipc.ActivateResponse

func (f activatorFunc) Activate(req ipc.ActivateRequest) ipc.ActivateResponse { return f(req) }

func (a *App) addPendingConfigLoadWarning(message string) {
	if message == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.configLoadWarnings = append(a.configLoadWarnings, message)
	a.startupWarnMu.Unlock()
}

func (a *App) consumePendingConfigLoadWarnings() []string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	warnings := a.configLoadWarnings
	a.configLoadWarnings = nil
	return warnings
}

func (a *App) startup(ctx context.Context) {
	setConsoleUTF8()
	a.setRuntimeContext(ctx)

	a.configPath = config.DefaultPath()
	for _, message := range config.ConsumeDefaultPathWarnings() {
		a.addPendingConfigLoadWarning(message)
	}

	cfg, err := config.EnsureFile(a.configPath)
	if err != nil {
		// Config load/parse failures are non-fatal by design. Continue with
		// defaults and surface a warning to the user.
		cfg = config.DefaultConfig()
		a.addPendingConfigLoadWarning(
			"Failed to load config file at startup. Running with defaults. Error: " + err.Error(),
		)
		slog.Warn("[app] failed to load config", "path", a.configPath, "error", err)
	}
	a.setConfigSnapshot(cfg)

	a.initSessionLog()
	a.installSessionLogTee()

	a.replay = termbuf.NewStore(cfg.ScrollbackBytes)
	a.manager = session.NewManager(a.allocSurface, session.Callbacks{
		Created:  a.onSessionCreated,
		Closed:   a.onSessionClosed,
		Selected: a.onSessionSelected,
		Changed:  a.onSessionChanged,
	})

	addr := ""
	if cfg.WebSocketPort > 0 {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.WebSocketPort)
	}
	hub := wsserver.NewHub(wsserver.HubOptions{Addr: addr})
	if err := hub.Start(ctx); err != nil {
		slog.Warn("[app] WebSocket server failed, falling back to Wails IPC for output", "error", err)
	} else {
		a.wsHub = hub
	}

	a.ipcServer = ipc.NewServer("", activatorFunc(a.handleActivation))
	if err := a.ipcServer.Start(); err != nil {
		slog.Warn("[app] activation server failed, second launches will not focus this window", "error", err)
		a.ipcServer = nil
	}

	watcher := config.NewWatcher(a.configPath, a.applyReloadedConfig)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("[app] config watcher failed, edits require a restart", "error", err)
	} else {
		a.configWatcher = watcher
	}

	a.requestTreeSnapshot(true)
	a.flushPendingConfigLoadWarnings()
}

func (a *App) shutdown(_ context.Context) {
	a.shuttingDown.Store(true)
	a.clearTreeRequestTimer()

	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	if a.ipcServer != nil {
		if err := a.ipcServer.Stop(); err != nil {
			slog.Warn("[app] activation server stop failed", "error", err)
		}
	}
	if a.manager != nil {
		a.manager.Shutdown()
	}

	a.detachAllOutputBuffers()
	if a.replay != nil {
		a.replay.Reset()
	}

	if a.wsHub != nil {
		if err := a.wsHub.Stop(); err != nil {
			slog.Warn("[app] WebSocket server stop failed", "error", err)
		}
	}
	a.closeSessionLog()
}

// handleActivation runs when a second launch signals this instance. It
// raises the window and, when the request names a directory, opens a new
// root session there.
func (a *App) handleActivation(req ipc.ActivateRequest) ipc.ActivateResponse {
	slog.Info("[app] activation requested", "cwd", req.CWD)
	a.bringWindowToFront()
	if req.CWD != "" {
		if err := a.NewSession(req.CWD); err != nil {
			return ipc.ActivateResponse{Error: err.Error()}
		}
	}
	return ipc.ActivateResponse{OK: true}
}

// bringWindowToFront shows and raises the application window.
func (a *App) bringWindowToFront() {
	ctx := a.runtimeContext()
	if ctx == nil {
		slog.Warn("[app] bringWindowToFront dropped because runtime context is nil")
		return
	}
	runtimeWindowShowFn(ctx)
	runtimeWindowUnminimiseFn(ctx)
	// Pulse always-on-top to steal focus across window managers that ignore
	// a plain show/unminimise for background processes.
	runtimeWindowSetAlwaysOnTopFn(ctx, true)
	runtimeWindowSetAlwaysOnTopFn(ctx, false)
}
