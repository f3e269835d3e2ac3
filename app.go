package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"treeterm/internal/config"
	"treeterm/internal/ipc"
	"treeterm/internal/session"
	"treeterm/internal/termbuf"
	"treeterm/internal/terminal"
	"treeterm/internal/wsserver"
)

// App is the Wails-bound application service.
type App struct {
	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Configuration state and startup warnings.
	// Lock ordering (outer -> inner):
	//   cfgSaveMu -> cfgMu
	//
	// Independent locks: do not assume ordering across these.
	//   ctxMu, streamMu, outputMu, treeRequestMu, startupWarnMu, sessionLogMu
	cfgMu              sync.RWMutex
	cfgSaveMu          sync.Mutex
	configEventVersion atomic.Uint64
	cfg                config.Config
	configPath         string
	startupWarnMu      sync.Mutex
	configLoadWarnings []string

	// Backend services. Assigned once during startup, before the frontend
	// can call bound methods; nil checks guard the pre-startup window.
	manager       *session.Manager
	replay        *termbuf.Store
	wsHub         *wsserver.Hub
	ipcServer     *ipc.Server
	configWatcher *config.Watcher

	// Stream identity. Each surface gets an opaque stream id at allocation
	// time; the session key becomes known only after the shell spawns, so
	// the key<->stream mapping is registered in the Created callback.
	streamMu    sync.Mutex
	streamSeq   int
	streamByKey map[session.Key]string
	keyByStream map[string]session.Key

	// Output buffering.
	outputMu      sync.Mutex
	outputFlusher *terminal.OutputFlushManager

	// Tree snapshot coalescing (leading-edge debounce).
	treeRequestMu         sync.Mutex
	treeRequestTimer      *time.Timer
	treeRequestGeneration uint64
	treeRequestDispatched uint64

	// Session log state (captures Warn+ level records).
	// Protected by sessionLogMu (RWMutex: write-lock for append/close,
	// read-lock for get).
	sessionLogMu       sync.RWMutex
	sessionLogFile     *os.File
	sessionLogPath     string
	sessionLogEntries  sessionLogRingBuffer
	sessionLogLastEmit time.Time
	sessionLogSeq      uint64

	shuttingDown atomic.Bool
}

// NewApp creates the app service.
func NewApp() *App {
	return &App{
		streamByKey:       map[session.Key]string{},
		keyByStream:       map[string]session.Key{},
		sessionLogEntries: newSessionLogRingBuffer(sessionLogMaxEntries),
	}
}

// GetWebSocketURL returns the WebSocket endpoint URL for the frontend
// terminal output stream. The frontend calls this on mount to establish a
// binary channel that bypasses Wails IPC overhead for high-frequency output.
// Returns empty string if the WebSocket server is not available.
func (a *App) GetWebSocketURL() string {
	if a.wsHub == nil {
		slog.Debug("[ws] wsHub is nil, WebSocket URL unavailable")
		return ""
	}
	return a.wsHub.URL()
}
