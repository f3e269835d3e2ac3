package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"treeterm/internal/sessionlog"
)

const (
	sessionLogDir             = "session-logs"
	sessionLogMaxFiles        = 50
	sessionLogMaxEntries      = 5000
	sessionLogEmitMinInterval = 50 * time.Millisecond
)

// initSessionLog creates the JSONL diagnostics log file for the current run.
// Non-fatal: logs a warning and continues if any I/O operation fails.
func (a *App) initSessionLog() {
	dir := filepath.Join(filepath.Dir(a.configPath), sessionLogDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Warn("[session-log] failed to create log directory", "dir", dir, "error", err)
		return
	}

	// PID suffix prevents filename collision on sub-second restart.
	filename := fmt.Sprintf("session-%s-%d.jsonl", time.Now().Format("20060102-150405"), os.Getpid())
	fullPath := filepath.Join(dir, filename)

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Warn("[session-log] failed to open log file", "path", fullPath, "error", err)
		return
	}

	a.sessionLogMu.Lock()
	a.sessionLogFile = f
	a.sessionLogPath = fullPath
	a.sessionLogMu.Unlock()

	a.cleanupOldSessionLogs()

	slog.Info("[session-log] initialized", "path", fullPath)
}

// installSessionLogTee wraps the default slog handler so Warn+ records also
// land in the diagnostics ring and the JSONL file.
func (a *App) installSessionLogTee() {
	base := slog.Default().Handler()
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, a.recordSessionLogEntry)))
}

func (a *App) recordSessionLogEntry(ts time.Time, level slog.Level, msg string, group string) {
	levelName := "warn"
	if level >= slog.LevelError {
		levelName = "error"
	}
	a.writeSessionLogEntry(SessionLogEntry{
		Timestamp: ts.Format("20060102150405"),
		Level:     levelName,
		Message:   msg,
		Source:    group,
	})
}

// cleanupOldSessionLogs removes the oldest log files when the count exceeds
// sessionLogMaxFiles.
func (a *App) cleanupOldSessionLogs() {
	a.sessionLogMu.RLock()
	currentPath := a.sessionLogPath
	a.sessionLogMu.RUnlock()
	if currentPath == "" {
		return
	}

	logDir := filepath.Dir(currentPath)
	currentFile := filepath.Base(currentPath)
	entries, err := os.ReadDir(logDir)
	if err != nil {
		slog.Warn("[session-log] failed to read log directory for cleanup", "dir", logDir, "error", err)
		return
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".jsonl") {
			logFiles = append(logFiles, name)
		}
	}

	// Lexicographic order: the timestamp prefix makes this approximate age
	// order, which is all cleanup needs.
	sort.Strings(logFiles)

	excess := len(logFiles) - sessionLogMaxFiles
	if excess <= 0 {
		return
	}

	deleted := 0
	for _, name := range logFiles {
		if deleted >= excess {
			break
		}
		if name == currentFile {
			// Never delete the active log file for this process.
			continue
		}
		target := filepath.Join(logDir, name)
		if err := os.Remove(target); err != nil {
			slog.Warn("[session-log] failed to delete old log file", "path", target, "error", err)
			continue
		}
		deleted++
	}
}

// writeSessionLogEntry appends an entry to both the in-memory ring buffer
// and the JSONL file.
//
// The emitted "app:session-log-updated" event carries no payload: the
// frontend receives the ping and calls GetSessionErrorLog for the full
// snapshot, so throttled pings never lose data.
//
// NOTE: slog.Warn/Error must NOT be called while sessionLogMu is held. The
// TeeHandler intercepts slog records and calls this function back, which
// would deadlock on the non-reentrant mutex. Internal diagnostics use
// fmt.Fprintf(os.Stderr, ...) to bypass the TeeHandler entirely.
func (a *App) writeSessionLogEntry(entry SessionLogEntry) {
	var marshalErr, writeErr error
	shouldEmit := false

	a.sessionLogMu.Lock()

	a.sessionLogSeq++
	entry.Seq = a.sessionLogSeq

	if a.sessionLogFile != nil {
		raw, err := json.Marshal(entry)
		if err != nil {
			marshalErr = err
		} else {
			raw = append(raw, '\n')
			if _, err := a.sessionLogFile.Write(raw); err != nil {
				writeErr = err
			}
		}
	}

	a.sessionLogEntries.push(entry)

	now := time.Now()
	if now.Sub(a.sessionLogLastEmit) >= sessionLogEmitMinInterval {
		a.sessionLogLastEmit = now
		shouldEmit = true
	}

	a.sessionLogMu.Unlock()

	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to marshal log entry: %v\n", marshalErr)
	}
	if writeErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to write log entry: %v\n", writeErr)
	}

	if shouldEmit {
		a.emitRuntimeEvent("app:session-log-updated", nil)
	}
}

// closeSessionLog flushes and closes the log file handle.
func (a *App) closeSessionLog() {
	var closeErr error

	a.sessionLogMu.Lock()
	if a.sessionLogFile != nil {
		closeErr = a.sessionLogFile.Close()
		a.sessionLogFile = nil
	}
	a.sessionLogMu.Unlock()

	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "[session-log] failed to close log file: %v\n", closeErr)
	}
}

// GetSessionErrorLog returns a copy of all in-memory diagnostics entries.
// Wails-bound: called from the frontend after an "app:session-log-updated"
// ping to display the log panel.
func (a *App) GetSessionErrorLog() []SessionLogEntry {
	a.sessionLogMu.RLock()
	defer a.sessionLogMu.RUnlock()
	return a.sessionLogEntries.snapshot()
}

// GetSessionLogFilePath returns the absolute path of the current JSONL log
// file. Wails-bound: used for "open log file" actions.
func (a *App) GetSessionLogFilePath() string {
	a.sessionLogMu.RLock()
	defer a.sessionLogMu.RUnlock()
	return a.sessionLogPath
}
