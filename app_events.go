package main

import (
	"context"
	"log/slog"
	"time"

	"treeterm/internal/terminal"
)

const (
	// treeCoalesceWindow is the debounce window for coalescing session:tree
	// emissions. 50 ms keeps structural changes visible within one frame
	// budget while batching bursts (closing a parent re-parents several
	// children in quick succession).
	treeCoalesceWindow = 50 * time.Millisecond
	// outputFlushInterval is the maximum time between output chunk flushes
	// to the frontend. Chosen to match a 60 fps frame budget (~16 ms).
	outputFlushInterval = 16 * time.Millisecond
	// outputFlushThreshold is the per-stream buffer flush threshold in
	// OutputFlushManager. 32 KiB keeps payloads inside a single WebSocket
	// frame buffer while bounding latency for chatty shells.
	outputFlushThreshold = 32 * 1024
)

// emitRuntimeEvent emits via the app context and delegates to emitRuntimeEventWithContext.
func (a *App) emitRuntimeEvent(name string, payload any) {
	a.emitRuntimeEventWithContext(a.runtimeContext(), name, payload)
}

// emitRuntimeEventWithContext emits a runtime event only when ctx is non-nil.
// Prefer this helper for best-effort contexts that may not be initialized yet.
func (a *App) emitRuntimeEventWithContext(ctx context.Context, name string, payload any) {
	if ctx == nil {
		slog.Warn("[event] runtime event dropped because app context is nil", "event", name)
		return
	}
	runtimeEventsEmitFn(ctx, name, payload)
}

// handleStreamOutput is the surface output sink. It runs on each surface's
// read goroutine; both consumers copy the chunk, so the pty read buffer can
// be reused immediately.
func (a *App) handleStreamOutput(streamID string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if replay := a.replay; replay != nil {
		replay.Feed(streamID, chunk)
	}
	a.ensureOutputFlusher().Write(streamID, chunk)
}

func (a *App) ensureOutputFlusher() *terminal.OutputFlushManager {
	a.outputMu.Lock()
	defer a.outputMu.Unlock()

	if a.outputFlusher != nil {
		return a.outputFlusher
	}
	flusher := terminal.NewOutputFlushManager(outputFlushInterval, outputFlushThreshold, func(streamID string, flushed []byte) {
		if len(flushed) == 0 {
			return
		}
		ctx := a.runtimeContext()
		if ctx == nil {
			slog.Debug("[output] skip flush because runtime context is nil", "streamId", streamID)
			return
		}
		// Prefer the WebSocket binary stream (avoids Wails IPC JSON
		// overhead). Falls back to a runtime event when no WebSocket client
		// is connected, e.g. during startup before the frontend establishes
		// the channel. The check and the broadcast are not atomic; a
		// connection lost in between costs at most one flush window of
		// output, which the replay buffer covers on reconnect.
		if a.wsHub != nil && a.wsHub.HasActiveConnection() {
			a.wsHub.BroadcastStreamData(streamID, flushed)
		} else {
			slog.Debug("[output] flushing to frontend via Wails IPC", "streamId", streamID, "flushedLen", len(flushed))
			a.emitRuntimeEventWithContext(ctx, "stream:data:"+streamID, string(flushed))
		}
	})
	flusher.Start()
	a.outputFlusher = flusher
	return flusher
}

// detachAllOutputBuffers stops the flusher and returns the stream ids it was
// tracking so replay state can be cleaned up alongside.
func (a *App) detachAllOutputBuffers() []string {
	a.outputMu.Lock()
	flusher := a.outputFlusher
	a.outputFlusher = nil
	a.outputMu.Unlock()
	if flusher == nil {
		return nil
	}
	removed := flusher.RetainStreams(nil)
	flusher.Stop()
	return removed
}

// releaseStream drops all per-stream buffering for a closed session.
func (a *App) releaseStream(streamID string) {
	if streamID == "" {
		return
	}
	a.outputMu.Lock()
	flusher := a.outputFlusher
	a.outputMu.Unlock()
	if flusher != nil {
		flusher.RemoveStream(streamID)
	}
	if replay := a.replay; replay != nil {
		replay.Remove(streamID)
	}
}

func (a *App) emitTreeSnapshot() {
	ctx := a.runtimeContext()
	if ctx == nil {
		slog.Debug("[tree] skip emitTreeSnapshot: runtime context is nil")
		return
	}
	manager := a.manager
	if manager == nil {
		slog.Debug("[tree] skip emitTreeSnapshot: session manager is nil")
		return
	}
	a.emitRuntimeEventWithContext(ctx, "session:tree", manager.TreeSnapshot())
}

func (a *App) requestTreeSnapshot(immediate bool) {
	if a.runtimeContext() == nil {
		slog.Debug("[tree] skip requestTreeSnapshot: runtime context is nil")
		return
	}
	if a.manager == nil {
		slog.Debug("[tree] skip requestTreeSnapshot: session manager is nil")
		return
	}

	// Strategy: leading-edge fixed-window debounce.
	//
	// immediate=true (structural events: create/close/select):
	//   Cancels any pending timer and emits synchronously on the caller's
	//   goroutine. The generation counter prevents duplicate emissions when
	//   multiple callers race into the immediate path simultaneously.
	//
	// immediate=false (title/cwd churn):
	//   Arms a one-shot timer for treeCoalesceWindow. If another request
	//   arrives before the timer fires, the timer is left running (no
	//   reset); this bounds the worst-case delay to one coalesce window
	//   regardless of how many events arrive.
	emitNow := false
	a.treeRequestMu.Lock()
	a.treeRequestGeneration++
	currentGeneration := a.treeRequestGeneration

	if immediate {
		if a.treeRequestTimer != nil {
			a.treeRequestTimer.Stop()
			a.treeRequestTimer = nil
		}
		if a.treeRequestDispatched < currentGeneration {
			a.treeRequestDispatched = currentGeneration
			emitNow = true
		}
		a.treeRequestMu.Unlock()
		if emitNow {
			a.emitTreeSnapshot()
		}
		return
	}

	if a.treeRequestTimer == nil {
		a.treeRequestTimer = time.AfterFunc(treeCoalesceWindow, a.flushTreeRequest)
	}
	a.treeRequestMu.Unlock()
}

func (a *App) flushTreeRequest() {
	emitNow := false

	a.treeRequestMu.Lock()
	a.treeRequestTimer = nil
	if a.treeRequestDispatched < a.treeRequestGeneration {
		a.treeRequestDispatched = a.treeRequestGeneration
		emitNow = true
	}
	a.treeRequestMu.Unlock()

	if emitNow {
		a.emitTreeSnapshot()
	}
}

func (a *App) clearTreeRequestTimer() {
	a.treeRequestMu.Lock()
	if a.treeRequestTimer != nil {
		a.treeRequestTimer.Stop()
		a.treeRequestTimer = nil
	}
	a.treeRequestMu.Unlock()
}
