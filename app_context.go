package main

import "context"

// setRuntimeContext stores the Wails runtime context once startup delivers
// it. Event emission stays disabled until this has been called.
func (a *App) setRuntimeContext(ctx context.Context) {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ctxMu.Unlock()
}

// runtimeContext returns the stored context, or nil before startup.
func (a *App) runtimeContext() context.Context {
	a.ctxMu.RLock()
	defer a.ctxMu.RUnlock()
	return a.ctx
}
