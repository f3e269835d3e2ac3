package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"treeterm/internal/session"
	"treeterm/internal/termbuf"
	"treeterm/internal/terminal"
)

// capturedEvent is one runtime event recorded through the emit seam.
type capturedEvent struct {
	name    string
	payload any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (r *eventRecorder) record(_ context.Context, name string, payload ...any) {
	var p any
	if len(payload) > 0 {
		p = payload[0]
	}
	r.mu.Lock()
	r.events = append(r.events, capturedEvent{name: name, payload: p})
	r.mu.Unlock()
}

func (r *eventRecorder) byName(name string) []capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []capturedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls until at least one event with the given name arrives.
func (r *eventRecorder) waitFor(t *testing.T, name string) capturedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := r.byName(name); len(events) > 0 {
			return events[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never arrived", name)
	return capturedEvent{}
}

func captureRuntimeEvents(t *testing.T) *eventRecorder {
	t.Helper()
	recorder := &eventRecorder{}
	prev := runtimeEventsEmitFn
	runtimeEventsEmitFn = recorder.record
	t.Cleanup(func() { runtimeEventsEmitFn = prev })
	return recorder
}

// fakeAppSurface satisfies terminalSurface without spawning a real shell.
type fakeAppSurface struct {
	id     string
	output func(data []byte)

	mu         sync.Mutex
	spawned    bool
	spawnedCWD string
	terminated bool
	written    []byte
	cols, rows int
	onExit     func(status int)
}

func (f *fakeAppSurface) SpawnShell(cwd string) error {
	f.mu.Lock()
	f.spawned = true
	f.spawnedCWD = cwd
	f.mu.Unlock()
	return nil
}

func (f *fakeAppSurface) Terminate() error {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAppSurface) PID() int { return 0 }

func (f *fakeAppSurface) WindowTitle() string { return "" }

func (f *fakeAppSurface) WorkingDirectory() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawnedCWD
}

func (f *fakeAppSurface) SetExitHandler(fn func(status int)) {
	f.mu.Lock()
	f.onExit = fn
	f.mu.Unlock()
}

func (f *fakeAppSurface) SetTitleHandler(func()) {}

func (f *fakeAppSurface) ID() string { return f.id }

func (f *fakeAppSurface) Write(data []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, data...)
	f.mu.Unlock()
	return len(data), nil
}

func (f *fakeAppSurface) Resize(cols, rows int) error {
	f.mu.Lock()
	f.cols, f.rows = cols, rows
	f.mu.Unlock()
	return nil
}

// emitOutput pushes bytes through the surface's output sink the way the pty
// read goroutine would.
func (f *fakeAppSurface) emitOutput(data []byte) {
	if f.output != nil {
		f.output(data)
	}
}

type fakeSurfaceRegistry struct {
	mu       sync.Mutex
	surfaces []*fakeAppSurface
}

func (r *fakeSurfaceRegistry) add(f *fakeAppSurface) {
	r.mu.Lock()
	r.surfaces = append(r.surfaces, f)
	r.mu.Unlock()
}

func (r *fakeSurfaceRegistry) last(t *testing.T) *fakeAppSurface {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.surfaces) == 0 {
		t.Fatal("no surfaces allocated")
	}
	return r.surfaces[len(r.surfaces)-1]
}

func useFakeSurfaces(t *testing.T) *fakeSurfaceRegistry {
	t.Helper()
	registry := &fakeSurfaceRegistry{}
	prev := newSurfaceFn
	newSurfaceFn = func(id string, _ terminal.Config, output func(data []byte)) terminalSurface {
		f := &fakeAppSurface{id: id, output: output}
		registry.add(f)
		return f
	}
	t.Cleanup(func() { newSurfaceFn = prev })
	return registry
}

// newTestApp wires an App with fake surfaces, a replay store, and a live
// session manager. The Wails runtime context is a plain Background context;
// emissions go through the recorder seam.
func newTestApp(t *testing.T) *App {
	t.Helper()
	a := NewApp()
	a.setRuntimeContext(context.Background())
	a.replay = termbuf.NewStore(64 * 1024)
	a.manager = session.NewManager(a.allocSurface, session.Callbacks{
		Created:  a.onSessionCreated,
		Closed:   a.onSessionClosed,
		Selected: a.onSessionSelected,
		Changed:  a.onSessionChanged,
	})
	t.Cleanup(func() {
		a.manager.Shutdown()
		a.detachAllOutputBuffers()
	})
	return a
}
