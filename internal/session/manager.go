package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
)

// Surface is the terminal collaborator backing one live session: the
// rendering/process host that spawns the shell, reports titles and working
// directories, and notifies the manager about process exit.
type Surface interface {
	// SpawnShell starts an interactive shell rooted at cwd. The session is
	// linked into the tree only when SpawnShell returns nil.
	SpawnShell(cwd string) error
	// Terminate ends the underlying process, best effort.
	Terminate() error
	// PID returns the shell process id, or 0 when unknown.
	PID() int
	// WindowTitle returns the last title the terminal reported, or "".
	WindowTitle() string
	// WorkingDirectory returns the best-effort current directory, or "".
	WorkingDirectory() string
	// SetExitHandler registers the process-exit notification.
	SetExitHandler(fn func(status int))
	// SetTitleHandler registers the title/cwd-change notification.
	SetTitleHandler(fn func())
}

// SurfaceFactory allocates a fresh, not-yet-spawned surface.
type SurfaceFactory func() (Surface, error)

// Callbacks are the manager's event slots. Any slot may be nil. Every
// invocation is wrapped in panic recovery so one misbehaving observer
// cannot corrupt manager state mid-operation.
type Callbacks struct {
	Created  func(s *Session, surface Surface)
	Closed   func(s *Session, adopted []*Session, newParent *Session)
	Selected func(s *Session)
	Changed  func(s *Session)
}

// Node is a frontend-safe copy of one tree vertex.
type Node struct {
	Key      Key    `json:"key"`
	Title    string `json:"title"`
	CWD      string `json:"cwd"`
	Children []Node `json:"children"`
}

// closeQueueDepth bounds the deferred-close queue. Process exits arrive at
// human scale; 64 pending closes means something is already very wrong.
const closeQueueDepth = 64

// Manager coordinates the session tree, the spawned shells, and the
// frontend callbacks. It owns the tree exclusively: presentation code reads
// through the query methods here and never mutates the tree directly, so
// surface lifecycle and tree lifecycle cannot diverge.
//
// All state is guarded by mu; callbacks fire synchronously within the
// operation that triggered them, but outside the lock so observers may call
// back into the manager.
type Manager struct {
	mu      sync.Mutex
	tree    *Tree
	current *Session

	// surfaces maps live sessions to their terminal surfaces. surfaceOrder
	// keeps the mapping's insertion order for SelectNext/SelectPrevious.
	surfaces     map[Key]Surface
	surfaceOrder []Key

	factory SurfaceFactory
	cbs     Callbacks

	// counter generates placeholder pty handles (and pids when the surface
	// cannot report one). Monotonic within one running instance, so the
	// (pid, ptyFD) pair never collides.
	counter int

	// closeQueue defers process-exit closes to a manager-owned worker so
	// the tree is never mutated from inside the surface's own exit path.
	closeQueue chan *Session
	quit       chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once

	homeDirFn func() (string, error)
}

// NewManager creates a manager around an empty tree and starts the
// deferred-close worker. Call Shutdown to release it.
func NewManager(factory SurfaceFactory, cbs Callbacks) *Manager {
	m := &Manager{
		tree:       NewTree(),
		surfaces:   map[Key]Surface{},
		factory:    factory,
		cbs:        cbs,
		closeQueue: make(chan *Session, closeQueueDepth),
		quit:       make(chan struct{}),
		homeDirFn:  os.UserHomeDir,
	}
	m.wg.Add(1)
	go m.drainCloseQueue()
	return m
}

// Create spawns a shell and links a new session into the tree under parent
// (nil for a new root). cwd resolution: explicit argument, else the
// parent's cwd, else the user home directory. Returns nil when the spawn
// fails; failures are logged, never raised, and leave no tree state behind.
func (m *Manager) Create(parent *Session, cwd, title string) *Session {
	if cwd == "" {
		if parent != nil && parent.CWD != "" {
			cwd = parent.CWD
		} else if home, err := m.homeDirFn(); err == nil {
			cwd = home
		}
	}

	surface, err := m.factory()
	if err != nil {
		slog.Error("[session] surface allocation failed", "error", err)
		return nil
	}
	if err := surface.SpawnShell(cwd); err != nil {
		slog.Error("[session] shell spawn failed", "cwd", cwd, "error", err)
		if termErr := surface.Terminate(); termErr != nil {
			slog.Debug("[session] dispose of failed surface", "error", termErr)
		}
		return nil
	}

	m.mu.Lock()
	m.counter++
	pid := surface.PID()
	if pid <= 0 {
		pid = m.counter
	}
	s := New(pid, m.counter, cwd, title)

	m.surfaces[s.Key()] = surface
	m.surfaceOrder = append(m.surfaceOrder, s.Key())
	m.tree.Add(s, parent)
	m.current = s
	m.mu.Unlock()

	surface.SetExitHandler(func(status int) { m.handleProcessExit(s, status) })
	surface.SetTitleHandler(func() { m.handleTitleChanged(s) })

	m.invoke("created", func() { m.cbs.Created(s, surface) }, m.cbs.Created != nil)
	slog.Info("[session] created", "title", s.Title, "pid", s.PID, "cwd", s.CWD)
	return s
}

// CreateChild creates a session under the current session, inheriting its
// cwd. Without a current session it behaves like a root Create.
func (m *Manager) CreateChild(title string) *Session {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current == nil {
		slog.Warn("[session] no current session to create child under")
		return m.Create(nil, "", title)
	}
	return m.Create(current, current.CWD, title)
}

// CreateSibling creates a session next to the current one: same parent,
// inheriting the current session's cwd. Without a current session it
// behaves like a root Create.
func (m *Manager) CreateSibling(title string) *Session {
	m.mu.Lock()
	current := m.current
	parent := m.tree.Parent(current)
	m.mu.Unlock()

	if current == nil {
		return m.Create(nil, "", title)
	}
	return m.Create(parent, current.CWD, title)
}

// Close terminates the session's shell, removes the session from the tree
// (adopting its children), and picks a replacement current session when the
// closed one was current. Replacement priority: former parent, first
// adopted child, first remaining root, else none. The Closed callback fires
// unconditionally so the sidebar can re-parent the adopted rows.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}

	m.mu.Lock()
	adopted := append([]*Session(nil), s.Children...)
	parent := m.tree.Parent(s)

	if surface, ok := m.surfaces[s.Key()]; ok {
		if err := surface.Terminate(); err != nil {
			slog.Warn("[session] terminate failed", "title", s.Title, "error", err)
		}
		delete(m.surfaces, s.Key())
		m.surfaceOrder = removeKey(m.surfaceOrder, s.Key())
	}

	m.tree.Remove(s)

	var selected *Session
	if m.current.Same(s) {
		switch {
		case parent != nil && m.hasSurfaceLocked(parent):
			selected = parent
		case len(adopted) > 0 && m.hasSurfaceLocked(adopted[0]):
			selected = adopted[0]
		default:
			if roots := m.tree.Roots(); len(roots) > 0 {
				selected = roots[0]
			}
		}
		m.current = selected
	}
	fireSelected := selected != nil && m.hasSurfaceLocked(selected)
	m.mu.Unlock()

	if fireSelected {
		m.invoke("selected", func() { m.cbs.Selected(selected) }, m.cbs.Selected != nil)
	}
	m.invoke("closed", func() { m.cbs.Closed(s, adopted, parent) }, m.cbs.Closed != nil)
	slog.Info("[session] closed", "title", s.Title, "adopted", len(adopted))
}

// CloseCurrent closes the currently selected session, if any.
func (m *Manager) CloseCurrent() {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current != nil {
		m.Close(current)
	}
}

// Select makes the session current. Sessions without a registered surface
// are stale references; selecting one logs a warning and does nothing.
func (m *Manager) Select(s *Session) {
	m.mu.Lock()
	if s == nil || !m.hasSurfaceLocked(s) {
		m.mu.Unlock()
		slog.Warn("[session] select ignored for unknown session")
		return
	}
	m.current = s
	m.mu.Unlock()

	m.invoke("selected", func() { m.cbs.Selected(s) }, m.cbs.Selected != nil)
}

// SelectNext cycles forward through the live sessions in surface
// registration order. With no current session it jumps to the first entry.
func (m *Manager) SelectNext() {
	m.selectByOffset(1)
}

// SelectPrevious cycles backward through the live sessions. With no current
// session it jumps to the last entry.
func (m *Manager) SelectPrevious() {
	m.selectByOffset(-1)
}

func (m *Manager) selectByOffset(offset int) {
	m.mu.Lock()
	if len(m.surfaceOrder) <= 1 {
		m.mu.Unlock()
		return
	}
	var target *Session
	if m.current == nil {
		idx := 0
		if offset < 0 {
			idx = len(m.surfaceOrder) - 1
		}
		target = m.tree.Get(m.surfaceOrder[idx])
	} else {
		currentIdx := -1
		for i, key := range m.surfaceOrder {
			if key == m.current.Key() {
				currentIdx = i
				break
			}
		}
		if currentIdx < 0 {
			m.mu.Unlock()
			slog.Warn("[session] current session missing from surface order")
			return
		}
		n := len(m.surfaceOrder)
		target = m.tree.Get(m.surfaceOrder[(currentIdx+offset+n)%n])
	}
	m.mu.Unlock()

	if target != nil {
		m.Select(target)
	}
}

// Current returns the current session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SurfaceFor returns the surface registered for a session, or nil.
func (m *Manager) SurfaceFor(s *Session) Surface {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surfaces[s.Key()]
}

// Get returns the tracked session with the given key, or nil.
func (m *Manager) Get(key Key) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Get(key)
}

// Sessions returns the live sessions in surface registration order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.surfaceOrder))
	for _, key := range m.surfaceOrder {
		if s := m.tree.Get(key); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.surfaces)
}

// Parent returns the tree parent of a session, or nil.
func (m *Manager) Parent(s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Parent(s)
}

// TreeSnapshot returns a deep frontend-safe copy of the forest.
func (m *Manager) TreeSnapshot() []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	roots := m.tree.Roots()
	out := make([]Node, 0, len(roots))
	for _, r := range roots {
		out = append(out, cloneNode(r))
	}
	return out
}

func cloneNode(s *Session) Node {
	node := Node{
		Key:      s.Key(),
		Title:    s.Title,
		CWD:      s.CWD,
		Children: make([]Node, 0, len(s.Children)),
	}
	for _, c := range s.Children {
		node.Children = append(node.Children, cloneNode(c))
	}
	return node
}

// Shutdown stops the deferred-close worker and terminates every live
// surface. The manager must not be used afterwards.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()

	m.mu.Lock()
	surfaces := make([]Surface, 0, len(m.surfaces))
	for _, surface := range m.surfaces {
		surfaces = append(surfaces, surface)
	}
	m.surfaces = map[Key]Surface{}
	m.surfaceOrder = nil
	m.current = nil
	m.mu.Unlock()

	var errs []error
	for _, surface := range surfaces {
		if err := surface.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Warn("[session] surface terminate errors during shutdown", "error", errors.Join(errs...))
	}
}

// handleProcessExit runs on the surface's exit path. The close is deferred
// to the manager's own worker because the surface is still unwinding its
// exit handling when this fires.
func (m *Manager) handleProcessExit(s *Session, status int) {
	slog.Info("[session] terminal exited", "title", s.Title, "status", status)
	select {
	case m.closeQueue <- s:
	case <-m.quit:
	default:
		slog.Warn("[session] close queue full, dropping deferred close", "title", s.Title)
	}
}

func (m *Manager) drainCloseQueue() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case s := <-m.closeQueue:
			m.Close(s)
		}
	}
}

// handleTitleChanged refreshes a session's title and cwd from the surface.
// Raw titles matching "<user>@<host>: <path>" are formatted as
// "<shortPath> (<user>@<host>)"; other titles pass through verbatim. When
// only the cwd moved, the title is re-derived from the new directory. The
// Changed callback fires at most once per notification.
func (m *Manager) handleTitleChanged(s *Session) {
	m.mu.Lock()
	surface, ok := m.surfaces[s.Key()]
	if !ok {
		m.mu.Unlock()
		slog.Warn("[session] title change for unknown session", "pid", s.PID)
		return
	}

	raw := surface.WindowTitle()
	titleChanged := false
	if raw != "" {
		if parsed := ParseTitle(raw); parsed != s.Title {
			s.Title = parsed
			titleChanged = true
		}
	}

	cwd := surface.WorkingDirectory()
	cwdChanged := cwd != "" && cwd != s.CWD
	if cwdChanged {
		s.CWD = cwd
		if raw == "" {
			if short := ShortPath(cwd); short != s.Title {
				s.Title = short
				titleChanged = true
			}
		}
	}
	m.mu.Unlock()

	if titleChanged || cwdChanged {
		m.invoke("changed", func() { m.cbs.Changed(s) }, m.cbs.Changed != nil)
	}
}

// hasSurfaceLocked reports surface registration; callers hold mu.
func (m *Manager) hasSurfaceLocked(s *Session) bool {
	if s == nil {
		return false
	}
	_, ok := m.surfaces[s.Key()]
	return ok
}

// invoke runs a callback slot behind panic recovery.
func (m *Manager) invoke(name string, fn func(), registered bool) {
	if !registered {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[session] callback panicked",
				"callback", name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
