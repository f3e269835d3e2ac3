package session

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"treeterm/internal/testutil"
)

type fakeSurface struct {
	spawnErr    error
	spawnedCWD  string
	pid         int
	title       string
	reportedCWD string
	terminated  int

	onExit  func(int)
	onTitle func()
}

func (f *fakeSurface) SpawnShell(cwd string) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.spawnedCWD = cwd
	return nil
}

func (f *fakeSurface) Terminate() error {
	f.terminated++
	return nil
}

func (f *fakeSurface) PID() int                      { return f.pid }
func (f *fakeSurface) WindowTitle() string           { return f.title }
func (f *fakeSurface) WorkingDirectory() string      { return f.reportedCWD }
func (f *fakeSurface) SetExitHandler(fn func(int))   { f.onExit = fn }
func (f *fakeSurface) SetTitleHandler(fn func())     { f.onTitle = fn }

// surfaceQueue hands out pre-built fake surfaces in order.
type surfaceQueue struct {
	surfaces []*fakeSurface
	next     int
}

func (q *surfaceQueue) factory() (Surface, error) {
	if q.next >= len(q.surfaces) {
		return nil, errors.New("surface queue exhausted")
	}
	s := q.surfaces[q.next]
	q.next++
	return s, nil
}

func newFakeSurfaces(n int) *surfaceQueue {
	q := &surfaceQueue{}
	for i := 0; i < n; i++ {
		q.surfaces = append(q.surfaces, &fakeSurface{})
	}
	return q
}

func newTestManager(t *testing.T, q *surfaceQueue, cbs Callbacks) *Manager {
	t.Helper()
	m := NewManager(q.factory, cbs)
	m.homeDirFn = func() (string, error) { return "/home/tester", nil }
	t.Cleanup(m.Shutdown)
	return m
}

func TestCreateLinksSessionAndFiresCreated(t *testing.T) {
	q := newFakeSurfaces(1)
	var created *Session
	var createdSurface Surface
	m := newTestManager(t, q, Callbacks{
		Created: func(s *Session, surface Surface) {
			created = s
			createdSurface = surface
		},
	})

	s := m.Create(nil, "/tmp/work", "")
	if s == nil {
		t.Fatalf("Create() = nil, want session")
	}
	if created == nil || !created.Same(s) {
		t.Fatalf("Created callback did not fire for the new session")
	}
	if createdSurface != Surface(q.surfaces[0]) {
		t.Fatalf("Created callback surface mismatch")
	}
	if got := m.Current(); !got.Same(s) {
		t.Fatalf("current = %v, want the new session", got)
	}
	if q.surfaces[0].spawnedCWD != "/tmp/work" {
		t.Fatalf("spawn cwd = %q, want /tmp/work", q.surfaces[0].spawnedCWD)
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
}

func TestCreateResolvesCWDFromParentThenHome(t *testing.T) {
	q := newFakeSurfaces(3)
	m := newTestManager(t, q, Callbacks{})

	root := m.Create(nil, "", "")
	if q.surfaces[0].spawnedCWD != "/home/tester" {
		t.Fatalf("root spawn cwd = %q, want home", q.surfaces[0].spawnedCWD)
	}

	child := m.Create(root, "", "")
	if child == nil {
		t.Fatalf("child Create() = nil")
	}
	if q.surfaces[1].spawnedCWD != "/home/tester" {
		t.Fatalf("child spawn cwd = %q, want parent cwd", q.surfaces[1].spawnedCWD)
	}

	m.Create(nil, "/explicit", "")
	if q.surfaces[2].spawnedCWD != "/explicit" {
		t.Fatalf("explicit spawn cwd = %q, want /explicit", q.surfaces[2].spawnedCWD)
	}
}

func TestCreateSpawnFailureLeavesNoState(t *testing.T) {
	q := &surfaceQueue{surfaces: []*fakeSurface{{spawnErr: errors.New("fork failed")}}}
	fired := false
	m := newTestManager(t, q, Callbacks{
		Created: func(*Session, Surface) { fired = true },
	})

	if s := m.Create(nil, "/tmp", ""); s != nil {
		t.Fatalf("Create() = %v, want nil on spawn failure", s)
	}
	if fired {
		t.Fatalf("Created callback fired for failed spawn")
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", m.Count())
	}
	if got := len(m.TreeSnapshot()); got != 0 {
		t.Fatalf("tree has %d roots after failed spawn, want 0", got)
	}
	if q.surfaces[0].terminated == 0 {
		t.Fatalf("failed surface was not disposed")
	}
	if m.Current() != nil {
		t.Fatalf("current set after failed spawn")
	}
}

func TestCreateChildAndSiblingParenting(t *testing.T) {
	q := newFakeSurfaces(3)
	m := newTestManager(t, q, Callbacks{})

	root := m.Create(nil, "/work", "")
	child := m.CreateChild("")
	if child == nil {
		t.Fatalf("CreateChild() = nil")
	}
	if got := m.Parent(child); !got.Same(root) {
		t.Fatalf("parent of child = %v, want root", got)
	}
	if child.CWD != "/work" {
		t.Fatalf("child cwd = %q, want inherited /work", child.CWD)
	}

	// Current is now child; a sibling of child shares child's parent (root).
	sibling := m.CreateSibling("")
	if sibling == nil {
		t.Fatalf("CreateSibling() = nil")
	}
	if got := m.Parent(sibling); !got.Same(root) {
		t.Fatalf("parent of sibling = %v, want root", got)
	}
}

func TestCreateChildWithoutCurrentCreatesRoot(t *testing.T) {
	q := newFakeSurfaces(1)
	m := newTestManager(t, q, Callbacks{})

	s := m.CreateChild("")
	if s == nil {
		t.Fatalf("CreateChild() = nil")
	}
	if got := m.Parent(s); got != nil {
		t.Fatalf("parent = %v, want nil root", got)
	}
}

func TestCloseSelectsParentFirst(t *testing.T) {
	q := newFakeSurfaces(2)
	var selected *Session
	var closedAdopted []*Session
	var closedParent *Session
	m := newTestManager(t, q, Callbacks{
		Selected: func(s *Session) { selected = s },
		Closed: func(s *Session, adopted []*Session, parent *Session) {
			closedAdopted = adopted
			closedParent = parent
		},
	})

	root := m.Create(nil, "/a", "")
	child := m.CreateChild("")

	m.Close(child)

	if got := m.Current(); !got.Same(root) {
		t.Fatalf("current after close = %v, want parent", got)
	}
	if selected == nil || !selected.Same(root) {
		t.Fatalf("Selected callback = %v, want parent", selected)
	}
	if len(closedAdopted) != 0 {
		t.Fatalf("adopted = %v, want none for a leaf", closedAdopted)
	}
	if closedParent == nil || !closedParent.Same(root) {
		t.Fatalf("Closed parent = %v, want root", closedParent)
	}
}

func TestCloseRootSelectsFirstAdoptedChild(t *testing.T) {
	q := newFakeSurfaces(3)
	m := newTestManager(t, q, Callbacks{})

	root := m.Create(nil, "/a", "")
	c1 := m.Create(root, "", "")
	m.Create(root, "", "")
	m.Select(root)

	m.Close(root)

	if got := m.Current(); !got.Same(c1) {
		t.Fatalf("current = %v, want first adopted child", got)
	}
	// Both children were promoted to roots.
	if got := len(m.TreeSnapshot()); got != 2 {
		t.Fatalf("roots after close = %d, want 2", got)
	}
}

func TestCloseLastSessionClearsCurrent(t *testing.T) {
	q := newFakeSurfaces(1)
	m := newTestManager(t, q, Callbacks{})

	s := m.Create(nil, "/a", "")
	m.Close(s)

	if got := m.Current(); got != nil {
		t.Fatalf("current = %v, want nil after last close", got)
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", m.Count())
	}
}

func TestCloseFallsBackToRemainingRoot(t *testing.T) {
	q := newFakeSurfaces(2)
	m := newTestManager(t, q, Callbacks{})

	keep := m.Create(nil, "/keep", "")
	other := m.Create(nil, "/other", "")

	// other is current, has no parent and no children; fallback is the
	// first remaining root.
	m.Close(other)

	if got := m.Current(); !got.Same(keep) {
		t.Fatalf("current = %v, want remaining root", got)
	}
}

func TestCloseFiresClosedWithAdoptionInfo(t *testing.T) {
	q := newFakeSurfaces(3)
	var closed *Session
	var adopted []*Session
	var newParent *Session
	m := newTestManager(t, q, Callbacks{
		Closed: func(s *Session, kids []*Session, parent *Session) {
			closed = s
			adopted = kids
			newParent = parent
		},
	})

	root := m.Create(nil, "/a", "")
	mid := m.Create(root, "", "")
	grand := m.Create(mid, "", "")

	m.Close(mid)

	if closed == nil || !closed.Same(mid) {
		t.Fatalf("Closed session = %v, want mid", closed)
	}
	if len(adopted) != 1 || !adopted[0].Same(grand) {
		t.Fatalf("adopted = %v, want [grand]", adopted)
	}
	if newParent == nil || !newParent.Same(root) {
		t.Fatalf("new parent = %v, want root", newParent)
	}
	if got := m.Parent(grand); !got.Same(root) {
		t.Fatalf("grandchild parent = %v, want root", got)
	}
}

func TestSelectUnknownSessionIsNoOp(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	q := newFakeSurfaces(1)
	var selected int
	m := newTestManager(t, q, Callbacks{
		Selected: func(*Session) { selected++ },
	})

	current := m.Create(nil, "/a", "")
	stale := New(999, 999, "/nowhere", "")
	m.Select(stale)

	if got := m.Current(); !got.Same(current) {
		t.Fatalf("current changed by selecting a stale session")
	}
	if !strings.Contains(logBuf.String(), "select ignored") {
		t.Fatalf("no warning logged for stale select, log = %q", logBuf.String())
	}
	// Only the explicit Select of a live session would bump the counter;
	// Create does not fire Selected.
	if selected != 0 {
		t.Fatalf("Selected fired %d times, want 0", selected)
	}
}

func TestSelectNextAndPreviousCycle(t *testing.T) {
	q := newFakeSurfaces(3)
	m := newTestManager(t, q, Callbacks{})

	a := m.Create(nil, "/a", "")
	b := m.Create(nil, "/b", "")
	c := m.Create(nil, "/c", "")

	m.Select(a)
	m.SelectNext()
	if got := m.Current(); !got.Same(b) {
		t.Fatalf("after next: current = %v, want b", got)
	}
	m.SelectNext()
	m.SelectNext()
	if got := m.Current(); !got.Same(a) {
		t.Fatalf("after wrap: current = %v, want a", got)
	}
	m.SelectPrevious()
	if got := m.Current(); !got.Same(c) {
		t.Fatalf("after previous wrap: current = %v, want c", got)
	}
}

func TestSelectNextSingleSessionIsNoOp(t *testing.T) {
	q := newFakeSurfaces(1)
	var selected int
	m := newTestManager(t, q, Callbacks{
		Selected: func(*Session) { selected++ },
	})
	m.Create(nil, "/a", "")

	m.SelectNext()
	m.SelectPrevious()
	if selected != 0 {
		t.Fatalf("Selected fired %d times for single-session cycling, want 0", selected)
	}
}

func TestProcessExitClosesSessionDeferred(t *testing.T) {
	q := newFakeSurfaces(1)
	m := newTestManager(t, q, Callbacks{})

	m.Create(nil, "/a", "")
	if q.surfaces[0].onExit == nil {
		t.Fatalf("exit handler was not registered")
	}

	q.surfaces[0].onExit(0)

	deadline := time.Now().Add(2 * time.Second)
	for m.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("deferred close did not run, Count() = %d", m.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Current(); got != nil {
		t.Fatalf("current = %v after exit-driven close, want nil", got)
	}
}

func TestTitleChangeParsesUserHostTitle(t *testing.T) {
	q := newFakeSurfaces(1)
	var changed int
	m := newTestManager(t, q, Callbacks{
		Changed: func(*Session) { changed++ },
	})

	s := m.Create(nil, "/home/alice", "")
	q.surfaces[0].title = "alice@host: /home/alice/proj"
	q.surfaces[0].onTitle()

	if got := s.Title; got != "alice/proj (alice@host)" {
		t.Fatalf("title = %q, want parsed form", got)
	}
	if changed != 1 {
		t.Fatalf("Changed fired %d times, want 1", changed)
	}
}

func TestTitleChangeDerivesFromCWDWhenNoTitle(t *testing.T) {
	q := newFakeSurfaces(1)
	var changed int
	m := newTestManager(t, q, Callbacks{
		Changed: func(*Session) { changed++ },
	})

	s := m.Create(nil, "/home/alice", "")
	q.surfaces[0].reportedCWD = "/home/alice/proj"
	q.surfaces[0].onTitle()

	if s.CWD != "/home/alice/proj" {
		t.Fatalf("cwd = %q, want updated", s.CWD)
	}
	if got := s.Title; got != "alice/proj" {
		t.Fatalf("title = %q, want cwd-derived alice/proj", got)
	}
	if changed != 1 {
		t.Fatalf("Changed fired %d times, want 1", changed)
	}
}

func TestTitleChangeWithoutChangesIsSilent(t *testing.T) {
	q := newFakeSurfaces(1)
	var changed int
	m := newTestManager(t, q, Callbacks{
		Changed: func(*Session) { changed++ },
	})

	m.Create(nil, "/home/alice", "")
	q.surfaces[0].onTitle()

	if changed != 0 {
		t.Fatalf("Changed fired %d times with nothing to report, want 0", changed)
	}
}

func TestVerbatimTitlePassesThrough(t *testing.T) {
	q := newFakeSurfaces(1)
	m := newTestManager(t, q, Callbacks{})

	s := m.Create(nil, "/home/alice", "")
	q.surfaces[0].title = "vim notes.txt"
	q.surfaces[0].onTitle()

	if got := s.Title; got != "vim notes.txt" {
		t.Fatalf("title = %q, want verbatim raw title", got)
	}
}

func TestCallbackPanicDoesNotCorruptManager(t *testing.T) {
	q := newFakeSurfaces(2)
	m := newTestManager(t, q, Callbacks{
		Created: func(*Session, Surface) { panic("observer bug") },
	})

	s := m.Create(nil, "/a", "")
	if s == nil {
		t.Fatalf("Create() = nil after callback panic, want session")
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}

	// Manager still works after the panic.
	if second := m.Create(nil, "/b", ""); second == nil {
		t.Fatalf("second Create() = nil, manager corrupted")
	}
}

func TestTreeSnapshotIsDeepCopy(t *testing.T) {
	q := newFakeSurfaces(2)
	m := newTestManager(t, q, Callbacks{})

	root := m.Create(nil, "/a", "")
	m.Create(root, "", "")

	snap := m.TreeSnapshot()
	if len(snap) != 1 || len(snap[0].Children) != 1 {
		t.Fatalf("snapshot shape = %#v, want one root with one child", snap)
	}

	snap[0].Title = "mutated"
	if root.Title == "mutated" {
		t.Fatalf("snapshot mutation leaked into the tree")
	}
}
