package session

// Tree owns the forest of sessions and the parent index.
//
// The parent index is the single source of truth for membership: a session
// is "in the tree" iff it has an entry in parents. Roots carry a nil parent
// entry. An ordered key list is kept alongside the maps so that iteration
// (All, FindByPID) is deterministic in insertion order.
//
// Tree is not safe for concurrent use; Manager serializes all access.
type Tree struct {
	roots   []*Session
	nodes   map[Key]*Session
	parents map[Key]*Session
	order   []Key
}

// NewTree creates an empty forest.
func NewTree() *Tree {
	return &Tree{
		nodes:   map[Key]*Session{},
		parents: map[Key]*Session{},
	}
}

// Add inserts a session, as a root when parent is nil, as the last child of
// parent otherwise. The caller is responsible for parent already being in
// the tree. Add never fails for well-formed input.
func (t *Tree) Add(s *Session, parent *Session) {
	if parent == nil {
		t.roots = append(t.roots, s)
		t.track(s, nil)
		return
	}
	if !parent.hasChild(s) {
		parent.Children = append(parent.Children, s)
	}
	t.track(s, parent)
}

// Remove detaches a session and re-parents its children onto the removed
// session's former parent (or promotes them to roots when the removed
// session was a root). Removing a session that is not tracked is a no-op.
//
// Adoption preserves the relative order of the adopted siblings and appends
// them after any existing children of the new parent. Grandchildren stay
// attached to their own parent; only the immediate children move.
func (t *Tree) Remove(s *Session) {
	if !t.Contains(s) {
		return
	}

	parent := t.parents[s.Key()]
	adopted := append([]*Session(nil), s.Children...)

	for _, child := range adopted {
		if parent == nil {
			t.roots = append(t.roots, child)
			t.parents[child.Key()] = nil
		} else {
			parent.Children = append(parent.Children, child)
			t.parents[child.Key()] = parent
		}
	}

	if parent == nil {
		t.roots = removeSession(t.roots, s)
	} else {
		parent.Children = removeSession(parent.Children, s)
	}

	s.Children = nil
	delete(t.parents, s.Key())
	delete(t.nodes, s.Key())
	t.order = removeKey(t.order, s.Key())
}

// Contains reports whether the session is tracked by the tree.
func (t *Tree) Contains(s *Session) bool {
	if s == nil {
		return false
	}
	_, ok := t.parents[s.Key()]
	return ok
}

// Parent returns the parent of a session, or nil for roots and for sessions
// not in the tree.
func (t *Tree) Parent(s *Session) *Session {
	if s == nil {
		return nil
	}
	return t.parents[s.Key()]
}

// Children returns a copy of the direct children of a session, in order.
func (t *Tree) Children(s *Session) []*Session {
	if s == nil {
		return nil
	}
	return append([]*Session(nil), s.Children...)
}

// Roots returns a copy of the root sessions, in insertion order.
func (t *Tree) Roots() []*Session {
	return append([]*Session(nil), t.roots...)
}

// IsEmpty reports whether the tree has no sessions.
func (t *Tree) IsEmpty() bool {
	return len(t.roots) == 0
}

// Len returns the number of tracked sessions.
func (t *Tree) Len() int {
	return len(t.parents)
}

// Get returns the tracked session with the given key, or nil.
func (t *Tree) Get(key Key) *Session {
	return t.nodes[key]
}

// All returns every tracked session in membership insertion order.
func (t *Tree) All() []*Session {
	out := make([]*Session, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.nodes[key])
	}
	return out
}

// FindByPID returns the first tracked session with the given process id, in
// membership insertion order, or nil.
func (t *Tree) FindByPID(pid int) *Session {
	for _, key := range t.order {
		if key.PID == pid {
			return t.nodes[key]
		}
	}
	return nil
}

func (t *Tree) track(s *Session, parent *Session) {
	if _, tracked := t.parents[s.Key()]; !tracked {
		t.order = append(t.order, s.Key())
	}
	t.nodes[s.Key()] = s
	t.parents[s.Key()] = parent
}

func removeSession(list []*Session, s *Session) []*Session {
	for i, candidate := range list {
		if candidate.Same(s) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeKey(list []Key, key Key) []Key {
	for i, candidate := range list {
		if candidate == key {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
