// Package session implements the tree-style terminal domain model: the
// Session entity, the forest of sessions with the adoption algorithm, and
// the lifecycle Manager that keeps sessions, spawned shells, and the
// frontend in sync.
package session

// Key identifies a session by its process id and pty handle. Display
// metadata (title, cwd) is excluded on purpose: a session's identity must
// stay stable while its metadata mutates, so Key is what goes into maps.
type Key struct {
	PID   int `json:"pid"`
	PtyFD int `json:"pty_fd"`
}

// Session is one terminal occupant of the tree.
//
// Children holds direct children in insertion order, which is also display
// order. A session does not know its own parent; parent linkage lives in
// Tree so that the node payload stays free of back-references.
type Session struct {
	PID      int
	PtyFD    int
	CWD      string
	Title    string
	Children []*Session
}

// New creates a session. An empty title defaults to the short form of cwd.
func New(pid, ptyFD int, cwd, title string) *Session {
	if title == "" {
		title = ShortPath(cwd)
	}
	return &Session{
		PID:   pid,
		PtyFD: ptyFD,
		CWD:   cwd,
		Title: title,
	}
}

// Key returns the identity key for map/set use.
func (s *Session) Key() Key {
	return Key{PID: s.PID, PtyFD: s.PtyFD}
}

// Same reports whether two sessions share the same identity, regardless of
// title/cwd/children state.
func (s *Session) Same(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Key() == other.Key()
}

func (s *Session) hasChild(child *Session) bool {
	for _, c := range s.Children {
		if c.Same(child) {
			return true
		}
	}
	return false
}
