package main

import (
	"errors"
	"fmt"

	"treeterm/internal/session"
	"treeterm/internal/terminal"
)

// terminalSurface is the surface contract the app layer needs beyond what
// the session manager requires: the stream identity plus the input side.
type terminalSurface interface {
	session.Surface
	ID() string
	Write(data []byte) (int, error)
	Resize(cols, rows int) error
}

// newSurfaceFn indirection for tests.
var newSurfaceFn = func(id string, cfg terminal.Config, output func(data []byte)) terminalSurface {
	return terminal.NewSurface(id, cfg, output)
}

// allocSurface is the manager's surface factory. It assigns the opaque
// stream id up front so the output sink is routable before the shell spawns.
func (a *App) allocSurface() (session.Surface, error) {
	cfg := a.getConfigSnapshot()

	a.streamMu.Lock()
	a.streamSeq++
	id := fmt.Sprintf("s%d", a.streamSeq)
	a.streamMu.Unlock()

	return newSurfaceFn(id, terminal.Config{Shell: cfg.Shell}, func(chunk []byte) {
		a.handleStreamOutput(id, chunk)
	}), nil
}

func (a *App) registerStream(key session.Key, streamID string) {
	a.streamMu.Lock()
	a.streamByKey[key] = streamID
	a.keyByStream[streamID] = key
	a.streamMu.Unlock()
}

func (a *App) unregisterStream(key session.Key) string {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	streamID, ok := a.streamByKey[key]
	if !ok {
		return ""
	}
	delete(a.streamByKey, key)
	delete(a.keyByStream, streamID)
	return streamID
}

func (a *App) streamIDFor(key session.Key) string {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	return a.streamByKey[key]
}

type sessionCreatedEvent struct {
	Key      session.Key `json:"key"`
	Title    string      `json:"title"`
	CWD      string      `json:"cwd"`
	StreamID string      `json:"streamId"`
}

type sessionClosedEvent struct {
	Key       session.Key   `json:"key"`
	Adopted   []session.Key `json:"adopted"`
	NewParent *session.Key  `json:"newParent"`
}

type sessionSelectedEvent struct {
	Key      session.Key `json:"key"`
	StreamID string      `json:"streamId"`
}

type sessionChangedEvent struct {
	Key   session.Key `json:"key"`
	Title string      `json:"title"`
	CWD   string      `json:"cwd"`
}

func (a *App) onSessionCreated(s *session.Session, surface session.Surface) {
	streamID := ""
	if ts, ok := surface.(interface{ ID() string }); ok {
		streamID = ts.ID()
		a.registerStream(s.Key(), streamID)
	}
	a.emitRuntimeEvent("session:created", sessionCreatedEvent{
		Key:      s.Key(),
		Title:    s.Title,
		CWD:      s.CWD,
		StreamID: streamID,
	})
	a.requestTreeSnapshot(true)
}

// onSessionClosed carries the adoption outcome so the sidebar can re-parent
// the adopted rows without waiting for the next full tree snapshot.
func (a *App) onSessionClosed(s *session.Session, adopted []*session.Session, newParent *session.Session) {
	a.releaseStream(a.unregisterStream(s.Key()))

	event := sessionClosedEvent{
		Key:     s.Key(),
		Adopted: make([]session.Key, 0, len(adopted)),
	}
	for _, child := range adopted {
		event.Adopted = append(event.Adopted, child.Key())
	}
	if newParent != nil {
		key := newParent.Key()
		event.NewParent = &key
	}
	a.emitRuntimeEvent("session:closed", event)
	a.requestTreeSnapshot(true)
}

func (a *App) onSessionSelected(s *session.Session) {
	a.emitRuntimeEvent("session:selected", sessionSelectedEvent{
		Key:      s.Key(),
		StreamID: a.streamIDFor(s.Key()),
	})
	a.requestTreeSnapshot(true)
}

func (a *App) onSessionChanged(s *session.Session) {
	a.emitRuntimeEvent("session:changed", sessionChangedEvent{
		Key:   s.Key(),
		Title: s.Title,
		CWD:   s.CWD,
	})
	a.requestTreeSnapshot(false)
}

func (a *App) requireManager() (*session.Manager, error) {
	if a.manager == nil {
		return nil, errors.New("session manager is unavailable")
	}
	return a.manager, nil
}

func (a *App) requireSession(key session.Key) (*session.Manager, *session.Session, error) {
	manager, err := a.requireManager()
	if err != nil {
		return nil, nil, err
	}
	s := manager.Get(key)
	if s == nil {
		return nil, nil, fmt.Errorf("unknown session pid=%d fd=%d", key.PID, key.PtyFD)
	}
	return manager, s, nil
}

// NewSession creates a root session. An empty cwd falls back to the
// configured default session directory, then the user home directory.
func (a *App) NewSession(cwd string) error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	if cwd == "" {
		cwd = a.getConfigSnapshot().DefaultSessionDir
	}
	if manager.Create(nil, cwd, "") == nil {
		return errors.New("failed to start session")
	}
	return nil
}

// NewChildSession creates a session under the current one, inheriting its
// working directory.
func (a *App) NewChildSession() error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	if manager.CreateChild("") == nil {
		return errors.New("failed to start session")
	}
	return nil
}

// NewSiblingSession creates a session next to the current one: same parent,
// same working directory.
func (a *App) NewSiblingSession() error {
	manager, err := a.requireManager()
	if err != nil {
		return err
	}
	if manager.CreateSibling("") == nil {
		return errors.New("failed to start session")
	}
	return nil
}

// CloseSession closes the identified session; its children are adopted by
// the grandparent (or promoted to roots).
func (a *App) CloseSession(key session.Key) error {
	manager, s, err := a.requireSession(key)
	if err != nil {
		return err
	}
	manager.Close(s)
	return nil
}

// SelectSession makes the identified session current.
func (a *App) SelectSession(key session.Key) error {
	manager, s, err := a.requireSession(key)
	if err != nil {
		return err
	}
	manager.Select(s)
	return nil
}

// SelectNextSession cycles the selection forward in creation order.
func (a *App) SelectNextSession() {
	if manager, err := a.requireManager(); err == nil {
		manager.SelectNext()
	}
}

// SelectPreviousSession cycles the selection backward in creation order.
func (a *App) SelectPreviousSession() {
	if manager, err := a.requireManager(); err == nil {
		manager.SelectPrevious()
	}
}

// SendInput writes keyboard input to the identified session's shell.
func (a *App) SendInput(key session.Key, data string) error {
	manager, s, err := a.requireSession(key)
	if err != nil {
		return err
	}
	surface, ok := manager.SurfaceFor(s).(terminalSurface)
	if !ok {
		return errors.New("session has no input surface")
	}
	_, err = surface.Write([]byte(data))
	return err
}

// ResizeSession updates the pty window size for the identified session.
func (a *App) ResizeSession(key session.Key, cols, rows int) error {
	manager, s, err := a.requireSession(key)
	if err != nil {
		return err
	}
	surface, ok := manager.SurfaceFor(s).(terminalSurface)
	if !ok {
		return errors.New("session has no input surface")
	}
	return surface.Resize(cols, rows)
}

// GetSessionTree returns the current forest as frontend-safe nodes.
func (a *App) GetSessionTree() []session.Node {
	manager, err := a.requireManager()
	if err != nil {
		return nil
	}
	return manager.TreeSnapshot()
}

// GetCurrentSession returns the key of the selected session, or nil.
func (a *App) GetCurrentSession() *session.Key {
	manager, err := a.requireManager()
	if err != nil {
		return nil
	}
	current := manager.Current()
	if current == nil {
		return nil
	}
	key := current.Key()
	return &key
}

// GetSessionStreamID returns the stream id the frontend subscribes to for
// the identified session's output, or "".
func (a *App) GetSessionStreamID(key session.Key) string {
	return a.streamIDFor(key)
}

// GetReplay returns the buffered scrollback for the identified session so a
// reloaded frontend can repaint the terminal before live data resumes.
func (a *App) GetReplay(key session.Key) string {
	replay := a.replay
	if replay == nil {
		return ""
	}
	streamID := a.streamIDFor(key)
	if streamID == "" {
		return ""
	}
	return string(replay.Replay(streamID))
}
