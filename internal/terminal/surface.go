package terminal

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// startTerminalFn indirection for tests.
var startTerminalFn = Start

// Surface owns one terminal for the lifetime of a session: it spawns the
// shell, pumps output to the sink, watches the stream for title and
// working-directory reports, and latches the process exit.
//
// The exit notification is latched so a handler registered after the shell
// already died still fires, immediately, with the recorded status. A shell
// that exits in its first milliseconds must not produce a zombie session.
type Surface struct {
	id     string
	cfg    Config
	output func(data []byte)

	// scanner is touched only by the read goroutine.
	scanner oscScanner

	mu         sync.Mutex
	term       *Terminal
	title      string
	cwd        string
	terminated bool
	exited     bool
	exitStatus int
	onExit     func(status int)
	onTitle    func()

	wg sync.WaitGroup
}

// NewSurface creates an unspawned surface. id is the caller's opaque stream
// identifier; output receives raw shell output and must copy the bytes it
// keeps, the slice is reused between reads. A nil output discards the
// stream.
func NewSurface(id string, cfg Config, output func(data []byte)) *Surface {
	return &Surface{
		id:     id,
		cfg:    cfg,
		output: output,
	}
}

// ID returns the surface's opaque stream identifier.
func (s *Surface) ID() string {
	return s.id
}

// SpawnShell starts an interactive shell rooted at cwd and begins pumping
// its output. It may be called at most once per surface.
func (s *Surface) SpawnShell(cwd string) error {
	s.mu.Lock()
	if s.term != nil {
		s.mu.Unlock()
		return errors.New("surface already spawned")
	}
	if s.terminated {
		s.mu.Unlock()
		return errors.New("surface terminated")
	}
	cfg := s.cfg
	cfg.Dir = cwd
	s.mu.Unlock()

	term, err := startTerminalFn(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		if closeErr := term.Close(); closeErr != nil {
			slog.Debug("[terminal] close of raced spawn failed", "error", closeErr)
		}
		return errors.New("surface terminated")
	}
	s.term = term
	s.cwd = cwd
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(term)

	slog.Info("[terminal] shell spawned", "id", s.id, "pid", term.PID(), "cwd", cwd)
	return nil
}

// run pumps the terminal until the stream ends, then reaps the process and
// fires the latched exit notification. A panic in a consumer is treated as
// end of stream: restarting the pump would re-read from a PTY whose cursor
// already moved, so the session dies cleanly instead.
func (s *Surface) run(term *Terminal) {
	defer s.wg.Done()

	s.pump(term)
	status := term.Wait()

	s.mu.Lock()
	s.exited = true
	s.exitStatus = status
	fn := s.onExit
	s.mu.Unlock()

	slog.Info("[terminal] shell exited", "id", s.id, "status", status)
	if fn != nil {
		fn(status)
	}
}

// pump guards every consumer call. The guard must sit on the per-chunk
// callback, not around ReadLoop, because pipe mode reads stdout and stderr on
// their own goroutines.
func (s *Surface) pump(term *Terminal) {
	var dead atomic.Bool
	guarded := func(data []byte) {
		if dead.Load() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				dead.Store(true)
				slog.Error("[terminal] output consumer panicked, closing session",
					"id", s.id, "panic", r)
				if err := term.Close(); err != nil {
					slog.Debug("[terminal] close after consumer panic failed", "error", err)
				}
			}
		}()
		s.consume(data)
	}
	term.ReadLoop(guarded)
}

func (s *Surface) consume(data []byte) {
	if s.output != nil {
		s.output(data)
	}
	s.scanner.scan(data, s.handleOSC)
}

func (s *Surface) handleOSC(code int, payload string) {
	notify := false
	s.mu.Lock()
	switch code {
	case oscSetIconAndTitle, oscSetTitle:
		if payload != s.title {
			s.title = payload
			notify = true
		}
	case oscWorkingDir:
		if dir := parseOSC7(payload); dir != "" && dir != s.cwd {
			s.cwd = dir
			notify = true
		}
	}
	fn := s.onTitle
	s.mu.Unlock()

	if notify && fn != nil {
		fn()
	}
}

// Terminate ends the shell process, best effort. Safe to call repeatedly
// and before SpawnShell.
func (s *Surface) Terminate() error {
	s.mu.Lock()
	s.terminated = true
	term := s.term
	s.mu.Unlock()

	if term == nil {
		return nil
	}
	return term.Close()
}

// PID returns the shell process id, or 0 before spawn.
func (s *Surface) PID() int {
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	if term == nil {
		return 0
	}
	return term.PID()
}

// WindowTitle returns the last OSC-reported title, or "".
func (s *Surface) WindowTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// WorkingDirectory resolves the shell's current directory: procfs first,
// then the last OSC 7 report, then the spawn directory.
func (s *Surface) WorkingDirectory() string {
	s.mu.Lock()
	term := s.term
	cwd := s.cwd
	s.mu.Unlock()

	if term != nil {
		if dir := processCWD(term.PID()); dir != "" {
			return dir
		}
	}
	return cwd
}

// SetExitHandler registers the process-exit notification. If the shell
// already exited the handler fires immediately with the recorded status.
func (s *Surface) SetExitHandler(fn func(status int)) {
	s.mu.Lock()
	s.onExit = fn
	exited := s.exited
	status := s.exitStatus
	s.mu.Unlock()

	if exited && fn != nil {
		fn(status)
	}
}

// SetTitleHandler registers the title/cwd-change notification. If a title
// arrived before registration the handler fires immediately so the late
// registrant catches up.
func (s *Surface) SetTitleHandler(fn func()) {
	s.mu.Lock()
	s.onTitle = fn
	pending := s.title != ""
	s.mu.Unlock()

	if pending && fn != nil {
		fn()
	}
}

// Write sends input bytes to the shell.
func (s *Surface) Write(data []byte) (int, error) {
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	if term == nil {
		return 0, errors.New("surface not spawned")
	}
	return term.Write(data)
}

// Resize updates the terminal window size.
func (s *Surface) Resize(cols, rows int) error {
	s.mu.Lock()
	term := s.term
	s.mu.Unlock()
	if term == nil {
		return errors.New("surface not spawned")
	}
	return term.Resize(cols, rows)
}

// Wait blocks until the read pump has drained and the process is reaped.
// Intended for shutdown paths and tests.
func (s *Surface) Wait() {
	s.wg.Wait()
}
