package terminal

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

// scriptedStart replaces the real spawn with a terminal whose output is a
// fixed byte script. The stream ends immediately after the script, which
// drives the surface through its exit path.
func scriptedStart(t *testing.T, script string) {
	t.Helper()
	prev := startTerminalFn
	startTerminalFn = func(Config) (*Terminal, error) {
		return &Terminal{
			stdin:  nopWriteCloser{},
			stdout: io.NopCloser(strings.NewReader(script)),
		}, nil
	}
	t.Cleanup(func() { startTerminalFn = prev })
}

type outputCollector struct {
	mu   sync.Mutex
	data []byte
}

func (c *outputCollector) sink(data []byte) {
	c.mu.Lock()
	c.data = append(c.data, data...)
	c.mu.Unlock()
}

func (c *outputCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.data)
}

func TestSurfacePumpsOutputToSink(t *testing.T) {
	scriptedStart(t, "hello from the shell")
	var out outputCollector
	s := NewSurface("s1", Config{}, out.sink)

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	if got := out.String(); got != "hello from the shell" {
		t.Fatalf("sink received %q, want script", got)
	}
}

func TestSurfaceExitHandlerFiresOnStreamEnd(t *testing.T) {
	scriptedStart(t, "")
	s := NewSurface("s1", Config{}, nil)

	exited := make(chan int, 1)
	s.SetExitHandler(func(status int) { exited <- status })

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}

	select {
	case status := <-exited:
		if status != 0 {
			t.Fatalf("exit status = %d, want 0", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler never fired")
	}
}

func TestSurfaceExitLatchFiresLateHandler(t *testing.T) {
	scriptedStart(t, "")
	s := NewSurface("s1", Config{}, nil)

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	// The shell is long gone; a handler registered now must still fire.
	exited := make(chan int, 1)
	s.SetExitHandler(func(status int) { exited <- status })

	select {
	case <-exited:
	default:
		t.Fatal("latched exit did not fire the late handler")
	}
}

func TestSurfaceTitleFromOSC(t *testing.T) {
	scriptedStart(t, "\x1b]2;alice@host: /home/alice\x07")
	s := NewSurface("s1", Config{}, nil)

	titled := make(chan struct{}, 4)
	s.SetTitleHandler(func() { titled <- struct{}{} })

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	select {
	case <-titled:
	default:
		t.Fatal("title handler never fired")
	}
	if got := s.WindowTitle(); got != "alice@host: /home/alice" {
		t.Fatalf("WindowTitle() = %q", got)
	}
}

func TestSurfaceLateTitleHandlerCatchesUp(t *testing.T) {
	scriptedStart(t, "\x1b]0;late title\x07")
	s := NewSurface("s1", Config{}, nil)

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	titled := make(chan struct{}, 1)
	s.SetTitleHandler(func() { titled <- struct{}{} })

	select {
	case <-titled:
	default:
		t.Fatal("handler registered after the title arrived did not fire")
	}
}

func TestSurfaceOSC7UpdatesWorkingDirectory(t *testing.T) {
	scriptedStart(t, "\x1b]7;file://host/srv/www\x1b\\")
	s := NewSurface("s1", Config{}, nil)

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	// The scripted terminal has no live process, so procfs yields nothing
	// and the OSC 7 report wins.
	if got := s.WorkingDirectory(); got != "/srv/www" {
		t.Fatalf("WorkingDirectory() = %q, want /srv/www", got)
	}
}

func TestSurfaceConsumerPanicEndsSession(t *testing.T) {
	scriptedStart(t, "trigger")
	s := NewSurface("s1", Config{}, func([]byte) { panic("sink blew up") })

	exited := make(chan int, 1)
	s.SetExitHandler(func(status int) { exited <- status })

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("SpawnShell() error = %v", err)
	}
	s.Wait()

	select {
	case <-exited:
	default:
		t.Fatal("panic in the output sink did not end the session")
	}
}

func TestSurfaceSpawnTwiceFails(t *testing.T) {
	scriptedStart(t, "")
	s := NewSurface("s1", Config{}, nil)

	if err := s.SpawnShell("/tmp"); err != nil {
		t.Fatalf("first SpawnShell() error = %v", err)
	}
	if err := s.SpawnShell("/tmp"); err == nil {
		t.Fatal("second SpawnShell() succeeded, want error")
	}
}

func TestSurfaceTerminateBeforeSpawn(t *testing.T) {
	scriptedStart(t, "")
	s := NewSurface("s1", Config{}, nil)

	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate() before spawn error = %v", err)
	}
	if err := s.SpawnShell("/tmp"); err == nil {
		t.Fatal("SpawnShell() after Terminate succeeded, want error")
	}
}

func TestSurfaceWriteBeforeSpawnFails(t *testing.T) {
	s := NewSurface("s1", Config{}, nil)
	if _, err := s.Write([]byte("ls\n")); err == nil {
		t.Fatal("Write() before spawn succeeded, want error")
	}
	if err := s.Resize(80, 24); err == nil {
		t.Fatal("Resize() before spawn succeeded, want error")
	}
}
