package terminal

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// PID returns the process id.
func (t *Terminal) PID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// IsClosed reports whether Close has been called.
func (t *Terminal) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Write writes input bytes to the PTY.
func (t *Terminal) Write(data []byte) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		slog.Warn("[terminal] Write: terminal is closed", "dataLen", len(data))
		return 0, errors.New("terminal closed")
	}
	if t.ptmx != nil {
		n, err := t.ptmx.Write(data)
		if err != nil {
			slog.Warn("[terminal] Write (ptmx) failed", "error", err, "dataLen", len(data))
		}
		return n, err
	}
	if t.stdin == nil {
		return 0, errors.New("terminal stdin unavailable")
	}
	payload := normalizePipeInput(data)
	n, err := t.stdin.Write(payload)
	if err != nil {
		slog.Warn("[terminal] Write (stdin) failed", "error", err, "dataLen", len(data))
	}
	return n, err
}

// Resize updates the PTY window size.
func (t *Terminal) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errors.New("invalid size")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errors.New("terminal closed")
	}
	if t.ptmx != nil {
		return resizePtmx(t.ptmx, cols, rows)
	}
	// Pipe-mode fallback has no PTY resize.
	return nil
}

// ReadLoop continuously reads terminal output until the process exits or
// Close is called. onData must consume the bytes during the call because the
// backing buffer is reused on the next read.
func (t *Terminal) ReadLoop(onData func([]byte)) {
	if onData == nil {
		return
	}
	t.mu.RLock()
	file := t.ptmx
	stdout := t.stdout
	stderr := t.stderr
	t.mu.RUnlock()

	if file != nil {
		readSource(file, onData)
		return
	}

	var wg sync.WaitGroup
	if stdout != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readSource(stdout, onData)
		}()
	}
	if stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readSource(stderr, onData)
		}()
	}
	wg.Wait()
}

const readChunkSize = 32 * 1024

func readSource(reader io.Reader, onData func([]byte)) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err != nil {
			slog.Debug("[terminal] readSource exiting", "error", err, "bytesInLastRead", n)
			return
		}
	}
}

// Wait blocks until the shell process exits and returns its exit code. A
// signal-terminated or unwaitable process reports -1.
func (t *Terminal) Wait() int {
	t.mu.RLock()
	cmd := t.cmd
	t.mu.RUnlock()
	if cmd == nil {
		return 0
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return -1
	}
	return 0
}

// normalizePipeInput adapts CR-only input into CRLF for pipe-mode shells.
// The PTY backend bypasses this path.
func normalizePipeInput(data []byte) []byte {
	if len(data) == 0 {
		return data
	}

	hasCR := false
	for _, b := range data {
		if b == '\r' {
			hasCR = true
			break
		}
	}
	if !hasCR {
		return data
	}

	out := make([]byte, 0, len(data)+8)
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != '\r' {
			out = append(out, b)
			continue
		}

		out = append(out, '\r')
		if i+1 >= len(data) || data[i+1] != '\n' {
			out = append(out, '\n')
		}
	}
	return out
}

// Close kills the shell process and releases the PTY or pipe handles. The
// first close error is remembered and returned again on repeat calls.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return t.closeErr
	}
	t.closed = true

	if t.cmd != nil && t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("[terminal] process kill during close failed", "error", err)
		}
	}

	var firstErr error
	closePipe := func(name string, c io.Closer) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			slog.Warn("[terminal] close "+name+" failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	closePipe("stdin", t.stdin)
	closePipe("stdout", t.stdout)
	closePipe("stderr", t.stderr)
	if t.ptmx != nil {
		if err := t.ptmx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.closeErr = firstErr
	return firstErr
}
