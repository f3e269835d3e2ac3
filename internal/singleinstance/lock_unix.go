//go:build !windows

package singleinstance

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"treeterm/internal/userutil"
)

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock holds an exclusively created pid file for single-instance
// enforcement. Unlike the Windows mutex, the file survives a crash; TryLock
// detects and reclaims stale files by checking whether the recorded pid is
// still alive.
type Lock struct {
	path string
}

// TryLock attempts to create the pid file exclusively.
// Returns ErrAlreadyRunning if the file exists and its pid is a live process.
func TryLock(path string) (*Lock, error) {
	if path == "" {
		path = DefaultLockName()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	// Two attempts: the second runs after a stale file has been removed.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, writeErr := fmt.Fprintf(f, "%d\n", os.Getpid())
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write pid file %q: %w", path, errors.Join(writeErr, closeErr))
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create pid file %q: %w", path, err)
		}

		if pidFileIsLive(path) {
			return nil, ErrAlreadyRunning
		}
		slog.Info("[singleinstance] removing stale pid file", "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale pid file %q: %w", path, err)
		}
	}
	return nil, ErrAlreadyRunning
}

// pidFileIsLive reports whether the pid recorded in the file belongs to a
// running process. An unreadable or malformed file counts as stale.
func pidFileIsLive(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false
	}
	// Signal 0 probes for existence without delivering a signal. EPERM means
	// the process exists but belongs to another user; treat that as live.
	err = unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Release removes the pid file. Safe to call on nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DefaultLockName returns the pid file path for single-instance enforcement.
// The name mirrors the per-user convention of ipc.DefaultEndpoint.
func DefaultLockName() string {
	username := strings.TrimSpace(os.Getenv("USER"))
	if username == "" {
		if current, err := user.Current(); err == nil {
			username = current.Username
		}
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "treeterm-"+userutil.SanitizeUsername(username)+".pid")
}
