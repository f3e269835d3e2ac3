//go:build !windows

package ipc

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

func platformEndpoint(username string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "treeterm-"+username+".sock")
}

// listenEndpoint creates a unix socket listener at the endpoint path. A
// stale socket file left by a crashed instance is removed first; a live
// server would have been detected by the single-instance lock before this
// point.
func listenEndpoint(endpoint string) (net.Listener, error) {
	if err := os.Remove(endpoint); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, err
	}
	// Socket permissions restrict activation to the current user.
	if err := os.Chmod(endpoint, 0o600); err != nil {
		slog.Warn("[ipc] failed to restrict socket permissions", "endpoint", endpoint, "error", err)
	}
	return listener, nil
}

func dialEndpoint(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}
