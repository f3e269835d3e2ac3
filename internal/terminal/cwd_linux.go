//go:build linux

package terminal

import (
	"fmt"
	"os"
)

// processCWD resolves a live process's working directory through procfs.
// Returns "" when the process is gone or unreadable.
func processCWD(pid int) string {
	if pid <= 0 {
		return ""
	}
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return ""
	}
	return link
}
