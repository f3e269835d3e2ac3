//go:build windows

package procutil

import (
	"os/exec"
	"syscall"
)

// HideWindow marks cmd so its console window never appears. Pipe-mode shell
// children otherwise flash a console on spawn. Existing SysProcAttr fields
// are left untouched.
func HideWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}
