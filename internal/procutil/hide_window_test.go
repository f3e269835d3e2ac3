//go:build !windows

package procutil

import (
	"os/exec"
	"testing"
)

func TestHideWindowLeavesUnixCommandsAlone(t *testing.T) {
	cmd := exec.Command("true")
	HideWindow(cmd)
	if cmd.SysProcAttr != nil {
		t.Fatal("SysProcAttr set on non-Windows, want nil")
	}
}

func TestHideWindowNilCmd(t *testing.T) {
	HideWindow(nil)
}
