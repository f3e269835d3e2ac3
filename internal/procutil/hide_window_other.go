//go:build !windows

package procutil

import "os/exec"

// HideWindow does nothing off Windows; there is no console window to hide.
func HideWindow(_ *exec.Cmd) {}
