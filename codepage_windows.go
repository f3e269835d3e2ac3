//go:build windows

package main

import "syscall"

// setConsoleUTF8 switches the console code pages to UTF-8 (65001) so shell
// output with non-ASCII characters survives the pipe-mode path intact.
func setConsoleUTF8() {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	setOutputCP := kernel32.NewProc("SetConsoleOutputCP")
	setInputCP := kernel32.NewProc("SetConsoleCP")
	setOutputCP.Call(65001)
	setInputCP.Call(65001)
}
