// Package procutil holds small process-spawn helpers, currently just
// HideWindow for suppressing the console window flash of pipe-mode shell
// children on Windows.
package procutil
