package testutil

import (
	"bytes"
	"log/slog"
	"testing"
)

// CaptureLogBuffer points the default slog logger at an in-memory buffer for
// the duration of the test, so assertions can inspect what was logged. The
// original logger is restored in t.Cleanup.
func CaptureLogBuffer(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	original := slog.Default()
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(original) })
	return &buf
}
