package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sidebar_width: 200"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 4)
	w := NewWatcher(path, func(cfg Config) { reloaded <- cfg })
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("sidebar_width: 333"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.SidebarWidth != 333 {
			t.Fatalf("reloaded SidebarWidth = %d, want 333", cfg.SidebarWidth)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reported the change")
	}
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sidebar_width: 200"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 4)
	w := NewWatcher(path, func(cfg Config) { reloaded <- cfg })
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload for unrelated file: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcherKeepsConfigOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sidebar_width: 200"), 0o600); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 4)
	w := NewWatcher(path, func(cfg Config) { reloaded <- cfg })
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("sidebar_width: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("broken file must not trigger onChange, got %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start() without callback succeeded, want error")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(filepath.Join(dir, "config.yaml"), func(Config) {})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w.Stop()
	w.Stop()
}
