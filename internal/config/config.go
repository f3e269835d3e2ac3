package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	// Windows antivirus and indexer locks usually clear within a few tens of
	// milliseconds, so rename retries use a short linear backoff.
	maxRenameRetry       = 10
	renameRetryBaseDelay = 10 * time.Millisecond
	// Port 0 means "OS auto-assign" and is accepted.
	maxValidPort = 65535

	minScrollbackBytes = 64 * 1024
	maxScrollbackBytes = 8 * 1024 * 1024

	minSidebarWidth = 120
	maxSidebarWidth = 600
)

// Test seams. defaultConfigDirFn lets tests simulate directory-resolution
// failures in validateConfigPath; userHomeDirFn covers home-less environments.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir

var windowsEnvTokenPattern = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_]*%`)
var posixEnvTokenPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// pathWarnings collects DefaultPath fallback messages so the UI can surface
// them once a window exists. slog alone is not enough here because the log
// sink is not visible to the user at startup.
var pathWarnings struct {
	mu   sync.Mutex
	msgs []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	pathWarnings.mu.Lock()
	pathWarnings.msgs = append(pathWarnings.msgs, trimmed)
	pathWarnings.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	pathWarnings.mu.Lock()
	defer pathWarnings.mu.Unlock()
	if len(pathWarnings.msgs) == 0 {
		return nil
	}
	out := make([]string, len(pathWarnings.msgs))
	copy(out, pathWarnings.msgs)
	pathWarnings.msgs = nil
	return out
}

// Config is treeterm runtime configuration.
type Config struct {
	// Shell is the program spawned for each session. Empty means "use the
	// platform default": $SHELL (or /bin/sh) on Unix, powershell.exe on
	// Windows.
	Shell string `yaml:"shell" json:"shell"`
	// DefaultSessionDir is the working directory for sessions created
	// without a parent. Empty string means "use the user home directory".
	DefaultSessionDir string `yaml:"default_session_dir,omitempty" json:"default_session_dir,omitempty"`
	// ScrollbackBytes is the per-session replay budget for reconnect
	// restore. 0 means the built-in default.
	ScrollbackBytes int `yaml:"scrollback_bytes" json:"scrollback_bytes"`
	// WebSocketPort is the port for the local WebSocket server used for
	// high-throughput terminal data streaming. 0 (default) lets the OS
	// assign an available port, which is recommended to avoid conflicts.
	WebSocketPort int `yaml:"websocket_port" json:"websocket_port"`
	// SidebarWidth is the session-tree sidebar width in pixels.
	SidebarWidth int `yaml:"sidebar_width" json:"sidebar_width"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Shell:           "",
		ScrollbackBytes: 512 * 1024,
		WebSocketPort:   0,
		SidebarWidth:    220,
	}
}

// DefaultPath resolves the config file path. LOCALAPPDATA wins over APPDATA,
// then ~/.config, then os.TempDir() when no home directory is resolvable.
// The temp-dir fallback does not persist reliably across sessions.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[config] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/home directory. Using temp directory; settings persistence may be limited.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "treeterm", "config.yaml")
}

// Load reads the config file. If the file does not exist, defaults are
// returned. The configured shell is validated; an error is returned when
// validation fails.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[config] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded
// config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Clone returns a copy of cfg. Config currently has no reference-typed
// fields, but callers share snapshots across goroutines through this seam so
// field additions stay safe.
func Clone(src Config) Config {
	return src
}

// Save validates cfg, fills defaults, and atomically writes it to path.
// Returns the normalized config that was actually written to disk.
// Uses the same validation rules as Load.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[config] config saved", "path", path)
	return cfg, nil
}

// atomicWrite writes data via a temp file in the target directory followed by
// a rename. The temp file must live next to the target so the rename stays on
// one filesystem; a crash mid-write leaves the old file intact.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			if closeErr := tmp.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[config] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[config] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmp.Close()
	tmp = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and rejects writes that land outside the
// default config directory.
func validateConfigPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("config path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	configDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absConfigDir, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(abs, absConfigDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", abs)
	}

	return abs, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir reports whether path sits under dir. Cross-drive paths on
// Windows come back from filepath.Rel as absolute, so the IsAbs check catches
// those too.
func pathWithinDir(path string, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// applyDefaultsAndValidate normalizes cfg in place. Load and Save both go
// through here so disk and memory never disagree on defaults.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return nil
	}

	if err := validateShell(cfg.Shell); err != nil {
		return err
	}
	validateScrollbackBytes(cfg)
	validateWebSocketPort(cfg)
	validateSidebarWidth(cfg)
	validateDefaultSessionDir(cfg)
	return nil
}

// validateScrollbackBytes clamps the replay budget into range. Out-of-range
// values are clamped rather than rejected; a config mistake must not keep the
// app from starting.
func validateScrollbackBytes(cfg *Config) {
	if cfg.ScrollbackBytes == 0 {
		cfg.ScrollbackBytes = DefaultConfig().ScrollbackBytes
		return
	}
	if cfg.ScrollbackBytes < minScrollbackBytes {
		slog.Warn("[config] scrollback_bytes below minimum, clamping",
			"configured", cfg.ScrollbackBytes, "min", minScrollbackBytes)
		cfg.ScrollbackBytes = minScrollbackBytes
	} else if cfg.ScrollbackBytes > maxScrollbackBytes {
		slog.Warn("[config] scrollback_bytes above maximum, clamping",
			"configured", cfg.ScrollbackBytes, "max", maxScrollbackBytes)
		cfg.ScrollbackBytes = maxScrollbackBytes
	}
}

func validateWebSocketPort(cfg *Config) {
	if cfg.WebSocketPort < 0 || cfg.WebSocketPort > maxValidPort {
		slog.Warn("[config] websocket_port out of valid range (0-65535), falling back to 0 (auto-assign)",
			"configured", cfg.WebSocketPort, "max", maxValidPort)
		cfg.WebSocketPort = 0
	}
}

func validateSidebarWidth(cfg *Config) {
	if cfg.SidebarWidth == 0 {
		cfg.SidebarWidth = DefaultConfig().SidebarWidth
		return
	}
	if cfg.SidebarWidth < minSidebarWidth {
		slog.Warn("[config] sidebar_width below minimum, clamping",
			"configured", cfg.SidebarWidth, "min", minSidebarWidth)
		cfg.SidebarWidth = minSidebarWidth
	} else if cfg.SidebarWidth > maxSidebarWidth {
		slog.Warn("[config] sidebar_width above maximum, clamping",
			"configured", cfg.SidebarWidth, "max", maxSidebarWidth)
		cfg.SidebarWidth = maxSidebarWidth
	}
}

// validateDefaultSessionDir expands ~ and environment tokens, cleans the
// result, and clears anything that does not end up absolute. Non-fatal.
func validateDefaultSessionDir(cfg *Config) {
	dir := strings.TrimSpace(cfg.DefaultSessionDir)
	if dir == "" {
		cfg.DefaultSessionDir = ""
		return
	}
	if strings.HasPrefix(dir, "~") {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[config] default_session_dir: failed to expand ~, ignoring",
				"path", dir, "error", err)
			cfg.DefaultSessionDir = ""
			return
		}
		dir = filepath.Join(home, dir[1:])
	}
	dir = expandSessionDirEnv(dir)
	dir = filepath.Clean(dir)
	if !filepath.IsAbs(dir) {
		slog.Warn("[config] default_session_dir is not an absolute path, ignoring", "path", dir)
		cfg.DefaultSessionDir = ""
		return
	}
	cfg.DefaultSessionDir = dir
}

// expandSessionDirEnv substitutes %VAR% tokens everywhere and $VAR/${VAR}
// tokens on non-Windows only. '$' is a legal path character on Windows
// (C:\Users\foo$bar) so POSIX expansion there would corrupt valid paths.
// Unknown variables are left untouched.
func expandSessionDirEnv(dir string) string {
	if dir == "" {
		return ""
	}
	expanded := windowsEnvTokenPattern.ReplaceAllStringFunc(dir, func(token string) string {
		if value, ok := os.LookupEnv(token[1 : len(token)-1]); ok {
			return value
		}
		return token
	})
	if runtime.GOOS == "windows" {
		return expanded
	}
	return posixEnvTokenPattern.ReplaceAllStringFunc(expanded, func(token string) string {
		key := strings.TrimPrefix(token, "$")
		key = strings.TrimPrefix(key, "{")
		key = strings.TrimSuffix(key, "}")
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return token
	})
}

// validateShell ensures the configured shell is safe for process creation.
// Empty means "platform default" and is always valid. Absolute paths must
// exist on disk; relative paths with separators are rejected because they
// could resolve to unintended executables depending on the launch directory.
func validateShell(shell string) error {
	shell = strings.TrimSpace(shell)
	if shell == "" {
		return nil
	}
	if strings.ContainsRune(shell, '\x00') {
		return errors.New("shell contains invalid null byte")
	}

	if filepath.IsAbs(shell) {
		info, err := os.Stat(shell)
		if err != nil {
			return fmt.Errorf("shell path does not exist: %w", err)
		}
		if info.IsDir() {
			return errors.New("shell path cannot be a directory")
		}
		return nil
	}

	// Reject relative paths such as "./tool/shell".
	if strings.Contains(shell, `\`) || strings.Contains(shell, "/") {
		return errors.New("shell must be executable name or absolute path")
	}
	return nil
}

// readLimitedFile reads at most maxBytes from path. Reading one extra byte
// distinguishes "exactly at the limit" from "over it".
func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	// reflect.DeepEqual stays correct when fields are added later.
	return reflect.DeepEqual(cfg, Config{})
}

// renameFileWithRetry retries only on Windows, where a virus scanner or the
// indexer can briefly hold the target open. Elsewhere the first error is
// final.
func renameFileWithRetry(src string, dst string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
