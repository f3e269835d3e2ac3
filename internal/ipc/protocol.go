// Package ipc implements the activation channel between application
// instances. When a second instance starts while one is already running, it
// sends an activate request over a per-user endpoint (Named Pipe on Windows,
// unix socket elsewhere) and exits; the running instance raises its window
// and optionally opens a new session in the requested directory.
//
// Wire format: one newline-delimited JSON request, one newline-delimited
// JSON response, one connection per request.
package ipc

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/user"
	"regexp"
	"strings"

	"treeterm/internal/userutil"
)

// ActivateRequest asks the running instance to come to the foreground.
// If CWD is set, the instance also opens a new session in that directory.
type ActivateRequest struct {
	CWD string `json:"cwd,omitempty"`
}

// ActivateResponse reports the outcome of an activation request.
type ActivateResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Activator handles activation requests in the running instance.
type Activator interface {
	Activate(req ActivateRequest) ActivateResponse
}

var endpointPattern = regexp.MustCompile(`(?i)^[\\/a-z0-9._:-]{1,256}$`)

// DefaultEndpoint returns the per-user activation endpoint. If the
// TREETERM_IPC environment variable is set and passes pattern validation,
// its value is used; otherwise a default is constructed from the current
// username via platform rules (see endpoint_windows.go / endpoint_unix.go).
func DefaultEndpoint() string {
	if v, ok := trustedEndpointFromEnv(); ok {
		return v
	}
	return platformEndpoint(currentUsername())
}

func currentUsername() string {
	for _, env := range []string{"USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return userutil.SanitizeUsername(v)
		}
	}
	if current, err := user.Current(); err == nil {
		return userutil.SanitizeUsername(current.Username)
	}
	return userutil.SanitizeUsername("")
}

func trustedEndpointFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv("TREETERM_IPC"))
	if value == "" {
		return "", false
	}
	if !endpointPattern.MatchString(value) {
		slog.Warn("[ipc] TREETERM_IPC rejected: value does not match allowed pattern", "value", value)
		return "", false
	}
	return value, true
}

func encodeRequest(req ActivateRequest) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRequest(raw []byte) (ActivateRequest, error) {
	var req ActivateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ActivateRequest{}, err
	}
	return req, nil
}

func encodeResponse(resp ActivateResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(raw []byte) (ActivateResponse, error) {
	var resp ActivateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ActivateResponse{}, err
	}
	return resp, nil
}
