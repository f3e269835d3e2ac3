package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeDeadline is the maximum time allowed for a single WebSocket write to
// complete. 5 seconds is generous for localhost single-client writes; if a
// WebView freezes longer than this, the connection is considered dead.
const writeDeadline = 5 * time.Second

// readDeadline is the maximum time the server waits for any read activity
// (including pong responses) before considering the connection dead.
// 90 seconds allows for ~3 missed pings (pingInterval=30s) before timeout.
const readDeadline = 90 * time.Second

// pingInterval is the interval between server-initiated WebSocket pings.
const pingInterval = 30 * time.Second

// maxReadMessageSize limits the size of incoming WebSocket messages.
// Subscribe/unsubscribe JSON payloads are typically under 1 KiB; 32 KiB
// prevents OOM from malformed or oversized messages.
const maxReadMessageSize = 32 * 1024

// wsUpgrader is a package-level Upgrader to avoid repeated allocation on
// each connection upgrade. The Upgrader is stateless and safe for reuse.
var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins because the server binds to 127.0.0.1
	// only. Localhost-only binding prevents external access; origin check
	// is redundant for desktop apps but kept permissive for WebView
	// compatibility.
	CheckOrigin:    func(r *http.Request) bool { return true },
	ReadBufferSize: 1024,
	// WriteBufferSize 32 KiB: matches OutputFlushManager's maxBytes
	// threshold so typical flush payloads fit in one frame buffer.
	WriteBufferSize: 32 * 1024,
}

// HubOptions configures the WebSocket server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for OS-assigned port.
	// 127.0.0.1 binding restricts access to localhost only, which is safe
	// for a desktop application where frontend and backend run on the same
	// machine.
	Addr string
}

// client is one upgraded connection. The id tags log lines so interleaved
// connect/disconnect sequences during page reloads stay readable.
type client struct {
	id   string
	conn *websocket.Conn
}

// Hub manages a single WebSocket connection for streaming session terminal
// output from the Go backend to the frontend via binary frames.
//
// Design: Single-connection model (desktop app = 1 WebView client).
// New connections replace existing ones to handle page reloads gracefully.
//
// Lock ordering (never acquire in reverse):
//
//	writeMu -> mu
//
// mu protects connection state and the subscription map.
// writeMu serializes gorilla/websocket WriteMessage calls (not
// concurrency-safe).
//
// Write failure policy: any write failure (BroadcastStreamData, sendError,
// pingLoop) disconnects the client via clearIfCurrent+closeClient. The
// client must reconnect.
type Hub struct {
	opts HubOptions

	// mu protects current and subscribed. See lock ordering comment on Hub.
	mu         sync.RWMutex
	current    *client
	subscribed map[string]bool // streamID -> subscribed

	// writeMu serializes WriteMessage calls. Never hold mu when acquiring
	// writeMu.
	writeMu sync.Mutex

	listener net.Listener
	server   *http.Server
	url      string // "ws://127.0.0.1:<port>/ws", set after Start

	// closeOnce ensures Stop is idempotent. Once Stop has been called the
	// Hub cannot be reused; create a new Hub instance instead.
	closeOnce sync.Once
}

const (
	subscribeAction   = "subscribe"
	unsubscribeAction = "unsubscribe"
)

// subscribeMsg is the JSON payload for client subscribe/unsubscribe
// requests.
type subscribeMsg struct {
	Action    string   `json:"action"`
	StreamIDs []string `json:"streamIds"`
}

// errorMsg is the JSON payload for server error notifications.
type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewHub creates a Hub with the given options. The hub is not started until
// Start is called.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{
		opts:       opts,
		subscribed: make(map[string]bool),
	}
}

// Start begins listening on the configured address and serves WebSocket
// connections. The context is used for the server's BaseContext; the server
// itself must be stopped explicitly via Stop.
//
// Start must be called exactly once during application startup, before any
// concurrent access.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.listener = ln

	port := ln.Addr().(*net.TCPAddr).Port
	h.url = fmt.Sprintf("ws://127.0.0.1:%d/ws", port)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	h.server = &http.Server{
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[ws] server error", "error", serveErr)
		}
	}()

	slog.Info("[ws] server started", "url", h.url)
	return nil
}

// Stop gracefully shuts down the HTTP server and closes any active
// WebSocket connection. Safe to call multiple times.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		current := h.current
		h.current = nil
		h.subscribed = make(map[string]bool)
		h.mu.Unlock()

		if current != nil {
			h.closeClient(current, "server stop")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}

		slog.Info("[ws] server stopped")
	})
	return stopErr
}

// URL returns the WebSocket URL for frontend connection
// (e.g. "ws://127.0.0.1:54321/ws"). Empty before Start.
func (h *Hub) URL() string {
	return h.url
}

// HasActiveConnection reports whether a WebSocket client is currently
// connected. Used by the emit path to decide between WebSocket and runtime
// event fallback.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	active := h.current != nil
	h.mu.RUnlock()
	return active
}

// clearIfCurrent clears the hub's connection and subscription state only if
// c is still the current client. Returns true if it was cleared.
// Caller must NOT hold h.mu.
func (h *Hub) clearIfCurrent(c *client) bool {
	h.mu.Lock()
	isCurrent := h.current == c
	if isCurrent {
		h.current = nil
		h.subscribed = make(map[string]bool)
	}
	h.mu.Unlock()
	return isCurrent
}

// closeClient closes a client connection. The close may fail if the
// connection was already closed by another goroutine (e.g. page reload
// replacing the old connection); that is expected and logged at Debug.
func (h *Hub) closeClient(c *client, reason string) {
	if closeErr := c.conn.Close(); closeErr != nil {
		slog.Debug("[ws] connection close", "client", c.id, "reason", reason, "error", closeErr)
	}
}

// setWriteDeadlineOrClose sets a write deadline on the connection. If
// setting the deadline fails, the connection is in an indeterminate state
// and must be closed to prevent indefinite blocking.
// Returns false if the deadline could not be set.
func (h *Hub) setWriteDeadlineOrClose(c *client, d time.Duration) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
		slog.Warn("[ws] SetWriteDeadline failed, closing connection", "client", c.id, "error", err)
		h.clearIfCurrent(c)
		h.closeClient(c, "SetWriteDeadline failure")
		return false
	}
	return true
}

// clearWriteDeadline resets the write deadline after a successful write.
// Failure to clear is non-fatal: the next write sets a fresh deadline.
func (h *Hub) clearWriteDeadline(c *client) {
	if err := c.conn.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("[ws] clearWriteDeadline failed (non-fatal)", "client", c.id, "error", err)
	}
}

// BroadcastStreamData sends a binary-encoded data frame to the connected
// client, but only if the client has subscribed to the given stream ID.
//
// Called from OutputFlushManager's flush goroutine at ~60Hz per active
// session. Thread-safe: writeMu serializes writes as gorilla/websocket
// requires.
//
// If no client is connected, the stream is not subscribed, or data is
// empty, the call is a no-op. Write errors close the connection per the
// write failure policy.
func (h *Hub) BroadcastStreamData(streamID string, data []byte) {
	if len(data) == 0 {
		return
	}

	h.mu.RLock()
	current := h.current
	subscribed := h.subscribed[streamID]
	h.mu.RUnlock()

	// TOCTOU window: between RUnlock and writeMu.Lock the connection may be
	// replaced by a new client (page reload). Acceptable: a write on the
	// stale conn fails and clearIfCurrent checks pointer identity, so it
	// never clears a newer connection. Worst case is one failed write.

	if current == nil {
		// Debug level: this path is hit at high frequency when no client is
		// connected yet.
		slog.Debug("[ws] broadcast skipped: no connection", "streamId", streamID)
		return
	}
	if !subscribed {
		// Not subscribed: silent skip, logging here would be excessive.
		return
	}

	frame, encErr := EncodeStreamData(streamID, data)
	if encErr != nil {
		slog.Warn("[ws] failed to encode stream data", "error", encErr, "streamId", streamID)
		return
	}

	h.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(current, writeDeadline) {
		h.writeMu.Unlock()
		return
	}
	err := current.conn.WriteMessage(websocket.BinaryMessage, frame)
	h.clearWriteDeadline(current)
	h.writeMu.Unlock()

	if err != nil {
		slog.Warn("[ws] write failed, closing connection", "client", current.id, "streamId", streamID, "error", err)
		h.clearIfCurrent(current)
		h.closeClient(current, "write error in BroadcastStreamData")
	}
}

// handleWS upgrades HTTP to WebSocket and runs the read pump for the
// connection. Only one connection is active at a time; new connections
// replace old ones to handle page reloads gracefully.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[ws] upgrade failed", "error", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}

	// Limit incoming message size to prevent OOM from oversized payloads.
	conn.SetReadLimit(maxReadMessageSize)

	// Read deadline plus pong handler for dead connection detection. The
	// deadline is extended on every pong received from the client.
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[ws] SetReadDeadline failed on new connection", "client", c.id, "error", err)
		h.closeClient(c, "initial SetReadDeadline failure")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	// Replace existing connection (page reload scenario).
	h.mu.Lock()
	old := h.current
	h.current = c
	h.subscribed = make(map[string]bool)
	h.mu.Unlock()

	if old != nil {
		h.closeClient(old, "replaced by new connection")
	}

	slog.Info("[ws] client connected", "client", c.id, "remoteAddr", conn.RemoteAddr())

	pingDone := make(chan struct{})
	go h.pingLoop(c, pingDone)

	// readPump: handle subscribe/unsubscribe JSON messages from the client.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[ws] handleWS recovered from panic",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}

		close(pingDone)
		h.clearIfCurrent(c)

		// conn.Close() may run multiple times here if the connection was
		// already closed by BroadcastStreamData or Stop; gorilla/websocket
		// tolerates double close.
		h.closeClient(c, "read pump exit")
		slog.Info("[ws] client disconnected", "client", c.id)
	}()

	for {
		msgType, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[ws] read error", "client", c.id, "error", readErr)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var subMsg subscribeMsg
		if jsonErr := json.Unmarshal(msg, &subMsg); jsonErr != nil {
			slog.Debug("[ws] invalid JSON from client", "client", c.id, "error", jsonErr)
			h.sendError(c, fmt.Sprintf("invalid JSON: %s", jsonErr))
			continue
		}
		h.handleSubscription(c, subMsg)
	}
}

// pingLoop sends periodic WebSocket pings to detect dead connections.
// Runs as a goroutine per connection; exits when done is closed or a ping
// fails.
func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	defer func() {
		// On panic, clean up the connection so it doesn't remain open
		// without pings, which would defeat dead connection detection.
		if rec := recover(); rec != nil {
			slog.Error("[ws] pingLoop recovered from panic",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			h.clearIfCurrent(c)
			h.closeClient(c, "pingLoop panic recovery")
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			if !h.setWriteDeadlineOrClose(c, writeDeadline) {
				h.writeMu.Unlock()
				return
			}
			pingErr := c.conn.WriteMessage(websocket.PingMessage, nil)
			h.clearWriteDeadline(c)
			h.writeMu.Unlock()

			if pingErr != nil {
				slog.Debug("[ws] ping failed, connection likely dead", "client", c.id, "error", pingErr)
				h.clearIfCurrent(c)
				h.closeClient(c, "ping failure")
				return
			}
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe action to the
// connection's stream subscription set.
func (h *Hub) handleSubscription(c *client, msg subscribeMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only process subscriptions for the current connection. If a page
	// reload replaced this connection, discard stale messages.
	if h.current != c {
		slog.Debug("[ws] subscription from stale connection, skipping", "client", c.id)
		return
	}

	switch msg.Action {
	case subscribeAction:
		for _, id := range msg.StreamIDs {
			if id == "" {
				slog.Debug("[ws] empty streamId in subscribe request, skipping")
				continue
			}
			h.subscribed[id] = true
			slog.Debug("[ws] subscribed", "streamId", id)
		}
	case unsubscribeAction:
		for _, id := range msg.StreamIDs {
			if id == "" {
				slog.Debug("[ws] empty streamId in unsubscribe request, skipping")
				continue
			}
			delete(h.subscribed, id)
			slog.Debug("[ws] unsubscribed", "streamId", id)
		}
	default:
		slog.Debug("[ws] unknown action", "action", msg.Action)
	}
}

// sendError sends a JSON error message to the client. On write failure the
// connection is cleaned up per the write failure policy.
func (h *Hub) sendError(c *client, message string) {
	payload, err := json.Marshal(errorMsg{
		Type:    "error",
		Message: message,
	})
	if err != nil {
		slog.Debug("[ws] failed to marshal error message", "error", err)
		return
	}

	h.writeMu.Lock()
	if !h.setWriteDeadlineOrClose(c, writeDeadline) {
		h.writeMu.Unlock()
		return
	}
	writeErr := c.conn.WriteMessage(websocket.TextMessage, payload)
	h.clearWriteDeadline(c)
	h.writeMu.Unlock()

	if writeErr != nil {
		slog.Debug("[ws] failed to send error to client", "client", c.id, "error", writeErr)
		h.clearIfCurrent(c)
		h.closeClient(c, "write error in sendError")
	}
}
