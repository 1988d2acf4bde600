package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/contactlaplanque/akm-control/internal/types"
)

const (
	// sendBuffer is the per-connection outgoing queue length.
	sendBuffer = 16
	// levelsInterval paces level meter updates (10 fps).
	levelsInterval = 100 * time.Millisecond
	// statusInterval paces full status updates.
	statusInterval = 3 * time.Second
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}

	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	// Control surfaces on the studio network
	ip := net.ParseIP(host)
	if ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Serve runs one control connection until the client leaves or ctx ends.
// It sends status on connect, every statusInterval, and after each command,
// levels every levelsInterval, and every engine event as it happens. Only
// the writer goroutine writes to conn.
func (h *CommandHandler) Serve(ctx context.Context, conn WebSocketConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan any, sendBuffer)
	statusUpdate := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Go(func() {
		defer cancel()
		h.runWriter(ctx, conn, send)
	})
	wg.Go(func() {
		defer cancel()
		h.runReader(conn, send, statusUpdate)
	})

	h.runEventLoop(ctx, send, statusUpdate)
	cancel()
	wg.Wait()
}

// runWriter writes queued messages to conn and closes it on exit.
func (h *CommandHandler) runWriter(ctx context.Context, conn WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

// runReader reads commands from conn and dispatches them until a read fails.
func (h *CommandHandler) runReader(conn WebSocketConn, send chan<- any, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in WebSocket reader", "panic", r)
		}
	}()

	trigger := func() {
		select {
		case statusUpdate <- struct{}{}:
		default:
		}
	}
	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		h.Handle(cmd, send, trigger)
	}
}

// runEventLoop sends periodic status and levels plus engine events.
func (h *CommandHandler) runEventLoop(ctx context.Context, send chan<- any, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	events, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	put := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !put(h.engine.Status()) {
		return
	}

	for {
		var msg any
		select {
		case <-ctx.Done():
			return
		case <-statusUpdate:
			msg = h.engine.Status()
		case <-statusTicker.C:
			msg = h.engine.Status()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: h.engine.Levels()}
		case ev := <-events:
			msg = types.WSEventResponse{Type: "event", Event: ev}
		}
		if !put(msg) {
			return
		}
	}
}
