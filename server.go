package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/engine"
	"github.com/contactlaplanque/akm-control/internal/metrics"
	"github.com/contactlaplanque/akm-control/internal/server"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Server is the HTTP front of the daemon: the WebSocket control surface, the
// REST API, and the metrics endpoint.
type Server struct {
	config   *config.Config
	engine   *engine.Engine
	commands *server.CommandHandler
	metrics  *metrics.Provider

	// baseCtx ends every WebSocket session on shutdown.
	baseCtx context.Context
}

// NewServer returns a Server for eng. A nil provider disables /metrics.
func NewServer(cfg *config.Config, eng *engine.Engine, provider *metrics.Provider) *Server {
	return &Server{
		config:   cfg,
		engine:   eng,
		commands: server.NewCommandHandler(cfg, eng),
		metrics:  provider,
		baseCtx:  context.Background(),
	}
}

// handleWebSocket upgrades the request and serves control commands until the
// client leaves or the daemon shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	slog.Info("WebSocket client connected", "component", "server", "remote", r.RemoteAddr)
	s.commands.Serve(s.baseCtx, conn)
	slog.Info("WebSocket client disconnected", "component", "server", "remote", r.RemoteAddr)
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.apiKeyAuth

	mux.HandleFunc("/healthz", s.handleHealthz)

	mux.HandleFunc("/ws", auth(s.handleWebSocket))

	mux.HandleFunc("/api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("/api/config", auth(s.handleAPIConfig))
	mux.HandleFunc("/api/devices", auth(s.handleAPIDevices))

	mux.HandleFunc("/api/jack/connect", auth(s.handleAPIJackConnect))
	mux.HandleFunc("/api/jack/disconnect", auth(s.handleAPIJackDisconnect))
	mux.HandleFunc("/api/server/start", auth(s.handleAPIServerStart))
	mux.HandleFunc("/api/server/kill", auth(s.handleAPIServerKill))

	mux.HandleFunc("/api/ports", auth(s.handleAPIPorts))
	mux.HandleFunc("/api/ports/connect", auth(s.handleAPIConnectPorts))
	mux.HandleFunc("/api/ports/disconnect", auth(s.handleAPIDisconnectPorts))

	mux.HandleFunc("/api/clients", auth(s.handleAPIClients))
	mux.HandleFunc("/api/clients/{name}/accept", auth(s.handleAPIAcceptClient))
	mux.HandleFunc("/api/clients/{name}/reject", auth(s.handleAPIRejectClient))

	mux.HandleFunc("/api/monitor", auth(s.handleAPIMonitor))

	mux.HandleFunc("/api/synth/{action}", auth(s.handleAPISynth))
	mux.HandleFunc("/api/console/{source}", auth(s.handleAPIConsole))
	mux.HandleFunc("/api/events", auth(s.handleAPIEvents))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. An empty
// configured key disables the check. Browsers cannot set headers on
// WebSocket upgrades, so the key is also accepted as the "key" query
// parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := s.config.Snapshot()
		apiKey := cfg.Web.APIKey
		if apiKey == "" {
			next(w, r)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleHealthz reports liveness of the daemon itself.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Debug("failed to write healthz response", "error", err)
	}
}

// HTTPServer returns an *http.Server for the configured port. WebSocket
// sessions end when ctx does.
func (s *Server) HTTPServer(ctx context.Context) *http.Server {
	s.baseCtx = ctx
	cfg := s.config.Snapshot()
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
