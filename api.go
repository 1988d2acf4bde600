package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/engine"
	"github.com/contactlaplanque/akm-control/internal/eventlog"
	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/monitor"
	"github.com/contactlaplanque/akm-control/internal/sclang"
	"github.com/contactlaplanque/akm-control/internal/server"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps engine errors to HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrNotPending),
		errors.Is(err, engine.ErrUnknownSource):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidDirection),
		errors.Is(err, eventlog.ErrUnknownFilter):
		status = http.StatusBadRequest
	case errors.Is(err, jack.ErrServerNotRunning),
		errors.Is(err, jack.ErrNotConnected),
		errors.Is(err, sclang.ErrNotRunning),
		errors.Is(err, engine.ErrEventLogDisabled):
		status = http.StatusServiceUnavailable
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// parseJSON reads, parses, and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := s.readJSON(r, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if verr := server.ValidateRequest(&v); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return v, false
	}
	return v, true
}

// allowMethod writes 405 and reports false unless r uses method.
func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// handleAPIStatus returns the full stack status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleAPIConfig returns the configuration with secrets blanked.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, server.RedactedConfig(s.config))
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.engine.Devices(),
	})
}

// handleAPIJackConnect opens the audio client and registers its ports.
// POST /api/jack/connect
func (s *Server) handleAPIJackConnect(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	err := s.engine.ConnectClient()
	var regErr *jack.PortRegistrationError
	switch {
	case errors.As(err, &regErr):
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "failed_ports": regErr.Failed})
	case err != nil:
		s.writeEngineError(w, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// handleAPIJackDisconnect closes the audio client.
// POST /api/jack/disconnect
func (s *Server) handleAPIJackDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	s.engine.DisconnectClient()
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIServerStart starts or restarts the audio server.
// POST /api/server/start
func (s *Server) handleAPIServerStart(w http.ResponseWriter, r *http.Request) {
	s.runServerAction(w, r, s.engine.StartServer)
}

// handleAPIServerKill kills every running audio server.
// POST /api/server/kill
func (s *Server) handleAPIServerKill(w http.ResponseWriter, r *http.Request) {
	s.runServerAction(w, r, s.engine.KillServer)
}

func (s *Server) runServerAction(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	// Server commands outlive a dropped request; only the daemon stops them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), serverActionTimeout)
	defer cancel()

	err := action(ctx)
	var regErr *jack.PortRegistrationError
	switch {
	case errors.As(err, &regErr):
		s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "failed_ports": regErr.Failed})
	case err != nil:
		s.writeEngineError(w, err)
	default:
		s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// handleAPIPorts lists ports by pattern and direction.
// GET /api/ports?pattern=...&direction=input|output
func (s *Server) handleAPIPorts(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	ports, err := s.engine.Ports(q.Get("pattern"), q.Get("direction"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ports": ports})
}

// handleAPIConnectPorts connects two ports.
// POST /api/ports/connect
func (s *Server) handleAPIConnectPorts(w http.ResponseWriter, r *http.Request) {
	s.portPairAction(w, r, s.engine.ConnectPorts)
}

// handleAPIDisconnectPorts disconnects two ports.
// POST /api/ports/disconnect
func (s *Server) handleAPIDisconnectPorts(w http.ResponseWriter, r *http.Request) {
	s.portPairAction(w, r, s.engine.DisconnectPorts)
}

func (s *Server) portPairAction(w http.ResponseWriter, r *http.Request, action func(src, dst string) error) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	req, ok := parseJSON[server.PortPairRequest](s, w, r)
	if !ok {
		return
	}
	if err := action(req.Source, req.Destination); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIClients lists discovered clients and those awaiting approval.
// GET /api/clients
func (s *Server) handleAPIClients(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	clients := s.engine.Clients()
	if clients == nil {
		clients = []types.ClientPorts{}
	}
	pending := s.engine.MonitorStatus().PendingClients
	if pending == nil {
		pending = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"pending": pending,
	})
}

// handleAPIAcceptClient wires a client awaiting approval.
// POST /api/clients/{name}/accept
func (s *Server) handleAPIAcceptClient(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	results, err := s.engine.AcceptClient(r.PathValue("name"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// handleAPIRejectClient drops a client awaiting approval.
// POST /api/clients/{name}/reject
func (s *Server) handleAPIRejectClient(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.engine.RejectClient(r.PathValue("name")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIMonitor returns or updates the monitor settings.
// GET /api/monitor
// POST /api/monitor
func (s *Server) handleAPIMonitor(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.engine.MonitorStatus())
	case http.MethodPost:
		req, ok := parseJSON[server.MonitorUpdateRequest](s, w, r)
		if !ok {
			return
		}
		err := s.engine.UpdateMonitor(config.MonitorUpdate{
			HealthEnabled:       req.HealthEnabled,
			HealthIntervalMs:    req.HealthIntervalMs,
			AutoRecover:         req.AutoRecover,
			DiscoveryEnabled:    req.DiscoveryEnabled,
			DiscoveryIntervalMs: req.DiscoveryIntervalMs,
			AutoConnect:         req.AutoConnect,
			AutoConnectDelayMs:  req.AutoConnectDelayMs,
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.engine.MonitorStatus())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAPISynth controls the synthesis server.
// GET /api/synth/status
// POST /api/synth/{start|stop|restart|send}
func (s *Server) handleAPISynth(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if action == "status" {
		if !s.allowMethod(w, r, http.MethodGet) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.engine.SynthStatus())
		return
	}
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	var err error
	switch action {
	case "start":
		err = s.engine.StartSynth()
	case "stop":
		err = s.engine.StopSynth()
	case "restart":
		err = s.engine.RestartSynth()
	case "send":
		req, ok := parseJSON[server.SynthSendRequest](s, w, r)
		if !ok {
			return
		}
		err = s.engine.SendSynth(req.Code)
	default:
		s.writeError(w, http.StatusNotFound, "unknown synth action")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.SynthStatus())
}

// handleAPIConsole returns or clears a console buffer.
// GET /api/console/{source}?lines=N
// DELETE /api/console/{source}
func (s *Server) handleAPIConsole(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	switch r.Method {
	case http.MethodGet:
		n, err := queryInt(r, "lines", 0)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "lines must be a non-negative integer")
			return
		}
		lines, err := s.engine.Console(source, n)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		if lines == nil {
			lines = []string{}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"source": source, "lines": lines})
	case http.MethodDelete:
		if err := s.engine.ClearConsole(source); err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAPIEvents pages through the event log, newest first.
// GET /api/events?limit=N&offset=N&filter=server|clients|synth
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := queryInt(r, "limit", defaultEventLimit)
	if err != nil || limit <= 0 || limit > maxEventLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	events, more, err := s.engine.Events(limit, offset, r.URL.Query().Get("filter"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": more})
}

const (
	defaultEventLimit   = 100
	maxEventLimit       = 500
	serverActionTimeout = 60 * time.Second
)
