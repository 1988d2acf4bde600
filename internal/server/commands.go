package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/engine"
)

var errUnknownCommand = errors.New("unknown command")

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg    *config.Config
	engine *engine.Engine
	logger *slog.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, eng *engine.Engine) *CommandHandler {
	return &CommandHandler{
		cfg:    cfg,
		engine: eng,
		logger: slog.Default().With("component", "server"),
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "ports/connect",
// "notifications/webhook/test").
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "jack":
		h.handleJack(action, cmd, send)
	case "ports":
		h.handlePorts(action, cmd, send)
	case "server":
		h.handleServer(action, cmd, send)
	case "clients":
		h.handleClients(action, cmd, send)
	case "synth":
		h.handleSynth(action, cmd, send)
	case "console":
		h.handleConsole(action, cmd, send)
	case "monitor":
		h.handleMonitor(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "archive":
		h.handleArchive(action, cmd, send)
	case "web":
		h.handleWeb(action, cmd, send)
	case "config":
		h.handleConfig(action, cmd, send)
	case "status":
		h.handleStatus(action, cmd, send)
	default:
		h.unknown(cmd, send)
		return
	}

	triggerStatusUpdate()
}

// unknown logs and answers a command no handler accepts.
func (h *CommandHandler) unknown(cmd WSCommand, send chan<- any) {
	h.logger.Warn("unknown WebSocket command", "type", cmd.Type)
	SendError(send, cmd.Type, errUnknownCommand)
}

// --- Namespace handlers ---

// handleJack routes jack/* commands.
func (h *CommandHandler) handleJack(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "connect":
		h.handleJackConnect(cmd, send)
	case "disconnect":
		h.handleJackDisconnect(cmd, send)
	case "info":
		SendSuccess(send, cmd.Type, h.engine.ServerInfo())
	default:
		h.unknown(cmd, send)
	}
}

// handlePorts routes ports/* commands.
func (h *CommandHandler) handlePorts(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "register":
		h.handleRegisterPorts(cmd, send)
	case "unregister":
		h.handleUnregisterPorts(cmd, send)
	case "connect":
		h.handleConnectPorts(cmd, send)
	case "disconnect":
		h.handleDisconnectPorts(cmd, send)
	case "list":
		h.handleListPorts(cmd, send)
	case "connections":
		h.handlePortConnections(cmd, send)
	default:
		h.unknown(cmd, send)
	}
}

// handleServer routes server/* commands.
func (h *CommandHandler) handleServer(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleServerStart(cmd, send)
	case "kill":
		h.handleServerKill(cmd, send)
	case "params":
		h.handleServerParams(cmd, send)
	case "version":
		h.handleServerVersion(cmd, send)
	case "devices":
		SendSuccess(send, cmd.Type, h.engine.Devices())
	default:
		h.unknown(cmd, send)
	}
}

// handleClients routes clients/* commands.
func (h *CommandHandler) handleClients(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		SendSuccess(send, cmd.Type, h.engine.Clients())
	case "refresh":
		h.handleClientsRefresh(cmd, send)
	case "accept":
		h.handleClientAccept(cmd, send)
	case "reject":
		h.handleClientReject(cmd, send)
	case "wire":
		h.handleClientWire(cmd, send)
	default:
		h.unknown(cmd, send)
	}
}

// handleSynth routes synth/* commands.
func (h *CommandHandler) handleSynth(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		h.handleSynthStart(cmd, send)
	case "stop":
		h.handleSynthStop(cmd, send)
	case "restart":
		h.handleSynthRestart(cmd, send)
	case "send":
		h.handleSynthSend(cmd, send)
	case "status":
		SendSuccess(send, cmd.Type, h.engine.SynthStatus())
	default:
		h.unknown(cmd, send)
	}
}

// handleConsole routes console/* commands.
func (h *CommandHandler) handleConsole(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleConsoleGet(cmd, send)
	case "clear":
		h.handleConsoleClear(cmd, send)
	case "sources":
		SendSuccess(send, cmd.Type, h.engine.ConsoleSources())
	default:
		h.unknown(cmd, send)
	}
}

// handleMonitor routes monitor/* commands.
func (h *CommandHandler) handleMonitor(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleMonitorUpdate(cmd, send)
	case "get":
		SendSuccess(send, cmd.Type, h.engine.MonitorStatus())
	default:
		h.unknown(cmd, send)
	}
}

// handleNotifications routes notifications/*/* commands.
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	if subaction == "test" {
		h.handleTest(cmd, send, action)
		return
	}

	switch action + "/" + subaction {
	case "webhook/update":
		h.handleWebhookUpdate(cmd, send)
	case "webhook/get":
		h.handleWebhookGet(cmd, send)
	case "log/update":
		h.handleLogUpdate(cmd, send)
	case "log/get":
		h.handleLogGet(cmd, send)
	case "email/update":
		h.handleEmailUpdate(cmd, send)
	case "email/get":
		h.handleEmailGet(cmd, send)
	case "zabbix/update":
		h.handleZabbixUpdate(cmd, send)
	case "zabbix/get":
		h.handleZabbixGet(cmd, send)
	default:
		h.unknown(cmd, send)
	}
}

// handleEvents routes events/* commands.
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleEventsGet(cmd, send)
	default:
		h.unknown(cmd, send)
	}
}

// handleArchive routes archive/* commands.
func (h *CommandHandler) handleArchive(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "transcript":
		HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
			key, err := h.engine.ArchiveTranscript(ctx)
			return keyResult(key), err
		})
	case "events":
		HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
			key, err := h.engine.ArchiveEventLog(ctx)
			return keyResult(key), err
		})
	case "test":
		HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
			return nil, h.engine.TestArchive(ctx)
		})
	default:
		h.unknown(cmd, send)
	}
}

// handleWeb routes web/* commands.
func (h *CommandHandler) handleWeb(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "regenerate-key":
		h.handleRegenerateAPIKey(cmd, send)
	default:
		h.unknown(cmd, send)
	}
}

// handleConfig routes config/* commands.
func (h *CommandHandler) handleConfig(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		h.unknown(cmd, send)
	}
}

// handleStatus routes status/* commands.
func (h *CommandHandler) handleStatus(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		h.logger.Debug("status/get received, status update will be triggered")
	default:
		h.unknown(cmd, send)
	}
}

func keyResult(key string) any {
	if key == "" {
		return nil
	}
	return map[string]string{"key": key}
}
