package server

import (
	"context"
	"errors"

	"github.com/contactlaplanque/akm-control/internal/jack"
)

// --- Audio client ---

// handleJackConnect processes a jack/connect command. A partial port
// registration still connects; the failed ports are reported as data.
func (h *CommandHandler) handleJackConnect(cmd WSCommand, send chan<- any) {
	err := h.engine.ConnectClient()
	var regErr *jack.PortRegistrationError
	switch {
	case errors.As(err, &regErr):
		SendSuccess(send, cmd.Type, map[string]any{"failed_ports": regErr.Failed})
	case err != nil:
		SendError(send, cmd.Type, err)
	default:
		SendSuccess(send, cmd.Type, nil)
	}
}

// handleJackDisconnect processes a jack/disconnect command.
func (h *CommandHandler) handleJackDisconnect(cmd WSCommand, send chan<- any) {
	h.engine.DisconnectClient()
	h.logger.Info("jack/disconnect: audio client closed, monitors stopped")
	SendSuccess(send, cmd.Type, nil)
}

// --- Ports ---

// handleRegisterPorts processes a ports/register command.
func (h *CommandHandler) handleRegisterPorts(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *RegisterPortsRequest) error {
		h.logger.Info("ports/register", "inputs", req.Inputs, "outputs", req.Outputs, "base_name", req.BaseName)
		return h.engine.RegisterPorts(req.Inputs, req.Outputs, req.BaseName)
	})
}

// handleUnregisterPorts processes a ports/unregister command.
func (h *CommandHandler) handleUnregisterPorts(cmd WSCommand, send chan<- any) {
	h.engine.UnregisterPorts()
	SendSuccess(send, cmd.Type, nil)
}

// handleConnectPorts processes a ports/connect command.
func (h *CommandHandler) handleConnectPorts(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *PortPairRequest) error {
		return h.engine.ConnectPorts(req.Source, req.Destination)
	})
}

// handleDisconnectPorts processes a ports/disconnect command.
func (h *CommandHandler) handleDisconnectPorts(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *PortPairRequest) error {
		return h.engine.DisconnectPorts(req.Source, req.Destination)
	})
}

// handleListPorts processes a ports/list command.
func (h *CommandHandler) handleListPorts(cmd WSCommand, send chan<- any) {
	HandleQuery(cmd, send, func(req *ListPortsRequest) (any, error) {
		return h.engine.Ports(req.Pattern, req.Direction)
	})
}

// handlePortConnections processes a ports/connections command.
func (h *CommandHandler) handlePortConnections(cmd WSCommand, send chan<- any) {
	HandleQuery(cmd, send, func(req *PortRequest) (any, error) {
		conns := h.engine.Connections(req.Port)
		if conns == nil {
			conns = []string{}
		}
		return conns, nil
	})
}

// --- Audio server ---

// handleServerStart processes a server/start command.
func (h *CommandHandler) handleServerStart(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		err := h.engine.StartServer(ctx)
		var regErr *jack.PortRegistrationError
		if errors.As(err, &regErr) {
			return map[string]any{"failed_ports": regErr.Failed}, nil
		}
		return nil, err
	})
}

// handleServerKill processes a server/kill command.
func (h *CommandHandler) handleServerKill(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		return nil, h.engine.KillServer(ctx)
	})
}

// handleServerParams processes a server/params command.
func (h *CommandHandler) handleServerParams(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ServerParamsRequest) error {
		return h.engine.SetServerParams(req.SampleRate, req.BufferSize, req.Driver)
	})
}

// handleServerVersion processes a server/version command.
func (h *CommandHandler) handleServerVersion(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		v, err := h.engine.ServerVersion(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"version": v}, nil
	})
}

// --- Clients ---

// handleClientsRefresh processes a clients/refresh command. New clients
// are wired after the configured delay, so the poll outlives the command.
func (h *CommandHandler) handleClientsRefresh(cmd WSCommand, send chan<- any) {
	SendSuccess(send, cmd.Type, h.engine.RefreshClients(context.Background()))
}

// handleClientAccept processes a clients/accept command.
func (h *CommandHandler) handleClientAccept(cmd WSCommand, send chan<- any) {
	HandleQuery(cmd, send, func(req *ClientRequest) (any, error) {
		return h.engine.AcceptClient(req.Name)
	})
}

// handleClientReject processes a clients/reject command.
func (h *CommandHandler) handleClientReject(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ClientRequest) error {
		return h.engine.RejectClient(req.Name)
	})
}

// handleClientWire processes a clients/wire command.
func (h *CommandHandler) handleClientWire(cmd WSCommand, send chan<- any) {
	HandleQuery(cmd, send, func(req *ClientRequest) (any, error) {
		return h.engine.WireClient(req.Name), nil
	})
}
