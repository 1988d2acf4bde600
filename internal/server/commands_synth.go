package server

import (
	"context"

	"github.com/contactlaplanque/akm-control/internal/engine"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// --- Synthesis server ---

// handleSynthStart processes a synth/start command.
func (h *CommandHandler) handleSynthStart(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(context.Context) (any, error) {
		return nil, h.engine.StartSynth()
	})
}

// handleSynthStop processes a synth/stop command.
func (h *CommandHandler) handleSynthStop(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(context.Context) (any, error) {
		return nil, h.engine.StopSynth()
	})
}

// handleSynthRestart processes a synth/restart command.
func (h *CommandHandler) handleSynthRestart(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(context.Context) (any, error) {
		return nil, h.engine.RestartSynth()
	})
}

// handleSynthSend processes a synth/send command.
func (h *CommandHandler) handleSynthSend(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SynthSendRequest) error {
		return h.engine.SendSynth(req.Code)
	})
}

// --- Consoles ---

// handleConsoleGet processes a console/get command. Lines of zero returns
// the whole buffer.
func (h *CommandHandler) handleConsoleGet(cmd WSCommand, send chan<- any) {
	var req ConsoleRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	source := req.Source
	if source == "" {
		source = engine.SourceSynth
	}
	lines, err := h.engine.Console(source, req.Lines)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}
	trySend(send, cmd.Type, types.WSConsoleResult{
		Type:    cmd.Type + "_result",
		Success: true,
		Source:  source,
		Lines:   lines,
	})
}

// handleConsoleClear processes a console/clear command.
func (h *CommandHandler) handleConsoleClear(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ConsoleRequest) error {
		return h.engine.ClearConsole(req.Source)
	})
}
