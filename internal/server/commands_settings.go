package server

import (
	"context"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/types"
)

// --- Monitor settings ---

// handleMonitorUpdate processes a monitor/update command.
func (h *CommandHandler) handleMonitorUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *MonitorUpdateRequest) error {
		h.logger.Info("monitor/update: applying monitor settings")
		return h.engine.UpdateMonitor(config.MonitorUpdate{
			HealthEnabled:       req.HealthEnabled,
			HealthIntervalMs:    req.HealthIntervalMs,
			AutoRecover:         req.AutoRecover,
			DiscoveryEnabled:    req.DiscoveryEnabled,
			DiscoveryIntervalMs: req.DiscoveryIntervalMs,
			AutoConnect:         req.AutoConnect,
			AutoConnectDelayMs:  req.AutoConnectDelayMs,
		})
	})
}

// --- Notification settings ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *LogUpdateRequest) error {
		return h.cfg.SetLogPath(req.Path)
	})
}

// handleEmailUpdate processes a notifications/email/update command. An empty
// client secret keeps the stored one.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		secret := req.ClientSecret
		if secret == "" {
			snap := h.cfg.Snapshot()
			secret = snap.Notifications.Email.ClientSecret
		}
		return h.cfg.SetGraphConfig(types.GraphConfig{
			TenantID:     req.TenantID,
			ClientID:     req.ClientID,
			ClientSecret: secret,
			FromAddress:  req.FromAddress,
			Recipients:   req.Recipients,
		})
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		return h.cfg.SetZabbixConfig(types.ZabbixConfig{
			Server: req.Server,
			Port:   req.Port,
			Host:   req.Host,
			Key:    req.Key,
		})
	})
}

// handleWebhookGet processes a notifications/webhook/get command.
func (h *CommandHandler) handleWebhookGet(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, cmd.Type, snap.Notifications.Webhook)
}

// handleLogGet processes a notifications/log/get command.
func (h *CommandHandler) handleLogGet(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, cmd.Type, snap.Notifications.Log)
}

// handleEmailGet processes a notifications/email/get command. The client
// secret is never returned.
func (h *CommandHandler) handleEmailGet(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	graph := snap.GraphConfig()
	graph.ClientSecret = ""
	SendSuccess(send, cmd.Type, graph)
}

// handleZabbixGet processes a notifications/zabbix/get command.
func (h *CommandHandler) handleZabbixGet(cmd WSCommand, send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, cmd.Type, snap.ZabbixConfig())
}

// handleTest runs a notification test for channel.
func (h *CommandHandler) handleTest(cmd WSCommand, send chan<- any, channel string) {
	n := h.engine.Notifier()
	var run func(ctx context.Context) error
	switch channel {
	case "webhook":
		run = n.TestWebhook
	case "email":
		run = n.TestEmail
	case "zabbix":
		run = n.TestZabbix
	case "log":
		run = func(context.Context) error { return n.TestLog() }
	default:
		h.unknown(cmd, send)
		return
	}

	HandleActionAsync(cmd, send, func(ctx context.Context) (any, error) {
		if err := run(ctx); err != nil {
			h.logger.Error("notification test failed", "channel", channel, "error", err)
			return nil, err
		}
		h.logger.Info("notification test succeeded", "channel", channel)
		return nil, nil
	})
}

// --- Web settings ---

// handleRegenerateAPIKey processes a web/regenerate-key command.
func (h *CommandHandler) handleRegenerateAPIKey(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func(context.Context) (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}
		h.logger.Info("API key regenerated")
		return map[string]string{"api_key": newKey}, nil
	})
}

// handleConfigGet processes a config/get command. Secrets are blanked.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	trySend(send, "config/get", types.WSConfigResponse{
		Type:   "config",
		Config: RedactedConfig(h.cfg),
	})
}

// RedactedConfig returns a snapshot of cfg with every secret blanked.
func RedactedConfig(cfg *config.Config) config.Snapshot {
	snap := cfg.Snapshot()
	snap.Web.APIKey = ""
	snap.Notifications.Email.ClientSecret = ""
	snap.Archive.SecretAccessKey = ""
	return snap
}

// --- Events ---

// handleEventsGet processes an events/get command.
func (h *CommandHandler) handleEventsGet(cmd WSCommand, send chan<- any) {
	HandleQuery(cmd, send, func(req *EventsRequest) (any, error) {
		limit := req.Limit
		if limit == 0 {
			limit = defaultEventLimit
		}
		events, more, err := h.engine.Events(limit, req.Offset, req.Filter)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events, "has_more": more}, nil
	})
}

// defaultEventLimit is the page size when events/get names none.
const defaultEventLimit = 100
