package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Ports ---

// RegisterPortsRequest is the request body for ports/register.
type RegisterPortsRequest struct {
	Inputs   int    `json:"inputs" validate:"gte=0,lte=256"`
	Outputs  int    `json:"outputs" validate:"gte=0,lte=256"`
	BaseName string `json:"base_name" validate:"omitempty,max=32"`
}

// PortPairRequest is the request body for ports/connect and ports/disconnect.
type PortPairRequest struct {
	Source      string `json:"source" validate:"required,max=320"`
	Destination string `json:"destination" validate:"required,max=320"`
}

// ListPortsRequest is the request body for ports/list.
type ListPortsRequest struct {
	Pattern   string `json:"pattern" validate:"omitempty,max=320"`
	Direction string `json:"direction" validate:"omitempty,oneof=input output"`
}

// PortRequest is the request body for ports/connections.
type PortRequest struct {
	Port string `json:"port" validate:"required,max=320"`
}

// --- Audio server ---

// ServerParamsRequest is the request body for server/params.
type ServerParamsRequest struct {
	SampleRate int    `json:"sample_rate" validate:"omitempty,oneof=22050 32000 44100 48000 88200 96000 192000"`
	BufferSize int    `json:"buffer_size" validate:"omitempty,oneof=16 32 64 128 256 512 1024 2048 4096 8192"`
	Driver     string `json:"driver" validate:"omitempty,max=64"`
}

// --- Clients ---

// ClientRequest is the request body for clients/accept, clients/reject, and
// clients/wire.
type ClientRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// --- Synthesis server ---

// SynthSendRequest is the request body for synth/send.
type SynthSendRequest struct {
	Code string `json:"code" validate:"required,max=65536"`
}

// ConsoleRequest is the request body for console/get and console/clear.
type ConsoleRequest struct {
	Source string `json:"source" validate:"omitempty,max=32"`
	Lines  int    `json:"lines" validate:"gte=0,lte=100000"`
}

// --- Monitors ---

// MonitorUpdateRequest is the request body for monitor/update.
type MonitorUpdateRequest struct {
	HealthEnabled       *bool  `json:"health_enabled"`
	HealthIntervalMs    *int64 `json:"health_interval_ms" validate:"omitempty,gte=2000,lte=600000"`
	AutoRecover         *bool  `json:"auto_recover"`
	DiscoveryEnabled    *bool  `json:"discovery_enabled"`
	DiscoveryIntervalMs *int64 `json:"discovery_interval_ms" validate:"omitempty,gte=500,lte=600000"`
	AutoConnect         *bool  `json:"auto_connect"`
	AutoConnectDelayMs  *int64 `json:"auto_connect_delay_ms" validate:"omitempty,gte=0,lte=60000"`
}

// --- Events ---

// EventsRequest is the request body for events/get.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=server clients synth"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"`
}
