// Package types provides shared type definitions used across the control daemon.
package types

import (
	"time"
)

// ConnectionState represents the state of the audio client connection.
type ConnectionState string

const (
	// ConnDisconnected indicates no client is open.
	ConnDisconnected ConnectionState = "disconnected"
	// ConnConnecting indicates a client open is in progress.
	ConnConnecting ConnectionState = "connecting"
	// ConnConnected indicates the client is open and active.
	ConnConnected ConnectionState = "connected"
	// ConnFailed indicates the open failed or the server shut the client down.
	ConnFailed ConnectionState = "failed"
)

// ServerState represents the state of the audio server process.
type ServerState string

const (
	// ServerNotRunning indicates no server process is known to be alive.
	ServerNotRunning ServerState = "not_running"
	// ServerStarting indicates a launch is in progress.
	ServerStarting ServerState = "starting"
	// ServerRunning indicates the server is reachable.
	ServerRunning ServerState = "running"
	// ServerFailed indicates the server was launched but never became reachable.
	ServerFailed ServerState = "failed"
)

// ProcessState represents the state of a managed subprocess.
type ProcessState string

const (
	// ProcessStopped indicates the process is not running.
	ProcessStopped ProcessState = "stopped"
	// ProcessStarting indicates the process is being spawned.
	ProcessStarting ProcessState = "starting"
	// ProcessRunning indicates the process is alive.
	ProcessRunning ProcessState = "running"
	// ProcessStopping indicates the process is shutting down.
	ProcessStopping ProcessState = "stopping"
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

const (
	// ServerSettleDelay is the wait after launching the server before it is probed.
	ServerSettleDelay = 2000 * time.Millisecond
	// KillSettleDelay is the wait after killing server processes.
	KillSettleDelay = 500 * time.Millisecond
	// RestartSettleDelay is the wait between kill and start during a restart.
	RestartSettleDelay = 1000 * time.Millisecond
	// AutoConnectDelay is the wait before wiring a newly discovered client.
	AutoConnectDelay = 500 * time.Millisecond
)

const (
	// MinHealthInterval is the lower bound for the health poll interval.
	MinHealthInterval = 2000 * time.Millisecond
	// MinDiscoveryInterval is the lower bound for the discovery poll interval.
	MinDiscoveryInterval = 500 * time.Millisecond
	// InitialRetryDelay is the starting delay between recovery attempts.
	InitialRetryDelay = 2000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between recovery attempts.
	MaxRetryDelay = 60000 * time.Millisecond
)

// PerformanceMetrics is a point-in-time view of the audio client's performance counters.
type PerformanceMetrics struct {
	CPUUsagePercent     float32   `json:"cpu_usage_percent"`     // Processing time as share of block period
	XRunCount           uint64    `json:"xrun_count"`            // Monotonic over the process lifetime
	CallbackTimestamp   time.Time `json:"callback_timestamp"`    // Last real-time callback
	BufferLatencyFrames uint32    `json:"buffer_latency_frames"` // Frames per block
	SampleRate          uint32    `json:"sample_rate"`           // Server sample rate in Hz
	BufferSize          uint32    `json:"buffer_size"`           // Server block size in frames
}

// LatencyMs returns the block latency in milliseconds.
func (m PerformanceMetrics) LatencyMs() float64 {
	if m.SampleRate == 0 {
		return 0
	}
	return float64(m.BufferSize) * 1000 / float64(m.SampleRate)
}

// ClientPorts lists the ports of one external audio client.
type ClientPorts struct {
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// ClientEventType is the kind of a discovery event.
type ClientEventType string

// Discovery event kinds.
const (
	ClientConnected    ClientEventType = "client_connected"
	ClientDisconnected ClientEventType = "client_disconnected"
)

// ClientEvent is emitted when an external client appears or disappears.
type ClientEvent struct {
	Type    ClientEventType `json:"type"`
	Client  string          `json:"client"`
	Inputs  []string        `json:"inputs,omitempty"`
	Outputs []string        `json:"outputs,omitempty"`
	Time    time.Time       `json:"time"`
}

// WireResult is the outcome of connecting one source port to one destination port.
type WireResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Error       string `json:"error,omitempty"`
}

// LifecycleEventType identifies a lifecycle transition of the audio stack.
type LifecycleEventType string

// Lifecycle event kinds.
const (
	EventStateChange        LifecycleEventType = "state_change"
	EventUnexpectedShutdown LifecycleEventType = "unexpected_shutdown"
	EventRecovered          LifecycleEventType = "recovered"
	EventRecoveryFailed     LifecycleEventType = "recovery_failed"
	EventServerStarted      LifecycleEventType = "server_started"
	EventServerKilled       LifecycleEventType = "server_killed"
)

// LifecycleEvent describes a change in the connection or server state.
type LifecycleEvent struct {
	Type    LifecycleEventType `json:"type"`
	From    ConnectionState    `json:"from,omitempty"`
	To      ConnectionState    `json:"to,omitempty"`
	Message string             `json:"message,omitempty"`
	Time    time.Time          `json:"time"`
}

// JackStatus summarizes the audio client for status responses.
type JackStatus struct {
	State         ConnectionState    `json:"state"`
	ClientName    string             `json:"client_name"`
	ServerStarted bool               `json:"server_started,omitzero"`
	InputPorts    int                `json:"input_ports"`
	OutputPorts   int                `json:"output_ports"`
	Metrics       PerformanceMetrics `json:"metrics"`
	LatencyMs     float64            `json:"latency_ms"`
}

// ServerStatus summarizes the audio server process for status responses.
type ServerStatus struct {
	State     ServerState `json:"state"`
	Path      string      `json:"path"`
	Version   string      `json:"version,omitempty"`
	LastError string      `json:"last_error,omitzero"`
}

// SynthStatus summarizes the synthesis server process for status responses.
type SynthStatus struct {
	State     ProcessState `json:"state"`
	Uptime    string       `json:"uptime,omitzero"`
	LastError string       `json:"last_error,omitzero"`
	Lines     int          `json:"console_lines"`
}

// MonitorStatus summarizes the polling monitors for status responses.
type MonitorStatus struct {
	HealthRunning    bool     `json:"health_running"`
	DiscoveryRunning bool     `json:"discovery_running"`
	AutoRecover      bool     `json:"auto_recover"`
	AutoConnect      bool     `json:"auto_connect"`
	PendingClients   []string `json:"pending_clients"`
}

// ChannelLevel is the metered level of one input channel.
type ChannelLevel struct {
	Channel  int     `json:"channel"`  // 1-based channel index
	RMS      float32 `json:"rms"`      // Linear RMS of the last block
	Smoothed float32 `json:"smoothed"` // Exponentially smoothed level
	Peak     float32 `json:"peak"`     // Held peak level
}

// WSStatusResponse is sent to clients with the full stack status.
type WSStatusResponse struct {
	Type    string        `json:"type"`
	Jack    JackStatus    `json:"jack"`
	Server  ServerStatus  `json:"server"`
	Synth   SynthStatus   `json:"synth"`
	Monitor MonitorStatus `json:"monitor"`
	Clients []ClientPorts `json:"clients"`
	Version VersionInfo   `json:"version"`
}

// WSLevelsResponse is sent to clients with input level updates.
type WSLevelsResponse struct {
	Type   string         `json:"type"`
	Levels []ChannelLevel `json:"levels"`
}

// WSEventResponse forwards a discovery or lifecycle event to clients.
type WSEventResponse struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

// WSConsoleResult is sent in response to console/get.
type WSConsoleResult struct {
	Type    string   `json:"type"`
	Success bool     `json:"success"`
	Source  string   `json:"source"`
	Lines   []string `json:"lines"`
}

// AudioDevice represents an available audio device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty"`
	Port   int    `json:"port,omitempty"`
	Host   string `json:"host,omitempty"`
	Key    string `json:"key,omitempty"`
}

// VersionInfo contains build version data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // True if update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
