// Package config provides application configuration management.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort             = 8080
	DefaultSampleRate          = 48000
	DefaultBufferSize          = 512
	DefaultDriver              = "portaudio"
	DefaultClientName          = "akMControl"
	DefaultPortBaseName        = "akm"
	DefaultNumInputs           = 64
	DefaultNumOutputs          = 64
	DefaultHealthIntervalMs    = 2000
	DefaultDiscoveryIntervalMs = 2000
	DefaultAutoConnectDelayMs  = 500
	DefaultConsoleLines        = 500
	DefaultPumpIntervalMs      = 100
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultSubjectPrefix       = "akm"
	DefaultZabbixPort          = 10051
	DefaultSynthScriptName     = "akM_spatServer.scd"
)

// DefaultIgnoredClients are external clients never reported or auto-wired.
var DefaultIgnoredClients = []string{"SuperCollider", "system"}

// JackConfig holds audio server and client settings.
type JackConfig struct {
	ServerPath           string `json:"server_path" yaml:"server_path" validate:"required"`                                                  // Path to the jackd binary
	SampleRate           int    `json:"sample_rate" yaml:"sample_rate" validate:"oneof=22050 32000 44100 48000 88200 96000 192000"`          // Server sample rate in Hz
	BufferSize           int    `json:"buffer_size" yaml:"buffer_size" validate:"oneof=16 32 64 128 256 512 1024 2048 4096 8192"`            // Frames per period
	Driver               string `json:"driver" yaml:"driver" validate:"required,max=64"`                                                     // Backend driver (portaudio, alsa, coreaudio, ...)
	MIDIDriver           string `json:"midi_driver" yaml:"midi_driver" validate:"max=64"`                                                    // Optional MIDI driver passed with -X
	Synchronous          bool   `json:"synchronous" yaml:"synchronous"`                                                                      // Run the server in synchronous mode (-S)
	AutoStartServer      bool   `json:"auto_start_server" yaml:"auto_start_server"`                                                          // Start the server when it is not running
	KillServerOnShutdown bool   `json:"kill_server_on_shutdown" yaml:"kill_server_on_shutdown"`                                              // Kill the server when the daemon exits
	ClientName           string `json:"client_name" yaml:"client_name" validate:"required,max=64"`                                           // Name of our audio client
	PortBaseName         string `json:"port_base_name" yaml:"port_base_name" validate:"required,max=32"`                                     // Prefix for registered port names
	NumInputs            int    `json:"num_inputs" yaml:"num_inputs" validate:"gte=0,lte=256"`                                               // Input ports to register
	NumOutputs           int    `json:"num_outputs" yaml:"num_outputs" validate:"gte=0,lte=256"`                                             // Output ports to register
	MinServerVersion     string `json:"min_server_version" yaml:"min_server_version" validate:"omitempty,max=32"`                            // Warn if the server is older
}

// MonitorConfig holds health and discovery polling settings.
type MonitorConfig struct {
	HealthEnabled       bool     `json:"health_enabled" yaml:"health_enabled"`                                              // Poll connection health
	HealthIntervalMs    int64    `json:"health_interval_ms" yaml:"health_interval_ms" validate:"gte=0,lte=600000"`          // Health poll interval, clamped to >= 2s
	AutoRecover         bool     `json:"auto_recover" yaml:"auto_recover"`                                                  // Reconnect or restart after a failure
	DiscoveryEnabled    bool     `json:"discovery_enabled" yaml:"discovery_enabled"`                                        // Poll for external clients
	DiscoveryIntervalMs int64    `json:"discovery_interval_ms" yaml:"discovery_interval_ms" validate:"gte=0,lte=600000"`    // Discovery poll interval
	AutoConnect         bool     `json:"auto_connect" yaml:"auto_connect"`                                                  // Wire new clients to free inputs
	AutoConnectDelayMs  int64    `json:"auto_connect_delay_ms" yaml:"auto_connect_delay_ms" validate:"gte=0,lte=60000"`     // Settle time before wiring
	IgnoredClients      []string `json:"ignored_clients" yaml:"ignored_clients" validate:"dive,required,max=64"`            // Clients never reported
}

// SynthConfig holds synthesis server (sclang) settings.
type SynthConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`                                                  // Start sclang with the daemon
	InstallDir     string `json:"install_dir" yaml:"install_dir"`                                          // SuperCollider install directory
	Executable     string `json:"executable" yaml:"executable" validate:"required,max=256"`                // Interpreter binary, relative to install_dir
	ScriptPath     string `json:"script_path" yaml:"script_path"`                                          // Spatialization server script
	ConsoleLines   int    `json:"console_lines" yaml:"console_lines" validate:"gte=0,lte=100000"`          // Console ring buffer capacity
	PumpIntervalMs int64  `json:"pump_interval_ms" yaml:"pump_interval_ms" validate:"gte=0,lte=10000"`     // Console drain interval
}

// WebConfig holds control surface settings.
type WebConfig struct {
	Port   int    `json:"port" yaml:"port" validate:"gte=1,lte=65535"` // HTTP server port
	APIKey string `json:"api_key" yaml:"api_key"`                      // Key required in X-API-Key, empty disables auth
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level      string   `json:"level" yaml:"level" validate:"oneof=debug info warn error"` // Minimum level
	Format     string   `json:"format" yaml:"format" validate:"oneof=text json"`           // Handler format
	Categories []string `json:"categories" yaml:"categories"`                              // Components captured into the log console
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,url"` // Webhook URL for alerts
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" yaml:"path"` // JSONL file for alert entries
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`         // Azure AD tenant ID
	ClientID     string `json:"client_id" yaml:"client_id"`         // App registration client ID
	ClientSecret string `json:"client_secret" yaml:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address" yaml:"from_address"`   // Shared mailbox sender address
	Recipients   string `json:"recipients" yaml:"recipients"`       // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" yaml:"server"`
	Port   int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Host   string `json:"host" yaml:"host"`
	Key    string `json:"key" yaml:"key"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Email   EmailConfig   `json:"email" yaml:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix" yaml:"zabbix"`
}

// EventLogConfig holds the lifecycle event log settings.
type EventLogConfig struct {
	Path string `json:"path" yaml:"path"` // JSONL event log, empty uses the per-port default
}

// ArchiveConfig holds S3 archive settings for console transcripts and event logs.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Bucket          string `json:"bucket" yaml:"bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Prefix          string `json:"prefix" yaml:"prefix"`
}

// BusConfig holds NATS event publishing settings.
type BusConfig struct {
	URL           string `json:"nats_url" yaml:"nats_url"`             // Empty disables publishing
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"` // Subjects are <prefix>.<kind>
}

// MetricsConfig holds metrics exporter settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"` // Serve /metrics
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Jack          JackConfig          `json:"jack" yaml:"jack"`
	Monitor       MonitorConfig       `json:"monitor" yaml:"monitor"`
	Synth         SynthConfig         `json:"synth" yaml:"synth"`
	Web           WebConfig           `json:"web" yaml:"web"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	EventLog      EventLogConfig      `json:"event_log" yaml:"event_log"`
	Archive       ArchiveConfig       `json:"archive" yaml:"archive"`
	Bus           BusConfig           `json:"bus" yaml:"bus"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`

	mu       sync.RWMutex
	filePath string
}

// validate is the shared validator instance for configuration checks.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Jack: JackConfig{
			ServerPath:           DefaultServerPath(),
			SampleRate:           DefaultSampleRate,
			BufferSize:           DefaultBufferSize,
			Driver:               DefaultDriver,
			AutoStartServer:      true,
			KillServerOnShutdown: true,
			ClientName:           DefaultClientName,
			PortBaseName:         DefaultPortBaseName,
			NumInputs:            DefaultNumInputs,
			NumOutputs:           DefaultNumOutputs,
		},
		Monitor: MonitorConfig{
			HealthEnabled:       true,
			HealthIntervalMs:    DefaultHealthIntervalMs,
			AutoRecover:         true,
			DiscoveryEnabled:    true,
			DiscoveryIntervalMs: DefaultDiscoveryIntervalMs,
			AutoConnect:         true,
			AutoConnectDelayMs:  DefaultAutoConnectDelayMs,
			IgnoredClients:      slices.Clone(DefaultIgnoredClients),
		},
		Synth: SynthConfig{
			Enabled:        true,
			InstallDir:     DefaultSynthInstallDir(),
			Executable:     DefaultSynthExecutable(),
			ScriptPath:     DefaultSynthScriptPath(),
			ConsoleLines:   DefaultConsoleLines,
			PumpIntervalMs: DefaultPumpIntervalMs,
		},
		Web: WebConfig{
			Port: DefaultWebPort,
		},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			Categories: []string{"jack", "sclang"},
		},
		Bus: BusConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
		filePath: filePath,
	}
}

// DefaultServerPath returns the platform-specific jackd location.
func DefaultServerPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:/Program Files/JACK2/jackd.exe`
	case "darwin":
		return "/usr/local/bin/jackd"
	default:
		return "/usr/bin/jackd"
	}
}

// DefaultSynthInstallDir returns the platform-specific SuperCollider install directory.
func DefaultSynthInstallDir() string {
	switch runtime.GOOS {
	case "windows":
		return `C:/Program Files/SuperCollider-3.13.0/`
	case "darwin":
		return "/Applications/SuperCollider.app/Contents/MacOS"
	default:
		return "/usr/bin"
	}
}

// DefaultSynthExecutable returns the platform-specific interpreter binary name.
func DefaultSynthExecutable() string {
	if runtime.GOOS == "windows" {
		return "sclang.exe"
	}
	return "sclang"
}

// DefaultSynthScriptPath returns the spatialization script under the user's home directory.
func DefaultSynthScriptPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "akm-server", DefaultSynthScriptName)
}

// Load reads config from file, creating a default if none exists.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.decodeLocked(data); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// decodeLocked unmarshals data over the current values. Caller must hold c.mu.
func (c *Config) decodeLocked(data []byte) error {
	if !c.isYAML() {
		return json.Unmarshal(data, c)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(c.filePath))
	return ext == ".yaml" || ext == ".yml"
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", field, e.Tag(), e.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Jack.ServerPath == "" {
		c.Jack.ServerPath = DefaultServerPath()
	}
	if c.Jack.SampleRate == 0 {
		c.Jack.SampleRate = DefaultSampleRate
	}
	if c.Jack.BufferSize == 0 {
		c.Jack.BufferSize = DefaultBufferSize
	}
	if c.Jack.Driver == "" {
		c.Jack.Driver = DefaultDriver
	}
	if c.Jack.ClientName == "" {
		c.Jack.ClientName = DefaultClientName
	}
	if c.Jack.PortBaseName == "" {
		c.Jack.PortBaseName = DefaultPortBaseName
	}

	if c.Monitor.HealthIntervalMs == 0 {
		c.Monitor.HealthIntervalMs = DefaultHealthIntervalMs
	}
	if minMs := types.MinHealthInterval.Milliseconds(); c.Monitor.HealthIntervalMs < minMs {
		slog.Warn("health interval below minimum, clamping",
			"configured_ms", c.Monitor.HealthIntervalMs, "minimum_ms", minMs)
		c.Monitor.HealthIntervalMs = minMs
	}
	if c.Monitor.DiscoveryIntervalMs == 0 {
		c.Monitor.DiscoveryIntervalMs = DefaultDiscoveryIntervalMs
	}
	c.Monitor.DiscoveryIntervalMs = max(c.Monitor.DiscoveryIntervalMs, types.MinDiscoveryInterval.Milliseconds())
	if c.Monitor.IgnoredClients == nil {
		c.Monitor.IgnoredClients = slices.Clone(DefaultIgnoredClients)
	}

	if c.Synth.Executable == "" {
		c.Synth.Executable = DefaultSynthExecutable()
	}
	if c.Synth.ConsoleLines == 0 {
		c.Synth.ConsoleLines = DefaultConsoleLines
	}
	if c.Synth.PumpIntervalMs == 0 {
		c.Synth.PumpIntervalMs = DefaultPumpIntervalMs
	}

	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Bus.SubjectPrefix == "" {
		c.Bus.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Notifications.Zabbix.Server != "" && c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// FilePath returns the path the configuration is persisted to.
func (c *Config) FilePath() string {
	return c.filePath
}

// --- Runtime updates ---

// MonitorUpdate carries optional changes to the monitor settings.
type MonitorUpdate struct {
	HealthEnabled       *bool
	HealthIntervalMs    *int64
	AutoRecover         *bool
	DiscoveryEnabled    *bool
	DiscoveryIntervalMs *int64
	AutoConnect         *bool
	AutoConnectDelayMs  *int64
}

// UpdateMonitor applies u, clamps the intervals, and saves the configuration.
func (c *Config) UpdateMonitor(u MonitorUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &c.Monitor
	if u.HealthEnabled != nil {
		m.HealthEnabled = *u.HealthEnabled
	}
	if u.HealthIntervalMs != nil {
		m.HealthIntervalMs = max(*u.HealthIntervalMs, types.MinHealthInterval.Milliseconds())
	}
	if u.AutoRecover != nil {
		m.AutoRecover = *u.AutoRecover
	}
	if u.DiscoveryEnabled != nil {
		m.DiscoveryEnabled = *u.DiscoveryEnabled
	}
	if u.DiscoveryIntervalMs != nil {
		m.DiscoveryIntervalMs = max(*u.DiscoveryIntervalMs, types.MinDiscoveryInterval.Milliseconds())
	}
	if u.AutoConnect != nil {
		m.AutoConnect = *u.AutoConnect
	}
	if u.AutoConnectDelayMs != nil {
		m.AutoConnectDelayMs = max(*u.AutoConnectDelayMs, 0)
	}
	return c.saveLocked()
}

// SetServerParams updates the audio server launch parameters and saves.
// The running server only picks them up on its next restart.
func (c *Config) SetServerParams(sampleRate, bufferSize int, driver string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.Jack
	if sampleRate != 0 {
		c.Jack.SampleRate = sampleRate
	}
	if bufferSize != 0 {
		c.Jack.BufferSize = bufferSize
	}
	if driver != "" {
		c.Jack.Driver = driver
	}
	if err := validate.Struct(&c.Jack); err != nil {
		c.Jack = prev
		return fmt.Errorf("invalid server parameters: %w", err)
	}
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetLogPath updates the alert log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetGraphConfig updates all Microsoft Graph/Email configuration fields and saves.
func (c *Config) SetGraphConfig(cfg types.GraphConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email = EmailConfig(cfg)
	return c.saveLocked()
}

// SetZabbixConfig updates the Zabbix trapper settings and saves.
func (c *Config) SetZabbixConfig(cfg types.ZabbixConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Zabbix = ZabbixConfig(cfg)
	if c.Notifications.Zabbix.Server != "" && c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}
	return c.saveLocked()
}

// SetAPIKey updates the control surface API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Web.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	Jack          JackConfig          `json:"jack"`
	Monitor       MonitorConfig       `json:"monitor"`
	Synth         SynthConfig         `json:"synth"`
	Web           WebConfig           `json:"web"`
	Logging       LoggingConfig       `json:"logging"`
	Notifications NotificationsConfig `json:"notifications"`
	EventLog      EventLogConfig      `json:"event_log"`
	Archive       ArchiveConfig       `json:"archive"`
	Bus           BusConfig           `json:"bus"`
	Metrics       MetricsConfig       `json:"metrics"`
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	monitor := c.Monitor
	monitor.IgnoredClients = slices.Clone(c.Monitor.IgnoredClients)
	logging := c.Logging
	logging.Categories = slices.Clone(c.Logging.Categories)

	return Snapshot{
		Jack:          c.Jack,
		Monitor:       monitor,
		Synth:         c.Synth,
		Web:           c.Web,
		Logging:       logging,
		Notifications: c.Notifications,
		EventLog:      c.EventLog,
		Archive:       c.Archive,
		Bus:           c.Bus,
		Metrics:       c.Metrics,
	}
}

// HealthInterval returns the health poll interval, never below the minimum.
func (s *Snapshot) HealthInterval() time.Duration {
	return max(time.Duration(s.Monitor.HealthIntervalMs)*time.Millisecond, types.MinHealthInterval)
}

// DiscoveryInterval returns the discovery poll interval, never below the minimum.
func (s *Snapshot) DiscoveryInterval() time.Duration {
	return max(time.Duration(s.Monitor.DiscoveryIntervalMs)*time.Millisecond, types.MinDiscoveryInterval)
}

// AutoConnectDelay returns the settle time before wiring a new client.
func (s *Snapshot) AutoConnectDelay() time.Duration {
	return time.Duration(s.Monitor.AutoConnectDelayMs) * time.Millisecond
}

// PumpInterval returns the interval at which the synthesis console is drained.
func (s *Snapshot) PumpInterval() time.Duration {
	return time.Duration(s.Synth.PumpIntervalMs) * time.Millisecond
}

// GraphConfig returns the email notification settings.
func (s *Snapshot) GraphConfig() types.GraphConfig {
	return types.GraphConfig(s.Notifications.Email)
}

// ZabbixConfig returns the Zabbix trapper settings.
func (s *Snapshot) ZabbixConfig() types.ZabbixConfig {
	return types.ZabbixConfig(s.Notifications.Zabbix)
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.Notifications.Webhook.URL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	e := s.Notifications.Email
	return util.IsConfigured(e.TenantID, e.ClientID, e.ClientSecret, e.FromAddress, e.Recipients)
}

// HasLogPath reports whether an alert log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.Notifications.Log.Path != ""
}

// HasZabbix reports whether Zabbix notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	z := s.Notifications.Zabbix
	return util.IsConfigured(z.Server, z.Host, z.Key)
}

// HasArchive reports whether S3 archiving is configured.
func (s *Snapshot) HasArchive() bool {
	a := s.Archive
	return util.IsConfigured(a.Bucket, a.AccessKeyID, a.SecretAccessKey)
}

// HasBus reports whether NATS publishing is configured.
func (s *Snapshot) HasBus() bool {
	return s.Bus.URL != ""
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
