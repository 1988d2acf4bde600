package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/types"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultSampleRate, snap.Jack.SampleRate)
	assert.Equal(t, DefaultBufferSize, snap.Jack.BufferSize)
	assert.Equal(t, DefaultDriver, snap.Jack.Driver)
	assert.Equal(t, DefaultNumInputs, snap.Jack.NumInputs)
	assert.Equal(t, DefaultNumOutputs, snap.Jack.NumOutputs)
	assert.True(t, snap.Jack.AutoStartServer)
	assert.Equal(t, DefaultIgnoredClients, snap.Monitor.IgnoredClients)
	assert.Equal(t, DefaultConsoleLines, snap.Synth.ConsoleLines)
}

func TestLoadJSONKeepsUnsetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"jack":{"sample_rate":44100,"num_inputs":8}}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, 44100, snap.Jack.SampleRate)
	assert.Equal(t, 8, snap.Jack.NumInputs)
	assert.Equal(t, DefaultNumOutputs, snap.Jack.NumOutputs)
	assert.True(t, snap.Monitor.AutoConnect)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
jack:
  driver: alsa
  buffer_size: 256
monitor:
  auto_connect: false
  ignored_clients: [system]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, "alsa", snap.Jack.Driver)
	assert.Equal(t, 256, snap.Jack.BufferSize)
	assert.False(t, snap.Monitor.AutoConnect)
	assert.Equal(t, []string{"system"}, snap.Monitor.IgnoredClients)
}

func TestLoadYAMLRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("jack:\n  sampel_rate: 48000\n"), 0o600))

	err := New(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad sample rate", `{"jack":{"sample_rate":12345}}`, "jack.sample_rate"},
		{"bad buffer size", `{"jack":{"buffer_size":500}}`, "jack.buffer_size"},
		{"too many inputs", `{"jack":{"num_inputs":1000}}`, "jack.num_inputs"},
		{"bad log level", `{"logging":{"level":"verbose"}}`, "logging.level"},
		{"bad webhook", `{"notifications":{"webhook":{"url":"not a url"}}}`, "notifications.webhook.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			err := New(path).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestIntervalsAreClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"monitor":{"health_interval_ms":100,"discovery_interval_ms":10}}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, types.MinHealthInterval, snap.HealthInterval())
	assert.Equal(t, types.MinDiscoveryInterval, snap.DiscoveryInterval())
}

func TestUpdateMonitorPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	off := false
	interval := int64(500)
	require.NoError(t, cfg.UpdateMonitor(MonitorUpdate{
		AutoConnect:      &off,
		HealthIntervalMs: &interval,
	}))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	assert.False(t, snap.Monitor.AutoConnect)
	assert.Equal(t, types.MinHealthInterval.Milliseconds(), snap.Monitor.HealthIntervalMs)
	assert.Equal(t, 2*time.Second, snap.HealthInterval())
}

func TestSetServerParamsRejectsInvalid(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	require.Error(t, cfg.SetServerParams(12345, 0, ""))
	assert.Equal(t, DefaultSampleRate, cfg.Snapshot().Jack.SampleRate)

	require.NoError(t, cfg.SetServerParams(96000, 1024, "alsa"))
	snap := cfg.Snapshot()
	assert.Equal(t, 96000, snap.Jack.SampleRate)
	assert.Equal(t, 1024, snap.Jack.BufferSize)
	assert.Equal(t, "alsa", snap.Jack.Driver)
}

func TestSnapshotIsolation(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	snap := cfg.Snapshot()
	snap.Monitor.IgnoredClients[0] = "mutated"

	assert.Equal(t, DefaultIgnoredClients[0], cfg.Snapshot().Monitor.IgnoredClients[0])
}

func TestSnapshotChannelChecks(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasZabbix())
	assert.False(t, snap.HasArchive())

	require.NoError(t, cfg.SetWebhookURL("https://example.com/hook"))
	require.NoError(t, cfg.SetZabbixConfig(types.ZabbixConfig{Server: "zbx", Host: "studio", Key: "akm.alert"}))

	snap = cfg.Snapshot()
	assert.True(t, snap.HasWebhook())
	assert.True(t, snap.HasZabbix())
	assert.Equal(t, DefaultZabbixPort, snap.ZabbixConfig().Port)
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
