package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactlaplanque/akm-control/internal/config"
	"github.com/contactlaplanque/akm-control/internal/console"
	"github.com/contactlaplanque/akm-control/internal/eventlog"
	"github.com/contactlaplanque/akm-control/internal/jack"
	"github.com/contactlaplanque/akm-control/internal/jackd"
	"github.com/contactlaplanque/akm-control/internal/types"
)

const testConfig = `{
  "jack": {
    "server_path": "/nonexistent/jackd",
    "num_inputs": 2,
    "num_outputs": 2,
    "auto_start_server": false,
    "kill_server_on_shutdown": true
  },
  "monitor": {
    "health_enabled": false,
    "discovery_enabled": false,
    "auto_connect_delay_ms": 0
  },
  "synth": {"enabled": false}
}`

type testEngine struct {
	*Engine
	backend *jack.MockBackend
	kills   *atomic.Int32
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	mb := jack.NewMockBackend()
	kills := &atomic.Int32{}

	e, err := New(cfg, Options{
		Backend: mb,
		Server: jackd.Options{
			SettleDelay:        time.Millisecond,
			KillSettleDelay:    time.Millisecond,
			RestartSettleDelay: time.Millisecond,
			KillAll: func(context.Context) (bool, error) {
				kills.Add(1)
				mb.SetRunning(false)
				return true, nil
			},
		},
		EventLogPath: filepath.Join(dir, "events.jsonl"),
		Version: func() types.VersionInfo {
			return types.VersionInfo{Current: "test"}
		},
	})
	require.NoError(t, err)
	return &testEngine{Engine: e, backend: mb, kills: kills}
}

func (te *testEngine) start(t *testing.T) {
	t.Helper()
	require.NoError(t, te.Start(t.Context()))
	t.Cleanup(func() { _ = te.Stop() })
}

func eventTypes(t *testing.T, e *Engine, filter string) []eventlog.EventType {
	t.Helper()
	events, _, err := e.Events(100, 0, filter)
	require.NoError(t, err)
	out := make([]eventlog.EventType, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i].Type)
	}
	return out
}

func TestStartConnectsAndRegisters(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	assert.True(t, e.driver.IsConnected())
	assert.Equal(t, 1, e.backend.Opens())

	inputs, err := e.Ports("akMControl:.*", "input")
	require.NoError(t, err)
	assert.Equal(t, []string{"akMControl:akm_in_1", "akMControl:akm_in_2"}, inputs)

	status := e.Status()
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, types.ConnConnected, status.Jack.State)
	assert.Equal(t, 2, status.Jack.InputPorts)
	assert.Equal(t, "test", status.Version.Current)

	assert.ErrorIs(t, e.Start(t.Context()), ErrAlreadyRunning)
}

func TestStartWithoutServer(t *testing.T) {
	e := newTestEngine(t)
	e.backend.SetRunning(false)
	e.start(t)

	assert.False(t, e.driver.IsConnected())
	assert.Zero(t, e.backend.Opens())
}

func TestStopKillsServer(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Start(t.Context()))

	require.NoError(t, e.Stop())
	assert.False(t, e.driver.IsConnected())
	assert.Equal(t, int32(1), e.kills.Load())

	require.NoError(t, e.Stop())
	assert.Equal(t, int32(1), e.kills.Load())
}

func TestUnexpectedShutdownRecovers(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	events, cancel := e.Subscribe()
	defer cancel()

	e.CheckHealth(t.Context())
	e.backend.Shutdown()
	e.backend.SetRunning(true)
	e.CheckHealth(t.Context())

	assert.True(t, e.driver.IsConnected())
	assert.Equal(t, 2, e.backend.Opens())

	var got []types.LifecycleEventType
	for len(got) < 4 {
		select {
		case ev := <-events:
			if ev.Lifecycle != nil {
				got = append(got, ev.Lifecycle.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing lifecycle events, got %v", got)
		}
	}
	assert.Equal(t, []types.LifecycleEventType{
		types.EventStateChange,
		types.EventStateChange,
		types.EventUnexpectedShutdown,
		types.EventRecovered,
	}, got)

	assert.Equal(t, []eventlog.EventType{
		eventlog.ServerStateChange,
		eventlog.ServerStateChange,
		eventlog.ServerUnexpectedShutdown,
		eventlog.ServerRecovered,
	}, eventTypes(t, e.Engine, "server"))
}

func TestKillServerDisconnects(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	require.NoError(t, e.KillServer(t.Context()))

	assert.False(t, e.driver.IsConnected())
	assert.Equal(t, types.ServerNotRunning, e.ServerState())
	assert.False(t, e.MonitorStatus().HealthRunning)
	assert.Contains(t, eventTypes(t, e.Engine, "server"), eventlog.ServerKilled)
}

func TestConnectAndDisconnectClient(t *testing.T) {
	e := newTestEngine(t)
	e.backend.SetRunning(false)
	e.start(t)

	assert.ErrorIs(t, e.ConnectClient(), jack.ErrServerNotRunning)

	e.backend.SetRunning(true)
	require.NoError(t, e.ConnectClient())
	assert.True(t, e.driver.IsConnected())

	e.DisconnectClient()
	assert.False(t, e.driver.IsConnected())
	assert.False(t, e.MonitorStatus().HealthRunning)
}

func TestPortCommands(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)
	e.backend.AddClient("REAPER", 0, 1)

	require.NoError(t, e.ConnectPorts("REAPER:out_1", "akMControl:akm_in_2"))
	assert.True(t, e.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_2"))
	assert.Equal(t, []string{"akMControl:akm_in_2"}, e.Connections("REAPER:out_1"))

	require.NoError(t, e.DisconnectPorts("REAPER:out_1", "akMControl:akm_in_2"))
	assert.False(t, e.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_2"))

	require.NoError(t, e.RegisterPorts(4, 0, ""))
	assert.Equal(t, 4, e.Status().Jack.InputPorts)
	assert.Equal(t, 0, e.Status().Jack.OutputPorts)

	e.UnregisterPorts()
	assert.Equal(t, 0, e.Status().Jack.InputPorts)

	_, err := e.Ports("", "sideways")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestDiscoveryAutoWires(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	e.backend.AddClient("REAPER", 0, 2)
	clients := e.RefreshClients(t.Context())
	require.Len(t, clients, 1)
	assert.Equal(t, "REAPER", clients[0].Name)

	require.Eventually(t, func() bool {
		return e.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_1") &&
			e.backend.IsConnected("REAPER:out_2", "akMControl:akm_in_2")
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(eventTypes(t, e.Engine, "clients")) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []eventlog.EventType{eventlog.ClientConnected, eventlog.ClientWired},
		eventTypes(t, e.Engine, "clients"))
}

func TestManualApproval(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	off := false
	require.NoError(t, e.UpdateMonitor(config.MonitorUpdate{AutoConnect: &off}))
	assert.False(t, e.MonitorStatus().AutoConnect)

	e.backend.AddClient("REAPER", 0, 1)
	e.backend.AddClient("Ardour", 0, 1)
	e.RefreshClients(t.Context())
	assert.Equal(t, []string{"Ardour", "REAPER"}, e.MonitorStatus().PendingClients)

	results, err := e.AcceptClient("REAPER")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.True(t, e.backend.IsConnected("REAPER:out_1", "akMControl:akm_in_1"))

	require.NoError(t, e.RejectClient("Ardour"))
	assert.Empty(t, e.MonitorStatus().PendingClients)
	assert.Contains(t, eventTypes(t, e.Engine, "clients"), eventlog.ClientRejected)

	_, err = e.AcceptClient("Ardour")
	assert.Error(t, err)
}

func TestUpdateMonitorRestartsMonitors(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)
	assert.False(t, e.MonitorStatus().HealthRunning)

	on := true
	require.NoError(t, e.UpdateMonitor(config.MonitorUpdate{HealthEnabled: &on, DiscoveryEnabled: &on}))

	status := e.MonitorStatus()
	assert.True(t, status.HealthRunning)
	assert.True(t, status.DiscoveryRunning)

	off := false
	require.NoError(t, e.UpdateMonitor(config.MonitorUpdate{HealthEnabled: &off}))
	assert.False(t, e.MonitorStatus().HealthRunning)
	assert.True(t, e.MonitorStatus().DiscoveryRunning)
}

func TestConsoleSources(t *testing.T) {
	e := newTestEngine(t)
	e.capture = console.NewCaptureHandler(nil, 10, "sclang", "jack")

	assert.Equal(t, []string{"synth", "jack", "sclang"}, e.ConsoleSources())

	e.synth.Console().Append("-> a Server")
	lines, err := e.Console("", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"-> a Server"}, lines)

	lines, err = e.Console("jack", 5)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = e.Console("bogus", 5)
	assert.ErrorIs(t, err, ErrUnknownSource)

	require.NoError(t, e.ClearConsole(SourceSynth))
	assert.Zero(t, e.synth.Console().Len())
}

func TestSynthWithoutInterpreter(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	assert.Error(t, e.StartSynth())
	assert.Equal(t, types.ProcessStopped, e.SynthState())
	assert.NoError(t, e.StopSynth())
	assert.Error(t, e.SendSynth("s.boot;"))
}

func TestEventsRejectsUnknownFilter(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Events(10, 0, "everything")
	assert.ErrorIs(t, err, eventlog.ErrUnknownFilter)
}

func TestArchiveDisabled(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ArchiveTranscript(t.Context())
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	assert.ErrorIs(t, e.TestArchive(t.Context()), ErrArchiveDisabled)
}

func TestLevels(t *testing.T) {
	e := newTestEngine(t)
	e.start(t)

	e.backend.SetInput("akMControl:akm_in_1", []float32{0.5, -0.5, 0.5, -0.5})
	e.backend.Cycle(4)
	e.updateLevels(time.Now())

	levels := e.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, 1, levels[0].Channel)
	assert.InDelta(t, 0.5, levels[0].RMS, 0.001)
	assert.Zero(t, levels[1].RMS)
}
