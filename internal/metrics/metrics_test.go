package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/contactlaplanque/akm-control/internal/types"
)

type fakeSource struct {
	perf    types.PerformanceMetrics
	conn    types.ConnectionState
	server  types.ServerState
	synth   types.ProcessState
	clients int
	levels  []types.ChannelLevel
}

func (f *fakeSource) Performance() types.PerformanceMetrics  { return f.perf }
func (f *fakeSource) ConnectionState() types.ConnectionState { return f.conn }
func (f *fakeSource) ServerState() types.ServerState         { return f.server }
func (f *fakeSource) SynthState() types.ProcessState         { return f.synth }
func (f *fakeSource) ClientCount() int                       { return f.clients }
func (f *fakeSource) Levels() []types.ChannelLevel           { return f.levels }

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	require.NotNil(t, met, "metric %q not found", name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %q is not an int64 sum", name)
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestEventCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := t.Context()

	m.RecordLifecycle(ctx, types.EventUnexpectedShutdown)
	m.RecordLifecycle(ctx, types.EventRecovered)
	m.RecordLifecycle(ctx, types.EventRecovered)
	m.RecordClient(ctx, types.ClientConnected)
	m.RecordWire(ctx, []types.WireResult{
		{Source: "a:out1", Destination: "akm:in1"},
		{Source: "a:out2", Destination: "akm:in2", Error: "no such port"},
		{Source: "a:out3", Destination: "akm:in3"},
	})
	m.RecordNotification(ctx, "webhook", nil)
	m.RecordNotification(ctx, "webhook", errors.New("timeout"))

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumByAttr(t, rm, "akm.lifecycle.events", "type", "recovered"))
	assert.Equal(t, int64(1), sumByAttr(t, rm, "akm.lifecycle.events", "type", "unexpected_shutdown"))
	assert.Equal(t, int64(1), sumByAttr(t, rm, "akm.client.events", "type", "client_connected"))
	assert.Equal(t, int64(2), sumByAttr(t, rm, "akm.wire.results", "status", "ok"))
	assert.Equal(t, int64(1), sumByAttr(t, rm, "akm.wire.results", "status", "error"))
	assert.Equal(t, int64(1), sumByAttr(t, rm, "akm.notifications", "status", "error"))
}

func TestObservedGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	src := &fakeSource{
		perf:    types.PerformanceMetrics{CPUUsagePercent: 12.5, XRunCount: 3, SampleRate: 48000, BufferSize: 480},
		conn:    types.ConnConnected,
		server:  types.ServerRunning,
		synth:   types.ProcessStopped,
		clients: 2,
		levels:  []types.ChannelLevel{{Channel: 1, Smoothed: 0.5}, {Channel: 2, Smoothed: 0.25}},
	}
	reg, err := m.Observe(src)
	require.NoError(t, err)

	rm := collect(t, reader)

	xruns := findMetric(rm, "akm.jack.xruns")
	require.NotNil(t, xruns)
	assert.Equal(t, int64(3), xruns.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	latency := findMetric(rm, "akm.jack.latency")
	require.NotNil(t, latency)
	assert.InDelta(t, 10.0, latency.Data.(metricdata.Gauge[float64]).DataPoints[0].Value, 1e-9)

	connected := findMetric(rm, "akm.jack.connected")
	require.NotNil(t, connected)
	assert.Equal(t, int64(1), connected.Data.(metricdata.Gauge[int64]).DataPoints[0].Value)

	synth := findMetric(rm, "akm.synth.running")
	require.NotNil(t, synth)
	assert.Equal(t, int64(0), synth.Data.(metricdata.Gauge[int64]).DataPoints[0].Value)

	levels := findMetric(rm, "akm.input.level")
	require.NotNil(t, levels)
	assert.Len(t, levels.Data.(metricdata.Gauge[float64]).DataPoints, 2)

	require.NoError(t, reg.Unregister())
}

func TestPrometheusHandler(t *testing.T) {
	p, err := NewPrometheusProvider()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p)
	require.NoError(t, err)
	m.RecordLifecycle(t.Context(), types.EventServerStarted)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "akm_lifecycle_events")
	assert.Contains(t, string(body), `type="server_started"`)
}
